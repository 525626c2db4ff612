package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/paksafinancial/taxengine/internal/clock"
	"github.com/paksafinancial/taxengine/internal/config"
	"github.com/paksafinancial/taxengine/internal/migration"
	"github.com/paksafinancial/taxengine/internal/observability"
	"github.com/paksafinancial/taxengine/internal/server"
	"github.com/paksafinancial/taxengine/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
	)

	app.Run()
}

func registerSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
