package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	exemptiondomain "github.com/paksafinancial/taxengine/internal/exemption/domain"
	taxruledomain "github.com/paksafinancial/taxengine/internal/taxrule/domain"
	"github.com/paksafinancial/taxengine/internal/transaction/domain"
)

// checker answers the "is this entity referenced by a posted transaction"
// questions the registry and certificate admin ask before destructive
// operations.
type checker struct {
	repo domain.Repository
}

func NewRuleChecker(repo domain.Repository) taxruledomain.LedgerChecker {
	return &checker{repo: repo}
}

func NewCertificateChecker(repo domain.Repository) exemptiondomain.LedgerChecker {
	return &checker{repo: repo}
}

func (c *checker) RuleHasPostedTransactions(ctx context.Context, ruleID snowflake.ID) (bool, error) {
	count, err := c.repo.CountPostedByRule(ctx, ruleID)
	return count > 0, err
}

func (c *checker) CertificateHasPostedTransactions(ctx context.Context, certificateID snowflake.ID) (bool, error) {
	count, err := c.repo.CountPostedByCertificate(ctx, certificateID)
	return count > 0, err
}
