package service

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/stylesync/quota-server-go/internal/errors"
	"github.com/stylesync/quota-server-go/internal/model"
	"github.com/stylesync/quota-server-go/internal/tier"
)

const exportBatchSize = 500

type ExportAccount struct {
	ID    string     `json:"id"`
	Email string     `json:"email"`
	Tier  model.Tier `json:"tier"`
}

// ExportDocument is the downloadable archive of an account's rewrites.
type ExportDocument struct {
	Account    ExportAccount         `json:"account"`
	ExportedAt time.Time             `json:"exportedAt"`
	Count      int                   `json:"count"`
	Truncated  bool                  `json:"truncated"`
	Rewrites   []model.RewriteRecord `json:"rewrites"`
}

// Export collects the newest rewrites up to the tier's export bound.
func (s *RewriteService) Export(ctx context.Context, accountID string) (*ExportDocument, error) {
	account, err := s.ledger.Usage(ctx, accountID)
	if err != nil {
		return nil, err
	}

	limits := s.ledger.Tiers().Limits(account.Tier)
	if !limits.CanExport() {
		return nil, apperrors.PermissionDenied(fmt.Sprintf("Export is not available on the %s plan", account.Tier))
	}

	total, err := s.rewriteRepo.CountByAccountID(ctx, accountID)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	want := total
	if limits.MaxExportRecords != tier.Unlimited && want > limits.MaxExportRecords {
		want = limits.MaxExportRecords
	}

	records := make([]model.RewriteRecord, 0, want)
	for len(records) < want {
		batch := min(exportBatchSize, want-len(records))
		page, err := s.rewriteRepo.ListByAccountID(ctx, accountID, batch, len(records))
		if err != nil {
			return nil, apperrors.Database(err)
		}
		records = append(records, page...)
		if len(page) < batch {
			break
		}
	}

	return &ExportDocument{
		Account: ExportAccount{
			ID:    account.ID,
			Email: account.Email,
			Tier:  account.Tier,
		},
		ExportedAt: time.Now().UTC(),
		Count:      len(records),
		Truncated:  len(records) < total,
		Rewrites:   records,
	}, nil
}
