package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/stylesync/quota-server-go/internal/config"
	apperrors "github.com/stylesync/quota-server-go/internal/errors"
	"github.com/stylesync/quota-server-go/internal/model"
	"github.com/stylesync/quota-server-go/internal/quota"
	"github.com/stylesync/quota-server-go/internal/repository"
	"github.com/stylesync/quota-server-go/internal/rewriter"
	"github.com/stylesync/quota-server-go/internal/tier"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// Ledger is the part of LedgerService the rewrite flow depends on.
type Ledger interface {
	Usage(ctx context.Context, accountID string) (*model.Account, error)
	ConsumeText(ctx context.Context, accountID, text string) (*model.Account, int64, error)
	Snapshot(account *model.Account) quota.Usage
	Tiers() *tier.Table
}

var _ Ledger = (*LedgerService)(nil)

type RewriteInput struct {
	Text      string `json:"text"`
	Tone      string `json:"tone"`
	Preset    string `json:"preset,omitempty"`
	Intensity *int   `json:"intensity,omitempty"`
}

type RewriteResult struct {
	RewrittenText string      `json:"rewrittenText"`
	Confidence    float64     `json:"confidence"`
	StyleTags     []string    `json:"styleTags"`
	Units         int64       `json:"units"`
	Backend       string      `json:"backend"`
	Usage         quota.Usage `json:"usage"`
}

type HistoryPage struct {
	Rewrites []model.RewriteRecord `json:"rewrites"`
	Total    int                   `json:"total"`
	Limit    int                   `json:"limit"`
	Offset   int                   `json:"offset"`
	HasMore  bool                  `json:"hasMore"`
}

type RewriteService struct {
	ledger      Ledger
	rewriteRepo repository.RewriteRepository
	backend     rewriter.Rewriter
	timeout     time.Duration
}

func NewRewriteService(
	ledger Ledger,
	rewriteRepo repository.RewriteRepository,
	backend rewriter.Rewriter,
	timeout time.Duration,
) *RewriteService {
	return &RewriteService{
		ledger:      ledger,
		rewriteRepo: rewriteRepo,
		backend:     backend,
		timeout:     timeout,
	}
}

// Rewrite runs one billable rewrite. The deduction happens only after the
// backend returned in time; every earlier failure leaves the balance alone.
func (s *RewriteService) Rewrite(ctx context.Context, accountID string, input RewriteInput) (*RewriteResult, error) {
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return nil, apperrors.MissingRequired("text")
	}
	if utf8.RuneCountInString(text) > config.MaxRewriteTextRunes {
		return nil, apperrors.InvalidInput("text", fmt.Sprintf("must be at most %d characters", config.MaxRewriteTextRunes))
	}

	account, err := s.ledger.Usage(ctx, accountID)
	if err != nil {
		return nil, err
	}

	tiers := s.ledger.Tiers()
	opts := tier.StyleOptions{Tone: input.Tone, Preset: input.Preset, Intensity: input.Intensity}
	if err := tiers.Authorize(account.Tier, opts); err != nil {
		return nil, err
	}

	// Fail fast before paying for a backend call. The tier can change while
	// the backend runs, so the charge is priced and checked again under the
	// row lock in ConsumeText.
	estimate := quota.Cost(tiers.Limits(account.Tier).Unit, text)
	if err := quota.Check(*account, estimate, tiers); err != nil {
		if rej, ok := quota.AsRejection(err); ok {
			return nil, rej.AppError()
		}
		return nil, err
	}

	profile := tiers.StyleProfileFor(account.Tier)
	tone := input.Tone
	if tone == "" {
		tone = tier.DefaultTone
	}

	rewriteCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.backend.Rewrite(rewriteCtx, rewriter.Request{
		Text:      text,
		Tone:      tone,
		Preset:    input.Preset,
		Intensity: input.Intensity,
		RuleSet:   profile.RuleSet,
		Rules:     profile.Rules,
	})
	if err == nil && rewriteCtx.Err() != nil {
		// The result arrived after the deadline; drop it.
		err = rewriteCtx.Err()
	}
	if err != nil {
		return nil, backendError(s.backend.Name(), err)
	}

	updated, cost, err := s.ledger.ConsumeText(ctx, accountID, text)
	if err != nil {
		return nil, err
	}

	if tiers.Limits(updated.Tier).History {
		s.record(ctx, accountID, text, tone, input.Preset, cost, result)
	}

	log.Info().
		Str("accountId", accountID).
		Str("tier", string(updated.Tier)).
		Str("backend", result.Backend).
		Int64("units", cost).
		Int64("remaining", updated.CreditsRemaining).
		Msg("rewrite completed")

	tags := result.StyleTags
	if tags == nil {
		tags = []string{}
	}

	return &RewriteResult{
		RewrittenText: result.Text,
		Confidence:    result.Confidence,
		StyleTags:     tags,
		Units:         cost,
		Backend:       result.Backend,
		Usage:         s.ledger.Snapshot(updated),
	}, nil
}

// record appends the history entry. The deduction is already committed, so a
// failure here is logged rather than returned.
func (s *RewriteService) record(ctx context.Context, accountID, text, tone, preset string, units int64, result rewriter.Result) {
	var presetPtr *string
	if preset != "" {
		presetPtr = &preset
	}

	_, err := s.rewriteRepo.Create(ctx, model.CreateRewriteParams{
		ID:            uuid.NewString(),
		AccountID:     accountID,
		OriginalText:  text,
		RewrittenText: result.Text,
		Confidence:    result.Confidence,
		StyleTags:     result.StyleTags,
		Tone:          tone,
		Preset:        presetPtr,
		Units:         units,
	})
	if err != nil {
		log.Error().Err(err).Str("accountId", accountID).Msg("failed to record rewrite")
	}
}

func (s *RewriteService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func backendError(backend string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.Timeout("Rewrite", err)
	case errors.Is(err, context.Canceled):
		return apperrors.Wrap(apperrors.ErrCodeExternal, "Rewrite was cancelled", err)
	default:
		return apperrors.External(backend, err)
	}
}

// History lists the account's past rewrites, newest first.
func (s *RewriteService) History(ctx context.Context, accountID string, limit, offset int) (*HistoryPage, error) {
	account, err := s.ledger.Usage(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !s.ledger.Tiers().Limits(account.Tier).History {
		return nil, apperrors.PermissionDenied(fmt.Sprintf("Rewrite history is not available on the %s plan", account.Tier))
	}

	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	records, err := s.rewriteRepo.ListByAccountID(ctx, accountID, limit, offset)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	total, err := s.rewriteRepo.CountByAccountID(ctx, accountID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if records == nil {
		records = []model.RewriteRecord{}
	}

	return &HistoryPage{
		Rewrites: records,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
		HasMore:  offset+len(records) < total,
	}, nil
}
