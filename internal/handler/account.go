package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stylesync/quota-server-go/internal/model"
	"github.com/stylesync/quota-server-go/internal/quota"
	"github.com/stylesync/quota-server-go/internal/service"
	"github.com/stylesync/quota-server-go/internal/tier"
)

type AccountAPI interface {
	GetAccount(ctx context.Context, accountID string) (*model.Account, error)
	Usage(ctx context.Context, accountID string) (*model.Account, error)
	Snapshot(account *model.Account) quota.Usage
	Tiers() *tier.Table
}

var _ AccountAPI = (*service.LedgerService)(nil)

type AccountHandler struct {
	ledger AccountAPI
}

func NewAccountHandler(ledger AccountAPI) *AccountHandler {
	return &AccountHandler{ledger: ledger}
}

// Routes expects to be mounted behind the auth middleware.
func (h *AccountHandler) Routes(r chi.Router) {
	r.Get("/account", h.GetAccount)
	r.Get("/usage", h.GetUsage)
	r.Get("/tiers", h.ListTiers)
	r.Get("/styles", h.GetStyles)
}

type accountResponse struct {
	Account *model.Account `json:"account"`
	Usage   quota.Usage    `json:"usage"`
}

// GET /v1/account
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	account, err := h.ledger.GetAccount(r.Context(), claims.AccountID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, accountResponse{
		Account: account,
		Usage:   h.ledger.Snapshot(account),
	})
}

// GET /v1/usage always reads the store, never the cache.
func (h *AccountHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	account, err := h.ledger.Usage(r.Context(), claims.AccountID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.ledger.Snapshot(account))
}

type tierInfo struct {
	Tier   model.Tier `json:"tier"`
	Limits tierLimits `json:"limits"`
}

type tierLimits struct {
	DailyCap         *int64     `json:"dailyCap,omitempty"`
	MonthlyCap       int64      `json:"monthlyCap"`
	Unit             model.Unit `json:"unit"`
	MaxExportRecords int        `json:"maxExportRecords"`
	Presets          bool       `json:"presets"`
	ToneFineTuning   bool       `json:"toneFineTuning"`
	History          bool       `json:"history"`
	PriceCents       int64      `json:"priceCents"`
}

// GET /v1/tiers
func (h *AccountHandler) ListTiers(w http.ResponseWriter, r *http.Request) {
	table := h.ledger.Tiers()

	tiers := make([]tierInfo, 0, len(table.Tiers()))
	for _, name := range table.Tiers() {
		l := table.Limits(name)
		info := tierInfo{
			Tier: name,
			Limits: tierLimits{
				MonthlyCap:       l.MonthlyCap,
				Unit:             l.Unit,
				MaxExportRecords: l.MaxExportRecords,
				Presets:          l.Presets,
				ToneFineTuning:   l.ToneFineTuning,
				History:          l.History,
				PriceCents:       l.PriceCents,
			},
		}
		if l.HasDailyCap() {
			dailyCap := l.DailyCap
			info.Limits.DailyCap = &dailyCap
		}
		tiers = append(tiers, info)
	}

	writeJSON(w, http.StatusOK, map[string]any{"tiers": tiers})
}

// GET /v1/styles returns the style profile of the caller's tier.
func (h *AccountHandler) GetStyles(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	account, err := h.ledger.GetAccount(r.Context(), claims.AccountID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.ledger.Tiers().StyleProfileFor(account.Tier))
}
