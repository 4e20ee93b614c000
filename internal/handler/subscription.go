package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stylesync/quota-server-go/internal/model"
	"github.com/stylesync/quota-server-go/internal/quota"
	"github.com/stylesync/quota-server-go/internal/service"
)

type SubscriptionAPI interface {
	ChangeTier(ctx context.Context, accountID string, to model.Tier) (*model.Account, error)
	Cancel(ctx context.Context, accountID string) (*model.Account, error)
	ListBilling(ctx context.Context, accountID string) ([]model.BillingRecord, error)
}

var _ SubscriptionAPI = (*service.SubscriptionService)(nil)

type SubscriptionHandler struct {
	subscriptions SubscriptionAPI
	ledger        AccountAPI
}

func NewSubscriptionHandler(subscriptions SubscriptionAPI, ledger AccountAPI) *SubscriptionHandler {
	return &SubscriptionHandler{subscriptions: subscriptions, ledger: ledger}
}

// Routes expects to be mounted behind the auth middleware.
func (h *SubscriptionHandler) Routes(r chi.Router) {
	r.Post("/subscription", h.ChangeTier)
	r.Delete("/subscription", h.Cancel)
	r.Get("/billing", h.ListBilling)
}

type changeTierRequest struct {
	Tier model.Tier `json:"tier"`
}

type subscriptionResponse struct {
	Account *model.Account `json:"account"`
	Usage   quota.Usage    `json:"usage"`
}

// POST /v1/subscription
func (h *SubscriptionHandler) ChangeTier(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	var req changeTierRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	account, err := h.subscriptions.ChangeTier(r.Context(), claims.AccountID, req.Tier)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, subscriptionResponse{Account: account, Usage: h.ledger.Snapshot(account)})
}

// DELETE /v1/subscription
func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	account, err := h.subscriptions.Cancel(r.Context(), claims.AccountID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, subscriptionResponse{Account: account, Usage: h.ledger.Snapshot(account)})
}

// GET /v1/billing
func (h *SubscriptionHandler) ListBilling(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	records, err := h.subscriptions.ListBilling(r.Context(), claims.AccountID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}
