package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/stylesync/quota-server-go/internal/errors"
	"github.com/stylesync/quota-server-go/internal/model"
)

func serveSubscription(subs *mockSubscriptionAPI, req *http.Request) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	NewSubscriptionHandler(subs, newMockAccountAPI()).Routes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestSubscriptionHandler_ChangeTier(t *testing.T) {
	t.Run("upgrade returns the account and usage", func(t *testing.T) {
		expires := time.Date(2026, 4, 15, 12, 0, 0, 0, time.UTC)
		subs := &mockSubscriptionAPI{}
		subs.On("ChangeTier", mock.Anything, "acc-1", model.TierPro).Return(&model.Account{
			ID: "acc-1", Tier: model.TierPro, CreditsRemaining: 200000, SubscriptionExpiresAt: &expires,
		}, nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/subscription", strings.NewReader(`{"tier":"pro"}`))
		rec := serveSubscription(subs, withClaims(req))

		require.Equal(t, http.StatusOK, rec.Code)
		var body subscriptionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, model.TierPro, body.Account.Tier)
		assert.Equal(t, int64(200000), body.Usage.CreditsRemaining)
		assert.Equal(t, model.UnitTokens, body.Usage.Unit)
		subs.AssertExpectations(t)
	})

	t.Run("unknown tier", func(t *testing.T) {
		subs := &mockSubscriptionAPI{}
		subs.On("ChangeTier", mock.Anything, "acc-1", model.Tier("gold")).
			Return(nil, apperrors.InvalidInput("tier", "unknown tier")).Once()

		req := httptest.NewRequest(http.MethodPost, "/subscription", strings.NewReader(`{"tier":"gold"}`))
		rec := serveSubscription(subs, withClaims(req))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("same tier conflicts", func(t *testing.T) {
		subs := &mockSubscriptionAPI{}
		subs.On("ChangeTier", mock.Anything, "acc-1", model.TierFree).
			Return(nil, apperrors.Conflict("Account is already on this tier")).Once()

		req := httptest.NewRequest(http.MethodPost, "/subscription", strings.NewReader(`{"tier":"free"}`))
		rec := serveSubscription(subs, withClaims(req))

		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestSubscriptionHandler_Cancel(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	subs := &mockSubscriptionAPI{}
	subs.On("Cancel", mock.Anything, "acc-1").Return(&model.Account{
		ID: "acc-1", Tier: model.TierPremium, CancelledAt: &now,
	}, nil).Once()

	rec := serveSubscription(subs, withClaims(httptest.NewRequest(http.MethodDelete, "/subscription", nil)))

	require.Equal(t, http.StatusOK, rec.Code)
	var body subscriptionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, model.TierPremium, body.Account.Tier)
	require.NotNil(t, body.Account.CancelledAt)
}

func TestSubscriptionHandler_ListBilling(t *testing.T) {
	subs := &mockSubscriptionAPI{}
	subs.On("ListBilling", mock.Anything, "acc-1").Return([]model.BillingRecord{
		{ID: "bill-1", Tier: model.TierPro, AmountCents: 999, Status: model.BillingStatusRecorded},
	}, nil).Once()

	rec := serveSubscription(subs, withClaims(httptest.NewRequest(http.MethodGet, "/billing", nil)))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Records []model.BillingRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Records, 1)
	assert.Equal(t, int64(999), body.Records[0].AmountCents)
}
