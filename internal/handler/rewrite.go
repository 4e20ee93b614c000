package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/stylesync/quota-server-go/internal/audit"
	apperrors "github.com/stylesync/quota-server-go/internal/errors"
	"github.com/stylesync/quota-server-go/internal/model"
	"github.com/stylesync/quota-server-go/internal/service"
)

type RewriteAPI interface {
	Rewrite(ctx context.Context, accountID string, input service.RewriteInput) (*service.RewriteResult, error)
	History(ctx context.Context, accountID string, limit, offset int) (*service.HistoryPage, error)
	Export(ctx context.Context, accountID string) (*service.ExportDocument, error)
	Stats(ctx context.Context, accountID string) (*model.RewriteStats, error)
}

var _ RewriteAPI = (*service.RewriteService)(nil)

type RewriteHandler struct {
	rewrites  RewriteAPI
	rateLimit Middleware
}

func NewRewriteHandler(rewrites RewriteAPI, rateLimit Middleware) *RewriteHandler {
	return &RewriteHandler{rewrites: rewrites, rateLimit: rateLimit}
}

// Routes expects to be mounted behind the auth middleware.
func (h *RewriteHandler) Routes(r chi.Router) {
	r.With(h.rateLimit).Post("/rewrite", h.Rewrite)
	r.Get("/rewrites", h.History)
	r.Get("/rewrites/export", h.Export)
	r.Get("/stats", h.Stats)
}

// POST /v1/rewrite
func (h *RewriteHandler) Rewrite(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	var req service.RewriteInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.rewrites.Rewrite(r.Context(), claims.AccountID, req)
	if err != nil {
		if appErr, ok := apperrors.AsAppError(err); ok && appErr.Code == apperrors.ErrCodeExternal {
			log.Error().Err(err).Str("accountId", claims.AccountID).Msg("rewrite backend failed")
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GET /v1/rewrites
func (h *RewriteHandler) History(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	p := ParsePagination(r)
	page, err := h.rewrites.History(r.Context(), claims.AccountID, p.Limit, p.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// GET /v1/rewrites/export downloads the history as a JSON attachment.
func (h *RewriteHandler) Export(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	doc, err := h.rewrites.Export(r.Context(), claims.AccountID)
	if err != nil {
		writeError(w, err)
		return
	}

	filename := fmt.Sprintf("stylesync-rewrites-%s.json", doc.ExportedAt.Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		log.Error().Err(err).Str("accountId", claims.AccountID).Msg("failed to write export")
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventExport,
		UserID:    claims.UserID,
		AccountID: claims.AccountID,
		Details:   map[string]interface{}{"count": doc.Count},
	})
}

// GET /v1/stats
func (h *RewriteHandler) Stats(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	stats, err := h.rewrites.Stats(r.Context(), claims.AccountID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}
