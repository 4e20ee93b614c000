package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stylesync/quota-server-go/internal/config"
	apperrors "github.com/stylesync/quota-server-go/internal/errors"
	"github.com/stylesync/quota-server-go/internal/model"
	"github.com/stylesync/quota-server-go/internal/sse"
)

// Subscriber hands out per-account event streams.
type Subscriber interface {
	Subscribe(accountID string) *sse.Client
	Unsubscribe(client *sse.Client)
}

type EventsHandler struct {
	broker    Subscriber
	ledger    AccountAPI
	heartbeat time.Duration
}

func NewEventsHandler(broker Subscriber, ledger AccountAPI) *EventsHandler {
	return &EventsHandler{
		broker:    broker,
		ledger:    ledger,
		heartbeat: config.SSEHeartbeatInterval,
	}
}

// ServeHTTP streams usage_updated events for the caller's account. The
// first event carries the current usage so the client never starts blank.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperrors.Internal("Streaming not supported"))
		return
	}

	ctx := r.Context()
	account, err := h.ledger.Usage(ctx, claims.AccountID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.broker.Subscribe(claims.AccountID)
	defer h.broker.Unsubscribe(client)

	log.Info().
		Str("accountId", claims.AccountID).
		Msg("sse connection established")

	if err := h.sendEvent(w, flusher, "connected", h.connectedPayload(account)); err != nil {
		return
	}

	h.stream(ctx, w, flusher, client)
}

func (h *EventsHandler) stream(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, client *sse.Client) {
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("accountId", client.AccountID).Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Debug().Str("accountId", client.AccountID).Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Warn().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) connectedPayload(account *model.Account) map[string]any {
	return map[string]any{
		"accountId": account.ID,
		"usage":     h.ledger.Snapshot(account),
	}
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return h.sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if event.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", event.ID); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
