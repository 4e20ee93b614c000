package rewriter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/stylesync/quota-server-go/internal/metrics"
)

const (
	openAIBackend      = "openai"
	defaultTemperature = 0.4
	defaultBurst       = 5
)

type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	RatePerSec float64
	Burst      int
	HTTPClient *http.Client
}

// OpenAI rewrites through an OpenAI-compatible chat completion endpoint.
type OpenAI struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}

	return &OpenAI{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (o *OpenAI) Name() string {
	return openAIBackend
}

// Rewrite sends the text with a style prompt. Cancellation of ctx aborts the
// HTTP call and is returned as the context error.
func (o *OpenAI) Rewrite(ctx context.Context, req Request) (Result, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, fmt.Errorf("rate limiter: %w", context.DeadlineExceeded)
	}

	start := time.Now()

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: temperature(req.Intensity),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buildSystemPrompt(req)},
			{Role: openai.ChatMessageRoleUser, Content: req.Text},
		},
	})

	duration := time.Since(start)

	if err != nil {
		metrics.RewriterRequestsTotal.WithLabelValues(openAIBackend, "error").Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, parseAPIError(err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		metrics.RewriterRequestsTotal.WithLabelValues(openAIBackend, "empty").Inc()
		return Result{}, fmt.Errorf("%w: %w", ErrEmptyResponse, ErrProvider)
	}

	metrics.RewriterRequestsTotal.WithLabelValues(openAIBackend, "success").Inc()
	metrics.RewriterRequestDuration.WithLabelValues(openAIBackend).Observe(duration.Seconds())
	if resp.Usage.TotalTokens > 0 {
		metrics.RewriterTokensTotal.WithLabelValues(openAIBackend, "prompt").Add(float64(resp.Usage.PromptTokens))
		metrics.RewriterTokensTotal.WithLabelValues(openAIBackend, "completion").Add(float64(resp.Usage.CompletionTokens))
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	analysis := Analyze(text)

	return Result{
		Text:             text,
		Confidence:       analysis.Confidence,
		StyleTags:        analysis.Tags,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		Backend:          openAIBackend,
	}, nil
}

func temperature(intensity *int) float32 {
	if intensity == nil {
		return defaultTemperature
	}
	// 0-100 maps onto 0.1-1.1
	return 0.1 + float32(*intensity)/100
}

func buildSystemPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Rewrite the user's text so it reads naturally in the requested style. ")
	b.WriteString("Keep the meaning and language of the original. Reply with the rewritten text only.\n")

	tone := req.Tone
	if tone == "" {
		tone = "neutral"
	}
	fmt.Fprintf(&b, "Tone: %s\n", tone)

	if req.Preset != "" {
		fmt.Fprintf(&b, "Format: %s\n", strings.ReplaceAll(req.Preset, "_", " "))
	}
	if req.Intensity != nil {
		fmt.Fprintf(&b, "Tone intensity: %d/100\n", *req.Intensity)
	}
	if len(req.Rules) > 0 {
		fmt.Fprintf(&b, "Editing rules: %s\n", strings.Join(req.Rules, ", "))
	}
	return b.String()
}

// parseAPIError extracts a readable message and wraps ErrProvider.
func parseAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("rewrite API error %d: %s: %w", apiErr.HTTPStatusCode, apiErr.Message, ErrProvider)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if detail := extractDetail(reqErr.Body); detail != "" {
			return fmt.Errorf("rewrite API error %d: %s: %w", reqErr.HTTPStatusCode, detail, ErrProvider)
		}
		return fmt.Errorf("rewrite API error %d: %w", reqErr.HTTPStatusCode, ErrProvider)
	}

	return fmt.Errorf("rewrite request failed: %v: %w", err, ErrProvider)
}

// extractDetail reads the "detail" field some compatible providers return.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
