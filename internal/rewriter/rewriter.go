// Package rewriter turns a piece of text into the requested style. Two
// backends exist: an OpenAI-compatible chat model and a local rule-based one.
package rewriter

import (
	"context"
	"errors"

	"github.com/stylesync/quota-server-go/internal/tier"
)

var (
	ErrProvider      = errors.New("rewrite provider error")
	ErrEmptyResponse = errors.New("empty rewrite response")
)

type Request struct {
	Text      string
	Tone      string
	Preset    string
	Intensity *int
	RuleSet   tier.RuleSet
	Rules     []string
}

type Result struct {
	Text             string
	Confidence       float64
	StyleTags        []string
	PromptTokens     int
	CompletionTokens int
	Backend          string
}

type Rewriter interface {
	Rewrite(ctx context.Context, req Request) (Result, error)
	Name() string
}

// New picks the OpenAI backend when an API key is configured and the
// heuristic backend otherwise.
func New(cfg OpenAIConfig) Rewriter {
	if cfg.APIKey == "" {
		return NewHeuristic()
	}
	return NewOpenAI(cfg)
}
