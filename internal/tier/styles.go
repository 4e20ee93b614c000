package tier

import (
	"fmt"
	"slices"

	apperrors "github.com/stylesync/quota-server-go/internal/errors"
	"github.com/stylesync/quota-server-go/internal/model"
)

// RuleSet names a static group of formatting heuristics.
type RuleSet string

const (
	RuleSetBasic    RuleSet = "basic"
	RuleSetExtended RuleSet = "extended"
	RuleSetFull     RuleSet = "full"
)

// Rules lists the heuristics each rule set applies, in order.
var Rules = map[RuleSet][]string{
	RuleSetBasic:    {"normalize_whitespace", "sentence_case"},
	RuleSetExtended: {"normalize_whitespace", "sentence_case", "expand_contractions", "trim_fillers"},
	RuleSetFull:     {"normalize_whitespace", "sentence_case", "expand_contractions", "trim_fillers", "split_long_sentences"},
}

const DefaultTone = "neutral"

var (
	freeTones    = []string{"neutral", "friendly", "formal"}
	proTones     = append(slices.Clone(freeTones), "persuasive", "concise", "academic")
	premiumTones = append(slices.Clone(proTones), "witty", "empathetic", "executive")

	presets = []string{"email", "blog_post", "cover_letter", "social_post", "report"}
)

// StyleProfile is what the UI may offer for a tier.
type StyleProfile struct {
	Tier            model.Tier `json:"tier"`
	RuleSet         RuleSet    `json:"ruleSet"`
	Rules           []string   `json:"rules"`
	Tones           []string   `json:"tones"`
	Presets         []string   `json:"presets"`
	AllowToneTuning bool       `json:"allowToneTuning"`
}

// StyleProfileFor selects the rule set and tone presets exposed to a tier.
func (t *Table) StyleProfileFor(name model.Tier) StyleProfile {
	l := t.Limits(name)

	profile := StyleProfile{
		Tier:            name,
		Presets:         []string{},
		AllowToneTuning: l.ToneFineTuning,
	}

	switch name {
	case model.TierPremium:
		profile.RuleSet = RuleSetFull
		profile.Tones = premiumTones
	case model.TierPro:
		profile.RuleSet = RuleSetExtended
		profile.Tones = proTones
	default:
		profile.Tier = model.TierFree
		profile.RuleSet = RuleSetBasic
		profile.Tones = freeTones
	}
	profile.Rules = Rules[profile.RuleSet]

	if l.Presets {
		profile.Presets = presets
	}
	return profile
}

// StyleOptions are the user's choices for a single rewrite.
type StyleOptions struct {
	Tone      string `json:"tone"`
	Preset    string `json:"preset,omitempty"`
	Intensity *int   `json:"intensity,omitempty"` // 0-100, tone fine-tuning
}

// Authorize checks the options against the tier's style access.
func (t *Table) Authorize(name model.Tier, opts StyleOptions) error {
	profile := t.StyleProfileFor(name)

	tone := opts.Tone
	if tone == "" {
		tone = DefaultTone
	}
	if !slices.Contains(profile.Tones, tone) {
		if slices.Contains(premiumTones, tone) {
			return apperrors.PermissionDenied(fmt.Sprintf("The %q tone is not available on the %s plan", tone, name))
		}
		return apperrors.InvalidInput("tone", fmt.Sprintf("unknown tone %q", tone))
	}

	if opts.Preset != "" {
		if len(profile.Presets) == 0 {
			return apperrors.PermissionDenied(fmt.Sprintf("Style presets are not available on the %s plan", name))
		}
		if !slices.Contains(profile.Presets, opts.Preset) {
			return apperrors.InvalidInput("preset", fmt.Sprintf("unknown preset %q", opts.Preset))
		}
	}

	if opts.Intensity != nil {
		if !profile.AllowToneTuning {
			return apperrors.PermissionDenied(fmt.Sprintf("Tone fine-tuning is not available on the %s plan", name))
		}
		if *opts.Intensity < 0 || *opts.Intensity > 100 {
			return apperrors.InvalidInput("intensity", "must be between 0 and 100")
		}
	}

	return nil
}
