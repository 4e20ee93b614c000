package rewriter

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/stylesync/quota-server-go/internal/metrics"
	"github.com/stylesync/quota-server-go/internal/tier"
)

const heuristicBackend = "heuristic"

const longSentenceWords = 30

var (
	whitespacePattern = regexp.MustCompile(`[ \t]+`)
	blankLinesPattern = regexp.MustCompile(`\n{3,}`)
	sentencePattern   = regexp.MustCompile(`[^.!?]+[.!?]*`)
	fillerPattern     = regexp.MustCompile(`(?i)\b(basically|actually|really|just|very|literally|totally)\s+`)

	contractionPairs = []struct{ from, to string }{
		{"can't", "cannot"}, {"won't", "will not"}, {"don't", "do not"}, {"doesn't", "does not"},
		{"didn't", "did not"}, {"isn't", "is not"}, {"aren't", "are not"}, {"wasn't", "was not"},
		{"i'm", "I am"}, {"i've", "I have"}, {"i'll", "I will"}, {"it's", "it is"},
		{"we're", "we are"}, {"they're", "they are"}, {"you're", "you are"}, {"that's", "that is"},
		{"let's", "let us"}, {"couldn't", "could not"}, {"shouldn't", "should not"}, {"wouldn't", "would not"},
	}

	contractions = compileContractions()

	formalTones  = map[string]bool{"formal": true, "academic": true, "executive": true}
	conciseTones = map[string]bool{"concise": true, "executive": true}
)

// Heuristic rewrites text with the deterministic rules of the tier's rule set.
type Heuristic struct{}

func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

func (h *Heuristic) Name() string {
	return heuristicBackend
}

func (h *Heuristic) Rewrite(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	start := time.Now()

	rules := req.Rules
	if len(rules) == 0 {
		rules = tier.Rules[tier.RuleSetBasic]
	}

	text := req.Text
	for _, rule := range rules {
		switch rule {
		case "normalize_whitespace":
			text = normalizeWhitespace(text)
		case "sentence_case":
			text = sentenceCase(text)
		case "expand_contractions":
			if formalTones[req.Tone] {
				text = expandContractions(text)
			}
		case "trim_fillers":
			if conciseTones[req.Tone] || req.Preset == "report" {
				text = fillerPattern.ReplaceAllString(text, "")
			}
		case "split_long_sentences":
			text = splitLongSentences(text)
		}
	}

	analysis := Analyze(text)

	metrics.RewriterRequestsTotal.WithLabelValues(heuristicBackend, "success").Inc()
	metrics.RewriterRequestDuration.WithLabelValues(heuristicBackend).Observe(time.Since(start).Seconds())

	return Result{
		Text:       text,
		Confidence: analysis.Confidence,
		StyleTags:  analysis.Tags,
		Backend:    heuristicBackend,
	}, nil
}

func normalizeWhitespace(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(whitespacePattern.ReplaceAllString(line, " "))
	}
	return strings.TrimSpace(blankLinesPattern.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}

func sentenceCase(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	capitalize := true
	for _, r := range text {
		if capitalize && unicode.IsLetter(r) {
			r = unicode.ToUpper(r)
			capitalize = false
		} else if unicode.IsLetter(r) || unicode.IsDigit(r) {
			capitalize = false
		}
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			capitalize = true
		}
		b.WriteRune(r)
	}
	return b.String()
}

type contraction struct {
	pattern *regexp.Regexp
	to      string
}

func compileContractions() []contraction {
	compiled := make([]contraction, 0, len(contractionPairs))
	for _, c := range contractionPairs {
		compiled = append(compiled, contraction{
			pattern: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(c.from) + `\b`),
			to:      c.to,
		})
	}
	return compiled
}

func expandContractions(text string) string {
	text = strings.ReplaceAll(text, "’", "'")
	for _, c := range contractions {
		text = c.pattern.ReplaceAllStringFunc(text, func(match string) string {
			return matchCase(match, c.to)
		})
	}
	return text
}

// matchCase capitalizes replacement when the original started upper-case.
func matchCase(original, replacement string) string {
	first, _ := utf8.DecodeRuneInString(original)
	if unicode.IsUpper(first) {
		r, size := utf8.DecodeRuneInString(replacement)
		return string(unicode.ToUpper(r)) + replacement[size:]
	}
	return replacement
}

func splitLongSentences(text string) string {
	return sentencePattern.ReplaceAllStringFunc(text, func(sentence string) string {
		if len(strings.Fields(sentence)) <= longSentenceWords {
			return sentence
		}
		for _, sep := range []string{"; ", ", and ", ", but "} {
			if idx := strings.Index(sentence, sep); idx > 0 {
				head := strings.TrimRight(sentence[:idx], " ")
				tail := strings.TrimLeft(sentence[idx+len(sep):], " ")
				if sep != "; " {
					tail = strings.TrimPrefix(sep, ", ") + " " + tail
				}
				return head + ". " + sentenceCase(tail)
			}
		}
		return sentence
	})
}
