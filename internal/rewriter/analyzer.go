package rewriter

import (
	"math"
	"regexp"
	"strings"
)

var (
	wordPattern        = regexp.MustCompile(`[\p{L}\p{N}']+`)
	sentenceEndPattern = regexp.MustCompile(`[.!?]+`)

	formalMarkers = map[string]bool{
		"therefore": true, "furthermore": true, "however": true, "regarding": true,
		"consequently": true, "moreover": true, "accordingly": true, "sincerely": true,
	}
	casualMarkers = map[string]bool{
		"hey": true, "gonna": true, "wanna": true, "yeah": true, "lol": true,
		"cool": true, "awesome": true, "stuff": true, "kinda": true,
	}
	technicalMarkers = map[string]bool{
		"api": true, "database": true, "function": true, "server": true, "deploy": true,
		"latency": true, "algorithm": true, "config": true, "endpoint": true, "query": true,
	}
)

// Analysis describes the detected style of a text.
type Analysis struct {
	Tags       []string `json:"tags"`
	Confidence float64  `json:"confidence"`
}

// Analyze tags the text with the styles it exhibits. Confidence grows with
// the number of signals found and the amount of text; empty text scores 0.
func Analyze(text string) Analysis {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	if len(words) == 0 {
		return Analysis{Tags: []string{}, Confidence: 0}
	}

	var formal, casual, technical, contractions int
	for _, w := range words {
		switch {
		case formalMarkers[w]:
			formal++
		case casualMarkers[w]:
			casual++
		case technicalMarkers[w]:
			technical++
		}
		if strings.Contains(w, "'") {
			contractions++
		}
	}

	sentences := len(sentenceEndPattern.FindAllString(text, -1))
	if sentences == 0 {
		sentences = 1
	}
	avgSentence := float64(len(words)) / float64(sentences)

	tags := []string{}
	if formal > 0 && contractions == 0 {
		tags = append(tags, "formal")
	}
	if casual > 0 || contractions > 1 {
		tags = append(tags, "casual")
	}
	if avgSentence <= 12 {
		tags = append(tags, "concise")
	}
	if avgSentence >= 25 {
		tags = append(tags, "verbose")
	}
	if strings.Contains(text, "?") {
		tags = append(tags, "questioning")
	}
	if strings.Contains(text, "!") {
		tags = append(tags, "exclamatory")
	}
	if technical*10 >= len(words) || technical >= 3 {
		tags = append(tags, "technical")
	}

	confidence := 0.4 + 0.1*float64(len(tags)) + math.Min(0.2, float64(len(words))/500)
	confidence = math.Min(0.95, confidence)

	return Analysis{Tags: tags, Confidence: math.Round(confidence*100) / 100}
}
