package quota

import (
	"strings"
	"unicode/utf8"

	"github.com/stylesync/quota-server-go/internal/model"
)

// CharsPerToken is the rough character-to-token ratio used for estimates.
const CharsPerToken = 4

// Cost estimates what rewriting text costs in the given unit.
func Cost(unit model.Unit, text string) int64 {
	if unit != model.UnitTokens {
		return 1
	}

	chars := utf8.RuneCountInString(strings.TrimSpace(text))
	tokens := int64((chars + CharsPerToken - 1) / CharsPerToken)
	if tokens < 1 {
		return 1
	}
	return tokens
}
