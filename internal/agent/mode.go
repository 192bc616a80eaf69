package agent

import (
	"strings"
	"unicode"

	"github.com/MadnessEngineering/whispermind-conduit/internal/envelope"
)

// triggerWords route a request to autonomous mode when they appear in the message.
var triggerWords = map[string]struct{}{
	"solve":       {},
	"analyze":     {},
	"analyse":     {},
	"calculate":   {},
	"compute":     {},
	"investigate": {},
	"research":    {},
	"plan":        {},
}

// IsAutonomous reports whether req should run the tool loop: either the
// request asks for it, or its message contains a trigger word.
func IsAutonomous(req envelope.Request) bool {
	if req.Autonomous() {
		return true
	}
	return hasTriggerWord(req.Message)
}

func hasTriggerWord(message string) bool {
	words := strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		if _, ok := triggerWords[w]; ok {
			return true
		}
	}
	return false
}
