package ai

import "regexp"

const (
	CreatorAnswer  = "I was created by David Cyril Tech."
	IdentityAnswer = "I am CASPER AI, your personal assistant."
)

var specialQuestions = []struct {
	pattern *regexp.Regexp
	answer  string
}{
	// Checked first: "who are your developers" also contains "who are you".
	{regexp.MustCompile(`(?i)\bwho\s+(are|is)\s+your?\s+(developers?|creators?)\b|\bwho\s+(made|created|built)\s+you\b`), CreatorAnswer},
	{regexp.MustCompile(`(?i)\bwho\s+are\s+you\b|\byour\s+name\b`), IdentityAnswer},
}

// SpecialAnswer returns the canned answer for identity and creator
// questions.
func SpecialAnswer(text string) (string, bool) {
	for _, q := range specialQuestions {
		if q.pattern.MatchString(text) {
			return q.answer, true
		}
	}
	return "", false
}
