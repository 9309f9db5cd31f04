package core

import (
	"regexp"
	"strings"
)

// Heuristics classifies backend replies and cleans them before delivery.
// Patterns apply in order; replies matching an acknowledgment phrase are
// treated as progress notices even when they carry a result.
type Heuristics struct {
	BrandingPatterns      []*regexp.Regexp
	AcknowledgmentPhrases []string
}

var collapseBlankLines = regexp.MustCompile(`\n{3,}`)

func DefaultHeuristics() Heuristics {
	return Heuristics{
		BrandingPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\[Manus\]`),
			regexp.MustCompile(`(?i)Manus:`),
			regexp.MustCompile(`(?i)Powered by Manus`),
			regexp.MustCompile(`(?i)manus\.im`),
			regexp.MustCompile(`(?i)manus\.bot`),
			regexp.MustCompile(`(?i)\x{2014} Manus`),
			regexp.MustCompile(`(?i)--\s*Manus`),
		},
		AcknowledgmentPhrases: []string{
			"task has been started",
			"working on your request",
			"processing your email",
			"received your request",
			"task is now running",
			"i have received your task",
			"and started working",
			"i will do the following",
		},
	}
}

func (h Heuristics) StripBranding(text string) string {
	for _, pattern := range h.BrandingPatterns {
		if pattern == nil {
			continue
		}
		text = pattern.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(collapseBlankLines.ReplaceAllString(text, "\n\n"))
}

func (h Heuristics) IsAcknowledgment(body string) bool {
	lower := strings.ToLower(body)
	for _, phrase := range h.AcknowledgmentPhrases {
		phrase = strings.ToLower(strings.TrimSpace(phrase))
		if phrase != "" && strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func (h Heuristics) empty() bool {
	return len(h.BrandingPatterns) == 0 && len(h.AcknowledgmentPhrases) == 0
}
