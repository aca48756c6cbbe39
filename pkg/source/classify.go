package source

import (
	"strings"

	"github.com/elonfeng/ytradar/internal/store"
)

// DefaultHelpKeywords mark instructional content.
var DefaultHelpKeywords = []string{
	"how to", "how-to", "tutorial", "guide", "tips", "explained",
	"step by step", "beginner", "walkthrough", "faq", "q&a", "learn",
}

// DefaultHeroKeywords mark tentpole content.
var DefaultHeroKeywords = []string{
	"trailer", "launch", "announcement", "announcing", "premiere",
	"documentary", "keynote", "official film", "campaign", "live event",
}

// Classifier assigns a Hero/Help label from a video title. Titles matching
// neither list stay unclassified.
type Classifier struct {
	hero []string
	help []string
}

// NewClassifier creates a classifier with the default keywords plus extras.
func NewClassifier(extraHero, extraHelp []string) *Classifier {
	return &Classifier{
		hero: lowered(DefaultHeroKeywords, extraHero),
		help: lowered(DefaultHelpKeywords, extraHelp),
	}
}

// Classify returns the label for title, or nil. Help wins over hero.
func (c *Classifier) Classify(title string) *string {
	if c == nil {
		return nil
	}
	lower := strings.ToLower(title)
	if containsAny(lower, c.help) {
		return ptr(string(store.CategoryHelp))
	}
	if containsAny(lower, c.hero) {
		return ptr(string(store.CategoryHero))
	}
	return nil
}

func lowered(base, extra []string) []string {
	out := make([]string, 0, len(base)+len(extra))
	for _, kw := range append(append([]string(nil), base...), extra...) {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
