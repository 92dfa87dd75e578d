package valuation

import "strings"

const (
	minReasoningLength = 10
	reasoningBase      = 0.1
	highKeywordWeight  = 0.25
	midKeywordWeight   = 0.15
	lowKeywordWeight   = 0.05
	lengthBonusShort   = 0.15
	lengthBonusLong    = 0.10
	lengthShort        = 50
	lengthLong         = 100
)

var (
	highKeywords = []string{
		"defeated", "victory", "powerup", "awakening", "haki", "transformation", "sacrifice",
		"leadership", "development", "backstory", "reveal", "bounty", "intimidation", "epic",
	}
	midKeywords = []string{
		"fight", "battle", "technique", "ability", "strength", "performance", "moment",
		"display", "showed", "boss", "major",
	}
	lowKeywords = []string{"appeared", "mentioned", "present", "seen"}
)

// ReasoningScore rates a justification in [0, 1] by keyword weight and length.
func ReasoningScore(text string) float64 {
	text = strings.ToLower(strings.TrimSpace(text))
	if len(text) < minReasoningLength {
		return 0
	}

	score := reasoningBase
	score += keywordScore(text, highKeywords, highKeywordWeight)
	score += keywordScore(text, midKeywords, midKeywordWeight)
	score += keywordScore(text, lowKeywords, lowKeywordWeight)

	if len(text) > lengthShort {
		score += lengthBonusShort
	}

	if len(text) > lengthLong {
		score += lengthBonusLong
	}

	return min(score, 1.0)
}

func keywordScore(text string, keywords []string, weight float64) float64 {
	var s float64

	for _, k := range keywords {
		if strings.Contains(text, k) {
			s += weight
		}
	}

	return s
}
