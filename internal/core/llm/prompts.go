package llm

import (
	"fmt"
	"strings"

	"github.com/lueurxax/character-market/internal/core/domain"
)

const criteriaBlock = `Judge the subject on everything the episode shows, weighted equally:
1. Character moments and growth
2. Fight performance
3. Writing quality and scene presence
4. Aura and how others talk about them
5. Visual design
6. Narrative weight and setup for later arcs
7. Threat and hype
8. How this compares with the subject's own recent changes
Be harsh on mistakes, cowardice and regression. Do not reward mere presence.`

const multiplicativeSystemPrompt = `You revalue ONE character after a manga chapter.
Describe every significant thing the character does in this chapter as a separate action and
give each action a multiplier applied to the value in order. 1.0 means no change.
Multipliers must lie between 0.05 and 5.0.

` + criteriaBlock + `

Return JSON only:
{"actions":[{"description":"...","multiplier":1.05,"confidence":0.8}],"justification":"..."}
Return an empty actions list when the character does nothing of note.`

const additiveSystemPrompt = `You revalue ONE character after a manga chapter.
Propose a single signed change to the character's value. 0 means no change.
High-value characters move less: meeting expectations is worth almost nothing at the top.

` + criteriaBlock + `

Return JSON only:
{"delta":12.5,"confidence":0.8,"justification":"..."}`

const newEntitySystemPrompt = `You assign the INITIAL value of ONE character appearing for the first time.
Place the character relative to the existing market using the percentile bands given.
A background debut belongs near the bottom, a dominant debut near the top.

` + criteriaBlock + `

Return JSON only:
{"value":120,"confidence":0.8,"justification":"..."}`

const filterSystemPrompt = `You filter a list of links taken from a manga chapter page.
REMOVE groups ("Straw Hat Pirates", "Marines"), places ("Orange Town"), ranks ("Captain"),
generic terms ("Villagers") and characters who are only mentioned or appear only in a cover story.
KEEP named individuals who appear and do something in this chapter.

Return JSON only, echoing the keys exactly as given:
{"individuals":["key1","key2"]}`

// systemPrompt picks the instructions for the subject and strategy of req.
func systemPrompt(req domain.ProposalRequest) string {
	switch {
	case req.Entity == nil:
		return newEntitySystemPrompt
	case req.Strategy == strategyAdditive:
		return additiveSystemPrompt
	default:
		return multiplicativeSystemPrompt
	}
}

// userPrompt renders the episode, market and subject context for one proposal.
func userPrompt(req domain.ProposalRequest) string {
	var sb strings.Builder

	writeEpisode(&sb, req.Content)
	writeMarket(&sb, req.Market)

	if req.Entity != nil {
		writeEntity(&sb, req.Strategy, *req.Entity)
	} else if req.Candidate != nil {
		fmt.Fprintf(&sb, "NEW CHARACTER: %s (key %s)\n", req.Candidate.DisplayName, req.Candidate.ExternalKey)
		sb.WriteString("Choose a starting value within the bands above.\n")
	}

	return sb.String()
}

func filterUserPrompt(content domain.EpisodeContent, candidates []domain.Candidate) string {
	var sb strings.Builder

	writeEpisode(&sb, content)

	sb.WriteString("CANDIDATES:\n")

	for _, c := range candidates {
		fmt.Fprintf(&sb, "- %s (key %s)\n", c.DisplayName, c.ExternalKey)
	}

	return sb.String()
}

func writeEpisode(sb *strings.Builder, content domain.EpisodeContent) {
	fmt.Fprintf(sb, "CHAPTER %d: %s\n", content.Index, content.Title)

	if content.Arc != "" {
		fmt.Fprintf(sb, "ARC: %s\n", content.Arc)
	}

	sb.WriteString("\nSUMMARY:\n")
	sb.WriteString(content.Body)
	sb.WriteString("\n\n")
}

func writeMarket(sb *strings.Builder, m domain.MarketSnapshot) {
	sb.WriteString("MARKET BEFORE THIS CHAPTER:\n")

	if m.Baseline {
		fmt.Fprintf(sb, "The market is empty. Use %.0f as the reference value.\n\n", m.Mean)
		return
	}

	fmt.Fprintf(sb, "%d characters, mean %.1f, median %.1f\n", m.TotalCount, m.Mean, m.Median)
	fmt.Fprintf(sb, "Bands: legendary >= %.1f (p90), top >= %.1f (p75), high >= %.1f (p50), mid >= %.1f (p33), low >= %.1f (p10)\n",
		m.Percentiles[90], m.Percentiles[75], m.Percentiles[50], m.Percentiles[33], m.Percentiles[10])

	if len(m.TopN) > 0 {
		sb.WriteString("Top: ")
		writeValuations(sb, m.TopN)
	}

	if len(m.BottomN) > 0 {
		sb.WriteString("Bottom: ")
		writeValuations(sb, m.BottomN)
	}

	sb.WriteString("\n")
}

func writeValuations(sb *strings.Builder, vs []domain.Valuation) {
	parts := make([]string, 0, len(vs))
	for _, v := range vs {
		parts = append(parts, fmt.Sprintf("%s %.1f", v.Name, v.Value))
	}

	sb.WriteString(strings.Join(parts, ", "))
	sb.WriteString("\n")
}

func writeEntity(sb *strings.Builder, strategy string, ec domain.EntityContext) {
	fmt.Fprintf(sb, "CHARACTER: %s\n", ec.Entity.Name)
	fmt.Fprintf(sb, "Current value: %.1f (tier %s)\n", ec.Entity.CurrentValue, ec.Tier)
	sb.WriteString(tierGuidance(strategy, ec.Tier))
	sb.WriteString("\n")

	history := ec.RecentHistory
	if len(history) > recentHistoryInPrompt {
		history = history[len(history)-recentHistoryInPrompt:]
	}

	if len(history) == 0 {
		return
	}

	sb.WriteString("PAST CHANGES:\n")

	for _, h := range history {
		fmt.Fprintf(sb, "- chapter %d: %+.1f -> %.1f. %s\n", h.Episode, h.Delta, h.ResultingValue, h.Justification)
	}
}

// tierGuidance tells the oracle how much movement a tier usually warrants.
// It is advice only. Validation enforces the hard limits.
func tierGuidance(strategy string, tier domain.Tier) string {
	if strategy == strategyAdditive {
		switch tier {
		case domain.TierLegendary:
			return "Top 10%: even strong chapters rarely move this character by more than a few points."
		case domain.TierTop, domain.TierHigh:
			return "Upper half: reserve large changes for major wins or failures."
		default:
			return "Lower half: a strong chapter can move this character substantially."
		}
	}

	switch tier {
	case domain.TierLegendary:
		return "Top 10%: meeting expectations = 0.98-1.00x, good = 1.00-1.02x, only legendary moments reach 1.05x+."
	case domain.TierTop:
		return "Top 25%: meeting = 0.99-1.01x, strong = 1.01-1.05x, major wins = 1.05-1.15x."
	case domain.TierHigh:
		return "Top 50%: meeting = 1.00-1.02x, good = 1.02-1.08x, strong = 1.08-1.20x."
	case domain.TierMid:
		return "Middle: meeting = 1.00-1.05x, good = 1.05-1.15x, strong = 1.15-1.30x."
	default:
		return "Bottom third: meeting = 1.00-1.08x, good = 1.08-1.18x, strong = 1.18-1.30x."
	}
}
