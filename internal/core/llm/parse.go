package llm

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/lueurxax/character-market/internal/core/domain"
	apperrors "github.com/lueurxax/character-market/internal/core/errors"
)

type actionsResponse struct {
	Actions       []domain.Action `json:"actions"`
	Justification string          `json:"justification"`
}

type deltaResponse struct {
	Delta         *float64 `json:"delta"`
	Confidence    float64  `json:"confidence"`
	Justification string   `json:"justification"`
}

type valueResponse struct {
	Value         *float64 `json:"value"`
	Confidence    float64  `json:"confidence"`
	Justification string   `json:"justification"`
}

type filterResponse struct {
	Individuals []string `json:"individuals"`
}

// parseProposal turns raw model output into the Update variant req asks for.
// Shape errors wrap ErrMalformedProposal. Range checks belong to validation.
func parseProposal(req domain.ProposalRequest, content string) (domain.Update, error) {
	raw := []byte(extractJSON(content))

	switch {
	case req.Entity == nil:
		return parseNew(req, raw)
	case req.Strategy == strategyAdditive:
		return parseDelta(req, raw)
	default:
		return parseActions(req, raw)
	}
}

func parseActions(req domain.ProposalRequest, raw []byte) (domain.Update, error) {
	var resp actionsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, malformed(err)
	}

	conf := 0.0

	for i, a := range resp.Actions {
		if !finite(a.Multiplier) {
			return nil, malformedf("action %d multiplier is not a finite number", i)
		}

		if err := checkConfidence(a.Confidence); err != nil {
			return nil, err
		}

		conf += a.Confidence
	}

	if len(resp.Actions) > 0 {
		conf /= float64(len(resp.Actions))
	}

	return domain.ExistingEntityUpdate{
		EntityID:      req.Entity.Entity.ID,
		Actions:       resp.Actions,
		Confidence:    conf,
		Justification: strings.TrimSpace(resp.Justification),
	}, nil
}

func parseDelta(req domain.ProposalRequest, raw []byte) (domain.Update, error) {
	var resp deltaResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, malformed(err)
	}

	if resp.Delta == nil || !finite(*resp.Delta) {
		return nil, malformedf("delta is missing or not a finite number")
	}

	if err := checkConfidence(resp.Confidence); err != nil {
		return nil, err
	}

	return domain.ExistingEntityUpdate{
		EntityID:      req.Entity.Entity.ID,
		Delta:         *resp.Delta,
		Confidence:    resp.Confidence,
		Justification: strings.TrimSpace(resp.Justification),
	}, nil
}

func parseNew(req domain.ProposalRequest, raw []byte) (domain.Update, error) {
	if req.Candidate == nil {
		return nil, malformedf("request names neither an entity nor a candidate")
	}

	var resp valueResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, malformed(err)
	}

	if resp.Value == nil || !finite(*resp.Value) {
		return nil, malformedf("value is missing or not a finite number")
	}

	if err := checkConfidence(resp.Confidence); err != nil {
		return nil, err
	}

	return domain.NewEntityUpdate{
		ExternalKey:   req.Candidate.ExternalKey,
		DisplayName:   req.Candidate.DisplayName,
		ProposedValue: *resp.Value,
		Confidence:    resp.Confidence,
		Justification: strings.TrimSpace(resp.Justification),
	}, nil
}

// parseFilter keeps the candidates whose keys the model returned, in input order.
// Unknown keys in the response are ignored.
func parseFilter(candidates []domain.Candidate, content string) ([]domain.Candidate, error) {
	var resp filterResponse
	if err := json.Unmarshal([]byte(extractJSON(content)), &resp); err != nil {
		return nil, malformed(err)
	}

	keep := make(map[string]struct{}, len(resp.Individuals))
	for _, k := range resp.Individuals {
		keep[strings.TrimSpace(k)] = struct{}{}
	}

	out := make([]domain.Candidate, 0, len(keep))

	for _, c := range candidates {
		if _, ok := keep[c.ExternalKey]; ok {
			out = append(out, c)
		}
	}

	return out, nil
}

// extractJSON strips code fences and prose around the outermost JSON object.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")

	if start != -1 && end > start {
		candidate := text[start : end+1]
		if json.Valid([]byte(candidate)) {
			return candidate
		}
	}

	return text
}

func checkConfidence(c float64) error {
	if !finite(c) || c < 0 || c > 1 {
		return malformedf("confidence %v outside [0, 1]", c)
	}

	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func malformed(err error) error {
	return fmt.Errorf("%w: %w", apperrors.ErrMalformedProposal, fmt.Errorf(errParseResponse, err))
}

func malformedf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", apperrors.ErrMalformedProposal, fmt.Sprintf(format, args...))
}
