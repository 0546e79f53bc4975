package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Material is the catalog entry shown to the model.
type Material struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Model string `json:"model,omitempty"`
}

// SuggestedRule is a proposed direct substitution. It carries no authority:
// callers route it through the network store's validation.
type SuggestedRule struct {
	SourceCode       string          `json:"source_code"`
	TargetCode       string          `json:"target_code"`
	ConversionFactor decimal.Decimal `json:"conversion_factor"`
	MaxRatio         decimal.Decimal `json:"max_ratio"`
	Reason           string          `json:"reason"`
}

// Suggestions is the assistant's proposal for a material catalog.
type Suggestions struct {
	Summary string          `json:"summary"`
	Rules   []SuggestedRule `json:"rules"`
}

const suggestSystemPrompt = `You review raw-material catalogs for a manufacturer and propose cost-saving substitutions.
Respond with strictly valid JSON using this schema:
{
  "summary": string,
  "rules": [
    {
      "source_code": string,
      "target_code": string,
      "conversion_factor": number (units of target per unit of source, > 0),
      "max_ratio": number (share of the source that may be replaced, 0-1],
      "reason": string
    }
  ]
}
Only use codes from the provided list. Never include explanations, markdown, or commentary outside of the JSON payload.`

type aiSuggestionResponse struct {
	Summary string `json:"summary"`
	Rules   []struct {
		SourceCode       string `json:"source_code"`
		TargetCode       string `json:"target_code"`
		ConversionFactor any    `json:"conversion_factor"`
		MaxRatio         any    `json:"max_ratio"`
		Reason           string `json:"reason"`
	} `json:"rules"`
}

// SuggestSubstitutions asks the model for substitution rules among materials.
// Proposals naming unknown codes, a material replacing itself, a factor <= 0
// or a max_ratio outside (0, 1] are dropped rather than repaired.
func (c *Client) SuggestSubstitutions(ctx context.Context, materials []Material) (Suggestions, error) {
	if len(materials) < 2 {
		return Suggestions{}, errors.New("ai: at least two materials are needed for suggestions")
	}

	var b strings.Builder
	b.WriteString("Materials (code | name | model):\n")
	known := make(map[string]struct{}, len(materials))
	for _, m := range materials {
		known[m.Code] = struct{}{}
		fmt.Fprintf(&b, "%s | %s | %s\n", m.Code, m.Name, m.Model)
	}

	content, err := c.chat(ctx, []Message{
		{Role: RoleSystem, Content: suggestSystemPrompt},
		{Role: RoleUser, Content: b.String()},
	})
	if err != nil {
		return Suggestions{}, err
	}

	var parsed aiSuggestionResponse
	decoder := json.NewDecoder(strings.NewReader(strings.TrimPrefix(content, "json")))
	decoder.UseNumber()
	if err := decoder.Decode(&parsed); err != nil {
		return Suggestions{}, fmt.Errorf("ai: parse suggestion payload: %w", err)
	}

	return normaliseSuggestions(parsed, known), nil
}

func normaliseSuggestions(parsed aiSuggestionResponse, known map[string]struct{}) Suggestions {
	out := Suggestions{Summary: normaliseText(parsed.Summary), Rules: []SuggestedRule{}}
	one := decimal.NewFromInt(1)
	seen := make(map[[2]string]struct{})

	for _, raw := range parsed.Rules {
		source := normaliseValue(raw.SourceCode)
		target := normaliseValue(raw.TargetCode)
		if source == "" || target == "" || source == target {
			continue
		}
		if _, ok := known[source]; !ok {
			continue
		}
		if _, ok := known[target]; !ok {
			continue
		}
		factor := parseDecimal(raw.ConversionFactor)
		maxRatio := parseDecimal(raw.MaxRatio)
		if !factor.IsPositive() || !maxRatio.IsPositive() || maxRatio.GreaterThan(one) {
			continue
		}
		key := [2]string{source, target}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out.Rules = append(out.Rules, SuggestedRule{
			SourceCode:       source,
			TargetCode:       target,
			ConversionFactor: factor,
			MaxRatio:         maxRatio,
			Reason:           normaliseText(raw.Reason),
		})
	}
	return out
}
