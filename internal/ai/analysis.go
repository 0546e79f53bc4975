package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FormulaLine is one priced line of the formula under review.
type FormulaLine struct {
	MaterialCode string
	MaterialName string
	UsageRatio   decimal.Decimal
	UnitPrice    decimal.Decimal
	Priced       bool
}

// FormulaBrief describes a formula and its prices on one day.
type FormulaBrief struct {
	ProductCode         string
	ProductName         string
	CustomerProductName string
	FormulaType         string
	PriceDate           string
	Lines               []FormulaLine
}

// ProposedChange replaces one formula material with a catalog material.
// It is advisory: nothing is written from it.
type ProposedChange struct {
	MaterialCode    string `json:"material_code"`
	ReplacementCode string `json:"replacement_code"`
	Reason          string `json:"reason"`
}

// Analysis is the assistant's review of one formula.
type Analysis struct {
	Notes   string           `json:"notes"`
	Changes []ProposedChange `json:"changes"`
}

const analysisSystemPrompt = `You review manufacturing formulas for raw-material cost reductions.
Respond with strictly valid JSON using this schema:
{
  "notes": string,
  "changes": [
    {"material_code": string, "replacement_code": string, "reason": string}
  ]
}
material_code must be a line of the formula and replacement_code must come from the catalog.
Never include explanations, markdown, or commentary outside of the JSON payload.`

// AnalyzeFormula asks the model how brief could be made cheaper using the
// catalog, honouring any free-text requirements. Changes naming codes outside
// the formula or the catalog are dropped.
func (c *Client) AnalyzeFormula(ctx context.Context, brief FormulaBrief, catalog []Material, requirements string) (Analysis, error) {
	if len(brief.Lines) == 0 {
		return Analysis{}, errors.New("ai: formula has no lines to analyse")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Formula %s (%s), type %s, customer name %q.\n",
		brief.ProductCode, brief.ProductName, brief.FormulaType, brief.CustomerProductName)
	fmt.Fprintf(&b, "Lines (code | name | usage ratio | unit price on %s):\n", brief.PriceDate)
	lines := make(map[string]struct{}, len(brief.Lines))
	for _, line := range brief.Lines {
		lines[line.MaterialCode] = struct{}{}
		price := "unpriced"
		if line.Priced {
			price = line.UnitPrice.String()
		}
		fmt.Fprintf(&b, "%s | %s | %s | %s\n", line.MaterialCode, line.MaterialName, line.UsageRatio, price)
	}
	b.WriteString("Catalog (code | name | model):\n")
	known := make(map[string]struct{}, len(catalog))
	for _, m := range catalog {
		known[m.Code] = struct{}{}
		fmt.Fprintf(&b, "%s | %s | %s\n", m.Code, m.Name, m.Model)
	}
	if req := normaliseText(requirements); req != "" {
		fmt.Fprintf(&b, "Requirements: %s\n", req)
	}

	content, err := c.chat(ctx, []Message{
		{Role: RoleSystem, Content: analysisSystemPrompt},
		{Role: RoleUser, Content: b.String()},
	})
	if err != nil {
		return Analysis{}, err
	}

	var parsed Analysis
	if err := json.Unmarshal([]byte(strings.TrimPrefix(content, "json")), &parsed); err != nil {
		return Analysis{}, fmt.Errorf("ai: parse analysis payload: %w", err)
	}

	out := Analysis{Notes: normaliseText(parsed.Notes), Changes: []ProposedChange{}}
	seen := make(map[[2]string]struct{})
	for _, change := range parsed.Changes {
		from := normaliseValue(change.MaterialCode)
		to := normaliseValue(change.ReplacementCode)
		if from == "" || to == "" || from == to {
			continue
		}
		if _, ok := lines[from]; !ok {
			continue
		}
		if _, ok := known[to]; !ok {
			continue
		}
		key := [2]string{from, to}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out.Changes = append(out.Changes, ProposedChange{
			MaterialCode:    from,
			ReplacementCode: to,
			Reason:          normaliseText(change.Reason),
		})
	}
	return out, nil
}
