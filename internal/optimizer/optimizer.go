// Package optimizer searches a formula for cheaper substitutions on a given
// price day. It only reads; persisting a result is the job of the
// optimization lifecycle.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"formulacost/internal/apperr"
	applog "formulacost/internal/log"
	"formulacost/internal/substitution"
	"formulacost/models"
)

// Scale is the number of decimal places kept for computed costs and ratios.
const Scale = 8

// FormulaSource loads a formula with its ordered lines.
type FormulaSource interface {
	Get(ctx context.Context, id uint) (*models.Formula, error)
}

// Network exposes the candidate queries of the substitution network.
type Network interface {
	RulesFrom(ctx context.Context, code string) ([]models.Substitution, error)
	GroupPeers(ctx context.Context, code string) ([]substitution.Membership, error)
}

// PriceSource resolves unit prices for one day. Unpriced codes are absent from the map.
type PriceSource interface {
	PricesOn(ctx context.Context, codes []string, date time.Time) (map[string]decimal.Decimal, error)
}

// Config tunes the optimizer.
type Config struct {
	// ReferenceFactor stands in for a material's own group factor when that
	// factor is not positive. Zero means 1.
	ReferenceFactor decimal.Decimal
}

// Optimizer computes draft optimization results.
type Optimizer struct {
	formulas  FormulaSource
	network   Network
	prices    PriceSource
	reference decimal.Decimal
}

// New wires an Optimizer to its collaborators.
func New(formulas FormulaSource, network Network, prices PriceSource, cfg Config) *Optimizer {
	reference := cfg.ReferenceFactor
	if !reference.IsPositive() {
		reference = decimal.NewFromInt(1)
	}
	return &Optimizer{formulas: formulas, network: network, prices: prices, reference: reference}
}

// Result is a draft optimization. It exists only in memory until saved.
type Result struct {
	SourceFormulaID uint            `json:"source_formula_id"`
	TargetDate      string          `json:"target_date"`
	ProductCode     string          `json:"product_code"`
	ProductName     string          `json:"product_name"`
	TotalBefore     decimal.Decimal `json:"total_before"`
	TotalAfter      decimal.Decimal `json:"total_after"`
	Savings         decimal.Decimal `json:"savings"`
	// AllPriced is false when any baseline price was missing; totals are then lower bounds.
	AllPriced bool           `json:"all_priced"`
	Lines     []LineDecision `json:"lines"`
}

// LineDecision records what happens to one formula line.
type LineDecision struct {
	Position          int             `json:"position"`
	MaterialCode      string          `json:"material_code"`
	MaterialName      string          `json:"material_name"`
	MaterialModel     string          `json:"material_model"`
	UsageRatio        decimal.Decimal `json:"usage_ratio"`
	Priced            bool            `json:"priced"`
	OriginalUnitPrice decimal.Decimal `json:"original_unit_price"`
	Action            string          `json:"action"`
	Substitute        *Substitute     `json:"substitute,omitempty"`
	// UnitCost is the baseline price for keep lines and the blended cost for blend lines.
	UnitCost decimal.Decimal `json:"unit_cost"`
}

// Contribution is the line's share of the optimized total.
func (l LineDecision) Contribution() decimal.Decimal {
	return l.UsageRatio.Mul(l.UnitCost).Round(Scale)
}

// Baseline is the line's share of the unoptimized total.
func (l LineDecision) Baseline() decimal.Decimal {
	return l.UsageRatio.Mul(l.OriginalUnitPrice).Round(Scale)
}

// Substitute describes the chosen candidate of a blend line.
type Substitute struct {
	MaterialCode      string          `json:"material_code"`
	Source            string          `json:"source"`
	RuleID            *uint           `json:"rule_id,omitempty"`
	GroupID           *uint           `json:"group_id,omitempty"`
	ConversionFactor  decimal.Decimal `json:"conversion_factor"`
	Fraction          decimal.Decimal `json:"fraction"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	EffectiveUnitCost decimal.Decimal `json:"effective_unit_cost"`
	Priority          int             `json:"priority"`
}

type candidate struct {
	Substitute
	saving decimal.Decimal
}

type lineCandidates struct {
	rules       []models.Substitution
	memberships []substitution.Membership
}

// Optimize computes the least-cost substitution for every line of a formula.
// A formula with no improving substitution yields a zero-savings result.
func (o *Optimizer) Optimize(ctx context.Context, formulaID uint, date time.Time) (*Result, error) {
	formula, err := o.formulas.Get(ctx, formulaID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.FormulaNotFound(formulaID)
		}
		return nil, err
	}
	if len(formula.Materials) == 0 {
		return nil, apperr.FormulaNotFound(formulaID)
	}

	codes := newCodeSet()
	candidatesByCode := make(map[string]lineCandidates, len(formula.Materials))
	for _, line := range formula.Materials {
		codes.add(line.MaterialCode)
		if _, seen := candidatesByCode[line.MaterialCode]; seen {
			continue
		}
		rules, err := o.network.RulesFrom(ctx, line.MaterialCode)
		if err != nil {
			return nil, fmt.Errorf("load rules for %s: %w", line.MaterialCode, err)
		}
		memberships, err := o.network.GroupPeers(ctx, line.MaterialCode)
		if err != nil {
			return nil, fmt.Errorf("load group peers for %s: %w", line.MaterialCode, err)
		}
		for _, rule := range rules {
			codes.add(rule.TargetCode)
		}
		for _, m := range memberships {
			for _, peer := range m.Peers {
				codes.add(peer.MaterialCode)
			}
		}
		candidatesByCode[line.MaterialCode] = lineCandidates{rules: rules, memberships: memberships}
	}

	prices, err := o.prices.PricesOn(ctx, codes.list, date)
	if err != nil {
		return nil, err
	}

	result := &Result{
		SourceFormulaID: formula.ID,
		TargetDate:      models.DateKey(date),
		ProductCode:     formula.ProductCode,
		ProductName:     formula.ProductName,
		TotalBefore:     decimal.Zero,
		TotalAfter:      decimal.Zero,
		AllPriced:       true,
		Lines:           make([]LineDecision, 0, len(formula.Materials)),
	}

	for _, line := range formula.Materials {
		decision := o.decide(line, candidatesByCode[line.MaterialCode], prices)
		if !decision.Priced {
			result.AllPriced = false
		}
		result.TotalBefore = result.TotalBefore.Add(decision.Baseline())
		result.TotalAfter = result.TotalAfter.Add(decision.Contribution())
		result.Lines = append(result.Lines, decision)
	}
	result.Savings = result.TotalBefore.Sub(result.TotalAfter)

	applog.Debug(ctx, "formula optimized",
		"formula_id", formulaID,
		"date", result.TargetDate,
		"total_before", result.TotalBefore.String(),
		"total_after", result.TotalAfter.String(),
		"all_priced", result.AllPriced,
	)
	return result, nil
}

func (o *Optimizer) decide(line models.FormulaMaterial, cands lineCandidates, prices map[string]decimal.Decimal) LineDecision {
	decision := LineDecision{
		Position:          line.Position,
		MaterialCode:      line.MaterialCode,
		MaterialName:      line.MaterialName,
		MaterialModel:     line.MaterialModel,
		UsageRatio:        line.UsageRatio,
		Action:            models.LineActionKeep,
		OriginalUnitPrice: decimal.Zero,
		UnitCost:          decimal.Zero,
	}

	p0, ok := prices[line.MaterialCode]
	if !ok {
		return decision
	}
	decision.Priced = true
	decision.OriginalUnitPrice = p0
	decision.UnitCost = p0

	best := o.best(p0, cands, prices)
	if best == nil {
		return decision
	}

	f := best.Fraction
	blended := f.Mul(best.EffectiveUnitCost).Add(decimal.NewFromInt(1).Sub(f).Mul(p0)).Round(Scale)
	if blended.GreaterThan(p0) {
		blended = p0
	}
	sub := best.Substitute
	decision.Action = models.LineActionBlend
	decision.Substitute = &sub
	decision.UnitCost = blended
	return decision
}

func (o *Optimizer) best(p0 decimal.Decimal, cands lineCandidates, prices map[string]decimal.Decimal) *candidate {
	var pool []candidate

	for _, rule := range cands.rules {
		price, ok := prices[rule.TargetCode]
		if !ok {
			continue
		}
		ruleID := rule.ID
		pool = append(pool, candidate{Substitute: Substitute{
			MaterialCode:      rule.TargetCode,
			Source:            models.SourceDirectRule,
			RuleID:            &ruleID,
			ConversionFactor:  rule.ConversionFactor,
			Fraction:          rule.MaxRatio,
			UnitPrice:         price,
			EffectiveUnitCost: rule.ConversionFactor.Mul(price).Round(Scale),
		}})
	}

	one := decimal.NewFromInt(1)
	for _, m := range cands.memberships {
		own := m.OwnFactor
		if !own.IsPositive() {
			own = o.reference
		}
		groupID := m.GroupID
		for _, peer := range m.Peers {
			price, ok := prices[peer.MaterialCode]
			if !ok {
				continue
			}
			// stored factor and cost must agree when the record is replayed
			ratio := peer.ConversionFactor.Div(own).Round(Scale)
			pool = append(pool, candidate{Substitute: Substitute{
				MaterialCode:      peer.MaterialCode,
				Source:            models.SourceGroupMember,
				GroupID:           &groupID,
				ConversionFactor:  ratio,
				Fraction:          one,
				UnitPrice:         price,
				EffectiveUnitCost: ratio.Mul(price).Round(Scale),
				Priority:          peer.Priority,
			}})
		}
	}

	improving := pool[:0]
	for _, c := range pool {
		c.saving = p0.Sub(c.EffectiveUnitCost)
		if c.saving.IsPositive() {
			improving = append(improving, c)
		}
	}
	if len(improving) == 0 {
		return nil
	}

	sort.SliceStable(improving, func(i, j int) bool {
		return less(improving[i], improving[j])
	})
	return &improving[0]
}

// less orders candidates best first: larger saving, lower priority, smaller
// code, larger fraction, direct rules before group members, then lower id.
func less(a, b candidate) bool {
	if cmp := a.saving.Cmp(b.saving); cmp != 0 {
		return cmp > 0
	}
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if a.MaterialCode != b.MaterialCode {
		return a.MaterialCode < b.MaterialCode
	}
	if cmp := a.Fraction.Cmp(b.Fraction); cmp != 0 {
		return cmp > 0
	}
	if a.Source != b.Source {
		return a.Source == models.SourceDirectRule
	}
	return originID(a) < originID(b)
}

func originID(c candidate) uint {
	switch {
	case c.RuleID != nil:
		return *c.RuleID
	case c.GroupID != nil:
		return *c.GroupID
	}
	return 0
}

type codeSet struct {
	seen map[string]struct{}
	list []string
}

func newCodeSet() *codeSet {
	return &codeSet{seen: make(map[string]struct{})}
}

func (s *codeSet) add(code string) {
	if _, ok := s.seen[code]; ok {
		return
	}
	s.seen[code] = struct{}{}
	s.list = append(s.list, code)
}
