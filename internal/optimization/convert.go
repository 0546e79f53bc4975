package optimization

import (
	"formulacost/internal/optimizer"
	"formulacost/models"
)

// Record maps a draft result onto an unsaved SAVED record.
func Record(result *optimizer.Result) models.OptimizedFormula {
	record := models.OptimizedFormula{
		SourceFormulaID: result.SourceFormulaID,
		TargetDate:      result.TargetDate,
		TotalBefore:     result.TotalBefore,
		TotalAfter:      result.TotalAfter,
		Savings:         result.Savings,
		AllPriced:       result.AllPriced,
		Status:          models.OptimizationStatusSaved,
		Items:           make([]models.OptimizedFormulaItem, 0, len(result.Lines)),
	}
	for _, line := range result.Lines {
		item := models.OptimizedFormulaItem{
			Position:          line.Position,
			MaterialCode:      line.MaterialCode,
			MaterialName:      line.MaterialName,
			MaterialModel:     line.MaterialModel,
			UsageRatio:        line.UsageRatio,
			Priced:            line.Priced,
			OriginalUnitPrice: line.OriginalUnitPrice,
			Action:            line.Action,
			BlendedUnitCost:   line.UnitCost,
		}
		if sub := line.Substitute; sub != nil {
			item.SubstituteCode = sub.MaterialCode
			item.SubstitutionSource = sub.Source
			item.SubstitutionRuleID = sub.RuleID
			item.GroupID = sub.GroupID
			item.ConversionFactor = sub.ConversionFactor
			item.Fraction = sub.Fraction
			item.SubstituteUnitPrice = sub.UnitPrice
			item.EffectiveUnitCost = sub.EffectiveUnitCost
			item.SubstitutePriority = sub.Priority
		}
		record.Items = append(record.Items, item)
	}
	return record
}

// Result rebuilds the draft view of a stored record.
func Result(record models.OptimizedFormula) *optimizer.Result {
	result := &optimizer.Result{
		SourceFormulaID: record.SourceFormulaID,
		TargetDate:      record.TargetDate,
		TotalBefore:     record.TotalBefore,
		TotalAfter:      record.TotalAfter,
		Savings:         record.Savings,
		AllPriced:       record.AllPriced,
		Lines:           make([]optimizer.LineDecision, 0, len(record.Items)),
	}
	for _, item := range record.Items {
		line := optimizer.LineDecision{
			Position:          item.Position,
			MaterialCode:      item.MaterialCode,
			MaterialName:      item.MaterialName,
			MaterialModel:     item.MaterialModel,
			UsageRatio:        item.UsageRatio,
			Priced:            item.Priced,
			OriginalUnitPrice: item.OriginalUnitPrice,
			Action:            item.Action,
			UnitCost:          item.BlendedUnitCost,
		}
		if item.Action == models.LineActionBlend {
			line.Substitute = &optimizer.Substitute{
				MaterialCode:      item.SubstituteCode,
				Source:            item.SubstitutionSource,
				RuleID:            item.SubstitutionRuleID,
				GroupID:           item.GroupID,
				ConversionFactor:  item.ConversionFactor,
				Fraction:          item.Fraction,
				UnitPrice:         item.SubstituteUnitPrice,
				EffectiveUnitCost: item.EffectiveUnitCost,
				Priority:          item.SubstitutePriority,
			}
		}
		result.Lines = append(result.Lines, line)
	}
	return result
}
