// Package substitution owns the substitution network: material groups,
// their members and direct substitution rules.
package substitution

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"formulacost/internal/apperr"
	applog "formulacost/internal/log"
	"formulacost/models"
)

// Store performs validated CRUD on the substitution network.
type Store struct {
	db *gorm.DB
}

// NewStore builds a Store on top of db.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// CreateGroup creates a named material group.
func (s *Store) CreateGroup(ctx context.Context, name, description string) (*models.MaterialGroup, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("group name is required")
	}

	group := models.MaterialGroup{Name: name, Description: strings.TrimSpace(description)}
	if err := s.db.WithContext(ctx).Create(&group).Error; err != nil {
		if apperr.IsUniqueViolation(err) {
			return nil, apperr.DuplicateGroup(name)
		}
		return nil, fmt.Errorf("create group %q: %w", name, err)
	}

	applog.Info(ctx, "material group created", "group_id", group.ID, "name", name)
	return &group, nil
}

// DeleteGroup hard-deletes a group and its members. It refuses while any SAVED
// optimization still references the group.
func (s *Store) DeleteGroup(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var group models.MaterialGroup
		if err := tx.First(&group, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("material group %d", id)
			}
			return fmt.Errorf("load group %d: %w", id, err)
		}

		var refs int64
		if err := tx.Model(&models.OptimizedFormulaItem{}).
			Joins("JOIN optimized_formulas ON optimized_formulas.id = optimized_formula_items.optimized_formula_id").
			Where("optimized_formula_items.group_id = ? AND optimized_formulas.status = ?", id, models.OptimizationStatusSaved).
			Count(&refs).Error; err != nil {
			return fmt.Errorf("check group %d references: %w", id, err)
		}
		if refs > 0 {
			return apperr.GroupInUse(id, refs)
		}

		if err := tx.Where("group_id = ?", id).Delete(&models.GroupMember{}).Error; err != nil {
			return fmt.Errorf("delete members of group %d: %w", id, err)
		}
		if err := tx.Delete(&group).Error; err != nil {
			return fmt.Errorf("delete group %d: %w", id, err)
		}

		applog.Info(ctx, "material group deleted", "group_id", id)
		return nil
	})
}

// ListGroups returns every group with its members, ordered by name.
func (s *Store) ListGroups(ctx context.Context) ([]models.MaterialGroup, error) {
	var groups []models.MaterialGroup
	if err := s.db.WithContext(ctx).
		Preload("Members", orderedMembers).
		Order("name asc").
		Find(&groups).Error; err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

// GetGroup returns one group with its members resolved against the material catalog.
func (s *Store) GetGroup(ctx context.Context, id uint) (*models.MaterialGroup, error) {
	var group models.MaterialGroup
	if err := s.db.WithContext(ctx).Preload("Members", orderedMembers).First(&group, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("material group %d", id)
		}
		return nil, fmt.Errorf("load group %d: %w", id, err)
	}

	codes := make([]string, 0, len(group.Members))
	for _, member := range group.Members {
		codes = append(codes, member.MaterialCode)
	}
	names, err := s.materialNames(ctx, codes)
	if err != nil {
		return nil, err
	}
	for i := range group.Members {
		group.Members[i].MaterialName = names[group.Members[i].MaterialCode]
	}
	return &group, nil
}

// AddMember places a material in a group.
func (s *Store) AddMember(ctx context.Context, groupID uint, code string, factor decimal.Decimal, priority int) (*models.GroupMember, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperr.Validation("material_code is required")
	}
	if !factor.IsPositive() {
		return nil, apperr.Validation("conversion_factor must be > 0, got %s", factor)
	}

	var member models.GroupMember
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.MaterialGroup{}).Where("id = ?", groupID).Count(&count).Error; err != nil {
			return fmt.Errorf("check group %d: %w", groupID, err)
		}
		if count == 0 {
			return apperr.NotFound("material group %d", groupID)
		}

		if err := tx.Model(&models.GroupMember{}).
			Where("group_id = ? AND material_code = ?", groupID, code).
			Count(&count).Error; err != nil {
			return fmt.Errorf("check membership of %s: %w", code, err)
		}
		if count > 0 {
			return apperr.DuplicateMember(groupID, code)
		}

		member = models.GroupMember{
			GroupID:          groupID,
			MaterialCode:     code,
			ConversionFactor: factor,
			Priority:         priority,
		}
		if err := tx.Create(&member).Error; err != nil {
			if apperr.IsUniqueViolation(err) {
				return apperr.DuplicateMember(groupID, code)
			}
			return fmt.Errorf("add %s to group %d: %w", code, groupID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	applog.Info(ctx, "group member added", "group_id", groupID, "material", code, "priority", priority)
	return &member, nil
}

// RemoveMember deletes one membership row.
func (s *Store) RemoveMember(ctx context.Context, memberID uint) error {
	res := s.db.WithContext(ctx).Delete(&models.GroupMember{}, memberID)
	if res.Error != nil {
		return fmt.Errorf("remove member %d: %w", memberID, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("group member %d", memberID)
	}
	applog.Info(ctx, "group member removed", "member_id", memberID)
	return nil
}

// AddSubstitution creates a directed rule source -> target.
func (s *Store) AddSubstitution(ctx context.Context, source, target string, factor, maxRatio decimal.Decimal, notes string) (*models.Substitution, error) {
	source = strings.TrimSpace(source)
	target = strings.TrimSpace(target)
	switch {
	case source == "" || target == "":
		return nil, apperr.Validation("source_code and target_code are required")
	case source == target:
		return nil, apperr.Validation("a material cannot substitute itself (%s)", source)
	case !factor.IsPositive():
		return nil, apperr.Validation("conversion_factor must be > 0, got %s", factor)
	case !maxRatio.IsPositive() || maxRatio.GreaterThan(decimal.NewFromInt(1)):
		return nil, apperr.Validation("max_ratio must be in (0, 1], got %s", maxRatio)
	}

	rule := models.Substitution{
		SourceCode:       source,
		TargetCode:       target,
		ConversionFactor: factor,
		MaxRatio:         maxRatio,
		Notes:            strings.TrimSpace(notes),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Substitution{}).
			Where("source_code = ? AND target_code = ?", source, target).
			Count(&count).Error; err != nil {
			return fmt.Errorf("check rule %s -> %s: %w", source, target, err)
		}
		if count > 0 {
			return apperr.DuplicateRule(source, target)
		}
		if err := tx.Create(&rule).Error; err != nil {
			if apperr.IsUniqueViolation(err) {
				return apperr.DuplicateRule(source, target)
			}
			return fmt.Errorf("create rule %s -> %s: %w", source, target, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	applog.Info(ctx, "substitution rule created", "rule_id", rule.ID, "source", source, "target", target)
	return &rule, nil
}

// DeleteSubstitution hard-deletes a rule.
func (s *Store) DeleteSubstitution(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.Substitution{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete rule %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("substitution rule %d", id)
	}
	applog.Info(ctx, "substitution rule deleted", "rule_id", id)
	return nil
}

// ListSubstitutions returns all rules ordered by source then target.
func (s *Store) ListSubstitutions(ctx context.Context) ([]models.Substitution, error) {
	var rules []models.Substitution
	if err := s.db.WithContext(ctx).Order("source_code asc, target_code asc").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return rules, nil
}

// RulesFrom returns every rule whose source is code.
func (s *Store) RulesFrom(ctx context.Context, code string) ([]models.Substitution, error) {
	var rules []models.Substitution
	if err := s.db.WithContext(ctx).
		Where("source_code = ?", code).
		Order("target_code asc").
		Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("load rules from %s: %w", code, err)
	}
	return rules, nil
}

// Membership describes code's place in one group together with the other members.
type Membership struct {
	GroupID   uint
	OwnFactor decimal.Decimal
	Peers     []models.GroupMember
}

// GroupPeers returns one Membership per group that contains code.
func (s *Store) GroupPeers(ctx context.Context, code string) ([]Membership, error) {
	var own []models.GroupMember
	if err := s.db.WithContext(ctx).
		Where("material_code = ?", code).
		Order("group_id asc").
		Find(&own).Error; err != nil {
		return nil, fmt.Errorf("load groups of %s: %w", code, err)
	}
	if len(own) == 0 {
		return nil, nil
	}

	groupIDs := make([]uint, 0, len(own))
	for _, m := range own {
		groupIDs = append(groupIDs, m.GroupID)
	}

	var peers []models.GroupMember
	if err := s.db.WithContext(ctx).
		Where("group_id IN ? AND material_code <> ?", groupIDs, code).
		Order("group_id asc, priority asc, material_code asc").
		Find(&peers).Error; err != nil {
		return nil, fmt.Errorf("load peers of %s: %w", code, err)
	}

	byGroup := make(map[uint][]models.GroupMember, len(own))
	for _, peer := range peers {
		byGroup[peer.GroupID] = append(byGroup[peer.GroupID], peer)
	}

	memberships := make([]Membership, 0, len(own))
	for _, m := range own {
		memberships = append(memberships, Membership{
			GroupID:   m.GroupID,
			OwnFactor: m.ConversionFactor,
			Peers:     byGroup[m.GroupID],
		})
	}
	return memberships, nil
}

func (s *Store) materialNames(ctx context.Context, codes []string) (map[string]string, error) {
	names := make(map[string]string, len(codes))
	if len(codes) == 0 {
		return names, nil
	}
	var materials []models.Material
	if err := s.db.WithContext(ctx).Where("code IN ?", codes).Find(&materials).Error; err != nil {
		return nil, fmt.Errorf("resolve material names: %w", err)
	}
	for _, m := range materials {
		names[m.Code] = m.Name
	}
	return names, nil
}

func orderedMembers(db *gorm.DB) *gorm.DB {
	return db.Order("priority asc, material_code asc")
}
