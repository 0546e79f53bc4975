// Package apperr defines the error taxonomy shared by the network store,
// the optimizer and the optimization lifecycle.
package apperr

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrValidation indicates malformed caller input. Nothing was written.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates an unknown formula, group, member, rule or optimization id.
	ErrNotFound = errors.New("not found")
	// ErrFormulaNotFound is returned by the optimizer for a missing or empty formula.
	ErrFormulaNotFound = errors.New("formula not found")
	ErrDuplicateRule   = errors.New("duplicate substitution rule")
	ErrDuplicateMember = errors.New("duplicate group member")
	ErrDuplicateGroup  = errors.New("duplicate material group")
	// ErrAlreadyApplied guards the one-shot SAVED -> APPLIED promotion.
	ErrAlreadyApplied = errors.New("optimization already applied")
	// ErrGroupInUse blocks deleting a group referenced by a SAVED optimization.
	ErrGroupInUse = errors.New("material group in use")
)

func tag(kind error, format string, args ...any) error {
	return errors.Join(kind, errors.New(strings.TrimSpace(fmt.Sprintf(format, args...))))
}

// Validation tags a message as a validation failure.
func Validation(format string, args ...any) error {
	return tag(ErrValidation, format, args...)
}

// NotFound tags a message as a missing-entity failure.
func NotFound(format string, args ...any) error {
	return tag(ErrNotFound, format, args...)
}

// FormulaNotFound reports a formula the optimizer cannot work on.
func FormulaNotFound(id uint) error {
	return tag(ErrFormulaNotFound, "formula %d does not exist or has no material lines", id)
}

// DuplicateRule reports an existing rule for the ordered pair.
func DuplicateRule(source, target string) error {
	return tag(ErrDuplicateRule, "a rule %s -> %s already exists", source, target)
}

// DuplicateMember reports a material already present in a group.
func DuplicateMember(groupID uint, code string) error {
	return tag(ErrDuplicateMember, "material %s is already a member of group %d", code, groupID)
}

// DuplicateGroup reports a group name that is already taken.
func DuplicateGroup(name string) error {
	return tag(ErrDuplicateGroup, "a group named %q already exists", name)
}

// AlreadyApplied reports a second promotion attempt.
func AlreadyApplied(id uint) error {
	return tag(ErrAlreadyApplied, "optimization %d has already been applied", id)
}

// GroupInUse reports a group referenced by unresolved optimizations.
func GroupInUse(id uint, refs int64) error {
	return tag(ErrGroupInUse, "group %d is referenced by %d saved optimization line(s)", id, refs)
}

// IsUniqueViolation reports whether err came from a unique index on insert.
// gorm only translates it when TranslateError is enabled, so driver messages are checked too.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint failed")
}

// Message strips the sentinel prefix and returns the caller-facing text.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		parts := joined.Unwrap()
		if len(parts) > 1 {
			return parts[len(parts)-1].Error()
		}
	}
	return err.Error()
}
