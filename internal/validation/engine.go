// Package validation evaluates advisory rules against permission templates.
// Results are human-readable error strings; callers decide whether to block.
package validation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/access-engine/internal/models"
)

// ValidatorFunc is a registered custom validator. It returns true when the
// template passes.
type ValidatorFunc func(tpl *models.PermissionTemplate) bool

var (
	customMu   sync.RWMutex
	validators = make(map[string]ValidatorFunc)
)

// RegisterValidator registers a named custom validator. Rules of type custom
// reference the name through their parameters, since functions do not survive
// serialization.
func RegisterValidator(name string, fn ValidatorFunc) {
	customMu.Lock()
	defer customMu.Unlock()
	validators[name] = fn
}

func lookupValidator(name string) (ValidatorFunc, bool) {
	customMu.RLock()
	defer customMu.RUnlock()
	fn, ok := validators[name]
	return fn, ok
}

// Engine holds validation rules keyed by template name.
type Engine struct {
	mu     sync.RWMutex
	rules  map[string][]models.ValidationRule
	logger zerolog.Logger
}

// NewEngine creates an empty validation engine.
func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{
		rules:  make(map[string][]models.ValidationRule),
		logger: logger.With().Str("component", "validation").Logger(),
	}
}

// AddRule attaches a rule to a template name. Many rules per template.
func (e *Engine) AddRule(templateName string, rule models.ValidationRule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[templateName] = append(e.rules[templateName], rule)

	e.logger.Info().
		Str("template", templateName).
		Str("rule_type", string(rule.Type)).
		Msg("validation rule added")
}

// Rules returns a copy of the rules attached to a template name.
func (e *Engine) Rules(templateName string) []models.ValidationRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]models.ValidationRule(nil), e.rules[templateName]...)
}

// Validate evaluates every rule attached to the template's name. Rules are
// independent; there is no short-circuit. Each failing rule contributes one
// error string.
func (e *Engine) Validate(tpl *models.PermissionTemplate) []string {
	e.mu.RLock()
	rules := append([]models.ValidationRule(nil), e.rules[tpl.Name]...)
	e.mu.RUnlock()

	var errs []string
	for _, rule := range rules {
		if msg, ok := e.evaluate(tpl, rule); !ok {
			errs = append(errs, msg)
		}
	}
	return errs
}

// Snapshot returns the full rule map for persistence.
func (e *Engine) Snapshot() map[string][]models.ValidationRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string][]models.ValidationRule, len(e.rules))
	for name, rules := range e.rules {
		out[name] = append([]models.ValidationRule(nil), rules...)
	}
	return out
}

// Restore replaces the rule map from a persisted snapshot.
func (e *Engine) Restore(rules map[string][]models.ValidationRule) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rules = make(map[string][]models.ValidationRule, len(rules))
	for name, rs := range rules {
		e.rules[name] = append([]models.ValidationRule(nil), rs...)
	}
}

// evaluate applies a single rule. Returns the error message and false on
// failure.
func (e *Engine) evaluate(tpl *models.PermissionTemplate, rule models.ValidationRule) (string, bool) {
	switch rule.Type {
	case models.RuleRequired:
		return e.evalRequired(tpl, rule)
	case models.RuleFormat, models.RuleRegex:
		return e.evalPattern(tpl, rule)
	case models.RuleRange:
		return e.evalRange(tpl, rule)
	case models.RuleEnum:
		return e.evalEnum(tpl, rule)
	case models.RuleCustom:
		return e.evalCustom(tpl, rule)
	default:
		return fmt.Sprintf("%s (unknown rule type %q)", rule.ErrorMessage, rule.Type), false
	}
}

func (e *Engine) evalRequired(tpl *models.PermissionTemplate, rule models.ValidationRule) (string, bool) {
	var missing []string
	for _, f := range toStringSlice(rule.Parameters["fields"]) {
		if !truthy(fieldValue(tpl, f)) {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return fmt.Sprintf("%s (field: %s)", rule.ErrorMessage, strings.Join(missing, ", ")), false
	}
	return "", true
}

func (e *Engine) evalPattern(tpl *models.PermissionTemplate, rule models.ValidationRule) (string, bool) {
	field, _ := rule.Parameters["field"].(string)
	pattern, _ := rule.Parameters["pattern"].(string)

	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Sprintf("%s (field: %s, bad pattern)", rule.ErrorMessage, field), false
	}
	value := fmt.Sprintf("%v", fieldValue(tpl, field))
	if !re.MatchString(value) {
		return fmt.Sprintf("%s (field: %s)", rule.ErrorMessage, field), false
	}
	return "", true
}

func (e *Engine) evalRange(tpl *models.PermissionTemplate, rule models.ValidationRule) (string, bool) {
	field, _ := rule.Parameters["field"].(string)

	value, ok := toFloat(fieldValue(tpl, field))
	if !ok {
		return fmt.Sprintf("%s (field: %s, not numeric)", rule.ErrorMessage, field), false
	}
	if min, ok := toFloat(rule.Parameters["min"]); ok && value < min {
		return fmt.Sprintf("%s (field: %s)", rule.ErrorMessage, field), false
	}
	if max, ok := toFloat(rule.Parameters["max"]); ok && value > max {
		return fmt.Sprintf("%s (field: %s)", rule.ErrorMessage, field), false
	}
	return "", true
}

func (e *Engine) evalEnum(tpl *models.PermissionTemplate, rule models.ValidationRule) (string, bool) {
	enums, _ := rule.Parameters["enums"].(map[string]any)

	// Deterministic evaluation order across fields.
	fields := make([]string, 0, len(enums))
	for f := range enums {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var offending []string
	for _, field := range fields {
		value := fmt.Sprintf("%v", fieldValue(tpl, field))
		allowed := toStringSlice(enums[field])
		found := false
		for _, a := range allowed {
			if value == a {
				found = true
				break
			}
		}
		if !found {
			offending = append(offending, field)
		}
	}
	if len(offending) > 0 {
		return fmt.Sprintf("%s (field: %s)", rule.ErrorMessage, strings.Join(offending, ", ")), false
	}
	return "", true
}

func (e *Engine) evalCustom(tpl *models.PermissionTemplate, rule models.ValidationRule) (string, bool) {
	name, _ := rule.Parameters["validator"].(string)
	fn, ok := lookupValidator(name)
	if !ok {
		return fmt.Sprintf("%s (validator %q not registered)", rule.ErrorMessage, name), false
	}
	if !fn(tpl) {
		return fmt.Sprintf("%s (validator: %s)", rule.ErrorMessage, name), false
	}
	return "", true
}

// fieldValue resolves a rule's field name against the template.
func fieldValue(tpl *models.PermissionTemplate, field string) any {
	switch field {
	case "name":
		return tpl.Name
	case "description":
		return tpl.Description
	case "permissions":
		return tpl.Permissions
	case "required_approvals":
		return tpl.RequiredApprovals
	case "validity_days":
		return tpl.ValidityDays
	case "metadata":
		return tpl.Metadata
	default:
		if tpl.Metadata != nil {
			if v, ok := tpl.Metadata[field]; ok {
				return v
			}
		}
		return nil
	}
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case int:
		return x != 0
	case models.PermissionSet:
		return len(x) > 0
	case map[string]string:
		return len(x) > 0
	default:
		return true
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case float32:
		return float64(x), true
	default:
		return 0, false
	}
}

func toStringSlice(v any) []string {
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	default:
		return nil
	}
}
