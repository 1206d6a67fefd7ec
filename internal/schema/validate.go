package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/meridian-keys/campaign-tracker/internal/model"
)

// Validate checks an event's property bag against its registered schema and
// returns a sanitized copy. Three distinct correction policies apply:
// out-of-range numbers are clamped and reported, over-length strings are
// truncated and reported, and pattern mismatches are reported but left
// untouched. Pure and deterministic: no I/O, no mutation of the input.
func Validate(eventName string, properties map[string]any) model.ValidationResult {
	res := model.ValidationResult{
		IsValid:             true,
		SanitizedProperties: make(map[string]any, len(properties)),
	}

	eventSchema, ok := Lookup(eventName)
	if !ok {
		// Unknown events are not penalized; discoverability over strictness.
		res.Warnings = append(res.Warnings, fmt.Sprintf("no schema registered for event %q", eventName))
		for k, v := range properties {
			res.SanitizedProperties[k] = v
		}
		return res
	}

	// Deterministic error ordering regardless of map iteration.
	names := make([]string, 0, len(eventSchema))
	for name := range eventSchema {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := eventSchema[name]
		value, present := properties[name]

		if !present {
			if spec.Required {
				res.Errors = append(res.Errors, fmt.Sprintf("missing required property %q", name))
			}
			continue
		}

		sanitized, keep := validateProperty(name, spec, value, &res)
		if keep {
			res.SanitizedProperties[name] = sanitized
		}
	}

	// Undeclared properties pass through unchanged with a warning.
	extras := make([]string, 0)
	for k, v := range properties {
		if _, declared := eventSchema[k]; !declared {
			extras = append(extras, k)
			res.SanitizedProperties[k] = v
		}
	}
	sort.Strings(extras)
	for _, k := range extras {
		res.Warnings = append(res.Warnings, fmt.Sprintf("property %q is not declared in the %s schema", k, eventName))
	}

	res.IsValid = len(res.Errors) == 0
	return res
}

func validateProperty(name string, spec PropertySpec, value any, res *model.ValidationResult) (any, bool) {
	switch spec.Type {
	case TypeNumber:
		return validateNumber(name, spec, value, res)
	case TypeBoolean:
		return coerceBool(value), true
	default:
		return validateString(name, spec, value, res)
	}
}

func validateNumber(name string, spec PropertySpec, value any, res *model.ValidationResult) (any, bool) {
	num, ok := coerceNumber(value)
	if !ok {
		res.Errors = append(res.Errors, fmt.Sprintf("property %q is not a number: %v", name, value))
		return nil, false
	}

	// Clamp-and-report, not reject-and-drop.
	if spec.Min != nil && num < *spec.Min {
		res.Errors = append(res.Errors, fmt.Sprintf("property %q below minimum %v: %v", name, *spec.Min, num))
		num = *spec.Min
	}
	if spec.Max != nil && num > *spec.Max {
		res.Errors = append(res.Errors, fmt.Sprintf("property %q above maximum %v: %v", name, *spec.Max, num))
		num = *spec.Max
	}
	return num, true
}

func validateString(name string, spec PropertySpec, value any, res *model.ValidationResult) (any, bool) {
	s, wasString := value.(string)
	if !wasString {
		s = fmt.Sprintf("%v", value)
	}
	s = norm.NFC.String(s)

	// Truncate-and-report; truncation is not a substitute for reporting.
	if spec.MaxLength > 0 {
		if runes := []rune(s); len(runes) > spec.MaxLength {
			res.Errors = append(res.Errors, fmt.Sprintf("property %q exceeds max length %d", name, spec.MaxLength))
			s = string(runes[:spec.MaxLength])
		}
	}

	// Pattern violations have no safe correction; report and keep.
	if spec.Pattern != nil && !spec.Pattern.MatchString(s) {
		res.Errors = append(res.Errors, fmt.Sprintf("property %q does not match pattern %s", name, spec.Pattern))
	}

	if len(spec.Enum) > 0 && !contains(spec.Enum, s) {
		res.Errors = append(res.Errors, fmt.Sprintf("property %q not in allowed values [%s]: %q",
			name, strings.Join(spec.Enum, ", "), s))
	}

	return s, true
}

func coerceNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func coerceBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return v != "" && v != "false" && v != "0"
	case float64:
		return v != 0
	case int:
		return v != 0
	case nil:
		return false
	default:
		return true
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
