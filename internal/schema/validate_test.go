package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_MissingRequiredProperty(t *testing.T) {
	// Every registered event with a required field must reject an empty bag
	// and name the field.
	for _, name := range EventNames() {
		s, _ := Lookup(name)
		var required []string
		for prop, spec := range s {
			if spec.Required {
				required = append(required, prop)
			}
		}
		if len(required) == 0 {
			continue
		}

		res := Validate(name, map[string]any{})
		assert.False(t, res.IsValid, "event %s", name)
		for _, prop := range required {
			found := false
			for _, e := range res.Errors {
				if strings.Contains(e, prop) {
					found = true
				}
			}
			assert.True(t, found, "event %s should report missing %q", name, prop)
		}
	}
}

func TestValidate_UnknownEventIsValidWithOneWarning(t *testing.T) {
	props := map[string]any{"anything": "goes", "n": 42}

	res := Validate("totally_new_event", props)
	assert.True(t, res.IsValid)
	require.Len(t, res.Warnings, 1)
	assert.Empty(t, res.Errors)
	assert.Equal(t, props, res.SanitizedProperties)
}

func TestValidate_StringTruncatedAndReported(t *testing.T) {
	long := strings.Repeat("x", 250)

	res := Validate("page_viewed", map[string]any{"page": long})
	assert.False(t, res.IsValid)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "max length 200")
	assert.Len(t, res.SanitizedProperties["page"].(string), 200)
}

func TestValidate_NumberClampedAndReported(t *testing.T) {
	res := Validate("page_viewed", map[string]any{
		"page":            "/",
		"session_quality": 150,
	})
	assert.False(t, res.IsValid)
	assert.Equal(t, float64(100), res.SanitizedProperties["session_quality"])
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "above maximum")

	res = Validate("session_quality", map[string]any{"quality": -5})
	assert.False(t, res.IsValid)
	assert.Equal(t, float64(0), res.SanitizedProperties["quality"])
}

func TestValidate_NumericStringCoerced(t *testing.T) {
	res := Validate("video_engagement", map[string]any{
		"video_id":        "hero-loop",
		"percent_watched": "85.5",
	})
	assert.True(t, res.IsValid)
	assert.Equal(t, 85.5, res.SanitizedProperties["percent_watched"])
}

func TestValidate_NumericParseFailureDropsProperty(t *testing.T) {
	res := Validate("video_engagement", map[string]any{
		"video_id":        "hero-loop",
		"percent_watched": "lots",
	})
	assert.False(t, res.IsValid)
	_, present := res.SanitizedProperties["percent_watched"]
	assert.False(t, present)
	// The valid property is still sanitized and kept.
	assert.Equal(t, "hero-loop", res.SanitizedProperties["video_id"])
}

func TestValidate_BooleanCoercion(t *testing.T) {
	res := Validate("form_submitted", map[string]any{
		"form_id": "newsletter",
		"success": "true",
	})
	assert.True(t, res.IsValid)
	assert.Equal(t, true, res.SanitizedProperties["success"])

	res = Validate("form_submitted", map[string]any{
		"form_id": "newsletter",
		"success": 0,
	})
	assert.Equal(t, false, res.SanitizedProperties["success"])
}

func TestValidate_EnumViolation(t *testing.T) {
	res := Validate("gallery_interaction", map[string]any{"action": "teleport"})
	assert.False(t, res.IsValid)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "not in allowed values")
	// Enum violations keep the value; reporting is the correction.
	assert.Equal(t, "teleport", res.SanitizedProperties["action"])
}

func TestValidate_PatternViolationKeptAsIs(t *testing.T) {
	res := Validate("cta_clicked", map[string]any{"cta_id": "hero cta!"})
	assert.False(t, res.IsValid)
	assert.Equal(t, "hero cta!", res.SanitizedProperties["cta_id"])
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "does not match pattern")
}

func TestValidate_UndeclaredPropertyWarnsAndPassesThrough(t *testing.T) {
	res := Validate("page_viewed", map[string]any{
		"page":      "/",
		"ab_bucket": "variant-b",
	})
	assert.True(t, res.IsValid)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "ab_bucket")
	assert.Equal(t, "variant-b", res.SanitizedProperties["ab_bucket"])
}

func TestValidate_OptionalMissingIsOmitted(t *testing.T) {
	res := Validate("page_viewed", map[string]any{"page": "/"})
	assert.True(t, res.IsValid)
	_, present := res.SanitizedProperties["title"]
	assert.False(t, present)
}

func TestValidate_NonStringCoercedToString(t *testing.T) {
	res := Validate("page_viewed", map[string]any{"page": 404})
	assert.True(t, res.IsValid)
	assert.Equal(t, "404", res.SanitizedProperties["page"])
}

func TestValidate_DoesNotMutateInput(t *testing.T) {
	props := map[string]any{
		"page":            strings.Repeat("y", 300),
		"session_quality": 150,
	}
	Validate("page_viewed", props)
	assert.Len(t, props["page"].(string), 300)
	assert.Equal(t, 150, props["session_quality"])
}

func TestValidate_Deterministic(t *testing.T) {
	props := map[string]any{"quality": 120, "scroll_depth": -10, "extra_a": 1, "extra_b": 2}

	first := Validate("session_quality", props)
	for i := 0; i < 10; i++ {
		again := Validate("session_quality", props)
		assert.Equal(t, first, again)
	}
}
