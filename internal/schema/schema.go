// Package schema validates analytics event property bags against declarative
// per-event schemas.
package schema

import "regexp"

// PropertyType is the expected type of an event property.
type PropertyType string

const (
	TypeString  PropertyType = "string"
	TypeNumber  PropertyType = "number"
	TypeBoolean PropertyType = "boolean"
)

// PropertySpec declares the constraints for a single event property.
type PropertySpec struct {
	Type      PropertyType
	Required  bool
	Enum      []string
	Min       *float64
	Max       *float64
	MaxLength int
	Pattern   *regexp.Regexp
}

// EventSchema maps property names to their specs.
type EventSchema map[string]PropertySpec

func f(v float64) *float64 { return &v }

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// schemas is the site's tracking plan. Properties not declared here are
// passed through with a warning; events not listed here are accepted with a
// warning.
var schemas = map[string]EventSchema{
	"page_viewed": {
		"page":            {Type: TypeString, Required: true, MaxLength: 200},
		"title":           {Type: TypeString, MaxLength: 200},
		"section":         {Type: TypeString, MaxLength: 100},
		"session_quality": {Type: TypeNumber, Min: f(0), Max: f(100)},
	},
	"cta_clicked": {
		"cta_id":  {Type: TypeString, Required: true, MaxLength: 100, Pattern: idPattern},
		"section": {Type: TypeString, MaxLength: 100},
		"variant": {Type: TypeString, Enum: []string{"primary", "secondary", "text"}},
	},
	"booking_started": {
		"source_section": {Type: TypeString, Required: true, MaxLength: 120},
		"method":         {Type: TypeString, Required: true, Enum: []string{"calendly", "cal", "phone", "form"}},
	},
	"booking_completed": {
		"booking_id": {Type: TypeString, Required: true, MaxLength: 64, Pattern: idPattern},
		"method":     {Type: TypeString, Enum: []string{"calendly", "cal", "phone", "form"}},
		"lead_value": {Type: TypeNumber, Min: f(0), Max: f(100000)},
	},
	"gallery_interaction": {
		"action":      {Type: TypeString, Required: true, Enum: []string{"open", "next", "prev", "zoom", "close"}},
		"image_index": {Type: TypeNumber, Min: f(0), Max: f(500)},
	},
	"video_engagement": {
		"video_id":        {Type: TypeString, Required: true, MaxLength: 100},
		"percent_watched": {Type: TypeNumber, Min: f(0), Max: f(100)},
		"autoplay":        {Type: TypeBoolean},
	},
	"form_submitted": {
		"form_id": {Type: TypeString, Required: true, MaxLength: 100},
		"success": {Type: TypeBoolean, Required: true},
	},
	"session_quality": {
		"quality":        {Type: TypeNumber, Required: true, Min: f(0), Max: f(100)},
		"active_seconds": {Type: TypeNumber, Min: f(0)},
		"scroll_depth":   {Type: TypeNumber, Min: f(0), Max: f(100)},
	},
	"consent_updated": {
		"analytics":   {Type: TypeBoolean, Required: true},
		"advertising": {Type: TypeBoolean, Required: true},
		"functional":  {Type: TypeBoolean, Required: true},
	},
}

// Lookup returns the schema registered for an event name.
func Lookup(eventName string) (EventSchema, bool) {
	s, ok := schemas[eventName]
	return s, ok
}

// EventNames lists all registered event names.
func EventNames() []string {
	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	return names
}
