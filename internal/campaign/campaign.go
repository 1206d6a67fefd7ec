// Package campaign maps URL paths to static marketing campaign profiles.
package campaign

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/meridian-keys/campaign-tracker/internal/model"
)

// defaultContexts is the built-in campaign table. Order matters: the first
// matching prefix wins. The default "main" profile is the final fallback and
// claims only the root path.
var defaultContexts = []model.CampaignContext{
	{
		CampaignID:     "utd-piano-sale",
		Partner:        "University of Texas at Dallas",
		EventContext:   "utd_piano_sale",
		PageVariant:    "university-dallas",
		TargetAudience: "utd_community",
		CampaignType:   model.CampaignUniversityPartnership,
		University:     "UTD",
		ProgramFocus:   "arts_humanities",
		PathPrefixes:   []string{"/university-dallas"},
	},
	{
		CampaignID:     "unt-piano-sale",
		Partner:        "University of North Texas",
		EventContext:   "unt_piano_sale",
		PageVariant:    "university-north-texas",
		TargetAudience: "unt_community",
		CampaignType:   model.CampaignUniversityPartnership,
		University:     "UNT",
		ProgramFocus:   "college_of_music",
		PathPrefixes:   []string{"/university-north-texas"},
	},
	{
		CampaignID:     "plano-showroom-sale",
		Partner:        "Meridian Keys",
		EventContext:   "plano_showroom_sale",
		PageVariant:    "plano",
		TargetAudience: "dfw_families",
		CampaignType:   model.CampaignDirectMarketing,
		PathPrefixes:   []string{"/plano"},
	},
	{
		CampaignID:     "clearance-event",
		Partner:        "Meridian Keys",
		EventContext:   "clearance_event",
		PageVariant:    "clearance",
		TargetAudience: "bargain_hunters",
		CampaignType:   model.CampaignDirectMarketing,
		PathPrefixes:   []string{"/clearance", "/warehouse-sale"},
	},
	{
		CampaignID:     "main",
		Partner:        "Meridian Keys",
		EventContext:   "piano_sale",
		PageVariant:    "main",
		TargetAudience: "general",
		CampaignType:   model.CampaignDirectMarketing,
		PathPrefixes:   []string{"/"},
	},
}

// Resolver resolves URL paths against an immutable campaign table.
type Resolver struct {
	contexts []model.CampaignContext
}

// NewResolver returns a resolver over the built-in campaign table.
func NewResolver() *Resolver {
	return &Resolver{contexts: defaultContexts}
}

// NewResolverFromFile loads a campaign table from a YAML file, so new
// campaign variants can ship without a rebuild.
func NewResolverFromFile(path string) (*Resolver, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "campaign: read table %s", path)
	}

	var contexts []model.CampaignContext
	if err := yaml.Unmarshal(raw, &contexts); err != nil {
		return nil, eris.Wrap(err, "campaign: parse table")
	}
	if len(contexts) == 0 {
		return nil, eris.New("campaign: empty table")
	}
	return &Resolver{contexts: contexts}, nil
}

// Resolve returns the campaign context claiming the given path. The root
// path matches exactly; other prefixes match via HasPrefix. Unmatched paths
// fall back to the default "main" profile.
func (r *Resolver) Resolve(pathname string) model.CampaignContext {
	if pathname == "" {
		pathname = "/"
	}

	for _, ctx := range r.contexts {
		for _, prefix := range ctx.PathPrefixes {
			if prefix == "/" {
				if pathname == "/" {
					return ctx
				}
				continue
			}
			if strings.HasPrefix(pathname, prefix) {
				return ctx
			}
		}
	}
	return r.defaultContext()
}

// FormatSourceSection tags a UI section with campaign provenance, e.g.
// "university-dallas:gallery".
func FormatSourceSection(ctx model.CampaignContext, section string) string {
	return ctx.PageVariant + ":" + section
}

// ToUTMEquivalent derives UTM-shaped fields from a static context so that
// direct campaign-path traffic still populates UTM reporting fields.
func ToUTMEquivalent(ctx model.CampaignContext) model.UTMEquivalent {
	medium := "direct"
	if ctx.CampaignType == model.CampaignUniversityPartnership {
		medium = "partnership"
	}
	return model.UTMEquivalent{
		Source:   ctx.PageVariant,
		Medium:   medium,
		Campaign: ctx.CampaignID,
		Content:  ctx.EventContext,
		Term:     ctx.TargetAudience,
	}
}

func (r *Resolver) defaultContext() model.CampaignContext {
	for _, ctx := range r.contexts {
		if ctx.PageVariant == "main" {
			return ctx
		}
	}
	// Table without a main profile: synthesize one rather than fail; every
	// path must resolve to exactly one context.
	return model.CampaignContext{
		CampaignID:     "main",
		Partner:        "Meridian Keys",
		EventContext:   "piano_sale",
		PageVariant:    "main",
		TargetAudience: "general",
		CampaignType:   model.CampaignDirectMarketing,
		PathPrefixes:   []string{"/"},
	}
}
