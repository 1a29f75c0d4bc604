// Package stages holds the transforms from source node types to target
// collections, in the order they must run.
package stages

import (
	"fmt"
	"slices"
	"strings"

	"github.com/tphakala/cmsbridge/internal/pipeline"
)

// Stage names, in run order.
const (
	NameTaxonomy  = "taxonomy"
	NameUsers     = "users"
	NameCompanies = "companies"
	NameProjects  = "projects"
)

// Identity map entities written by the stages.
const (
	EntityCategory = "category"
	EntityUser     = "user"
	EntityCompany  = "company"
	EntityProject  = "project"
)

const (
	keyField       = "source_id"
	summaryRunes   = 280
	defaultVocabID = "tags"
)

// Options tune the transforms.
type Options struct {
	// Vocabulary is the taxonomy bundle migrated into categories.
	Vocabulary    string
	LogoFolder    string
	GalleryFolder string
}

func (o Options) vocabulary() string {
	if o.Vocabulary == "" {
		return defaultVocabID
	}
	return o.Vocabulary
}

// Names lists every stage in run order.
func Names() []string {
	return []string{NameTaxonomy, NameUsers, NameCompanies, NameProjects}
}

// All returns every stage in run order.
func All(opts Options) []pipeline.Stage {
	return []pipeline.Stage{
		Taxonomy(opts),
		Users(opts),
		Companies(opts),
		Projects(opts),
	}
}

// Select returns the named stages in run order regardless of the order
// given. No names selects all.
func Select(opts Options, names ...string) ([]pipeline.Stage, error) {
	if len(names) == 0 {
		return All(opts), nil
	}
	for _, n := range names {
		if !slices.Contains(Names(), n) {
			return nil, fmt.Errorf("unknown stage %q, valid stages: %s", n, strings.Join(Names(), ", "))
		}
	}
	var out []pipeline.Stage
	for _, s := range All(opts) {
		if slices.Contains(names, s.Name) {
			out = append(out, s)
		}
	}
	return out, nil
}
