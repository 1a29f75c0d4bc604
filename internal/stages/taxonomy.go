package stages

import (
	"context"

	"github.com/tphakala/cmsbridge/internal/jsonapi"
	"github.com/tphakala/cmsbridge/internal/pipeline"
	"github.com/tphakala/cmsbridge/internal/source"
)

// Taxonomy migrates vocabulary terms into categories. Terms are sorted by
// weight so parents usually precede children and resolve in one pass.
func Taxonomy(opts Options) pipeline.Stage {
	vocab := opts.vocabulary()
	return pipeline.Stage{
		Name:     NameTaxonomy,
		Resource: "taxonomy_term/" + vocab,
		Params: source.Params{
			Fields: map[string][]string{
				"taxonomy_term--" + vocab: {"name", "description", "weight", "drupal_internal__tid", "parent"},
			},
			Sort: "weight,drupal_internal__tid",
		},
		Collection:  "categories",
		KeyField:    keyField,
		Entity:      EntityCategory,
		AuditFields: []string{"name", "legacy_id", "parent"},
		Transform:   transformTerm,
	}
}

func transformTerm(_ context.Context, env *pipeline.Env, rec *jsonapi.Record, _ *jsonapi.Collection) (*pipeline.Item, error) {
	name := rec.Attributes.String("name")

	var parent any
	parentID := ""
	for _, ref := range rec.Relationship("parent").Many() {
		// "virtual" is the vocabulary root.
		if ref.ID == "" || ref.ID == "virtual" {
			continue
		}
		if id, ok := env.Identity.Lookup(EntityCategory, ref.ID); ok {
			parent, parentID = id, id
			break
		}
	}

	weight, _ := rec.Attributes.Int64("weight")
	return &pipeline.Item{
		Key: rec.ID,
		Payload: map[string]any{
			"name":        name,
			"description": nullable(plainText(rec.Attributes.Text("description"))),
			"legacy_id":   legacyID(rec),
			"sort":        weight,
			"parent":      parent,
		},
		Audit: map[string]string{
			"name":      name,
			"legacy_id": legacyIDString(rec),
			"parent":    parentID,
		},
	}, nil
}
