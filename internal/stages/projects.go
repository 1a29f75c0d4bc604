package stages

import (
	"context"
	"strconv"

	"github.com/tphakala/cmsbridge/internal/jsonapi"
	"github.com/tphakala/cmsbridge/internal/logger"
	"github.com/tphakala/cmsbridge/internal/pipeline"
	"github.com/tphakala/cmsbridge/internal/source"
)

// Projects migrates project nodes. The owning company and categories are
// resolved through identity maps written by earlier stages; gallery images
// and categories are linked through junction rows.
func Projects(opts Options) pipeline.Stage {
	return pipeline.Stage{
		Name:     NameProjects,
		Resource: "node/project",
		Params: source.Params{
			Include: []string{"field_gallery", "field_gallery.field_media_image"},
			Sort:    "drupal_internal__nid",
		},
		Collection:  "projects",
		KeyField:    keyField,
		Entity:      EntityProject,
		AuditFields: []string{"title", "legacy_id", "company", "gallery", "categories"},
		Transform: func(ctx context.Context, env *pipeline.Env, rec *jsonapi.Record, col *jsonapi.Collection) (*pipeline.Item, error) {
			return transformProject(ctx, env, rec, col, opts)
		},
	}
}

func transformProject(ctx context.Context, env *pipeline.Env, rec *jsonapi.Record, col *jsonapi.Collection, opts Options) (*pipeline.Item, error) {
	title := rec.Attributes.String("title")
	body := plainText(rec.Attributes.Text("body"))
	summary := plainText(rec.Attributes.String("body", "summary"))
	if summary == "" {
		summary = summarize(body, summaryRunes)
	}

	var company any
	companyID := ""
	if ref, ok := rec.Relationship("field_company").One(); ok {
		if id, ok := env.Identity.Lookup(EntityCompany, ref.ID); ok {
			company, companyID = id, id
		} else {
			env.Log.Warn("project company not migrated",
				logger.String("project", rec.ID),
				logger.String("company", ref.ID))
		}
	}

	var secondary []pipeline.Secondary
	for i, ref := range rec.Relationship("field_gallery").Many() {
		fileID, ok := transferRef(ctx, env, col, ref, opts.GalleryFolder)
		if !ok {
			continue
		}
		secondary = append(secondary, pipeline.Secondary{
			Collection:  "projects_files",
			KeyField:    keyField,
			Key:         rec.ID + ":" + ref.ID,
			ParentField: "projects_id",
			Payload: map[string]any{
				"directus_files_id": fileID,
				"sort":              i + 1,
			},
		})
	}
	gallery := len(secondary)

	for _, ref := range rec.Relationship("field_categories").Many() {
		catID, ok := env.Identity.Lookup(EntityCategory, ref.ID)
		if !ok {
			continue
		}
		secondary = append(secondary, pipeline.Secondary{
			Collection:  "projects_categories",
			KeyField:    keyField,
			Key:         rec.ID + ":" + ref.ID,
			ParentField: "projects_id",
			Payload:     map[string]any{"categories_id": catID},
		})
	}

	return &pipeline.Item{
		Key: rec.ID,
		Payload: map[string]any{
			"title":       title,
			"summary":     nullable(summary),
			"description": nullable(body),
			"status":      status(rec),
			"legacy_id":   legacyID(rec),
			"company":     company,
		},
		Audit: map[string]string{
			"title":      title,
			"legacy_id":  legacyIDString(rec),
			"company":    companyID,
			"gallery":    itoa(gallery),
			"categories": itoa(len(secondary) - gallery),
		},
		Secondary: secondary,
	}, nil
}

func itoa(n int) string { return strconv.Itoa(n) }
