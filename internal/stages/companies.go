package stages

import (
	"context"

	"github.com/tphakala/cmsbridge/internal/jsonapi"
	"github.com/tphakala/cmsbridge/internal/logger"
	"github.com/tphakala/cmsbridge/internal/media"
	"github.com/tphakala/cmsbridge/internal/pipeline"
	"github.com/tphakala/cmsbridge/internal/source"
)

// Companies migrates company nodes. The logo is transferred through the
// media pipeline and contacts become secondary contact records.
func Companies(opts Options) pipeline.Stage {
	return pipeline.Stage{
		Name:     NameCompanies,
		Resource: "node/company",
		Params: source.Params{
			Include: []string{"field_logo", "field_logo.field_media_image", "field_contacts"},
			Sort:    "drupal_internal__nid",
		},
		Collection:  "companies",
		KeyField:    keyField,
		Entity:      EntityCompany,
		AuditFields: []string{"name", "legacy_id", "logo", "contacts"},
		Transform: func(ctx context.Context, env *pipeline.Env, rec *jsonapi.Record, col *jsonapi.Collection) (*pipeline.Item, error) {
			return transformCompany(ctx, env, rec, col, opts)
		},
	}
}

func transformCompany(ctx context.Context, env *pipeline.Env, rec *jsonapi.Record, col *jsonapi.Collection, opts Options) (*pipeline.Item, error) {
	name := rec.Attributes.String("title")
	logo := transferRelated(ctx, env, col, rec, "field_logo", opts.LogoFolder)

	var logoID string
	if logo != nil {
		logoID = logo.(string)
	}

	contacts := col.ResolveAll(rec.Relationship("field_contacts").Many())
	secondary := make([]pipeline.Secondary, 0, len(contacts))
	for _, c := range contacts {
		secondary = append(secondary, pipeline.Secondary{
			Collection:  "contacts",
			KeyField:    keyField,
			Key:         c.ID,
			ParentField: "company",
			Payload: map[string]any{
				"name":  nullable(c.Attributes.Text("field_name")),
				"role":  nullable(c.Attributes.Text("field_role")),
				"email": nullable(c.Attributes.String("field_email")),
				"phone": nullable(c.Attributes.String("field_phone")),
			},
		})
	}

	return &pipeline.Item{
		Key: rec.ID,
		Payload: map[string]any{
			"name":        name,
			"description": nullable(plainText(rec.Attributes.Text("body"))),
			"website":     nullable(rec.Attributes.String("field_website", "uri")),
			"status":      status(rec),
			"legacy_id":   legacyID(rec),
			"logo":        logo,
		},
		Audit: map[string]string{
			"name":      name,
			"legacy_id": legacyIDString(rec),
			"logo":      logoID,
			"contacts":  itoa(len(secondary)),
		},
		Secondary: secondary,
	}, nil
}

// transferRelated moves the asset behind a to-one media relationship and
// returns its target file id, or nil when there is none.
func transferRelated(ctx context.Context, env *pipeline.Env, col *jsonapi.Collection, rec *jsonapi.Record, field, folder string) any {
	ref, ok := rec.Relationship(field).One()
	if !ok {
		return nil
	}
	id, ok := transferRef(ctx, env, col, ref, folder)
	if !ok {
		env.Log.Debug("media unavailable",
			logger.String("record", rec.ID),
			logger.String("field", field))
		return nil
	}
	return id
}

func transferRef(ctx context.Context, env *pipeline.Env, col *jsonapi.Collection, ref jsonapi.RelationshipRef, folder string) (string, bool) {
	if env.Media == nil {
		return "", false
	}
	file, ok := media.ResolveMediaFile(col, ref)
	if !ok {
		return "", false
	}
	return env.Media.TransferAsset(ctx, file.ID, folder)
}
