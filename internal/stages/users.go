package stages

import (
	"context"

	"github.com/tphakala/cmsbridge/internal/jsonapi"
	"github.com/tphakala/cmsbridge/internal/pipeline"
	"github.com/tphakala/cmsbridge/internal/source"
)

// Users migrates source accounts into legacy_users. The anonymous account
// is dropped.
func Users(Options) pipeline.Stage {
	return pipeline.Stage{
		Name:     NameUsers,
		Resource: "user/user",
		Params: source.Params{
			Fields: map[string][]string{
				"user--user": {"name", "mail", "status", "created", "drupal_internal__uid"},
			},
			Sort: "drupal_internal__uid",
		},
		Collection:  "legacy_users",
		KeyField:    keyField,
		Entity:      EntityUser,
		AuditFields: []string{"username", "email", "legacy_id"},
		Transform:   transformUser,
	}
}

func transformUser(_ context.Context, _ *pipeline.Env, rec *jsonapi.Record, _ *jsonapi.Collection) (*pipeline.Item, error) {
	if uid, ok := rec.InternalID(); ok && uid == 0 {
		return nil, nil
	}

	name := rec.Attributes.String("name")
	mail := rec.Attributes.String("mail")
	state := "suspended"
	if rec.Attributes.Bool("status") {
		state = "active"
	}

	payload := map[string]any{
		"username":  name,
		"email":     nullable(mail),
		"status":    state,
		"legacy_id": legacyID(rec),
	}
	if created, ok := rec.Attributes.Time("created"); ok {
		payload["created_on"] = created.UTC().Format("2006-01-02T15:04:05Z")
	}

	return &pipeline.Item{
		Key:     rec.ID,
		Payload: payload,
		Audit: map[string]string{
			"username":  name,
			"email":     mail,
			"legacy_id": legacyIDString(rec),
		},
	}, nil
}
