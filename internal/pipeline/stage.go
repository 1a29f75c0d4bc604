package pipeline

import (
	"context"

	"github.com/tphakala/cmsbridge/internal/jsonapi"
	"github.com/tphakala/cmsbridge/internal/logger"
	"github.com/tphakala/cmsbridge/internal/source"
)

// Stage migrates one source resource into one target collection.
type Stage struct {
	// Name labels counters, logs and the error log.
	Name string

	// Resource is the source path, e.g. "node/company".
	Resource string
	Params   source.Params

	// Collection and KeyField identify target items; KeyField holds the
	// natural key returned by Transform.
	Collection string
	KeyField   string

	// Entity names the identity map and the audit file.
	Entity      string
	AuditFields []string

	Transform TransformFunc
}

// TransformFunc maps one source record to a target item. A nil item with
// a nil error drops the record without counting it.
type TransformFunc func(ctx context.Context, env *Env, rec *jsonapi.Record, col *jsonapi.Collection) (*Item, error)

// Item is the transformed form of one source record.
type Item struct {
	Key       string
	Payload   map[string]any
	Audit     map[string]string
	Secondary []Secondary
}

// Secondary is a dependent record created after its parent, e.g. a
// contact of a company. ParentField, when set, receives the parent's
// target id.
type Secondary struct {
	Collection  string
	KeyField    string
	Key         string
	ParentField string
	Payload     map[string]any
}

// MediaTransfer moves one asset to the target.
type MediaTransfer interface {
	TransferAsset(ctx context.Context, sourceFileID, folder string) (string, bool)
}

// IdentityLookup resolves source ids recorded by earlier stages.
type IdentityLookup interface {
	Lookup(entity, sourceID string) (string, bool)
}

// Env is what transforms may use besides the record itself.
type Env struct {
	RunID    string
	Media    MediaTransfer
	Identity IdentityLookup
	Log      logger.Logger
}
