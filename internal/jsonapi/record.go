package jsonapi

import (
	"bytes"
	"encoding/json"
)

// Record is a JSON:API resource object as fetched from the source. Records
// are never mutated after decoding.
type Record struct {
	Type          string                  `json:"type"`
	ID            string                  `json:"id"`
	Attributes    Attributes              `json:"attributes"`
	Relationships map[string]Relationship `json:"relationships,omitempty"`
	Links         Links                   `json:"links,omitempty"`
}

// Ref returns the reference that points at this record.
func (r *Record) Ref() RelationshipRef {
	return RelationshipRef{Type: r.Type, ID: r.ID}
}

// Relationship returns the named relationship. Missing relationships are
// empty, never an error.
func (r *Record) Relationship(name string) Relationship {
	if r == nil || r.Relationships == nil {
		return Relationship{}
	}
	return r.Relationships[name]
}

// InternalID returns the legacy numeric id from the attributes.
func (r *Record) InternalID() (int64, bool) {
	return r.Attributes.InternalID()
}

// RelationshipRef points at a record by type and id.
type RelationshipRef struct {
	Type string         `json:"type"`
	ID   string         `json:"id"`
	Meta map[string]any `json:"meta,omitempty"`
}

// MetaString returns a string member of the reference meta, such as the
// "alt" text Drupal attaches to image references.
func (r RelationshipRef) MetaString(key string) string {
	s, _ := r.Meta[key].(string)
	return s
}

// Relationship holds a to-one or to-many resource linkage.
type Relationship struct {
	Data   []RelationshipRef
	ToMany bool
}

// One returns the to-one reference.
func (r Relationship) One() (RelationshipRef, bool) {
	if len(r.Data) == 0 {
		return RelationshipRef{}, false
	}
	return r.Data[0], true
}

// Many returns all references, in source order.
func (r Relationship) Many() []RelationshipRef {
	return r.Data
}

// Empty reports whether the relationship links to nothing.
func (r Relationship) Empty() bool {
	return len(r.Data) == 0
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Relationship) UnmarshalJSON(data []byte) error {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}

	linkage := bytes.TrimSpace(envelope.Data)
	switch {
	case len(linkage) == 0, bytes.Equal(linkage, []byte("null")):
		*r = Relationship{}
	case linkage[0] == '[':
		var refs []RelationshipRef
		if err := json.Unmarshal(linkage, &refs); err != nil {
			return err
		}
		*r = Relationship{Data: refs, ToMany: true}
	default:
		var ref RelationshipRef
		if err := json.Unmarshal(linkage, &ref); err != nil {
			return err
		}
		*r = Relationship{Data: []RelationshipRef{ref}}
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (r Relationship) MarshalJSON() ([]byte, error) {
	var data any
	switch {
	case r.ToMany:
		refs := r.Data
		if refs == nil {
			refs = []RelationshipRef{}
		}
		data = refs
	case len(r.Data) > 0:
		data = r.Data[0]
	}
	return json.Marshal(map[string]any{"data": data})
}
