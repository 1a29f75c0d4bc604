package jsonapi

import (
	"bytes"
	"encoding/json"
	"slices"
	"time"

	"github.com/antonholmquist/jason"
)

// internalIDPrefix marks attributes carrying the source's legacy numeric id.
const internalIDPrefix = "drupal_internal__"

// Attributes is a typed envelope over a record's attribute object. Every
// accessor tolerates missing keys and wrong types and reports them through
// its zero value or ok flag.
type Attributes struct {
	raw json.RawMessage
	obj *jason.Object
}

// NewAttributes builds Attributes from a JSON object.
func NewAttributes(data []byte) (Attributes, error) {
	var a Attributes
	if err := a.UnmarshalJSON(data); err != nil {
		return Attributes{}, err
	}
	return a, nil
}

// UnmarshalJSON implements json.Unmarshaler. null is an empty envelope.
func (a *Attributes) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*a = Attributes{}
		return nil
	}

	obj, err := jason.NewObjectFromBytes(trimmed)
	if err != nil {
		return err
	}
	a.raw = append(json.RawMessage(nil), trimmed...)
	a.obj = obj
	return nil
}

// MarshalJSON implements json.Marshaler.
func (a Attributes) MarshalJSON() ([]byte, error) {
	if a.raw == nil {
		return []byte("{}"), nil
	}
	return a.raw, nil
}

// Has reports whether the path exists and is not null.
func (a Attributes) Has(keys ...string) bool {
	if a.obj == nil {
		return false
	}
	v, err := a.obj.GetValue(keys...)
	if err != nil {
		return false
	}
	return v.Null() != nil
}

// String returns the string at path, or "".
func (a Attributes) String(keys ...string) string {
	s, _ := a.StringOK(keys...)
	return s
}

// StringOK returns the string at path and whether it was present.
func (a Attributes) StringOK(keys ...string) (string, bool) {
	if a.obj == nil {
		return "", false
	}
	s, err := a.obj.GetString(keys...)
	if err != nil {
		return "", false
	}
	return s, true
}

// Int64 returns the integer at path.
func (a Attributes) Int64(keys ...string) (int64, bool) {
	if a.obj == nil {
		return 0, false
	}
	n, err := a.obj.GetInt64(keys...)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Bool returns the boolean at path, false when absent.
func (a Attributes) Bool(keys ...string) bool {
	if a.obj == nil {
		return false
	}
	b, err := a.obj.GetBoolean(keys...)
	return err == nil && b
}

// Time parses an RFC 3339 timestamp at path.
func (a Attributes) Time(keys ...string) (time.Time, bool) {
	s, ok := a.StringOK(keys...)
	if !ok || s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Strings returns the string array at path, skipping non-string entries.
func (a Attributes) Strings(keys ...string) []string {
	if a.obj == nil {
		return nil
	}
	values, err := a.obj.GetValueArray(keys...)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, err := v.String(); err == nil {
			out = append(out, s)
		}
	}
	return out
}

// Text returns a formatted-text field as stored: the "value" member of
// {value, format, processed}, or the plain string when the field is not
// formatted.
func (a Attributes) Text(key string) string {
	if s, ok := a.StringOK(key); ok {
		return s
	}
	if s, ok := a.StringOK(key, "value"); ok {
		return s
	}
	return a.String(key, "processed")
}

// Object returns the nested object at path as its own envelope.
func (a Attributes) Object(keys ...string) Attributes {
	if a.obj == nil {
		return Attributes{}
	}
	obj, err := a.obj.GetObject(keys...)
	if err != nil {
		return Attributes{}
	}
	return Attributes{obj: obj}
}

// Value returns the decoded Go value at path (json.Number for numbers).
func (a Attributes) Value(keys ...string) (any, bool) {
	if a.obj == nil {
		return nil, false
	}
	v, err := a.obj.GetValue(keys...)
	if err != nil {
		return nil, false
	}
	return DecodeValue(v), true
}

// DecodeValue converts a jason value into plain Go values: maps, slices,
// strings, bools, json.Number and nil. Undecodable values yield nil.
func DecodeValue(v *jason.Value) any {
	if v == nil {
		return nil
	}
	data, err := v.Marshal()
	if err != nil {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil
	}
	return out
}

// Keys returns attribute names in sorted order.
func (a Attributes) Keys() []string {
	if a.obj == nil {
		return nil
	}
	m := a.obj.Map()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// internalIDKeys are the legacy entity id attributes in lookup order.
// Revision ids are never entity ids.
var internalIDKeys = []string{"nid", "tid", "uid", "mid", "fid", "id"}

// InternalID returns the legacy numeric id (drupal_internal__nid, __tid,
// __uid, __mid, __fid, __id) if the record carries one.
func (a Attributes) InternalID() (int64, bool) {
	for _, k := range internalIDKeys {
		if n, ok := a.Int64(internalIDPrefix + k); ok {
			return n, true
		}
	}
	return 0, false
}
