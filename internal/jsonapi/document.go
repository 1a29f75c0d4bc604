// Package jsonapi decodes JSON:API compound documents and resolves
// relationship references against their side-loaded records.
package jsonapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// MediaType is the JSON:API content type.
const MediaType = "application/vnd.api+json"

// Document is one JSON:API response.
type Document struct {
	Data     PrimaryData `json:"data"`
	Included []*Record   `json:"included,omitempty"`
	Links    Links       `json:"links,omitempty"`
	Errors   []APIError  `json:"errors,omitempty"`
}

// APIError is a JSON:API error object.
type APIError struct {
	Status string `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func (e APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: %s", e.Status, e.Title, e.Detail)
	}
	return fmt.Sprintf("%s %s", e.Status, e.Title)
}

// Decode reads a document from r.
func Decode(r io.Reader) (*Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode json:api document: %w", err)
	}
	return &doc, nil
}

// PrimaryData holds the "data" member, which may be null, a single
// resource object or an array.
type PrimaryData struct {
	Records []*Record
	Single  bool
}

// One returns the single primary record, or nil.
func (p PrimaryData) One() *Record {
	if len(p.Records) == 0 {
		return nil
	}
	return p.Records[0]
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *PrimaryData) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0, bytes.Equal(trimmed, []byte("null")):
		*p = PrimaryData{Single: true}
		return nil
	case trimmed[0] == '[':
		var recs []*Record
		if err := json.Unmarshal(trimmed, &recs); err != nil {
			return err
		}
		*p = PrimaryData{Records: recs}
		return nil
	default:
		var rec Record
		if err := json.Unmarshal(trimmed, &rec); err != nil {
			return err
		}
		*p = PrimaryData{Records: []*Record{&rec}, Single: true}
		return nil
	}
}

// MarshalJSON implements json.Marshaler.
func (p PrimaryData) MarshalJSON() ([]byte, error) {
	if p.Single {
		if len(p.Records) == 0 {
			return []byte("null"), nil
		}
		return json.Marshal(p.Records[0])
	}
	if p.Records == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p.Records)
}

// Link is a JSON:API link, serialized either as a bare URL or as an
// object with href.
type Link struct {
	Href string `json:"href"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *Link) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		return json.Unmarshal(trimmed, &l.Href)
	}
	type plain Link
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return err
	}
	*l = Link(p)
	return nil
}

// Links is a links object keyed by relation name.
type Links map[string]Link

// Next returns links.next.href, or "" on the last page.
func (l Links) Next() string {
	return l["next"].Href
}
