package source

import (
	"maps"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// Params are the JSON:API query parameters of a fetch.
type Params struct {
	// Fields are sparse fieldsets keyed by resource type.
	Fields map[string][]string

	// Include lists relationship paths to side-load, e.g.
	// "field_logo.field_media_image".
	Include []string

	// Filter holds raw filter parameters, keyed without the "filter"
	// prefix: {"status": "1"} becomes filter[status]=1.
	Filter map[string]string

	Sort  string
	Limit int
}

// encode renders p as a query string with deterministic ordering.
// defaultLimit applies when p.Limit is zero.
func (p Params) encode(defaultLimit int) string {
	q := url.Values{}
	for _, typ := range slices.Sorted(maps.Keys(p.Fields)) {
		q.Set("fields["+typ+"]", strings.Join(p.Fields[typ], ","))
	}
	if len(p.Include) > 0 {
		q.Set("include", strings.Join(p.Include, ","))
	}
	for _, k := range slices.Sorted(maps.Keys(p.Filter)) {
		q.Set("filter["+k+"]", p.Filter[k])
	}
	if p.Sort != "" {
		q.Set("sort", p.Sort)
	}
	limit := p.Limit
	if limit == 0 {
		limit = defaultLimit
	}
	if limit > 0 {
		q.Set("page[limit]", strconv.Itoa(limit))
	}
	return q.Encode()
}
