package jsonapi

type recordKey struct {
	typ string
	id  string
}

// Collection accumulates the primary and side-loaded records of a
// paginated fetch. Included records are unique by (type, id); the first
// occurrence wins.
type Collection struct {
	Primary  []*Record
	Included []*Record

	index map[recordKey]*Record
}

// NewCollection returns an empty collection.
func NewCollection() *Collection {
	return &Collection{index: make(map[recordKey]*Record)}
}

// Append adds one page of a fetch.
func (c *Collection) Append(doc *Document) {
	c.AddPrimary(doc.Data.Records...)
	c.AddIncluded(doc.Included...)
}

// AddPrimary appends primary records in fetch order.
func (c *Collection) AddPrimary(recs ...*Record) {
	for _, rec := range recs {
		if rec != nil {
			c.Primary = append(c.Primary, rec)
		}
	}
}

// AddIncluded unions side-loaded records into the collection.
func (c *Collection) AddIncluded(recs ...*Record) {
	if c.index == nil {
		c.index = make(map[recordKey]*Record)
	}
	for _, rec := range recs {
		if rec == nil {
			continue
		}
		k := recordKey{rec.Type, rec.ID}
		if _, seen := c.index[k]; seen {
			continue
		}
		c.index[k] = rec
		c.Included = append(c.Included, rec)
	}
}

// Resolve returns the included record ref points at, or nil when it was
// not side-loaded.
func (c *Collection) Resolve(ref RelationshipRef) *Record {
	if c == nil || c.index == nil {
		return nil
	}
	return c.index[recordKey{ref.Type, ref.ID}]
}

// ResolveAll resolves refs in order, dropping those that are absent.
func (c *Collection) ResolveAll(refs []RelationshipRef) []*Record {
	out := make([]*Record, 0, len(refs))
	for _, ref := range refs {
		if rec := c.Resolve(ref); rec != nil {
			out = append(out, rec)
		}
	}
	return out
}

// Follow resolves a chain of to-one relationships starting at rec, for
// example company → field_logo → field_media_image. It returns nil as soon
// as any hop is empty or not included.
func (c *Collection) Follow(rec *Record, path ...string) *Record {
	current := rec
	for _, name := range path {
		ref, ok := current.Relationship(name).One()
		if !ok {
			return nil
		}
		current = c.Resolve(ref)
		if current == nil {
			return nil
		}
	}
	return current
}
