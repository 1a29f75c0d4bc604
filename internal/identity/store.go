// Package identity records which target id each source record became, one
// JSON file per entity, so later stages can rewrite references.
package identity

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/tphakala/cmsbridge/internal/errors"
	"github.com/tphakala/cmsbridge/internal/logger"
	"github.com/tphakala/cmsbridge/internal/mapstore"
)

const fileSuffix = "_mapping.json"

type entityMap struct {
	ids    map[string]string
	loaded bool
	dirty  bool
}

// Store holds identity maps in memory and persists them per entity under
// dir. Safe for concurrent use.
type Store struct {
	dir string
	log logger.Logger

	mu       sync.Mutex
	entities map[string]*entityMap
}

// Open creates a store rooted at dir, creating the directory.
func Open(dir string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Global().Module("identity")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.New(err).
			Component("identity").
			Category(errors.CategoryFileIO).
			Context("dir", dir).
			Build()
	}
	return &Store{dir: dir, log: log, entities: make(map[string]*entityMap)}, nil
}

// Path returns the mapping file of entity.
func (s *Store) Path(entity string) string {
	return filepath.Join(s.dir, entity+fileSuffix)
}

// Record maps sourceID to targetID for entity. Existing file contents are
// merged in first so a flush never drops earlier runs' mappings.
func (s *Store) Record(entity, sourceID, targetID string) error {
	if sourceID == "" || targetID == "" {
		return errors.Newf("empty identity for %s: %q -> %q", entity, sourceID, targetID).
			Component("identity").
			Category(errors.CategoryValidation).
			Build()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	em, err := s.entityLocked(entity)
	if err != nil {
		return err
	}
	if em.ids[sourceID] != targetID {
		em.ids[sourceID] = targetID
		em.dirty = true
	}
	return nil
}

// Flush writes entity's map atomically if it changed.
func (s *Store) Flush(entity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(entity)
}

func (s *Store) flushLocked(entity string) error {
	em, ok := s.entities[entity]
	if !ok || !em.dirty {
		return nil
	}
	if err := mapstore.Save(s.Path(entity), em.ids); err != nil {
		return errors.New(err).
			Component("identity").
			Category(errors.CategoryIdentityMap).
			Context("entity", entity).
			Build()
	}
	em.dirty = false
	s.log.Info("identity map saved",
		logger.String("entity", entity),
		logger.Int("entries", len(em.ids)))
	return nil
}

// Load returns a copy of entity's map. A missing file is logged as a
// warning and yields an empty map; a corrupt file is an error.
func (s *Store) Load(entity string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	em, err := s.entityLocked(entity)
	if err != nil {
		return nil, err
	}
	return maps.Clone(em.ids), nil
}

// Lookup returns the target id recorded for sourceID.
func (s *Store) Lookup(entity, sourceID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	em, err := s.entityLocked(entity)
	if err != nil {
		s.log.Error("identity map unavailable",
			logger.String("entity", entity),
			logger.Error(err))
		return "", false
	}
	id, ok := em.ids[sourceID]
	return id, ok
}

// Entities lists the entities with a mapping file or in-memory entries.
func (s *Store) Entities() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+fileSuffix))
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		name := filepath.Base(m)
		set[name[:len(name)-len(fileSuffix)]] = struct{}{}
	}
	s.mu.Lock()
	for e := range s.entities {
		set[e] = struct{}{}
	}
	s.mu.Unlock()
	return slices.Sorted(maps.Keys(set)), nil
}

// Close flushes every changed entity.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, entity := range slices.Sorted(maps.Keys(s.entities)) {
		if err := s.flushLocked(entity); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// entityLocked returns the in-memory map, reading the file on first use.
func (s *Store) entityLocked(entity string) (*entityMap, error) {
	if em, ok := s.entities[entity]; ok && em.loaded {
		return em, nil
	}

	ids, existed, err := mapstore.LoadOrEmpty(s.Path(entity))
	if err != nil {
		return nil, errors.New(fmt.Errorf("load %s identity map: %w", entity, err)).
			Component("identity").
			Category(errors.CategoryIdentityMap).
			Context("entity", entity).
			Build()
	}
	if !existed {
		s.log.Warn("identity map not found, starting empty",
			logger.String("entity", entity),
			logger.String("path", s.Path(entity)))
	}

	em := &entityMap{ids: ids, loaded: true}
	s.entities[entity] = em
	return em, nil
}
