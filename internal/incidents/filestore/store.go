// Package filestore provides a JSON-file implementation of the incidents
// repository for single-node deployments.
package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/bissquit/hazard-watch/internal/domain"
	"github.com/bissquit/hazard-watch/internal/incidents"
	"github.com/jonboulle/clockwork"
)

// renameFile is swapped in tests to simulate a failing medium.
var renameFile = os.Rename

// document is the on-disk layout.
type document struct {
	LastID    int64             `json:"last_id"`
	Incidents []domain.Incident `json:"incidents"`
}

// Store implements incidents.Repository on top of a single JSON file.
//
// Every mutation is a read-modify-write under the write lock, and the new
// document replaces the old one with an atomic rename.
type Store struct {
	path  string
	clock clockwork.Clock

	mu sync.RWMutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to seed new incident IDs.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// New creates a store backed by the file at path. The parent directory is
// created if needed; the file itself is created on the first write.
func New(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("filestore: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	s := &Store{
		path:  path,
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Create assigns an ID and appends the incident.
func (s *Store) Create(_ context.Context, incident *domain.Incident) error {
	if err := incidents.ValidateIncident(incident); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return incidents.StorageError("create incident", err)
	}

	created := *incident
	created.ID = s.nextID(doc)
	created.Date = created.Date.UTC()
	if created.Status == "" {
		created.Status = domain.IncidentStatusOpen
	}

	doc.LastID = created.ID
	doc.Incidents = append(doc.Incidents, created)

	if err := s.save(doc); err != nil {
		return incidents.StorageError("create incident", err)
	}

	*incident = created
	return nil
}

// List returns every stored incident in file order.
func (s *Store) List(_ context.Context) ([]domain.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.load()
	if err != nil {
		return nil, incidents.StorageError("list incidents", err)
	}
	return doc.Incidents, nil
}

// Get returns a single incident.
func (s *Store) Get(_ context.Context, id int64) (*domain.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.load()
	if err != nil {
		return nil, incidents.StorageError("get incident", err)
	}

	i := indexOf(doc.Incidents, id)
	if i < 0 {
		return nil, incidents.ErrIncidentNotFound
	}
	incident := doc.Incidents[i]
	return &incident, nil
}

// UpdateStatus sets the status of an existing incident.
func (s *Store) UpdateStatus(_ context.Context, id int64, status domain.IncidentStatus) (*domain.Incident, error) {
	if err := incidents.ValidateStatus(status); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, incidents.StorageError("update incident status", err)
	}

	i := indexOf(doc.Incidents, id)
	if i < 0 {
		return nil, incidents.ErrIncidentNotFound
	}

	doc.Incidents[i].Status = status
	if err := s.save(doc); err != nil {
		return nil, incidents.StorageError("update incident status", err)
	}

	incident := doc.Incidents[i]
	return &incident, nil
}

// Delete removes an incident permanently.
func (s *Store) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return incidents.StorageError("delete incident", err)
	}

	i := indexOf(doc.Incidents, id)
	if i < 0 {
		return incidents.ErrIncidentNotFound
	}

	doc.Incidents = append(doc.Incidents[:i], doc.Incidents[i+1:]...)
	if err := s.save(doc); err != nil {
		return incidents.StorageError("delete incident", err)
	}
	return nil
}

// Ping checks that the backing file can be read and parsed.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.load(); err != nil {
		return incidents.StorageError("ping", err)
	}
	return nil
}

// nextID returns an ID greater than every ID ever issued. It is seeded from
// the clock in milliseconds so IDs stay distinguishable across restores.
func (s *Store) nextID(doc *document) int64 {
	next := doc.LastID + 1
	for _, incident := range doc.Incidents {
		if incident.ID >= next {
			next = incident.ID + 1
		}
	}
	if ms := s.clock.Now().UnixMilli(); ms > next {
		next = ms
	}
	return next
}

// load reads the document. A missing or empty file is an empty store.
// A bare JSON array is accepted as a legacy layout.
func (s *Store) load() (*document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &document{Incidents: make([]domain.Incident, 0)}, nil
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return &document{Incidents: make([]domain.Incident, 0)}, nil
	}

	var doc document
	if data[0] == '[' {
		if err := json.Unmarshal(data, &doc.Incidents); err != nil {
			return nil, fmt.Errorf("parse %s: %w", s.path, err)
		}
	} else if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}

	if doc.Incidents == nil {
		doc.Incidents = make([]domain.Incident, 0)
	}
	for i := range doc.Incidents {
		if doc.Incidents[i].Status == "" {
			doc.Incidents[i].Status = domain.IncidentStatusOpen
		}
	}
	return &doc, nil
}

// save writes the document to a temp file in the same directory, syncs it and
// renames it over the target. On failure the previous file is left intact.
func (s *Store) save(doc *document) (err error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode incidents: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = renameFile(tmpName, s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}

	syncDir(dir)
	return nil
}

// syncDir flushes the rename to disk. Not every platform supports fsync on
// directories, so failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

func indexOf(list []domain.Incident, id int64) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}
