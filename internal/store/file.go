package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/imaginegw/imagine-gateway-go/internal/model"
)

// FileStore persists session records as a single JSON document next to
// the credential list. It serves single-instance deployments; the
// per-session lock contract is satisfied in-process by the pool, so
// AcquireLock is a no-op here.
type FileStore struct {
	path string

	mu       sync.Mutex
	sessions map[string]record
}

func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:     path,
		sessions: make(map[string]record),
	}
	if err := s.read(); err != nil {
		return nil, err
	}
	return s, nil
}

// StatePathFor derives the default state-file location from the
// credential list path.
func StatePathFor(credentialsFile string) string {
	return filepath.Join(filepath.Dir(credentialsFile), "session_state.json")
}

type fileDoc struct {
	Sessions []record `json:"sessions"`
}

func (s *FileStore) read() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read state file: %w", err)
	}

	var doc fileDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse state file: %w", err)
	}
	for _, rec := range doc.Sessions {
		s.sessions[rec.ID] = rec
	}
	return nil
}

func (s *FileStore) Load(ctx context.Context) ([]*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Session, 0, len(s.sessions))
	for _, rec := range s.sessions {
		out = append(out, rec.toSession())
	}
	return out, nil
}

func (s *FileStore) Save(ctx context.Context, session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.ID] = toRecord(session)
	return s.flush()
}

// flush writes the whole document atomically via temp-file rename.
// Caller holds s.mu.
func (s *FileStore) flush() error {
	doc := fileDoc{Sessions: make([]record, 0, len(s.sessions))}
	for _, rec := range s.sessions {
		doc.Sessions = append(doc.Sessions, rec)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

func (s *FileStore) AcquireLock(ctx context.Context, sessionID string) (func(), error) {
	return func() {}, nil
}

func (s *FileStore) Close() error {
	return nil
}
