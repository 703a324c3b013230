package sapo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/giadungplus/opscore/internal/domain/integration"
)

// TokenStore persists captured credentials between process restarts.
// Load returns ok=false when nothing is stored for kind.
type TokenStore interface {
	Load(ctx context.Context, kind integration.SessionKind) (creds integration.Credentials, ok bool, err error)
	Save(ctx context.Context, kind integration.SessionKind, creds integration.Credentials) error
}

// FileTokenStore keeps one JSON file per session kind.
type FileTokenStore struct {
	paths map[integration.SessionKind]string
}

var _ TokenStore = (*FileTokenStore)(nil)

// NewFileTokenStore creates a store writing core and marketplace tokens to the given files
func NewFileTokenStore(corePath, marketplacePath string) *FileTokenStore {
	return &FileTokenStore{paths: map[integration.SessionKind]string{
		integration.SessionCore:        corePath,
		integration.SessionMarketplace: marketplacePath,
	}}
}

// Load reads the token file for kind. A missing file is not an error.
func (s *FileTokenStore) Load(_ context.Context, kind integration.SessionKind) (integration.Credentials, bool, error) {
	path, ok := s.paths[kind]
	if !ok || path == "" {
		return integration.Credentials{}, false, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return integration.Credentials{}, false, nil
	}
	if err != nil {
		return integration.Credentials{}, false, fmt.Errorf("sapo: read token file %s: %w", path, err)
	}

	var creds integration.Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return integration.Credentials{}, false, fmt.Errorf("sapo: decode token file %s: %w", path, err)
	}
	creds = integration.NewCredentials(creds.Headers, creds.CapturedAt)
	if creds.IsEmpty() {
		return integration.Credentials{}, false, nil
	}
	return creds, true, nil
}

// Save replaces the token file atomically: readers see either the old or the new file.
func (s *FileTokenStore) Save(_ context.Context, kind integration.SessionKind, creds integration.Credentials) error {
	path, ok := s.paths[kind]
	if !ok || path == "" {
		return nil
	}

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("sapo: encode token: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("sapo: create token dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("sapo: create temp token file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("sapo: write token file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sapo: sync token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("sapo: close token file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("sapo: replace token file: %w", err)
	}
	return nil
}
