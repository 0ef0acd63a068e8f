package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// TokenStore is the durable mirror of the most recent TokenSet, keyed by
// language. It exists so a process restart can skip a full login while the
// refresh token is still viable. Load returns (nil, nil) when no record
// exists; implementations must treat unparsable records the same way.
type TokenStore interface {
	Load(language string) (*TokenSet, error)
	Save(tokens TokenSet, language string) error
	Delete(language string) error
}

// FileStore persists one JSON file per language under a data directory,
// e.g. data/token_cz.json.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(language string) string {
	return filepath.Join(s.dir, fmt.Sprintf("token_%s.json", language))
}

func (s *FileStore) Load(language string) (*TokenSet, error) {
	data, err := os.ReadFile(s.path(language))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("could not read token file: %w", err)
	}

	var tokens TokenSet
	if err := json.Unmarshal(data, &tokens); err != nil {
		// a corrupt file is treated as absent, the next login rewrites it
		log.Warn().Err(err).Str("path", s.path(language)).Msg("token file unparsable, ignoring")
		return nil, nil
	}

	return &tokens, nil
}

func (s *FileStore) Save(tokens TokenSet, language string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("could not create data dir: %w", err)
	}

	data, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("could not marshal tokens: %w", err)
	}

	if err := os.WriteFile(s.path(language), data, 0o600); err != nil {
		return fmt.Errorf("could not write token file: %w", err)
	}
	return nil
}

func (s *FileStore) Delete(language string) error {
	err := os.Remove(s.path(language))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("could not delete token file: %w", err)
	}
	return nil
}

// NoopStore disables persistence. The manager degrades to memory-only token
// handling but keeps working.
type NoopStore struct{}

func (NoopStore) Load(string) (*TokenSet, error)  { return nil, nil }
func (NoopStore) Save(TokenSet, string) error     { return nil }
func (NoopStore) Delete(string) error             { return nil }
