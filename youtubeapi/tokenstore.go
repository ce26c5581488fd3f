package youtubeapi

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vodarchiver/vodarchiver/crypto"
)

// FileTokenStore persists tokens as a small JSON document next to the ledger,
// written atomically. When an Encryptor is supplied the document is encrypted
// at rest.
type FileTokenStore struct {
	Path      string
	Encryptor crypto.Encryptor // optional

	mu sync.Mutex
}

type storedToken struct {
	Provider     string    `json:"provider"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
	Raw          string    `json:"raw,omitempty"`
}

func (s *FileTokenStore) UpsertOAuthToken(ctx context.Context, prov, access, refresh string, expiry time.Time, raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tokens, err := s.readLocked()
	if err != nil {
		return err
	}
	tokens[prov] = storedToken{Provider: prov, AccessToken: access, RefreshToken: refresh, Expiry: expiry, Raw: raw}
	return s.writeLocked(tokens)
}

func (s *FileTokenStore) GetOAuthToken(ctx context.Context, prov string) (string, string, time.Time, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tokens, err := s.readLocked()
	if err != nil {
		return "", "", time.Time{}, "", err
	}
	t := tokens[prov]
	return t.AccessToken, t.RefreshToken, t.Expiry, t.Raw, nil
}

func (s *FileTokenStore) readLocked() (map[string]storedToken, error) {
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return map[string]storedToken{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials %s: %w", s.Path, err)
	}
	if s.Encryptor != nil {
		if data, err = s.Encryptor.Decrypt(data); err != nil {
			return nil, fmt.Errorf("decrypt credentials %s: %w", s.Path, err)
		}
	}
	tokens := map[string]storedToken{}
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("parse credentials %s: %w", s.Path, err)
	}
	return tokens, nil
}

func (s *FileTokenStore) writeLocked(tokens map[string]storedToken) error {
	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return err
	}
	if s.Encryptor != nil {
		if data, err = s.Encryptor.Encrypt(data); err != nil {
			return fmt.Errorf("encrypt credentials: %w", err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.Path), ".credentials-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	// Tokens are credentials; keep them out of group/other hands.
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
