package credential

import (
	"crypto/sha256"
	"fmt"
	"os"
	"strings"
)

// Store reads the credential from its persistence medium (a file written by
// the out-of-band re-authentication flow). The store never parses or
// validates the credential.
type Store struct {
	path string
}

func NewStore(path string) *Store { return &Store{path: path} }

// Read returns the trimmed credential content.
func (s *Store) Read() (string, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("read credential: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// Hash returns the sha256 hex digest of the current content. Used to tag
// reloads so redundant reloads for the same underlying value are no-ops.
func (s *Store) Hash() (string, error) {
	v, err := s.Read()
	if err != nil {
		return "", err
	}
	return HashValue(v), nil
}

// HashValue hashes an already-read credential value.
func HashValue(v string) string {
	sum := sha256.Sum256([]byte(v))
	return fmt.Sprintf("%x", sum)
}

// Path returns the storage location, used by the watcher.
func (s *Store) Path() string { return s.path }
