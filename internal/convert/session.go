package convert

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Session is a per-conversion working directory. It persists after the
// run, success or failure, so intermediates stay inspectable; removal is
// an explicit, user-initiated action.
type Session struct {
	ID  string
	Dir string
}

// NewSession creates a conversion_<UUID> directory under the output root.
func NewSession(outputRoot string) (*Session, error) {
	id := uuid.New().String()
	dir := filepath.Join(outputRoot, "conversion_"+id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir %s: %w", dir, err)
	}
	return &Session{ID: id, Dir: dir}, nil
}

// Remove deletes the session directory and everything in it.
func (s *Session) Remove() error {
	return os.RemoveAll(s.Dir)
}
