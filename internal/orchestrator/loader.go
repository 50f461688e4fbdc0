package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FSLoader resolves file references against a root directory. Absolute
// references outside the root are rejected.
type FSLoader struct {
	Root string
}

// NewFSLoader creates a loader rooted at dir.
func NewFSLoader(dir string) *FSLoader {
	return &FSLoader{Root: dir}
}

// Load reads the referenced file.
func (l *FSLoader) Load(_ context.Context, fileRef string) ([]byte, error) {
	path := fileRef
	if l.Root != "" {
		path = filepath.Join(l.Root, filepath.Clean("/"+fileRef))
		if !strings.HasPrefix(path, filepath.Clean(l.Root)+string(os.PathSeparator)) {
			return nil, fmt.Errorf("file reference escapes storage root: %s", fileRef)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return data, nil
}
