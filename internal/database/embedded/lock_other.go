//go:build !unix

package embedded

import (
	"errors"
	"fmt"
	"os"

	"github.com/kozaktomas/facewatch/internal/database"
)

// fileLock falls back to an exclusively created marker file. A crashed
// process leaves the file behind and it has to be removed by hand.
type fileLock struct {
	path string
}

func acquireLock(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s exists; another process is using the store or a stale lock must be removed",
				database.ErrStoreLocked, path)
		}
		return nil, fmt.Errorf("creating lock file %s: %w", path, err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()
	return &fileLock{path: path}, nil
}

func (l *fileLock) release() error {
	if l == nil || l.path == "" {
		return nil
	}
	defer func() { l.path = "" }()
	return os.Remove(l.path)
}
