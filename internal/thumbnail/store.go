package thumbnail

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

const (
	JpegQuality   = 90
	FileExtension = ".jpg"
)

// FileStore keeps thumbnails on disk as <dir>/<face_id>.jpg. Writing the same
// face again overwrites the previous file.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir returns the directory thumbnails are written to.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns where the thumbnail of faceID lives.
func (s *FileStore) Path(faceID string) (string, error) {
	if faceID == "" || strings.ContainsAny(faceID, `/\`) || faceID == "." || faceID == ".." {
		return "", fmt.Errorf("invalid face id %q for thumbnail path", faceID)
	}
	return filepath.Join(s.dir, faceID+FileExtension), nil
}

// Save encodes img as JPEG and returns the written path.
func (s *FileStore) Save(faceID string, img image.Image) (string, error) {
	path, err := s.Path(faceID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create thumbnail directory %s: %w", s.dir, err)
	}
	if err := imaging.Save(img, path, imaging.JPEGQuality(JpegQuality)); err != nil {
		return "", fmt.Errorf("failed to save thumbnail to %s: %w", path, err)
	}
	return path, nil
}

// Remove deletes the thumbnail of faceID. A missing file is not an error.
func (s *FileStore) Remove(faceID string) error {
	path, err := s.Path(faceID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing thumbnail %s: %w", path, err)
	}
	return nil
}
