// Package artifacts persists captured stills and recordings to a directory.
package artifacts

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/smazurov/markcam/internal/media"
)

var (
	// ErrInvalidName is returned for names that are empty, hidden or contain path separators.
	ErrInvalidName = errors.New("invalid artifact name")
	// ErrNotFound is returned when no artifact with the name exists.
	ErrNotFound = errors.New("artifact not found")
)

// Info describes a stored artifact.
type Info struct {
	Name        string    `json:"name" example:"markcam-1737973800000.png" doc:"Artifact file name"`
	ContentType string    `json:"content_type" example:"image/png" doc:"MIME type derived from the extension"`
	Size        int64     `json:"size" example:"183422" doc:"Size in bytes"`
	CreatedAt   time.Time `json:"created_at" doc:"Modification time of the file"`
}

// Store writes artifacts into one flat directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates the directory if needed.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		return nil, errors.New("artifact directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Dir returns the artifact directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes a to the directory through a temp file and rename, so readers
// never observe a partial file. Saving the same artifact twice is a no-op.
func (s *Store) Save(a *media.Artifact) (Info, error) {
	if err := validName(a.Name); err != nil {
		return Info{}, err
	}
	path := filepath.Join(s.dir, a.Name)
	if st, err := os.Stat(path); err == nil && st.Size() == int64(len(a.Data)) {
		return infoFor(st), nil
	}

	tmp, err := os.CreateTemp(s.dir, "."+a.Name+".*.tmp")
	if err != nil {
		return Info{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	if _, err := tmp.Write(a.Data); err != nil {
		_ = tmp.Close()
		return Info{}, fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return Info{}, fmt.Errorf("failed to sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Info{}, fmt.Errorf("failed to close artifact: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return Info{}, fmt.Errorf("failed to set artifact permissions: %w", err)
	}
	if !a.CreatedAt.IsZero() {
		_ = os.Chtimes(tmpPath, a.CreatedAt, a.CreatedAt)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return Info{}, fmt.Errorf("failed to store artifact: %w", err)
	}

	st, err := os.Stat(path)
	if err != nil {
		return Info{}, err
	}
	s.logger.Info("Artifact saved", "name", a.Name, "bytes", len(a.Data), "path", path)
	return infoFor(st), nil
}

// List returns the stored artifacts, newest first. Temp files are skipped.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	infos := make([]Info, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || validName(e.Name()) != nil {
			continue
		}
		st, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, infoFor(st))
	}
	slices.SortFunc(infos, func(a, b Info) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return infos, nil
}

// Open opens a stored artifact for reading. The caller closes the file.
func (s *Store) Open(name string) (*os.File, Info, error) {
	if err := validName(name); err != nil {
		return nil, Info{}, err
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, Info{}, ErrNotFound
	}
	if err != nil {
		return nil, Info{}, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, Info{}, err
	}
	if !st.Mode().IsRegular() {
		_ = f.Close()
		return nil, Info{}, ErrNotFound
	}
	return f, infoFor(st), nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.HasPrefix(name, ".") ||
		strings.ContainsAny(name, `/\`) ||
		filepath.Base(name) != name {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func infoFor(st fs.FileInfo) Info {
	return Info{
		Name:        st.Name(),
		ContentType: contentTypeFor(st.Name()),
		Size:        st.Size(),
		CreatedAt:   st.ModTime(),
	}
}

// contentTypeFor maps the extensions markcam writes before consulting the
// system MIME table.
func contentTypeFor(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".mjpeg":
		return media.MimeMJPEG
	case ".webm":
		return media.MimeWebM
	case ".mp4":
		return media.MimeMP4
	case ".png":
		return media.MimePNG
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
