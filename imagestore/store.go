package imagestore

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// URLPrefix is where stored images are served from.
const URLPrefix = "/images"

// maxNameAttempts bounds how far Save walks forward from the current
// millisecond when a name is already taken.
const maxNameAttempts = 16

var ErrNameExhausted = errors.New("no free image name")

var storedName = regexp.MustCompile(`^\d+(\.[A-Za-z0-9]+)?$`)

// RemoveOutcome reports what Remove did. Removal never fails the caller.
type RemoveOutcome int

const (
	Removed RemoveOutcome = iota
	Missing
	Failed
)

func (o RemoveOutcome) String() string {
	switch o {
	case Removed:
		return "removed"
	case Missing:
		return "missing"
	default:
		return "failed"
	}
}

type Store struct {
	fs     afero.Fs
	now    func() time.Time
	logger *zap.Logger
}

// New returns a Store rooted at the top of fs.
func New(fs afero.Fs, logger *zap.Logger) *Store {
	return &Store{
		fs:     fs,
		now:    time.Now,
		logger: logger,
	}
}

// NewOS returns a Store writing into dir, creating it if needed.
func NewOS(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), dir), logger), nil
}

// Save writes r to a new file named after the current unix milliseconds plus
// the extension of originalName, and returns its public path.
func (s *Store) Save(r io.Reader, originalName string) (string, error) {
	ext := cleanExt(originalName)
	ts := s.now().UnixMilli()

	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name := fmt.Sprintf("%d%s", ts+int64(attempt), ext)

		f, err := s.create("/" + name)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create image %s: %w", name, err)
		}

		if _, err := io.Copy(f, r); err != nil {
			f.Close()
			s.fs.Remove("/" + name)
			return "", fmt.Errorf("failed to write image %s: %w", name, err)
		}
		if err := f.Close(); err != nil {
			s.fs.Remove("/" + name)
			return "", fmt.Errorf("failed to close image %s: %w", name, err)
		}

		return PathFor(name), nil
	}

	return "", ErrNameExhausted
}

// SaveUpload stores an uploaded multipart file.
func (s *Store) SaveUpload(fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	return s.Save(src, fh.Filename)
}

func (s *Store) create(name string) (afero.File, error) {
	// MemMapFs ignores O_EXCL.
	exists, err := afero.Exists(s.fs, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, os.ErrExist
	}
	return s.fs.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
}

// Remove deletes the file behind relativePath. A missing file is not an error
// and any other failure is logged.
func (s *Store) Remove(relativePath string) RemoveOutcome {
	name, ok := fileName(relativePath)
	if !ok {
		return Missing
	}

	err := s.fs.Remove("/" + name)
	switch {
	case err == nil:
		return Removed
	case errors.Is(err, os.ErrNotExist):
		return Missing
	default:
		s.logger.Warn("Failed to remove image",
			zap.String("image_path", relativePath),
			zap.Error(err),
		)
		return Failed
	}
}

func (s *Store) Exists(relativePath string) bool {
	name, ok := fileName(relativePath)
	if !ok {
		return false
	}
	exists, err := afero.Exists(s.fs, "/"+name)
	return err == nil && exists
}

// List returns the regular files in the image directory.
func (s *Store) List() ([]os.FileInfo, error) {
	entries, err := afero.ReadDir(s.fs, "/")
	if err != nil {
		return nil, fmt.Errorf("failed to read image directory: %w", err)
	}

	files := entries[:0]
	for _, fi := range entries {
		if fi.Mode().IsRegular() {
			files = append(files, fi)
		}
	}
	return files, nil
}

// IsStoredName reports whether name has the shape Save gives files. Anything
// else in the directory was not written by the store.
func IsStoredName(name string) bool {
	return storedName.MatchString(name)
}

// cleanExt returns the extension of originalName cut at the first character
// that is not a letter or digit, so the public path stays fetchable.
func cleanExt(originalName string) string {
	ext := filepath.Ext(filepath.Base(originalName))
	for i := 1; i < len(ext); i++ {
		c := ext[i]
		if !('a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9') {
			ext = ext[:i]
			break
		}
	}
	if ext == "." {
		return ""
	}
	return ext
}

// PathFor returns the public path of a file name in the store.
func PathFor(name string) string {
	return URLPrefix + "/" + name
}

// FileSystem serves stored files. Directories are not listed.
func (s *Store) FileSystem() http.FileSystem {
	return filesOnly{afero.NewHttpFs(s.fs).Dir("/")}
}

// fileName maps a public path such as /images/1700000000000.png to the file
// name inside the store. Only the base name is kept.
func fileName(relativePath string) (string, bool) {
	name := path.Base(strings.TrimPrefix(relativePath, URLPrefix+"/"))
	if name == "." || name == "/" || name == ".." || name == "" {
		return "", false
	}
	return name, true
}

type filesOnly struct {
	fs http.FileSystem
}

func (f filesOnly) Open(name string) (http.File, error) {
	file, err := f.fs.Open(name)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.IsDir() {
		file.Close()
		return nil, os.ErrNotExist
	}
	return file, nil
}
