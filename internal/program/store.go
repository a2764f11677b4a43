package program

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"sorter/internal/apperr"

	"github.com/spf13/afero"
)

// Store reads program files from one directory.
type Store struct {
	fs afero.Fs
}

// NewStore serves programs from dir on the OS filesystem.
func NewStore(dir string) *Store {
	return &Store{fs: afero.NewBasePathFs(afero.NewOsFs(), dir)}
}

// NewStoreFs serves programs from the root of fsys.
func NewStoreFs(fsys afero.Fs) *Store {
	return &Store{fs: fsys}
}

// Load returns the text of program id, or ErrNotFound.
func (s *Store) Load(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("%w: bad program id %q", apperr.ErrInvalidArgument, id)
	}
	b, err := afero.ReadFile(s.fs, path.Clean("/"+id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: robot program %s", apperr.ErrNotFound, id)
		}
		return "", fmt.Errorf("read robot program %s: %w", id, err)
	}
	return string(b), nil
}
