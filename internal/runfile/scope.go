package runfile

import (
	"os"

	"github.com/pkg/errors"
)

// Scope owns a set of OS temp files for the lifetime of a sort session,
// per spec.md §9's "ownership of temp files is scoped to the session"
// design note: every file it creates is removed when the scope is
// closed, regardless of whether the session finished successfully.
type Scope struct {
	dir   string
	files []*os.File
}

// NewScope returns a Scope that creates temp files in dir (empty string
// means the OS default temp directory).
func NewScope(dir string) *Scope {
	return &Scope{dir: dir}
}

// Create opens a new, uniquely named temp file tracked by the scope.
func (s *Scope) Create(pattern string) (*os.File, error) {
	f, err := os.CreateTemp(s.dir, pattern)
	if err != nil {
		return nil, errors.Wrap(err, "runfile: create temp file")
	}
	s.files = append(s.files, f)
	return f, nil
}

// Close closes and removes every temp file the scope has created. It
// collects the first error encountered but attempts to clean up every
// file regardless.
func (s *Scope) Close() error {
	var firstErr error
	for _, f := range s.files {
		path := f.Name()
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "runfile: close temp file")
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = errors.Wrap(err, "runfile: remove temp file")
		}
	}
	s.files = nil
	return firstErr
}

// Forget removes f from the scope's tracking without closing or deleting
// it, used when ownership of a temp file transfers elsewhere (e.g. the
// k-way merger's output file becomes the session's new intermediate
// file).
func (s *Scope) Forget(f *os.File) {
	for i, tracked := range s.files {
		if tracked == f {
			s.files = append(s.files[:i], s.files[i+1:]...)
			return
		}
	}
}
