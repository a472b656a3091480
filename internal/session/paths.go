package session

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Directory naming.
const (
	SessionPrefix = "Grabacion_"
	TimeLayout    = "20060102_150405"
)

// PhaseDirs are the per-phase subdirectory names, index 0 is phase 1.
var PhaseDirs = [3]string{"Seccion1", "Seccion2", "Seccion3"}

// Paths is the directory set of one session. It is written once by
// CreatePaths and never modified afterwards.
type Paths struct {
	Name   string // Grabacion_YYYYMMDD_HHMMSS
	Root   string
	Phases [3]string
}

// Phase returns the directory of phase n (1-based).
func (p Paths) Phase(n int) string {
	return p.Phases[n-1]
}

// DirectoryCreationError reports a session directory that could not be
// created. It is fatal at startup.
type DirectoryCreationError struct {
	Path string
	Err  error
}

func (e *DirectoryCreationError) Error() string {
	return fmt.Sprintf("session: cannot create directory %q: %v", e.Path, e.Err)
}

func (e *DirectoryCreationError) Unwrap() error { return e.Err }

// SessionName derives the session directory name from now. The fixed-width
// layout sorts lexicographically in creation order.
func SessionName(now time.Time) string {
	return SessionPrefix + now.Format(TimeLayout)
}

// CreatePaths creates <base>/Grabacion_<timestamp>/{Seccion1,Seccion2,Seccion3}.
// Existing directories are not an error.
func CreatePaths(base string, now time.Time) (Paths, error) {
	name := SessionName(now)
	root := filepath.Join(base, name)

	p := Paths{Name: name, Root: root}
	for i, d := range PhaseDirs {
		p.Phases[i] = filepath.Join(root, d)
	}

	for _, dir := range append([]string{root}, p.Phases[:]...) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Paths{}, &DirectoryCreationError{Path: dir, Err: err}
		}
	}
	return p, nil
}
