// Package stimulus builds the stimulus lists of each experiment phase and
// runs them against the camera and the presentation surface.
package stimulus

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/expressionlab/expression/internal/config"
)

// ErrMissingAsset is returned when the image stimulus directory does not
// exist.
var ErrMissingAsset = errors.New("stimulus: image directory not found")

// Kind is the presentation mode of a stimulus.
type Kind int

const (
	Label Kind = iota + 1 // text on black
	Image                 // full-screen picture
	Live                  // mirrored camera preview with a text overlay
)

func (k Kind) String() string {
	switch k {
	case Label:
		return "label"
	case Image:
		return "image"
	case Live:
		return "live"
	}
	return "unknown"
}

// Stimulus is one item presented to the participant.
type Stimulus struct {
	Kind Kind
	Text string // label text; empty for images
	Path string // source image; empty for labels
}

// Name is the human-readable identifier used in logs and the catalog.
func (s Stimulus) Name() string {
	if s.Kind == Image {
		return filepath.Base(s.Path)
	}
	return s.Text
}

// Labels turns emotion labels into stimuli of the given kind, in order.
func Labels(kind Kind, labels []string) []Stimulus {
	out := make([]Stimulus, 0, len(labels))
	for _, l := range labels {
		out = append(out, Stimulus{Kind: kind, Text: l})
	}
	return out
}

// ImagesFromDir lists the regular files of dir in ascending name order.
// Directories and other non-regular entries are ignored. Decodability is
// checked later, at presentation time.
func ImagesFromDir(dir string) ([]Stimulus, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingAsset, dir)
		}
		return nil, fmt.Errorf("read image directory %s: %w", dir, err)
	}

	var out []Stimulus
	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		fi, err := os.Stat(p)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		out = append(out, Stimulus{Kind: Image, Path: p})
	}
	return out, nil
}

// Decode reads and decodes an image file. JPEG, PNG, GIF, BMP and WebP are
// supported.
func Decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// Stem returns the file name of path without its extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Namer assigns output file names within one phase directory.
type Namer struct {
	policy string
	ext    string
	seen   map[string]int
}

// NewNamer returns a Namer that appends ext and resolves repeated names
// according to policy (config.DuplicateOverwrite or config.DuplicateSuffix).
func NewNamer(policy, ext string) *Namer {
	return &Namer{policy: policy, ext: ext, seen: map[string]int{}}
}

// Name returns the output file name for base. Under the overwrite policy a
// repeated base maps to the same file; under the suffix policy the second
// occurrence becomes base_2, the third base_3, and so on.
func (n *Namer) Name(base string) string {
	n.seen[base]++
	if c := n.seen[base]; c > 1 && n.policy == config.DuplicateSuffix {
		return base + "_" + strconv.Itoa(c) + n.ext
	}
	return base + n.ext
}
