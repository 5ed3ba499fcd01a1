package item

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Kind tags a Ref as a file or a directory.
type Kind string

const (
	// KindFile is a regular (possibly placeholder) file.
	KindFile Kind = "file"
	// KindDirectory is a directory.
	KindDirectory Kind = "directory"
)

// Ref identifies a trackable item. It is used as both cache key and
// subscription key, so it must stay stable for the life of an observation.
type Ref struct {
	Path string `json:"path"`
	Kind Kind   `json:"kind"`
}

// NewFile returns a file Ref for path, cleaned and made absolute.
func NewFile(path string) Ref {
	return Ref{Path: cleanPath(path), Kind: KindFile}
}

// NewDirectory returns a directory Ref for path, cleaned and made absolute.
func NewDirectory(path string) Ref {
	return Ref{Path: cleanPath(path), Kind: KindDirectory}
}

func cleanPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// IsDir reports whether the Ref names a directory.
func (r Ref) IsDir() bool {
	return r.Kind == KindDirectory
}

// Name returns the last path element.
func (r Ref) Name() string {
	return filepath.Base(r.Path)
}

// Ext returns the lower-cased file extension including the dot.
func (r Ref) Ext() string {
	return strings.ToLower(filepath.Ext(r.Path))
}

// Key returns the string identity used for map keys and registrations.
func (r Ref) Key() string {
	return string(r.Kind) + ":" + r.Path
}

func (r Ref) String() string {
	return r.Key()
}

// Size is a requested thumbnail box in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Square returns a Size with equal sides.
func Square(side int) Size {
	return Size{Width: side, Height: side}
}

// Valid reports whether both dimensions are positive.
func (s Size) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// DirectorySnapshot is the ordered child list of a directory at one point
// in time.
type DirectorySnapshot struct {
	Dir       Ref       `json:"dir"`
	Children  []Ref     `json:"children"`
	IsInitial bool      `json:"isInitial"`
	Taken     time.Time `json:"taken"`
}

// SortChildren orders children by name, then by path to keep the order
// total when two entries share a name.
func SortChildren(children []Ref) {
	sort.Slice(children, func(i, j int) bool {
		ni, nj := children[i].Name(), children[j].Name()
		if ni != nj {
			return ni < nj
		}
		return children[i].Path < children[j].Path
	})
}

// SameChildren reports whether two snapshots list the same children in the
// same order.
func SameChildren(a, b []Ref) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
