package swrcache

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	partSep   = ":"
	windowSep = "@"
	sizeSep   = "/"
)

// Window addresses one page of a paginated resource.
type Window struct {
	PageIndex int `json:"pageIndex"`
	PageSize  int `json:"pageSize"`
}

// Validate reports whether w is addressable: PageIndex >= 0 and PageSize > 0.
func (w Window) Validate() error { return w.validate("window") }

func (w Window) validate(op string) error {
	if w.PageIndex < 0 {
		return precondition(op, "", "page index %d is negative", w.PageIndex)
	}
	if w.PageSize <= 0 {
		return precondition(op, "", "page size %d must be positive", w.PageSize)
	}
	return nil
}

// Move returns w shifted by delta pages. The result is not validated.
func (w Window) Move(delta int) Window {
	w.PageIndex += delta
	return w
}

func (w Window) String() string {
	return strconv.Itoa(w.PageIndex) + sizeSep + strconv.Itoa(w.PageSize)
}

// Key is an ordered tuple of resource parts plus an optional pagination window.
// The zero Key is invalid. Keys are values; With* methods return copies.
type Key struct {
	parts  []string
	window Window
	paged  bool
}

// NewKey builds a key from resource parts. Parts must be non-empty and must not
// contain ':' or '@'.
func NewKey(parts ...string) (Key, error) {
	if len(parts) == 0 {
		return Key{}, precondition("key", "", "no resource parts")
	}
	for i, p := range parts {
		if p == "" {
			return Key{}, precondition("key", strings.Join(parts, partSep), "part %d is empty", i)
		}
		if strings.Contains(p, partSep) || strings.Contains(p, windowSep) {
			return Key{}, precondition("key", strings.Join(parts, partSep), "part %q contains a reserved separator", p)
		}
	}
	return Key{parts: append([]string(nil), parts...)}, nil
}

// MustKey is like NewKey but panics on a malformed key.
// Handy for package-level keys and tests.
func MustKey(parts ...string) Key {
	k, err := NewKey(parts...)
	if err != nil {
		panic(err)
	}
	return k
}

// ParseKey parses the String form of a key: "todo:1" or "users@0/10".
func ParseKey(s string) (Key, error) {
	base, win, paged := strings.Cut(s, windowSep)
	k, err := NewKey(strings.Split(base, partSep)...)
	if err != nil {
		return Key{}, err
	}
	if !paged {
		return k, nil
	}
	idx, size, ok := strings.Cut(win, sizeSep)
	if !ok {
		return Key{}, precondition("key", s, "window %q is not index/size", win)
	}
	var w Window
	if w.PageIndex, err = strconv.Atoi(idx); err != nil {
		return Key{}, precondition("key", s, "page index %q: %v", idx, err)
	}
	if w.PageSize, err = strconv.Atoi(size); err != nil {
		return Key{}, precondition("key", s, "page size %q: %v", size, err)
	}
	if err := w.validate("key"); err != nil {
		return Key{}, err
	}
	return k.WithWindow(w), nil
}

// WithWindow returns a copy of k addressing window w.
func (k Key) WithWindow(w Window) Key {
	return Key{parts: append([]string(nil), k.parts...), window: w, paged: true}
}

// Base returns k without its window.
func (k Key) Base() Key {
	return Key{parts: append([]string(nil), k.parts...)}
}

// Parts returns a copy of the resource parts.
func (k Key) Parts() []string { return append([]string(nil), k.parts...) }

// Window returns the pagination window and whether k has one.
func (k Key) Window() (Window, bool) { return k.window, k.paged }

func (k Key) IsZero() bool { return len(k.parts) == 0 }

// HasPrefix reports whether the resource parts of k start with prefix.
// An empty prefix matches every key.
func (k Key) HasPrefix(prefix ...string) bool {
	if len(prefix) > len(k.parts) {
		return false
	}
	for i, p := range prefix {
		if k.parts[i] != p {
			return false
		}
	}
	return true
}

// String is the canonical identity of the key; equal tuples give equal strings.
func (k Key) String() string {
	s := strings.Join(k.parts, partSep)
	if k.paged {
		s += windowSep + k.window.String()
	}
	return s
}

func (k Key) GoString() string { return fmt.Sprintf("swrcache.Key(%q)", k.String()) }
