// Package recordstore persists whole JSON documents (the ban registry and the
// session registry) behind a small backend interface.
//
// Reads fail open: a missing, unreadable, or corrupt document yields the
// caller's default value. Unlike a silent default, the returned Status says
// which of those happened so operators can notice when protection was reset.
// Writes never fail open; every write error reaches the caller.
package recordstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/bytedance/sonic"
)

// ErrNotFound is returned by Backend.Read when the document does not exist.
var ErrNotFound = errors.New("recordstore: document not found")

// Backend stores opaque document bodies by name.
type Backend interface {
	// Read returns the stored body or ErrNotFound.
	Read(ctx context.Context, doc string) ([]byte, error)
	// Write replaces the whole document.
	Write(ctx context.Context, doc string, data []byte) error
	// Update atomically replaces the document with fn's result. fn receives
	// nil when the document does not exist and may be invoked more than once
	// by backends that retry on conflict.
	Update(ctx context.Context, doc string, fn func(current []byte) ([]byte, error)) error
	Close() error
}

// Status describes how a document was obtained.
type Status struct {
	// Missing is set when the document did not exist yet.
	Missing bool
	// Err is set when the document could not be read or decoded and the
	// default was substituted.
	Err error
}

// Degraded reports whether a read failure was masked by the default value.
func (s Status) Degraded() bool {
	return s.Err != nil
}

// Merge combines two statuses, keeping the first error.
func (s Status) Merge(o Status) Status {
	out := Status{Missing: s.Missing || o.Missing, Err: s.Err}
	if out.Err == nil {
		out.Err = o.Err
	}
	return out
}

func (s Status) String() string {
	switch {
	case s.Err != nil:
		return "degraded: " + s.Err.Error()
	case s.Missing:
		return "missing"
	default:
		return "ok"
	}
}

// Encode renders v the way every backend stores it: JSON, two-space indent,
// sorted map keys.
func Encode(v any) ([]byte, error) {
	return sonic.ConfigStd.MarshalIndent(v, "", "  ")
}

// Decode parses a stored document into v.
func Decode(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return errors.New("empty document")
	}
	return sonic.ConfigStd.Unmarshal(data, v)
}

// Load reads doc into a T, substituting def when the document is missing,
// unreadable, or corrupt.
func Load[T any](ctx context.Context, b Backend, doc string, def T) (T, Status) {
	data, err := b.Read(ctx, doc)
	if errors.Is(err, ErrNotFound) {
		return def, Status{Missing: true}
	}
	if err != nil {
		return def, Status{Err: fmt.Errorf("read %s: %w", doc, err)}
	}
	var v T
	if err := Decode(data, &v); err != nil {
		return def, Status{Err: fmt.Errorf("decode %s: %w", doc, err)}
	}
	return v, Status{}
}

// Save encodes v and rewrites the whole document.
func Save[T any](ctx context.Context, b Backend, doc string, v T) error {
	data, err := Encode(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", doc, err)
	}
	if err := b.Write(ctx, doc, data); err != nil {
		return fmt.Errorf("write %s: %w", doc, err)
	}
	return nil
}

// Update loads doc (falling back to newDefault() when missing or corrupt),
// applies fn, and writes the result back atomically. newDefault is a
// constructor because fn may run again on a fresh value after a conflict.
func Update[T any](ctx context.Context, b Backend, doc string, newDefault func() T, fn func(*T) error) (Status, error) {
	var st Status
	err := b.Update(ctx, doc, func(current []byte) ([]byte, error) {
		v := newDefault()
		st = Status{}
		if current == nil {
			st.Missing = true
		} else {
			var decoded T
			if err := Decode(current, &decoded); err != nil {
				st.Err = fmt.Errorf("decode %s: %w", doc, err)
			} else {
				v = decoded
			}
		}
		if err := fn(&v); err != nil {
			return nil, err
		}
		return Encode(v)
	})
	if err != nil {
		return st, fmt.Errorf("update %s: %w", doc, err)
	}
	return st, nil
}

// validDoc matches alphanumeric, dash, underscore characters only.
var validDoc = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// validateDoc rejects document names that could escape a backend's namespace.
func validateDoc(doc string) error {
	if doc == "" {
		return fmt.Errorf("document name must not be empty")
	}
	if strings.Contains(doc, "..") {
		return fmt.Errorf("document name must not contain '..'")
	}
	if !validDoc.MatchString(doc) {
		return fmt.Errorf("document name %q contains invalid characters", doc)
	}
	return nil
}
