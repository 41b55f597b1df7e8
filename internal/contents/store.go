// Package contents defines the versioned document store contract and its
// GitHub contents API implementation.
package contents

import (
	"context"
	"errors"
	"strings"

	"github.com/Hiplitehehe/redesigned-octo-telegram/internal/notes"
)

var (
	ErrNotFound        = errors.New("document not found")
	ErrVersionConflict = errors.New("document version conflict")
	ErrRead            = errors.New("read document")
	ErrWrite           = errors.New("write document")
)

// Version is the opaque token a store hands out with every read and demands
// on every write. The empty Version means the document does not exist yet.
type Version string

// Location addresses one document: a file path inside a repository, on a
// branch. An empty Branch selects the repository default.
type Location struct {
	Repo   string
	Path   string
	Branch string
}

func (l Location) String() string {
	s := l.Repo + ":" + strings.TrimPrefix(l.Path, "/")
	if l.Branch != "" {
		s += "@" + l.Branch
	}
	return s
}

// Snapshot is a decoded document plus the version it was read at.
type Snapshot struct {
	Entries []notes.Entry
	Version Version
}

// Store reads and conditionally writes single documents.
//
// Read returns ErrNotFound (wrapped) when nothing exists at the location and
// ErrRead for transport or decode failures. Write replaces the document only
// if expected still matches the stored version; otherwise it returns
// ErrVersionConflict. Any other failure is ErrWrite.
type Store interface {
	Read(ctx context.Context, loc Location) (Snapshot, error)
	Write(ctx context.Context, loc Location, entries []notes.Entry, expected Version, message string) (Version, error)
}
