package state

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/evergreen-ci/utility"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// BackupSuffix is appended to the state file path for the previous-generation
// copy taken before every overwrite.
const BackupSuffix = ".backup"

// Backend abstracts durable persistence of the state document so the file
// store can be swapped for a transactional backend without touching any
// planner logic.
type Backend interface {
	// Load reads the current document. A missing or unreadable document is
	// not an error: implementations return a fresh empty document instead,
	// since a corrupt state file must not block the operator from making
	// progress.
	Load() (*StateDocument, error)

	// Save durably writes the full document. Failures are fatal to the
	// caller; a write the backend cannot complete must never be reported as
	// a success.
	Save(*StateDocument) error
}

// fileBackend persists the document as indented JSON at a caller-supplied
// path, keeping one previous generation at path+BackupSuffix.
type fileBackend struct {
	path string
}

// NewFileBackend returns a Backend storing the document at path.
func NewFileBackend(path string) Backend {
	return &fileBackend{path: path}
}

func (b *fileBackend) Load() (*StateDocument, error) {
	if !utility.FileExists(b.path) {
		return NewStateDocument(), nil
	}

	raw, err := os.ReadFile(b.path)
	if err != nil {
		grip.Warning(message.WrapError(err, message.Fields{
			"message": "could not read state file, starting with fresh state",
			"path":    b.path,
		}))
		return NewStateDocument(), nil
	}

	doc := &StateDocument{}
	if err := json.Unmarshal(raw, doc); err != nil {
		grip.Warning(message.WrapError(err, message.Fields{
			"message": "state file is not valid JSON, starting with fresh state",
			"path":    b.path,
		}))
		return NewStateDocument(), nil
	}
	if doc.Migrations == nil {
		doc.Migrations = map[string]*MigrationRecord{}
	}

	grip.Info(message.Fields{
		"message":    "loaded existing migration state",
		"path":       b.path,
		"migrations": len(doc.Migrations),
	})
	return doc, nil
}

func (b *fileBackend) Save(doc *StateDocument) error {
	if err := b.backup(); err != nil {
		return &PersistenceError{Path: b.path, Err: err}
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &PersistenceError{Path: b.path, Err: errors.Wrap(err, "marshalling state document")}
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0755); err != nil {
		return &PersistenceError{Path: b.path, Err: err}
	}
	if err := os.WriteFile(b.path, raw, 0644); err != nil {
		return &PersistenceError{Path: b.path, Err: err}
	}
	return nil
}

// backup copies the current file, if any, to the backup path so at most one
// generation of state can be lost to a write failure mid-flight.
func (b *fileBackend) backup() error {
	if !utility.FileExists(b.path) {
		return nil
	}
	raw, err := os.ReadFile(b.path)
	if err != nil {
		return errors.Wrap(err, "reading current state for backup")
	}
	return errors.Wrap(os.WriteFile(b.path+BackupSuffix, raw, 0644), "writing state backup")
}
