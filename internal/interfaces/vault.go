package interfaces

import (
	"context"
	"time"

	"incident-vault-sync/internal/common"
)

// Document is a handle to one markdown document in the vault, identified by
// its path relative to the vault root.
type Document struct {
	Path    string    `json:"path"`
	ModTime time.Time `json:"mod_time"`
	Size    int64     `json:"size"`
}

// Heading is one entry of a document's structural index.
type Heading struct {
	Text  string `json:"text"`
	Level int    `json:"level"`
	Line  int    `json:"line"`
}

// Vault is the host document store. All content updates are whole-document
// text transforms committed atomically.
type Vault interface {
	// Resolve returns a handle for an existing document, or nil when the
	// path does not exist.
	Resolve(path string) *Document
	Read(doc *Document) (string, error)
	// Process applies a pure text transform to the document and atomically
	// replaces its content.
	Process(doc *Document, transform func(string) string) error
	// Create writes a new document; the parent folder must already exist.
	Create(path, content string) (*Document, error)
	CreateFolder(path string) error
	// ListFolder enumerates markdown documents under a folder prefix.
	ListFolder(prefix string) ([]*Document, error)
	// HeadingIndex returns the document's ordered heading index. The index
	// is cached per file; callers treat a missing index as section-not-found.
	HeadingIndex(doc *Document) ([]Heading, error)
}

// Storage persists sync state, per-note content hashes and named secrets.
type Storage interface {
	SaveSyncState(state *SyncState) error
	LoadSyncState() (*SyncState, error)
	SaveNoteHash(reference, hash string) error
	LoadNoteHash(reference string) (string, error)
	GetSecret(name string) (string, error)
	SetSecret(name, value string) error
	DeleteSecret(name string) error
	Close() error
}

// SyncState is the persisted record of the most recent sync cycle.
type SyncState struct {
	LastSync    time.Time `json:"last_sync"`
	LastTrigger string    `json:"last_trigger"`
	LastSuccess bool      `json:"last_success"`
	Active      int       `json:"active"`
	Historical  int       `json:"historical"`
}

// SyncOutcome is the user-visible result of one sync cycle.
type SyncOutcome struct {
	Trigger         string        `json:"trigger"`
	StartedAt       time.Time     `json:"started_at"`
	Elapsed         time.Duration `json:"elapsed"`
	Success         bool          `json:"success"`
	Rejected        bool          `json:"rejected,omitempty"`
	Reason          string        `json:"reason,omitempty"`
	Active          int           `json:"active"`
	Historical      int           `json:"historical"`
	NotesWritten    int           `json:"notes_written"`
	NotesSkipped    int           `json:"notes_skipped"`
	DailiesUpdated  int           `json:"dailies_updated"`
	OnCallSchedules []string      `json:"oncall_schedules,omitempty"`
}

// Syncer coordinates sync cycles.
type Syncer interface {
	Run(ctx context.Context)
	// SyncNow runs one cycle. A cycle triggered while another is in flight
	// is rejected, not queued.
	SyncNow(trigger string) *SyncOutcome
	// UpdateSettings swaps the settings snapshot used by subsequent cycles.
	// A cycle already in flight keeps the snapshot it started with.
	UpdateSettings(cfg *common.Config)
	LastOutcome() *SyncOutcome
	IsSyncing() bool
}

// DailyNoteProvider supplies the location and date format for daily notes.
// Discovery of that location is environment configuration, not sync logic.
type DailyNoteProvider interface {
	DailyNoteLocation() (folder, dateFormat string)
}

// Notifier publishes sync lifecycle events to observers (the WebSocket hub).
type Notifier interface {
	Publish(event string, data interface{})
}

// WebService is the monitoring/control HTTP surface.
type WebService interface {
	Start(ctx context.Context) error
	Stop() error
	IsRunning() bool
}
