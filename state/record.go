package state

import "time"

// DocumentVersion is the current layout version of the persisted document.
const DocumentVersion = "1.0"

// StepRecord tracks one named step within a migration.
type StepRecord struct {
	Description string                 `json:"description"`
	Status      Status                 `json:"status"`
	StartedAt   *time.Time             `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at"`
	Data        map[string]interface{} `json:"data"`
	Error       string                 `json:"error,omitempty"`
}

// CreatedResource is one entry in a migration's audit log of externally
// provisioned resources. Entries are appended as soon as the resource exists
// upstream, before the enclosing step completes, and are only ever removed by
// retention pruning of the whole record.
type CreatedResource struct {
	Type      string                 `json:"type"`
	ID        string                 `json:"id"`
	CreatedAt time.Time              `json:"created_at"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// MigrationRecord is the durable unit of resumable progress for one resource
// moving from the source account to the target account.
type MigrationRecord struct {
	ResourceType   ResourceType           `json:"resource_type"`
	SourceID       string                 `json:"source_id"`
	TargetID       string                 `json:"target_id,omitempty"`
	SourceMetadata map[string]interface{} `json:"source_metadata"`
	Status         Status                 `json:"status"`

	// Steps is keyed by step name; StepOrder preserves registration order,
	// which Go maps do not.
	Steps     map[string]*StepRecord `json:"steps"`
	StepOrder []string               `json:"step_order"`

	ResourcesCreated []CreatedResource `json:"resources_created"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	Error       string     `json:"error,omitempty"`
}

// Step returns the named step record, or nil if it was never registered.
func (r *MigrationRecord) Step(name string) *StepRecord {
	if r.Steps == nil {
		return nil
	}
	return r.Steps[name]
}

// OrderedSteps returns the migration's steps in registration order.
func (r *MigrationRecord) OrderedSteps() []*StepRecord {
	steps := make([]*StepRecord, 0, len(r.StepOrder))
	for _, name := range r.StepOrder {
		if s := r.Steps[name]; s != nil {
			steps = append(steps, s)
		}
	}
	return steps
}

// StateDocument is the top-level persisted layout.
type StateDocument struct {
	Version     string                      `json:"version"`
	CreatedAt   time.Time                   `json:"created_at"`
	LastUpdated time.Time                   `json:"last_updated"`
	Migrations  map[string]*MigrationRecord `json:"migrations"`
}

// NewStateDocument returns an empty document stamped with the current layout
// version.
func NewStateDocument() *StateDocument {
	now := time.Now().UTC()
	return &StateDocument{
		Version:     DocumentVersion,
		CreatedAt:   now,
		LastUpdated: now,
		Migrations:  map[string]*MigrationRecord{},
	}
}
