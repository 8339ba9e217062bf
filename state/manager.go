package state

import (
	"sync"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// Manager is the migration state store. Every mutating call is flushed to the
// backend before it returns, so no in-memory state survives a crash. A single
// Manager may be shared by goroutines migrating independent resources; all
// operations are mutex-guarded.
type Manager struct {
	mu      sync.Mutex
	backend Backend
	doc     *StateDocument
}

// NewManager loads the current state document from the backend and returns a
// store over it.
func NewManager(backend Backend) (*Manager, error) {
	doc, err := backend.Load()
	if err != nil {
		return nil, errors.Wrap(err, "loading state document")
	}
	return &Manager{backend: backend, doc: doc}, nil
}

// NewFileManager is a convenience constructor over the file backend.
func NewFileManager(path string) (*Manager, error) {
	return NewManager(NewFileBackend(path))
}

// save flushes the document. Callers must hold the mutex.
func (m *Manager) save() error {
	m.doc.LastUpdated = time.Now().UTC()
	return m.backend.Save(m.doc)
}

// InitializeMigration creates a record for (resourceType, sourceID) if one
// does not exist and returns the deterministic migration id either way. It is
// safe to call on every invocation of a migration command; an existing record
// is returned unchanged.
func (m *Manager) InitializeMigration(resourceType ResourceType, sourceID string, metadata map[string]interface{}) (string, error) {
	if err := resourceType.Validate(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := MigrationID(resourceType, sourceID)
	if _, ok := m.doc.Migrations[id]; ok {
		grip.Info(message.Fields{
			"message":   "resuming existing migration",
			"migration": id,
		})
		return id, nil
	}

	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	m.doc.Migrations[id] = &MigrationRecord{
		ResourceType:     resourceType,
		SourceID:         sourceID,
		SourceMetadata:   metadata,
		Status:           StatusNotStarted,
		Steps:            map[string]*StepRecord{},
		StepOrder:        []string{},
		ResourcesCreated: []CreatedResource{},
		CreatedAt:        time.Now().UTC(),
	}
	if err := m.save(); err != nil {
		return "", err
	}

	grip.Info(message.Fields{
		"message":   "initialized migration",
		"migration": id,
	})
	return id, nil
}

// UpdateMigrationStatus sets the migration-level status. StartedAt is set on
// the first transition to IN_PROGRESS and CompletedAt on the first completed
// transition; neither is ever overwritten. errMsg, if non-empty, replaces the
// migration's error field. Resuming a failed migration (IN_PROGRESS after
// FAILED) clears the stale error so the fresh attempt records its own outcome.
func (m *Manager) UpdateMigrationStatus(migrationID string, status Status, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.doc.Migrations[migrationID]
	if !ok {
		return &NotFoundError{MigrationID: migrationID}
	}

	if status == StatusInProgress && rec.Status == StatusFailed {
		rec.Error = ""
	}
	rec.Status = status
	now := time.Now().UTC()
	if status == StatusInProgress && rec.StartedAt == nil {
		rec.StartedAt = &now
	}
	if status == StatusCompleted && rec.CompletedAt == nil {
		rec.CompletedAt = &now
	}
	if errMsg != "" {
		rec.Error = errMsg
	}

	return m.save()
}

// AddStep registers a step if it is not already present; it is a no-op (and
// preserves the original description) otherwise.
func (m *Manager) AddStep(migrationID, stepName, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.doc.Migrations[migrationID]
	if !ok {
		return &NotFoundError{MigrationID: migrationID}
	}
	if _, ok := rec.Steps[stepName]; ok {
		return nil
	}

	rec.Steps[stepName] = &StepRecord{
		Description: description,
		Status:      StatusNotStarted,
		Data:        map[string]interface{}{},
	}
	rec.StepOrder = append(rec.StepOrder, stepName)
	return m.save()
}

// UpdateStepStatus sets a step's status, merging data into any the step
// already holds (new keys overwrite, absent keys are preserved). The step is
// auto-registered if missing so callers may skip an explicit AddStep. A
// transition to IN_PROGRESS after a failure clears the failure's completion
// timestamp and error so the fresh attempt records its own outcome.
func (m *Manager) UpdateStepStatus(migrationID, stepName string, status Status, data map[string]interface{}, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.doc.Migrations[migrationID]
	if !ok {
		return &NotFoundError{MigrationID: migrationID}
	}

	step, ok := rec.Steps[stepName]
	if !ok {
		step = &StepRecord{
			Description: stepName,
			Status:      StatusNotStarted,
			Data:        map[string]interface{}{},
		}
		rec.Steps[stepName] = step
		rec.StepOrder = append(rec.StepOrder, stepName)
	}

	now := time.Now().UTC()
	if status == StatusInProgress && step.Status == StatusFailed {
		step.CompletedAt = nil
		step.Error = ""
	}
	step.Status = status
	if status == StatusInProgress && step.StartedAt == nil {
		step.StartedAt = &now
	}
	if (status == StatusCompleted || status == StatusFailed) && step.CompletedAt == nil {
		step.CompletedAt = &now
	}
	if len(data) > 0 {
		step.Data = MergeStepData(step.Data, data)
	}
	if errMsg != "" {
		step.Error = errMsg
	}

	return m.save()
}

// ResetStep demotes a step to NOT_STARTED and clears its cached data. This is
// the deliberate escape hatch for a completed step whose cached resource was
// found missing upstream and must be recreated; it is never applied
// automatically by the store.
func (m *Manager) ResetStep(migrationID, stepName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.doc.Migrations[migrationID]
	if !ok {
		return &NotFoundError{MigrationID: migrationID}
	}
	step, ok := rec.Steps[stepName]
	if !ok {
		return nil
	}

	step.Status = StatusNotStarted
	step.Data = map[string]interface{}{}
	step.StartedAt = nil
	step.CompletedAt = nil
	step.Error = ""

	grip.Info(message.Fields{
		"message":   "reset step for re-execution",
		"migration": migrationID,
		"step":      stepName,
	})
	return m.save()
}

// GetStepStatus returns the status of a step, or NOT_STARTED and false when
// the migration or step is unknown.
func (m *Manager) GetStepStatus(migrationID, stepName string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.doc.Migrations[migrationID]
	if !ok {
		return StatusNotStarted, false
	}
	step, ok := rec.Steps[stepName]
	if !ok {
		return StatusNotStarted, false
	}
	return step.Status, true
}

// IsStepCompleted is the idempotency check every planner step wraps itself
// in.
func (m *Manager) IsStepCompleted(migrationID, stepName string) bool {
	status, ok := m.GetStepStatus(migrationID, stepName)
	return ok && status == StatusCompleted
}

// GetStepData returns a copy of the data cached for a step; the copy is empty
// when the migration or step is unknown.
func (m *Manager) GetStepData(migrationID, stepName string) map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.doc.Migrations[migrationID]
	if !ok {
		return map[string]interface{}{}
	}
	step, ok := rec.Steps[stepName]
	if !ok {
		return map[string]interface{}{}
	}
	return MergeStepData(step.Data, nil)
}

// AddCreatedResource appends an entry to the migration's audit log of
// provisioned resources. Callers invoke this immediately after any successful
// provisioning call and before the enclosing step is marked complete, so a
// resource is attributed to the migration even if the step later fails. The
// type here is free-form: audit entries cover resource kinds beyond the
// migratable set (gateways, route tables, keys).
func (m *Manager) AddCreatedResource(migrationID, resourceType, resourceID string, metadata map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.doc.Migrations[migrationID]
	if !ok {
		return &NotFoundError{MigrationID: migrationID}
	}
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	rec.ResourcesCreated = append(rec.ResourcesCreated, CreatedResource{
		Type:      resourceType,
		ID:        resourceID,
		CreatedAt: time.Now().UTC(),
		Metadata:  metadata,
	})
	return m.save()
}

// SetTargetResource records the replicated resource's id on the migration.
func (m *Manager) SetTargetResource(migrationID, targetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.doc.Migrations[migrationID]
	if !ok {
		return &NotFoundError{MigrationID: migrationID}
	}
	rec.TargetID = targetID
	return m.save()
}

// GetMigrationInfo returns a copy of the migration record, or false when the
// id is unknown.
func (m *Manager) GetMigrationInfo(migrationID string) (*MigrationRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.doc.Migrations[migrationID]
	if !ok {
		return nil, false
	}
	return copyRecord(rec), true
}

// GetAllMigrations returns copies of every record, keyed by migration id.
func (m *Manager) GetAllMigrations() map[string]*MigrationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]*MigrationRecord, len(m.doc.Migrations))
	for id, rec := range m.doc.Migrations {
		out[id] = copyRecord(rec)
	}
	return out
}

// GetMigrationsByStatus returns copies of every record currently in the given
// status, keyed by migration id.
func (m *Manager) GetMigrationsByStatus(status Status) map[string]*MigrationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := map[string]*MigrationRecord{}
	for id, rec := range m.doc.Migrations {
		if rec.Status == status {
			out[id] = copyRecord(rec)
		}
	}
	return out
}

// GetIncompleteMigrations returns the ids of migrations for the given
// resource that are IN_PROGRESS or FAILED. Planners use this to decide
// between resuming and starting fresh.
func (m *Manager) GetIncompleteMigrations(resourceType ResourceType, sourceID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	incomplete := []string{}
	for id, rec := range m.doc.Migrations {
		if rec.ResourceType != resourceType || rec.SourceID != sourceID {
			continue
		}
		if rec.Status == StatusInProgress || rec.Status == StatusFailed {
			incomplete = append(incomplete, id)
		}
	}
	return incomplete
}

// CleanCompletedMigrations removes COMPLETED migrations whose completion time
// (falling back to creation time for records missing one) is older than the
// retention window, and returns the number removed. Records in any other
// status are never touched.
func (m *Manager) CleanCompletedMigrations(olderThanDays int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	removed := []string{}
	for id, rec := range m.doc.Migrations {
		if rec.Status != StatusCompleted {
			continue
		}
		completedAt := rec.CreatedAt
		if rec.CompletedAt != nil {
			completedAt = *rec.CompletedAt
		}
		if completedAt.Before(cutoff) {
			removed = append(removed, id)
		}
	}

	if len(removed) == 0 {
		return 0, nil
	}
	for _, id := range removed {
		delete(m.doc.Migrations, id)
	}
	if err := m.save(); err != nil {
		return 0, err
	}

	grip.Info(message.Fields{
		"message":         "cleaned up completed migrations",
		"removed":         len(removed),
		"older_than_days": olderThanDays,
	})
	return len(removed), nil
}

func copyRecord(rec *MigrationRecord) *MigrationRecord {
	out := *rec
	out.SourceMetadata = MergeStepData(rec.SourceMetadata, nil)
	out.Steps = make(map[string]*StepRecord, len(rec.Steps))
	for name, step := range rec.Steps {
		s := *step
		s.Data = MergeStepData(step.Data, nil)
		out.Steps[name] = &s
	}
	out.StepOrder = append([]string{}, rec.StepOrder...)
	out.ResourcesCreated = append([]CreatedResource{}, rec.ResourcesCreated...)
	return &out
}
