// Package state implements the durable migration state store: one JSON
// document tracking the progress of every resource migration, written through
// a pluggable backend so callers can resume interrupted work without
// repeating side-effecting control plane calls.
package state

import (
	"fmt"

	"github.com/pkg/errors"
)

// ResourceType identifies the kind of resource a migration record tracks.
type ResourceType string

const (
	ResourceTypeEC2Instance   ResourceType = "ec2_instance"
	ResourceTypeRDSDatabase   ResourceType = "rds_database"
	ResourceTypeVPC           ResourceType = "vpc"
	ResourceTypeSubnet        ResourceType = "subnet"
	ResourceTypeSecurityGroup ResourceType = "security_group"
	ResourceTypeAMI           ResourceType = "ami"
	ResourceTypeSnapshot      ResourceType = "snapshot"
	ResourceTypeElasticIP     ResourceType = "elastic_ip"
)

var allResourceTypes = []ResourceType{
	ResourceTypeEC2Instance,
	ResourceTypeRDSDatabase,
	ResourceTypeVPC,
	ResourceTypeSubnet,
	ResourceTypeSecurityGroup,
	ResourceTypeAMI,
	ResourceTypeSnapshot,
	ResourceTypeElasticIP,
}

// ParseResourceType normalizes a raw string into a ResourceType, rejecting
// anything outside the closed set so arbitrary strings never reach the
// persisted document.
func ParseResourceType(s string) (ResourceType, error) {
	for _, t := range allResourceTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", errors.Errorf("unrecognized resource type '%s'", s)
}

// Validate checks that the resource type is a member of the closed set.
func (t ResourceType) Validate() error {
	_, err := ParseResourceType(string(t))
	return err
}

// Status is the lifecycle state of a migration or of a single step.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// ParseStatus normalizes a raw string into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusNotStarted, StatusInProgress, StatusCompleted, StatusFailed, StatusSkipped:
		return Status(s), nil
	}
	return "", errors.Errorf("unrecognized status '%s'", s)
}

// Terminal reports whether the status ends a migration's lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// MigrationID returns the deterministic composite key for a resource
// migration. The key is stable across invocations so re-running a migration
// resumes the existing record.
func MigrationID(resourceType ResourceType, sourceID string) string {
	return fmt.Sprintf("%s:%s", resourceType, sourceID)
}

// NotFoundError indicates an operation referenced a migration id that does
// not exist in the store. It is a usage error and is never retried.
type NotFoundError struct {
	MigrationID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("migration '%s' not found", e.MigrationID)
}

// IsNotFound reports whether err (or its cause) is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	_, ok := errors.Cause(err).(*NotFoundError)
	return ok
}

// PersistenceError indicates the store could not durably record a mutation.
// It is always fatal: the store must never report success for a write it did
// not complete.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting state to '%s': %v", e.Path, e.Err)
}

func (e *PersistenceError) Cause() error { return e.Err }

// IsPersistenceError reports whether err (or its cause) is a
// PersistenceError.
func IsPersistenceError(err error) bool {
	if err == nil {
		return false
	}
	_, ok := errors.Cause(err).(*PersistenceError)
	return ok
}
