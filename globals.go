package accountmover

// ClientVersion is the version string the CLI reports.
const ClientVersion = "2026-01-12"

const (
	// DefaultStateFile is the state file used when the operator does not
	// supply one.
	DefaultStateFile = ".accountmover-state.json"

	// ReservedTagPrefix marks the provider-owned tag namespace. Tags in this
	// namespace cannot be written by callers and are stripped before
	// replication.
	ReservedTagPrefix = "aws:"

	// MigratedSuffix is appended to the Name tag of replicated resources so
	// source and target copies are distinguishable in consoles and reports.
	MigratedSuffix = "-migrated"

	// MigratedFromTag records the source resource id on every replicated
	// resource.
	MigratedFromTag = "MigratedFrom"

	// MigrationDateTag records when the replicated resource was created.
	MigrationDateTag = "MigrationDate"
)
