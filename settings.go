package accountmover

import (
	"github.com/pkg/errors"
)

// Settings describes the source/target account pair a migration operates
// across. The zero value is not usable; populate every field and call
// Validate before constructing clients.
type Settings struct {
	// SourceProfile and TargetProfile are shared-config (credentials file)
	// profile names for the two accounts.
	SourceProfile string `json:"source_profile"`
	TargetProfile string `json:"target_profile"`

	// SourceRegion and TargetRegion are the regions resources are read from
	// and written to. They may match.
	SourceRegion string `json:"source_region"`
	TargetRegion string `json:"target_region"`

	// StateFile is the path of the durable migration state document. The
	// state store appends ".backup" to this path for the previous
	// generation.
	StateFile string `json:"state_file"`
}

// Validate checks that all required settings are present.
func (s *Settings) Validate() error {
	if s.SourceProfile == "" || s.TargetProfile == "" {
		return errors.New("source and target profiles must not be empty")
	}
	if s.SourceRegion == "" || s.TargetRegion == "" {
		return errors.New("source and target regions must not be empty")
	}
	if s.StateFile == "" {
		return errors.New("state file path must not be empty")
	}
	return nil
}

// CrossRegion reports whether the migration crosses region boundaries, which
// changes availability zone mapping behavior.
func (s *Settings) CrossRegion() bool {
	return s.SourceRegion != s.TargetRegion
}
