package accountmover

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSettingsValidate(t *testing.T) {
	settings := Settings{
		SourceProfile: "prod",
		TargetProfile: "staging",
		SourceRegion:  "us-east-1",
		TargetRegion:  "eu-west-2",
		StateFile:     "/tmp/state.json",
	}
	assert.NoError(t, settings.Validate())
	assert.True(t, settings.CrossRegion())

	settings.TargetRegion = settings.SourceRegion
	assert.False(t, settings.CrossRegion())

	for _, clear := range []func(*Settings){
		func(s *Settings) { s.SourceProfile = "" },
		func(s *Settings) { s.TargetProfile = "" },
		func(s *Settings) { s.SourceRegion = "" },
		func(s *Settings) { s.TargetRegion = "" },
		func(s *Settings) { s.StateFile = "" },
	} {
		broken := settings
		clear(&broken)
		assert.Error(t, broken.Validate())
	}
}
