package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBackend(t *testing.T) {
	t.Run("MissingFileYieldsFreshDocument", func(t *testing.T) {
		backend := NewFileBackend(filepath.Join(t.TempDir(), "nope.json"))
		doc, err := backend.Load()
		require.NoError(t, err)
		assert.Equal(t, DocumentVersion, doc.Version)
		assert.Empty(t, doc.Migrations)
	})

	t.Run("CorruptFileYieldsFreshDocument", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "state.json")
		require.NoError(t, os.WriteFile(path, []byte("{не json"), 0644))

		doc, err := NewFileBackend(path).Load()
		require.NoError(t, err)
		assert.Empty(t, doc.Migrations)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "dir", "state.json")
		backend := NewFileBackend(path)

		doc := NewStateDocument()
		doc.Migrations["ec2_instance:i-1"] = &MigrationRecord{
			ResourceType: ResourceTypeEC2Instance,
			SourceID:     "i-1",
			Status:       StatusInProgress,
			Steps: map[string]*StepRecord{
				"analyze": {Status: StatusCompleted, Data: map[string]interface{}{"vpc_id": "vpc-1"}},
			},
			StepOrder: []string{"analyze"},
		}
		require.NoError(t, backend.Save(doc))

		loaded, err := backend.Load()
		require.NoError(t, err)
		rec := loaded.Migrations["ec2_instance:i-1"]
		require.NotNil(t, rec)
		assert.Equal(t, StatusInProgress, rec.Status)
		assert.Equal(t, "vpc-1", rec.Steps["analyze"].Data["vpc_id"])
		assert.Equal(t, []string{"analyze"}, rec.StepOrder)
	})

	t.Run("BackupHoldsPreviousGeneration", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "state.json")
		backend := NewFileBackend(path)

		first := NewStateDocument()
		first.Migrations["vpc:vpc-1"] = &MigrationRecord{ResourceType: ResourceTypeVPC, SourceID: "vpc-1", Status: StatusNotStarted}
		require.NoError(t, backend.Save(first))

		second := NewStateDocument()
		second.Migrations["vpc:vpc-1"] = &MigrationRecord{ResourceType: ResourceTypeVPC, SourceID: "vpc-1", Status: StatusCompleted}
		require.NoError(t, backend.Save(second))

		raw, err := os.ReadFile(path + BackupSuffix)
		require.NoError(t, err)
		backup := &StateDocument{}
		require.NoError(t, json.Unmarshal(raw, backup))
		assert.Equal(t, StatusNotStarted, backup.Migrations["vpc:vpc-1"].Status)
	})
}
