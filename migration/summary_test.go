package migration

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accountmover/accountmover/state"
)

func TestSummaryRendersStepsAndResources(t *testing.T) {
	ctx := context.Background()
	store, err := state.NewFileManager(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	id, err := store.InitializeMigration(state.ResourceTypeEC2Instance, "i-sum", nil)
	require.NoError(t, err)

	exec := NewExecutor(store, id, []Step{
		{Name: "create_image", Run: func(ctx context.Context) (map[string]interface{}, error) {
			return nil, store.AddCreatedResource(id, "ami", "ami-mock0001", nil)
		}},
		{Name: "launch_instance", Run: func(ctx context.Context) (map[string]interface{}, error) {
			return nil, store.SetTargetResource(id, "i-mock0002")
		}},
	})
	require.NoError(t, exec.Run(ctx))

	buf := &bytes.Buffer{}
	require.NoError(t, exec.Summary(buf))
	out := buf.String()

	assert.Contains(t, out, "Migration:  "+id)
	assert.Contains(t, out, "-> i-mock0002")
	assert.Contains(t, out, string(state.StatusCompleted))
	assert.Contains(t, out, "create_image")
	assert.Contains(t, out, "launch_instance")
	assert.Contains(t, out, "Resources created:")
	assert.Contains(t, out, "ami-mock0001")
}

func TestSummaryMissingMigration(t *testing.T) {
	store, err := state.NewFileManager(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	exec := NewExecutor(store, "ec2_instance:i-none", nil)
	err = exec.Summary(&bytes.Buffer{})
	require.Error(t, err)
	assert.True(t, state.IsNotFound(err))
}

func TestWriteOverview(t *testing.T) {
	store, err := state.NewFileManager(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	first, err := store.InitializeMigration(state.ResourceTypeEC2Instance, "i-a", nil)
	require.NoError(t, err)
	second, err := store.InitializeMigration(state.ResourceTypeRDSDatabase, "db-b", nil)
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	require.NoError(t, WriteOverview(buf, store, []string{first, second}))
	out := buf.String()
	assert.Contains(t, out, first)
	assert.Contains(t, out, second)
	assert.Contains(t, out, "MIGRATION")

	err = WriteOverview(&bytes.Buffer{}, store, []string{"missing"})
	require.Error(t, err)
	assert.True(t, state.IsNotFound(err))
}
