package migration

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/suite"

	"github.com/accountmover/accountmover/state"
)

type ExecutorSuite struct {
	suite.Suite
	ctx         context.Context
	store       *state.Manager
	migrationID string
}

func TestExecutorSuite(t *testing.T) {
	suite.Run(t, new(ExecutorSuite))
}

func (s *ExecutorSuite) SetupTest() {
	s.ctx = context.Background()
	store, err := state.NewFileManager(filepath.Join(s.T().TempDir(), "state.json"))
	s.Require().NoError(err)
	s.store = store

	id, err := store.InitializeMigration(state.ResourceTypeEC2Instance, "i-exec", nil)
	s.Require().NoError(err)
	s.migrationID = id
}

// countingStep returns a step that records how many times it ran.
func countingStep(name string, count *int, data map[string]interface{}) Step {
	return Step{
		Name:        name,
		Description: name,
		Run: func(ctx context.Context) (map[string]interface{}, error) {
			*count++
			return data, nil
		},
	}
}

func (s *ExecutorSuite) TestRunExecutesStepsInOrderAndCompletes() {
	var first, second int
	exec := NewExecutor(s.store, s.migrationID, []Step{
		countingStep("first", &first, map[string]interface{}{"value": "a"}),
		countingStep("second", &second, nil),
	})

	s.Require().NoError(exec.Run(s.ctx))
	s.Equal(1, first)
	s.Equal(1, second)

	rec, ok := s.store.GetMigrationInfo(s.migrationID)
	s.Require().True(ok)
	s.Equal(state.StatusCompleted, rec.Status)
	s.Equal([]string{"first", "second"}, rec.StepOrder)
	s.Equal("a", s.store.GetStepData(s.migrationID, "first")["value"])
}

func (s *ExecutorSuite) TestRunSkipsCompletedSteps() {
	var first, second int
	steps := []Step{
		countingStep("first", &first, nil),
		countingStep("second", &second, nil),
	}
	exec := NewExecutor(s.store, s.migrationID, steps)

	s.Require().NoError(exec.Run(s.ctx))
	s.Require().NoError(exec.Run(s.ctx))
	s.Equal(1, first)
	s.Equal(1, second)
}

func (s *ExecutorSuite) TestRunHaltsOnFailureAndResumes() {
	var first, third int
	broken := true
	exec := NewExecutor(s.store, s.migrationID, []Step{
		countingStep("first", &first, nil),
		{
			Name:        "second",
			Description: "second",
			Run: func(ctx context.Context) (map[string]interface{}, error) {
				if broken {
					return nil, errors.New("boom")
				}
				return nil, nil
			},
		},
		countingStep("third", &third, nil),
	})

	err := exec.Run(s.ctx)
	s.Require().Error(err)
	s.True(IsHalted(err))
	s.Contains(err.Error(), "step 'second'")
	s.Equal(0, third)

	rec, _ := s.store.GetMigrationInfo(s.migrationID)
	s.Equal(state.StatusFailed, rec.Status)
	s.Contains(rec.Error, "boom")
	status, _ := s.store.GetStepStatus(s.migrationID, "second")
	s.Equal(state.StatusFailed, status)

	broken = false
	s.Require().NoError(exec.Run(s.ctx))
	s.Equal(1, first)
	s.Equal(1, third)
	rec, _ = s.store.GetMigrationInfo(s.migrationID)
	s.Equal(state.StatusCompleted, rec.Status)
	s.Empty(rec.Error)
}

func (s *ExecutorSuite) TestValidatorFailureRerunsStep() {
	var runs int
	valid := false
	exec := NewExecutor(s.store, s.migrationID, []Step{{
		Name:        "cached",
		Description: "cached",
		Run: func(ctx context.Context) (map[string]interface{}, error) {
			runs++
			return map[string]interface{}{"resource": "r-1"}, nil
		},
		Validate: func(ctx context.Context, data map[string]interface{}) (bool, error) {
			return valid, nil
		},
	}})

	s.Require().NoError(exec.Run(s.ctx))
	s.Equal(1, runs)

	// The cached resource disappeared upstream; the step runs again.
	s.Require().NoError(exec.Run(s.ctx))
	s.Equal(2, runs)

	valid = true
	s.Require().NoError(exec.Run(s.ctx))
	s.Equal(2, runs)
}

func (s *ExecutorSuite) TestValidatorErrorFailsMigration() {
	var runs int
	exec := NewExecutor(s.store, s.migrationID, []Step{{
		Name:        "cached",
		Description: "cached",
		Run: func(ctx context.Context) (map[string]interface{}, error) {
			runs++
			return nil, nil
		},
		Validate: func(ctx context.Context, data map[string]interface{}) (bool, error) {
			return false, errors.New("control plane unreachable")
		},
	}})

	s.Require().NoError(exec.Run(s.ctx))

	err := exec.Run(s.ctx)
	s.Require().Error(err)
	s.Contains(err.Error(), "control plane unreachable")
	s.Equal(1, runs)

	rec, _ := s.store.GetMigrationInfo(s.migrationID)
	s.Equal(state.StatusFailed, rec.Status)
}

func (s *ExecutorSuite) TestRunNextSingleSteps() {
	var first, second int
	exec := NewExecutor(s.store, s.migrationID, []Step{
		countingStep("first", &first, nil),
		countingStep("second", &second, nil),
	})

	outcome, err := exec.RunNext(s.ctx)
	s.Require().NoError(err)
	s.Equal("first", outcome.StepName)
	s.Equal(1, outcome.Remaining)
	s.Equal(1, first)
	s.Equal(0, second)

	rec, _ := s.store.GetMigrationInfo(s.migrationID)
	s.Equal(state.StatusInProgress, rec.Status)

	outcome, err = exec.RunNext(s.ctx)
	s.Require().NoError(err)
	s.Equal("second", outcome.StepName)
	s.Equal(0, outcome.Remaining)

	rec, _ = s.store.GetMigrationInfo(s.migrationID)
	s.Equal(state.StatusCompleted, rec.Status)

	outcome, err = exec.RunNext(s.ctx)
	s.Require().NoError(err)
	s.Equal(state.StatusCompleted, outcome.Status)
	s.Equal(0, outcome.Remaining)
	s.Equal(1, first)
	s.Equal(1, second)
}

func TestStepDataRoundTrip(t *testing.T) {
	suite.Run(t, new(stepDataSuite))
}

type stepDataSuite struct {
	suite.Suite
}

func (s *stepDataSuite) TestEncodeDecode() {
	in := &instanceAnalysis{
		InstanceType:     "t3.micro",
		SecurityGroupIDs: []string{"sg-1", "sg-2"},
		Monitoring:       true,
		Tags:             map[string]string{"Name": "web"},
		HasElasticIP:     true,
	}
	data, err := encodeStepData(in)
	s.Require().NoError(err)
	s.Equal("t3.micro", data["instance_type"])

	out := &instanceAnalysis{}
	s.Require().NoError(decodeStepData(data, out))
	s.Equal(in, out)
}

func (s *stepDataSuite) TestDecodeToleratesJSONNumbers() {
	// Data reloaded from disk comes back with float64 numbers; decoding must
	// still fill integer fields.
	out := &databaseAnalysis{}
	s.Require().NoError(decodeStepData(map[string]interface{}{
		"allocated_storage": float64(100),
		"multi_az":          true,
	}, out))
	s.Equal(int64(100), out.AllocatedStorage)
	s.True(out.MultiAZ)
}
