package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type ManagerSuite struct {
	suite.Suite
	path    string
	manager *Manager
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.path = filepath.Join(s.T().TempDir(), "state.json")
	manager, err := NewFileManager(s.path)
	s.Require().NoError(err)
	s.manager = manager
}

func (s *ManagerSuite) reload() *Manager {
	manager, err := NewFileManager(s.path)
	s.Require().NoError(err)
	return manager
}

func (s *ManagerSuite) TestInitializeIsIdempotent() {
	id, err := s.manager.InitializeMigration(ResourceTypeEC2Instance, "i-0abc", map[string]interface{}{"instance_type": "t3.micro"})
	s.Require().NoError(err)
	s.Equal("ec2_instance:i-0abc", id)

	again, err := s.manager.InitializeMigration(ResourceTypeEC2Instance, "i-0abc", map[string]interface{}{"instance_type": "changed"})
	s.Require().NoError(err)
	s.Equal(id, again)

	rec, ok := s.manager.GetMigrationInfo(id)
	s.Require().True(ok)
	s.Equal("t3.micro", rec.SourceMetadata["instance_type"])
	s.Equal(StatusNotStarted, rec.Status)
}

func (s *ManagerSuite) TestInitializeRejectsUnknownResourceType() {
	_, err := s.manager.InitializeMigration(ResourceType("fleet"), "f-1", nil)
	s.Error(err)
}

func (s *ManagerSuite) TestUpdateMigrationStatusTimestampsWriteOnce() {
	id, err := s.manager.InitializeMigration(ResourceTypeRDSDatabase, "prod-db", nil)
	s.Require().NoError(err)

	s.Require().NoError(s.manager.UpdateMigrationStatus(id, StatusInProgress, ""))
	rec, _ := s.manager.GetMigrationInfo(id)
	s.Require().NotNil(rec.StartedAt)
	started := *rec.StartedAt

	time.Sleep(10 * time.Millisecond)
	s.Require().NoError(s.manager.UpdateMigrationStatus(id, StatusInProgress, ""))
	rec, _ = s.manager.GetMigrationInfo(id)
	s.True(rec.StartedAt.Equal(started))

	s.Require().NoError(s.manager.UpdateMigrationStatus(id, StatusCompleted, ""))
	rec, _ = s.manager.GetMigrationInfo(id)
	s.Require().NotNil(rec.CompletedAt)
	completed := *rec.CompletedAt

	time.Sleep(10 * time.Millisecond)
	s.Require().NoError(s.manager.UpdateMigrationStatus(id, StatusCompleted, ""))
	rec, _ = s.manager.GetMigrationInfo(id)
	s.True(rec.CompletedAt.Equal(completed))
}

func (s *ManagerSuite) TestUpdateMigrationStatusUnknownID() {
	err := s.manager.UpdateMigrationStatus("ec2_instance:i-missing", StatusInProgress, "")
	s.True(IsNotFound(err))
}

func (s *ManagerSuite) TestStepDataMergesInsteadOfReplacing() {
	id, err := s.manager.InitializeMigration(ResourceTypeEC2Instance, "i-0abc", nil)
	s.Require().NoError(err)

	s.Require().NoError(s.manager.UpdateStepStatus(id, "create_image", StatusInProgress,
		map[string]interface{}{"image_id": "ami-123"}, ""))
	s.Require().NoError(s.manager.UpdateStepStatus(id, "create_image", StatusCompleted,
		map[string]interface{}{"image_state": "available"}, ""))

	data := s.manager.GetStepData(id, "create_image")
	s.Equal("ami-123", data["image_id"])
	s.Equal("available", data["image_state"])
}

func (s *ManagerSuite) TestStepAutoRegistersOnUpdate() {
	id, err := s.manager.InitializeMigration(ResourceTypeEC2Instance, "i-0abc", nil)
	s.Require().NoError(err)

	s.Require().NoError(s.manager.UpdateStepStatus(id, "analyze", StatusCompleted, nil, ""))
	s.True(s.manager.IsStepCompleted(id, "analyze"))

	rec, _ := s.manager.GetMigrationInfo(id)
	s.Equal([]string{"analyze"}, rec.StepOrder)
}

func (s *ManagerSuite) TestAddStepPreservesExistingStep() {
	id, err := s.manager.InitializeMigration(ResourceTypeEC2Instance, "i-0abc", nil)
	s.Require().NoError(err)

	s.Require().NoError(s.manager.AddStep(id, "create_image", "Create source image"))
	s.Require().NoError(s.manager.UpdateStepStatus(id, "create_image", StatusCompleted,
		map[string]interface{}{"image_id": "ami-123"}, ""))
	s.Require().NoError(s.manager.AddStep(id, "create_image", "rewritten description"))

	rec, _ := s.manager.GetMigrationInfo(id)
	s.Equal("Create source image", rec.Steps["create_image"].Description)
	s.Equal("ami-123", rec.Steps["create_image"].Data["image_id"])
}

func (s *ManagerSuite) TestStepOrderIsInsertionOrder() {
	id, err := s.manager.InitializeMigration(ResourceTypeEC2Instance, "i-0abc", nil)
	s.Require().NoError(err)

	for _, name := range []string{"analyze", "create_image", "share_image", "launch"} {
		s.Require().NoError(s.manager.AddStep(id, name, name))
	}

	rec, _ := s.manager.GetMigrationInfo(id)
	s.Equal([]string{"analyze", "create_image", "share_image", "launch"}, rec.StepOrder)
}

func (s *ManagerSuite) TestFailedStepRetryClearsPriorOutcome() {
	id, err := s.manager.InitializeMigration(ResourceTypeEC2Instance, "i-0abc", nil)
	s.Require().NoError(err)

	s.Require().NoError(s.manager.UpdateStepStatus(id, "launch", StatusFailed, nil, "capacity error"))
	rec, _ := s.manager.GetMigrationInfo(id)
	s.Require().NotNil(rec.Steps["launch"].CompletedAt)
	s.Equal("capacity error", rec.Steps["launch"].Error)

	s.Require().NoError(s.manager.UpdateStepStatus(id, "launch", StatusInProgress, nil, ""))
	rec, _ = s.manager.GetMigrationInfo(id)
	s.Nil(rec.Steps["launch"].CompletedAt)
	s.Empty(rec.Steps["launch"].Error)
}

func (s *ManagerSuite) TestResetStepClearsEverything() {
	id, err := s.manager.InitializeMigration(ResourceTypeEC2Instance, "i-0abc", nil)
	s.Require().NoError(err)

	s.Require().NoError(s.manager.UpdateStepStatus(id, "create_image", StatusCompleted,
		map[string]interface{}{"image_id": "ami-123"}, ""))
	s.Require().NoError(s.manager.ResetStep(id, "create_image"))

	rec, _ := s.manager.GetMigrationInfo(id)
	step := rec.Steps["create_image"]
	s.Equal(StatusNotStarted, step.Status)
	s.Empty(step.Data)
	s.Nil(step.StartedAt)
	s.Nil(step.CompletedAt)
	s.False(s.manager.IsStepCompleted(id, "create_image"))
}

func (s *ManagerSuite) TestResetUnknownStepIsNoop() {
	id, err := s.manager.InitializeMigration(ResourceTypeEC2Instance, "i-0abc", nil)
	s.Require().NoError(err)
	s.NoError(s.manager.ResetStep(id, "never-registered"))
}

func (s *ManagerSuite) TestCreatedResourcesAndTarget() {
	id, err := s.manager.InitializeMigration(ResourceTypeEC2Instance, "i-0abc", nil)
	s.Require().NoError(err)

	s.Require().NoError(s.manager.AddCreatedResource(id, "ami", "ami-copy-1", map[string]interface{}{"region": "us-west-2"}))
	s.Require().NoError(s.manager.AddCreatedResource(id, "ec2_instance", "i-0new", nil))
	s.Require().NoError(s.manager.SetTargetResource(id, "i-0new"))

	rec, _ := s.manager.GetMigrationInfo(id)
	s.Require().Len(rec.ResourcesCreated, 2)
	s.Equal("ami", rec.ResourcesCreated[0].Type)
	s.Equal("i-0new", rec.ResourcesCreated[1].ID)
	s.Equal("i-0new", rec.TargetID)
}

func (s *ManagerSuite) TestIncompleteMigrationQueries() {
	id, err := s.manager.InitializeMigration(ResourceTypeEC2Instance, "i-0abc", nil)
	s.Require().NoError(err)

	s.Empty(s.manager.GetIncompleteMigrations(ResourceTypeEC2Instance, "i-0abc"))

	s.Require().NoError(s.manager.UpdateMigrationStatus(id, StatusInProgress, ""))
	s.Equal([]string{id}, s.manager.GetIncompleteMigrations(ResourceTypeEC2Instance, "i-0abc"))

	s.Require().NoError(s.manager.UpdateMigrationStatus(id, StatusFailed, "boom"))
	s.Equal([]string{id}, s.manager.GetIncompleteMigrations(ResourceTypeEC2Instance, "i-0abc"))

	s.Require().NoError(s.manager.UpdateMigrationStatus(id, StatusCompleted, ""))
	s.Empty(s.manager.GetIncompleteMigrations(ResourceTypeEC2Instance, "i-0abc"))

	s.Empty(s.manager.GetIncompleteMigrations(ResourceTypeRDSDatabase, "i-0abc"))
}

func (s *ManagerSuite) TestGetMigrationsByStatus() {
	first, err := s.manager.InitializeMigration(ResourceTypeEC2Instance, "i-1", nil)
	s.Require().NoError(err)
	second, err := s.manager.InitializeMigration(ResourceTypeEC2Instance, "i-2", nil)
	s.Require().NoError(err)
	s.Require().NoError(s.manager.UpdateMigrationStatus(second, StatusInProgress, ""))

	notStarted := s.manager.GetMigrationsByStatus(StatusNotStarted)
	s.Len(notStarted, 1)
	s.Contains(notStarted, first)

	inProgress := s.manager.GetMigrationsByStatus(StatusInProgress)
	s.Len(inProgress, 1)
	s.Contains(inProgress, second)
}

func (s *ManagerSuite) TestCleanCompletedMigrationsHonorsRetention() {
	oldID, err := s.manager.InitializeMigration(ResourceTypeEC2Instance, "i-old", nil)
	s.Require().NoError(err)
	s.Require().NoError(s.manager.UpdateMigrationStatus(oldID, StatusCompleted, ""))

	freshID, err := s.manager.InitializeMigration(ResourceTypeEC2Instance, "i-fresh", nil)
	s.Require().NoError(err)
	s.Require().NoError(s.manager.UpdateMigrationStatus(freshID, StatusCompleted, ""))

	failedID, err := s.manager.InitializeMigration(ResourceTypeEC2Instance, "i-failed", nil)
	s.Require().NoError(err)
	s.Require().NoError(s.manager.UpdateMigrationStatus(failedID, StatusFailed, "boom"))

	// Age the first record past the retention window.
	aged := time.Now().UTC().AddDate(0, 0, -45)
	s.manager.doc.Migrations[oldID].CompletedAt = &aged

	removed, err := s.manager.CleanCompletedMigrations(30)
	s.Require().NoError(err)
	s.Equal(1, removed)

	_, ok := s.manager.GetMigrationInfo(oldID)
	s.False(ok)
	_, ok = s.manager.GetMigrationInfo(freshID)
	s.True(ok)
	_, ok = s.manager.GetMigrationInfo(failedID)
	s.True(ok)
}

func (s *ManagerSuite) TestCleanFallsBackToCreatedAt() {
	id, err := s.manager.InitializeMigration(ResourceTypeEC2Instance, "i-legacy", nil)
	s.Require().NoError(err)
	rec := s.manager.doc.Migrations[id]
	rec.Status = StatusCompleted
	rec.CompletedAt = nil
	rec.CreatedAt = time.Now().UTC().AddDate(0, 0, -90)

	removed, err := s.manager.CleanCompletedMigrations(30)
	s.Require().NoError(err)
	s.Equal(1, removed)
}

func (s *ManagerSuite) TestStateSurvivesReload() {
	id, err := s.manager.InitializeMigration(ResourceTypeEC2Instance, "i-0abc", map[string]interface{}{"az": "us-east-1a"})
	s.Require().NoError(err)
	s.Require().NoError(s.manager.UpdateMigrationStatus(id, StatusInProgress, ""))
	s.Require().NoError(s.manager.UpdateStepStatus(id, "create_image", StatusCompleted,
		map[string]interface{}{"image_id": "ami-123"}, ""))

	reloaded := s.reload()
	s.True(reloaded.IsStepCompleted(id, "create_image"))
	s.Equal("ami-123", reloaded.GetStepData(id, "create_image")["image_id"])

	rec, ok := reloaded.GetMigrationInfo(id)
	s.Require().True(ok)
	s.Equal(StatusInProgress, rec.Status)
	s.Equal("us-east-1a", rec.SourceMetadata["az"])
	s.Equal([]string{"create_image"}, rec.StepOrder)
}

func (s *ManagerSuite) TestReturnedRecordsAreCopies() {
	id, err := s.manager.InitializeMigration(ResourceTypeEC2Instance, "i-0abc", nil)
	s.Require().NoError(err)
	s.Require().NoError(s.manager.UpdateStepStatus(id, "analyze", StatusCompleted,
		map[string]interface{}{"vpc_id": "vpc-1"}, ""))

	rec, _ := s.manager.GetMigrationInfo(id)
	rec.Steps["analyze"].Data["vpc_id"] = "tampered"
	rec.Status = StatusFailed

	fresh, _ := s.manager.GetMigrationInfo(id)
	s.Equal("vpc-1", fresh.Steps["analyze"].Data["vpc_id"])
	s.Equal(StatusNotStarted, fresh.Status)

	data := s.manager.GetStepData(id, "analyze")
	data["vpc_id"] = "tampered"
	s.Equal("vpc-1", s.manager.GetStepData(id, "analyze")["vpc_id"])
}

func (s *ManagerSuite) TestBackupWrittenBeforeOverwrite() {
	id, err := s.manager.InitializeMigration(ResourceTypeEC2Instance, "i-0abc", nil)
	s.Require().NoError(err)

	_, statErr := os.Stat(s.path + BackupSuffix)
	s.True(os.IsNotExist(statErr))

	s.Require().NoError(s.manager.UpdateMigrationStatus(id, StatusInProgress, ""))
	_, statErr = os.Stat(s.path + BackupSuffix)
	s.NoError(statErr)
}
