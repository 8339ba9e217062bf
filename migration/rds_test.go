package migration

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/accountmover/accountmover/cloud"
	"github.com/accountmover/accountmover/state"
)

type RDSPlannerSuite struct {
	suite.Suite
	ctx   context.Context
	tc    *testClients
	store *state.Manager
}

func TestRDSPlannerSuite(t *testing.T) {
	suite.Run(t, new(RDSPlannerSuite))
}

func (s *RDSPlannerSuite) SetupTest() {
	s.ctx = context.Background()
	s.tc = newTestClients("us-east-1", "us-east-1")

	store, err := state.NewFileManager(filepath.Join(s.T().TempDir(), "state.json"))
	s.Require().NoError(err)
	s.store = store
}

func (s *RDSPlannerSuite) seedDatabase(kmsKeyID string) {
	s.tc.sourceRDS.DBInstances["prod-db"] = &cloud.DBInstance{
		ID:                      "prod-db",
		ARN:                     "arn:aws:rds:us-east-1:" + testSourceAccount + ":db:prod-db",
		Class:                   "db.r5.large",
		Engine:                  "postgres",
		EngineVersion:           "15.4",
		Status:                  cloud.DBStatusAvailable,
		AllocatedStorage:        100,
		MultiAZ:                 true,
		Encrypted:               kmsKeyID != "",
		KMSKeyID:                kmsKeyID,
		SubnetGroup:             "prod-subnets",
		AutoMinorVersionUpgrade: true,
		Tags:                    map[string]string{"env": "prod"},
	}
}

func (s *RDSPlannerSuite) planner() *RDSPlanner {
	return NewRDSPlanner(s.tc.clients, s.store, RDSPlannerOptions{
		DatabaseID:   "prod-db",
		SubnetGroup:  "target-subnets",
		WaitInterval: time.Millisecond,
		WaitAttempts: 3,
	})
}

func (s *RDSPlannerSuite) run() *state.MigrationRecord {
	exec, err := s.planner().Prepare(s.ctx)
	s.Require().NoError(err)
	s.Require().NoError(exec.Run(s.ctx))
	rec, ok := s.store.GetMigrationInfo(exec.MigrationID())
	s.Require().True(ok)
	return rec
}

func (s *RDSPlannerSuite) resolution(rec *state.MigrationRecord) *keyResolution {
	resolution := &keyResolution{}
	s.Require().NoError(decodeStepData(rec.Step("resolve_encryption_key").Data, resolution))
	return resolution
}

func (s *RDSPlannerSuite) TestUnencryptedDatabaseEndToEnd() {
	s.seedDatabase("")
	rec := s.run()

	s.Equal(state.StatusCompleted, rec.Status)
	s.Equal("prod-db-migrated", rec.TargetID)

	replica, err := s.tc.targetRDS.GetDBInstance(s.ctx, "prod-db-migrated")
	s.Require().NoError(err)
	s.Equal("db.r5.large", replica.Class)
	s.True(replica.MultiAZ)
	s.True(replica.AutoMinorVersionUpgrade)
	s.Equal("target-subnets", replica.SubnetGroup)
	s.Equal("prod-db", replica.Tags["MigratedFrom"])
	s.False(replica.Encrypted)

	resolution := s.resolution(rec)
	s.False(resolution.Encrypted)
	s.Empty(s.tc.sourceKMS.Grants)

	skipped, _ := rec.Step("reencrypt_snapshot").Data["skipped"].(bool)
	s.True(skipped)
}

func (s *RDSPlannerSuite) TestCustomerManagedKeySharedViaGrant() {
	key := s.tc.sourceKMS.SeedKey("key-prod", cloud.KeyManagerCustomer, "")
	s.seedDatabase(key.ID)
	rec := s.run()

	resolution := s.resolution(rec)
	s.True(resolution.Encrypted)
	s.False(resolution.ReencryptRequired)
	s.Equal("grant", resolution.SharedVia)

	// The source key was granted to the target account and a migration key
	// was minted on the target side.
	s.Require().Len(s.tc.sourceKMS.Grants, 1)
	s.Equal("key-prod", s.tc.sourceKMS.Grants[0].KeyID)
	s.Equal(testTargetAccount, s.tc.sourceKMS.Grants[0].AccountID)

	targetKey, err := s.tc.targetKMS.FindKeyByAlias(s.ctx, "alias/prod-db-migration")
	s.Require().NoError(err)
	s.Require().NotNil(targetKey)
	s.Equal(targetKey.ID, resolution.TargetKeyID)

	replica, err := s.tc.targetRDS.GetDBInstance(s.ctx, "prod-db-migrated")
	s.Require().NoError(err)
	s.True(replica.Encrypted)
	s.Equal(targetKey.ID, replica.KMSKeyID)

	skipped, _ := rec.Step("reencrypt_snapshot").Data["skipped"].(bool)
	s.True(skipped)
}

func (s *RDSPlannerSuite) TestGrantRejectedFallsBackToKeyPolicy() {
	key := s.tc.sourceKMS.SeedKey("key-prod", cloud.KeyManagerCustomer, "")
	s.seedDatabase(key.ID)
	s.tc.sourceKMS.FailOps["CreateGrant"] = &cloud.APIError{
		Op: "kms.CreateGrant", Code: "AccessDeniedException",
	}
	rec := s.run()

	resolution := s.resolution(rec)
	s.Equal("policy", resolution.SharedVia)
	s.Empty(s.tc.sourceKMS.Grants)

	policy, err := s.tc.sourceKMS.GetKeyPolicy(s.ctx, "key-prod")
	s.Require().NoError(err)
	s.Contains(policy, "AllowMigrationTargetAccount")
	s.Contains(policy, testTargetAccount)
}

func (s *RDSPlannerSuite) TestAWSManagedKeyForcesReencryption() {
	sourceKey := s.tc.sourceKMS.SeedKey("key-aws-rds", cloud.KeyManagerAWS, "alias/aws/rds")
	targetDefault := s.tc.targetKMS.SeedKey("key-aws-rds-target", cloud.KeyManagerAWS, "alias/aws/rds")
	s.seedDatabase(sourceKey.ID)
	rec := s.run()

	resolution := s.resolution(rec)
	s.True(resolution.ReencryptRequired)
	s.Equal(targetDefault.ID, resolution.TargetKeyID)
	s.Empty(resolution.SharedVia)

	// An intermediate customer key was minted in the source account, granted
	// to the target, and used to re-encrypt the snapshot before sharing.
	intermediate, err := s.tc.sourceKMS.FindKeyByAlias(s.ctx, "alias/prod-db-migration")
	s.Require().NoError(err)
	s.Require().NotNil(intermediate)
	s.Require().Len(s.tc.sourceKMS.Grants, 1)
	s.Equal(intermediate.ID, s.tc.sourceKMS.Grants[0].KeyID)

	reencryptedID, _ := rec.Step("reencrypt_snapshot").Data["reencrypted_snapshot_id"].(string)
	s.Require().NotEmpty(reencryptedID)
	s.True(strings.HasSuffix(reencryptedID, "-reencrypted"))
	reencrypted, err := s.tc.sourceRDS.GetDBSnapshot(s.ctx, reencryptedID)
	s.Require().NoError(err)
	s.Equal(intermediate.ID, reencrypted.KMSKeyID)
	s.Contains(s.tc.sourceRDS.SharedSnapshots[reencryptedID], testTargetAccount)

	replica, err := s.tc.targetRDS.GetDBInstance(s.ctx, "prod-db-migrated")
	s.Require().NoError(err)
	s.Equal(targetDefault.ID, replica.KMSKeyID)
}

func (s *RDSPlannerSuite) TestExplicitTargetKeySkipsKeyMinting() {
	sourceKey := s.tc.sourceKMS.SeedKey("key-prod", cloud.KeyManagerCustomer, "")
	chosen := s.tc.targetKMS.SeedKey("key-chosen", cloud.KeyManagerCustomer, "")
	s.seedDatabase(sourceKey.ID)

	planner := NewRDSPlanner(s.tc.clients, s.store, RDSPlannerOptions{
		DatabaseID:   "prod-db",
		SubnetGroup:  "target-subnets",
		TargetKMSKey: chosen.ID,
		WaitInterval: time.Millisecond,
		WaitAttempts: 3,
	})
	exec, err := planner.Prepare(s.ctx)
	s.Require().NoError(err)
	s.Require().NoError(exec.Run(s.ctx))
	rec, _ := s.store.GetMigrationInfo(exec.MigrationID())

	resolution := s.resolution(rec)
	s.Equal(chosen.ID, resolution.TargetKeyID)
	s.False(resolution.ReencryptRequired)

	// No migration key alias was minted on the target side.
	minted, err := s.tc.targetKMS.FindKeyByAlias(s.ctx, "alias/prod-db-migration")
	s.Require().NoError(err)
	s.Nil(minted)

	replica, err := s.tc.targetRDS.GetDBInstance(s.ctx, "prod-db-migrated")
	s.Require().NoError(err)
	s.Equal(chosen.ID, replica.KMSKeyID)
}

func (s *RDSPlannerSuite) TestResumeReusesSnapshots() {
	s.seedDatabase("")
	first := s.run()

	s.tc.sourceRDS.FailOps["CreateDBSnapshot"] = &cloud.APIError{
		Op: "rds.CreateDBSnapshot", Code: "SnapshotQuotaExceeded",
	}
	second := s.run()

	s.Equal(first.TargetID, second.TargetID)
	s.Len(s.tc.targetRDS.DBInstances, 1)
}
