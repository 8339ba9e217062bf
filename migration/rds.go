package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"

	"github.com/accountmover/accountmover"
	"github.com/accountmover/accountmover/cloud"
	"github.com/accountmover/accountmover/state"
)

// AWSManagedRDSAlias is the AWS-managed default RDS encryption key alias.
const AWSManagedRDSAlias = "alias/aws/rds"

// RDSPlannerOptions configures one database migration.
type RDSPlannerOptions struct {
	DatabaseID  string
	SubnetGroup string
	// TargetKMSKey, when set, is used to encrypt the restored database
	// instead of resolving a key automatically.
	TargetKMSKey           string
	TargetSecurityGroupIDs []string
	WaitInterval           time.Duration
	WaitAttempts           int
}

func (o *RDSPlannerOptions) Validate() error {
	if o.DatabaseID == "" {
		return errors.New("database id must not be empty")
	}
	if o.SubnetGroup == "" {
		return errors.New("target subnet group must not be empty")
	}
	return nil
}

// RDSPlanner replicates a single RDS instance into the target account by
// snapshotting it, arranging cross-account access to the encryption key (or
// re-encrypting when the source key is AWS-managed and cannot be shared),
// copying the snapshot across, and restoring it.
type RDSPlanner struct {
	clients     *cloud.Clients
	store       *state.Manager
	opts        RDSPlannerOptions
	migrationID string
}

func NewRDSPlanner(clients *cloud.Clients, store *state.Manager, opts RDSPlannerOptions) *RDSPlanner {
	return &RDSPlanner{clients: clients, store: store, opts: opts}
}

type databaseAnalysis struct {
	ARN                     string            `json:"arn"`
	Class                   string            `json:"class"`
	Engine                  string            `json:"engine"`
	EngineVersion           string            `json:"engine_version"`
	AllocatedStorage        int64             `json:"allocated_storage"`
	MultiAZ                 bool              `json:"multi_az"`
	Encrypted               bool              `json:"encrypted"`
	KMSKeyID                string            `json:"kms_key_id"`
	SubnetGroup             string            `json:"subnet_group"`
	PubliclyAccessible      bool              `json:"publicly_accessible"`
	DeletionProtection      bool              `json:"deletion_protection"`
	AutoMinorVersionUpgrade bool              `json:"auto_minor_version_upgrade"`
	Tags                    map[string]string `json:"tags"`
}

type keyResolution struct {
	Encrypted bool `json:"encrypted"`
	// TargetKeyID encrypts the snapshot copy in the target account.
	TargetKeyID string `json:"target_key_id"`
	// ReencryptRequired is set when the source key is AWS-managed: it cannot
	// be shared, so the snapshot must first be re-encrypted in the source
	// account under a shareable customer key.
	ReencryptRequired bool `json:"reencrypt_required"`
	// SharedVia records how the target account got access to the source key:
	// "grant" or "policy".
	SharedVia string `json:"shared_via,omitempty"`
}

// Prepare resolves the source database, initializes (or resumes) the
// migration record, and returns the executor for the full step sequence.
func (p *RDSPlanner) Prepare(ctx context.Context) (*Executor, error) {
	if err := p.opts.Validate(); err != nil {
		return nil, err
	}

	database, err := p.clients.SourceRDS.GetDBInstance(ctx, p.opts.DatabaseID)
	if err != nil {
		return nil, errors.Wrapf(err, "describing source database '%s'", p.opts.DatabaseID)
	}

	migrationID, err := p.store.InitializeMigration(state.ResourceTypeRDSDatabase, p.opts.DatabaseID, map[string]interface{}{
		"engine":    database.Engine,
		"class":     database.Class,
		"encrypted": database.Encrypted,
	})
	if err != nil {
		return nil, err
	}
	p.migrationID = migrationID

	return NewExecutor(p.store, migrationID, p.steps()), nil
}

func (p *RDSPlanner) steps() []Step {
	return []Step{
		{
			Name:        "analyze_database",
			Description: "Capture the source database's configuration",
			Run:         p.analyzeDatabase,
		},
		{
			Name:        "resolve_encryption_key",
			Description: "Determine the target-side encryption key and arrange cross-account access",
			Run:         p.resolveEncryptionKey,
		},
		{
			Name:        "create_snapshot",
			Description: "Snapshot the source database",
			Run:         p.createSnapshot,
			Validate:    p.validateSnapshot(func() cloud.RDSClient { return p.clients.SourceRDS }, "snapshot_id"),
		},
		{
			Name:        "wait_snapshot",
			Description: "Wait for the source snapshot to become available",
			Run:         p.waitSnapshot,
		},
		{
			Name:        "reencrypt_snapshot",
			Description: "Re-encrypt the snapshot under a shareable key when the source key is AWS-managed",
			Run:         p.reencryptSnapshot,
			Validate:    p.validateReencrypted,
		},
		{
			Name:        "share_snapshot",
			Description: "Share the snapshot with the target account",
			Run:         p.shareSnapshot,
		},
		{
			Name:        "copy_snapshot",
			Description: "Copy the shared snapshot into the target account under the resolved key",
			Run:         p.copySnapshot,
			Validate:    p.validateSnapshot(func() cloud.RDSClient { return p.clients.TargetRDS }, "target_snapshot_id"),
		},
		{
			Name:        "wait_target_snapshot",
			Description: "Wait for the copied snapshot to become available",
			Run:         p.waitTargetSnapshot,
		},
		{
			Name:        "restore_instance",
			Description: "Restore the replica database from the copied snapshot",
			Run:         p.restoreInstance,
			Validate:    p.validateDatabase,
		},
		{
			Name:        "wait_database_available",
			Description: "Wait for the replica database to become available",
			Run:         p.waitDatabase,
		},
	}
}

func (p *RDSPlanner) analysis() (*databaseAnalysis, error) {
	analysis := &databaseAnalysis{}
	data := p.store.GetStepData(p.migrationID, "analyze_database")
	if len(data) == 0 {
		return nil, errors.New("database analysis is not recorded")
	}
	if err := decodeStepData(data, analysis); err != nil {
		return nil, err
	}
	return analysis, nil
}

func (p *RDSPlanner) resolution() (*keyResolution, error) {
	resolution := &keyResolution{}
	data := p.store.GetStepData(p.migrationID, "resolve_encryption_key")
	if len(data) == 0 {
		return nil, errors.New("encryption key resolution is not recorded")
	}
	if err := decodeStepData(data, resolution); err != nil {
		return nil, err
	}
	return resolution, nil
}

func (p *RDSPlanner) analyzeDatabase(ctx context.Context) (map[string]interface{}, error) {
	database, err := p.clients.SourceRDS.GetDBInstance(ctx, p.opts.DatabaseID)
	if err != nil {
		return nil, errors.Wrap(err, "describing source database")
	}
	return encodeStepData(&databaseAnalysis{
		ARN:                     database.ARN,
		Class:                   database.Class,
		Engine:                  database.Engine,
		EngineVersion:           database.EngineVersion,
		AllocatedStorage:        database.AllocatedStorage,
		MultiAZ:                 database.MultiAZ,
		Encrypted:               database.Encrypted,
		KMSKeyID:                database.KMSKeyID,
		SubnetGroup:             database.SubnetGroup,
		PubliclyAccessible:      database.PubliclyAccessible,
		DeletionProtection:      database.DeletionProtection,
		AutoMinorVersionUpgrade: database.AutoMinorVersionUpgrade,
		Tags:                    database.Tags,
	})
}

func (p *RDSPlanner) resolveEncryptionKey(ctx context.Context) (map[string]interface{}, error) {
	analysis, err := p.analysis()
	if err != nil {
		return nil, err
	}
	if !analysis.Encrypted {
		return encodeStepData(&keyResolution{Encrypted: false})
	}

	sourceKey, err := p.clients.SourceKMS.DescribeKey(ctx, analysis.KMSKeyID)
	if err != nil {
		return nil, errors.Wrap(err, "describing source encryption key")
	}

	if p.opts.TargetKMSKey != "" {
		key, err := p.clients.TargetKMS.DescribeKey(ctx, p.opts.TargetKMSKey)
		if err != nil {
			return nil, errors.Wrapf(err, "describing requested target key '%s'", p.opts.TargetKMSKey)
		}
		resolution := &keyResolution{Encrypted: true, TargetKeyID: key.ID, ReencryptRequired: sourceKey.AWSManaged()}
		if resolution.ReencryptRequired {
			return encodeStepData(resolution)
		}
		return p.finishResolution(ctx, analysis, resolution)
	}

	if sourceKey.AWSManaged() {
		// The default RDS key cannot leave its account. Use the target's
		// default RDS key and force the re-encryption hop.
		targetKey, err := p.clients.TargetKMS.DescribeKey(ctx, AWSManagedRDSAlias)
		if err != nil {
			return nil, errors.Wrap(err, "describing target default RDS key")
		}
		return encodeStepData(&keyResolution{
			Encrypted:         true,
			TargetKeyID:       targetKey.ID,
			ReencryptRequired: true,
		})
	}

	alias := fmt.Sprintf("alias/%s-migration", p.opts.DatabaseID)
	targetKey, err := p.clients.TargetKMS.FindKeyByAlias(ctx, alias)
	if err != nil {
		return nil, errors.Wrap(err, "looking up migration key in target account")
	}
	if targetKey == nil {
		targetKey, err = p.clients.TargetKMS.CreateKey(ctx,
			fmt.Sprintf("Encryption key for database migrated from %s", p.opts.DatabaseID),
			map[string]string{accountmover.MigratedFromTag: p.opts.DatabaseID})
		if err != nil {
			return nil, errors.Wrap(err, "creating migration key in target account")
		}
		if err := p.clients.TargetKMS.CreateAlias(ctx, alias, targetKey.ID); err != nil && !cloud.IsDuplicateResource(err) {
			return nil, errors.Wrap(err, "aliasing migration key")
		}
		if err := p.store.AddCreatedResource(p.migrationID, "kms_key", targetKey.ID, map[string]interface{}{
			"alias":   alias,
			"account": p.clients.Target.ID,
		}); err != nil {
			return nil, err
		}
	}

	resolution := &keyResolution{Encrypted: true, TargetKeyID: targetKey.ID}
	return p.finishResolution(ctx, analysis, resolution)
}

// finishResolution arranges target-account access to the customer-managed
// source key, preferring a grant and falling back to a key policy statement
// when grants are rejected.
func (p *RDSPlanner) finishResolution(ctx context.Context, analysis *databaseAnalysis, resolution *keyResolution) (map[string]interface{}, error) {
	err := p.clients.SourceKMS.CreateGrant(ctx, analysis.KMSKeyID, p.clients.Target.ID, cloud.CrossAccountKeyOperations)
	if err == nil {
		resolution.SharedVia = "grant"
		return encodeStepData(resolution)
	}
	if !cloud.IsAccessDenied(err) {
		return nil, errors.Wrap(err, "granting source key to the target account")
	}

	grip.Warning(message.Fields{
		"message":   "key grant rejected, falling back to a key policy statement",
		"migration": p.migrationID,
		"key":       analysis.KMSKeyID,
	})
	policy, err := p.clients.SourceKMS.GetKeyPolicy(ctx, analysis.KMSKeyID)
	if err != nil {
		return nil, errors.Wrap(err, "reading source key policy")
	}
	updated, err := addAccountToKeyPolicy(policy, p.clients.Target.ID)
	if err != nil {
		return nil, err
	}
	if err := p.clients.SourceKMS.PutKeyPolicy(ctx, analysis.KMSKeyID, updated); err != nil {
		return nil, errors.Wrap(err, "updating source key policy")
	}
	resolution.SharedVia = "policy"
	return encodeStepData(resolution)
}

func (p *RDSPlanner) createSnapshot(ctx context.Context) (map[string]interface{}, error) {
	snapshotID := fmt.Sprintf("%s-migration-%s", p.opts.DatabaseID, time.Now().UTC().Format("20060102-150405"))
	snapshot, err := p.clients.SourceRDS.CreateDBSnapshot(ctx, p.opts.DatabaseID, snapshotID, map[string]string{
		accountmover.MigratedFromTag: p.opts.DatabaseID,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating source snapshot")
	}
	if err := p.store.AddCreatedResource(p.migrationID, "db_snapshot", snapshot.ID, map[string]interface{}{
		"account": p.clients.Source.ID,
		"arn":     snapshot.ARN,
	}); err != nil {
		return nil, err
	}
	return map[string]interface{}{"snapshot_id": snapshot.ID, "snapshot_arn": snapshot.ARN}, nil
}

func (p *RDSPlanner) validateSnapshot(client func() cloud.RDSClient, key string) func(context.Context, map[string]interface{}) (bool, error) {
	return func(ctx context.Context, data map[string]interface{}) (bool, error) {
		snapshotID, _ := data[key].(string)
		if snapshotID == "" {
			return false, nil
		}
		if _, err := client().GetDBSnapshot(ctx, snapshotID); err != nil {
			if cloud.IsResourceNotFound(err) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	}
}

func (p *RDSPlanner) waitSnapshot(ctx context.Context) (map[string]interface{}, error) {
	snapshotID, err := p.cachedString("create_snapshot", "snapshot_id")
	if err != nil {
		return nil, err
	}
	if err := p.waitForSnapshot(ctx, p.clients.SourceRDS, snapshotID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"snapshot_status": cloud.DBSnapshotAvailable}, nil
}

func (p *RDSPlanner) waitForSnapshot(ctx context.Context, client cloud.RDSClient, snapshotID string) error {
	return cloud.Wait(ctx, cloud.WaitSpec{
		Resource:    "database snapshot",
		ID:          snapshotID,
		Interval:    p.opts.WaitInterval,
		MaxAttempts: p.opts.WaitAttempts,
	}, func(ctx context.Context) (bool, error) {
		snapshot, err := client.GetDBSnapshot(ctx, snapshotID)
		if err != nil {
			return false, err
		}
		return snapshot.Status == cloud.DBSnapshotAvailable, nil
	})
}

func (p *RDSPlanner) reencryptSnapshot(ctx context.Context) (map[string]interface{}, error) {
	resolution, err := p.resolution()
	if err != nil {
		return nil, err
	}
	if !resolution.Encrypted || !resolution.ReencryptRequired {
		return map[string]interface{}{"skipped": true}, nil
	}

	alias := fmt.Sprintf("alias/%s-migration", p.opts.DatabaseID)
	intermediateKey, err := p.clients.SourceKMS.FindKeyByAlias(ctx, alias)
	if err != nil {
		return nil, errors.Wrap(err, "looking up intermediate key in source account")
	}
	if intermediateKey == nil {
		intermediateKey, err = p.clients.SourceKMS.CreateKey(ctx,
			fmt.Sprintf("Shareable re-encryption key for %s", p.opts.DatabaseID),
			map[string]string{accountmover.MigratedFromTag: p.opts.DatabaseID})
		if err != nil {
			return nil, errors.Wrap(err, "creating intermediate key in source account")
		}
		if err := p.clients.SourceKMS.CreateAlias(ctx, alias, intermediateKey.ID); err != nil && !cloud.IsDuplicateResource(err) {
			return nil, errors.Wrap(err, "aliasing intermediate key")
		}
		if err := p.store.AddCreatedResource(p.migrationID, "kms_key", intermediateKey.ID, map[string]interface{}{
			"alias":   alias,
			"account": p.clients.Source.ID,
		}); err != nil {
			return nil, err
		}
	}
	if err := p.clients.SourceKMS.CreateGrant(ctx, intermediateKey.ID, p.clients.Target.ID, cloud.CrossAccountKeyOperations); err != nil {
		return nil, errors.Wrap(err, "granting intermediate key to the target account")
	}

	sourceSnapshotID, err := p.cachedString("create_snapshot", "snapshot_id")
	if err != nil {
		return nil, err
	}
	reencryptedID := sourceSnapshotID + "-reencrypted"
	snapshot, err := p.clients.SourceRDS.CopyDBSnapshot(ctx, cloud.CopyDBSnapshotOptions{
		SourceSnapshot: sourceSnapshotID,
		TargetID:       reencryptedID,
		KMSKeyID:       intermediateKey.ID,
		Tags:           map[string]string{accountmover.MigratedFromTag: p.opts.DatabaseID},
	})
	if err != nil {
		return nil, errors.Wrap(err, "re-encrypting snapshot")
	}
	if err := p.store.AddCreatedResource(p.migrationID, "db_snapshot", snapshot.ID, map[string]interface{}{
		"account": p.clients.Source.ID,
		"arn":     snapshot.ARN,
	}); err != nil {
		return nil, err
	}
	if err := p.waitForSnapshot(ctx, p.clients.SourceRDS, snapshot.ID); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"reencrypted_snapshot_id":  snapshot.ID,
		"reencrypted_snapshot_arn": snapshot.ARN,
		"intermediate_key_id":      intermediateKey.ID,
	}, nil
}

func (p *RDSPlanner) validateReencrypted(ctx context.Context, data map[string]interface{}) (bool, error) {
	if skipped, _ := data["skipped"].(bool); skipped {
		return true, nil
	}
	snapshotID, _ := data["reencrypted_snapshot_id"].(string)
	if snapshotID == "" {
		return false, nil
	}
	if _, err := p.clients.SourceRDS.GetDBSnapshot(ctx, snapshotID); err != nil {
		if cloud.IsResourceNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// shareableSnapshot returns the id and ARN of the snapshot the target
// account should consume: the re-encrypted copy when one exists, the
// original otherwise.
func (p *RDSPlanner) shareableSnapshot() (id, arn string, err error) {
	reencrypted := p.store.GetStepData(p.migrationID, "reencrypt_snapshot")
	if snapshotID, _ := reencrypted["reencrypted_snapshot_id"].(string); snapshotID != "" {
		snapshotARN, _ := reencrypted["reencrypted_snapshot_arn"].(string)
		return snapshotID, snapshotARN, nil
	}
	id, err = p.cachedString("create_snapshot", "snapshot_id")
	if err != nil {
		return "", "", err
	}
	arn, err = p.cachedString("create_snapshot", "snapshot_arn")
	return id, arn, err
}

func (p *RDSPlanner) shareSnapshot(ctx context.Context) (map[string]interface{}, error) {
	snapshotID, _, err := p.shareableSnapshot()
	if err != nil {
		return nil, err
	}
	if err := p.clients.SourceRDS.ShareDBSnapshot(ctx, snapshotID, p.clients.Target.ID); err != nil {
		return nil, errors.Wrap(err, "sharing snapshot with the target account")
	}
	return map[string]interface{}{"shared_snapshot_id": snapshotID, "shared_with": p.clients.Target.ID}, nil
}

func (p *RDSPlanner) copySnapshot(ctx context.Context) (map[string]interface{}, error) {
	resolution, err := p.resolution()
	if err != nil {
		return nil, err
	}
	_, snapshotARN, err := p.shareableSnapshot()
	if err != nil {
		return nil, err
	}

	opts := cloud.CopyDBSnapshotOptions{
		SourceSnapshot: snapshotARN,
		TargetID:       p.opts.DatabaseID + accountmover.MigratedSuffix,
		Tags:           map[string]string{accountmover.MigratedFromTag: p.opts.DatabaseID},
	}
	if resolution.Encrypted {
		opts.KMSKeyID = resolution.TargetKeyID
	}
	if p.clients.CrossRegion() {
		opts.SourceRegion = p.clients.Source.Region
	}

	snapshot, err := p.clients.TargetRDS.CopyDBSnapshot(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "copying snapshot into the target account")
	}
	if err := p.store.AddCreatedResource(p.migrationID, "db_snapshot", snapshot.ID, map[string]interface{}{
		"account": p.clients.Target.ID,
		"arn":     snapshot.ARN,
	}); err != nil {
		return nil, err
	}
	return map[string]interface{}{"target_snapshot_id": snapshot.ID}, nil
}

func (p *RDSPlanner) waitTargetSnapshot(ctx context.Context) (map[string]interface{}, error) {
	snapshotID, err := p.cachedString("copy_snapshot", "target_snapshot_id")
	if err != nil {
		return nil, err
	}
	if err := p.waitForSnapshot(ctx, p.clients.TargetRDS, snapshotID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"snapshot_status": cloud.DBSnapshotAvailable}, nil
}

func (p *RDSPlanner) restoreInstance(ctx context.Context) (map[string]interface{}, error) {
	analysis, err := p.analysis()
	if err != nil {
		return nil, err
	}
	snapshotID, err := p.cachedString("copy_snapshot", "target_snapshot_id")
	if err != nil {
		return nil, err
	}

	tags := cloud.SanitizeTags(analysis.Tags)
	tags[accountmover.MigratedFromTag] = p.opts.DatabaseID
	tags[accountmover.MigrationDateTag] = time.Now().UTC().Format(time.RFC3339)

	replicaID := p.opts.DatabaseID + accountmover.MigratedSuffix
	database, err := p.clients.TargetRDS.RestoreDBInstance(ctx, cloud.RestoreDBInstanceOptions{
		SnapshotID:              snapshotID,
		InstanceID:              replicaID,
		Class:                   analysis.Class,
		SubnetGroup:             p.opts.SubnetGroup,
		SecurityGroupIDs:        p.opts.TargetSecurityGroupIDs,
		MultiAZ:                 analysis.MultiAZ,
		PubliclyAccessible:      analysis.PubliclyAccessible,
		DeletionProtection:      analysis.DeletionProtection,
		AutoMinorVersionUpgrade: analysis.AutoMinorVersionUpgrade,
		Tags:                    tags,
	})
	if err != nil {
		return nil, errors.Wrap(err, "restoring replica database")
	}

	if err := p.store.AddCreatedResource(p.migrationID, "rds_database", database.ID, map[string]interface{}{
		"account": p.clients.Target.ID,
		"arn":     database.ARN,
	}); err != nil {
		return nil, err
	}
	if err := p.store.SetTargetResource(p.migrationID, database.ID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"target_db_id": database.ID}, nil
}

func (p *RDSPlanner) validateDatabase(ctx context.Context, data map[string]interface{}) (bool, error) {
	databaseID, _ := data["target_db_id"].(string)
	if databaseID == "" {
		return false, nil
	}
	if _, err := p.clients.TargetRDS.GetDBInstance(ctx, databaseID); err != nil {
		if cloud.IsResourceNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (p *RDSPlanner) waitDatabase(ctx context.Context) (map[string]interface{}, error) {
	databaseID, err := p.cachedString("restore_instance", "target_db_id")
	if err != nil {
		return nil, err
	}
	err = cloud.Wait(ctx, cloud.WaitSpec{
		Resource:    "database",
		ID:          databaseID,
		Interval:    p.opts.WaitInterval,
		MaxAttempts: p.opts.WaitAttempts,
	}, func(ctx context.Context) (bool, error) {
		database, err := p.clients.TargetRDS.GetDBInstance(ctx, databaseID)
		if err != nil {
			return false, err
		}
		return database.Status == cloud.DBStatusAvailable, nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"database_status": cloud.DBStatusAvailable}, nil
}

func (p *RDSPlanner) cachedString(stepName, key string) (string, error) {
	value, _ := p.store.GetStepData(p.migrationID, stepName)[key].(string)
	if value == "" {
		return "", errors.Errorf("step '%s' did not record '%s'", stepName, key)
	}
	return value, nil
}

// addAccountToKeyPolicy appends a statement allowing the account's root
// principal to use the key for decryption.
func addAccountToKeyPolicy(policy, accountID string) (string, error) {
	parsed := map[string]interface{}{}
	if err := json.Unmarshal([]byte(policy), &parsed); err != nil {
		return "", errors.Wrap(err, "parsing key policy")
	}

	statements, _ := parsed["Statement"].([]interface{})
	statements = append(statements, map[string]interface{}{
		"Sid":    "AllowMigrationTargetAccount",
		"Effect": "Allow",
		"Principal": map[string]interface{}{
			"AWS": fmt.Sprintf("arn:aws:iam::%s:root", accountID),
		},
		"Action":   []string{"kms:Decrypt", "kms:DescribeKey", "kms:CreateGrant"},
		"Resource": "*",
	})
	parsed["Statement"] = statements

	updated, err := json.Marshal(parsed)
	if err != nil {
		return "", errors.Wrap(err, "serializing key policy")
	}
	return string(updated), nil
}
