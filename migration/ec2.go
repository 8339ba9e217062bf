package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"

	"github.com/accountmover/accountmover"
	"github.com/accountmover/accountmover/cloud"
	"github.com/accountmover/accountmover/state"
)

// EC2PlannerOptions configures one instance migration.
type EC2PlannerOptions struct {
	InstanceID   string
	TargetVPC    string
	TargetSubnet string
	// TargetKeyName overrides the source instance's key pair, which usually
	// does not exist in the target account.
	TargetKeyName string
	WaitInterval  time.Duration
	WaitAttempts  int
}

func (o *EC2PlannerOptions) Validate() error {
	if o.InstanceID == "" {
		return errors.New("instance id must not be empty")
	}
	if o.TargetVPC == "" || o.TargetSubnet == "" {
		return errors.New("target vpc and subnet must not be empty")
	}
	return nil
}

// EC2Planner replicates a single EC2 instance into the target account by
// imaging it, sharing the image and its backing snapshots, copying the image
// across, rebuilding its security groups, and launching a replica.
type EC2Planner struct {
	clients     *cloud.Clients
	store       *state.Manager
	opts        EC2PlannerOptions
	migrationID string
}

func NewEC2Planner(clients *cloud.Clients, store *state.Manager, opts EC2PlannerOptions) *EC2Planner {
	return &EC2Planner{clients: clients, store: store, opts: opts}
}

type instanceAnalysis struct {
	InstanceType     string            `json:"instance_type"`
	ImageID          string            `json:"image_id"`
	KeyName          string            `json:"key_name"`
	VPCID            string            `json:"vpc_id"`
	SubnetID         string            `json:"subnet_id"`
	AvailabilityZone string            `json:"availability_zone"`
	SecurityGroupIDs []string          `json:"security_group_ids"`
	Monitoring       bool              `json:"monitoring"`
	UserData         string            `json:"user_data"`
	Name             string            `json:"name"`
	Tags             map[string]string `json:"tags"`
	HasElasticIP     bool              `json:"has_elastic_ip"`
}

// Prepare resolves the source instance, initializes (or resumes) the
// migration record, and returns the executor for the full step sequence.
func (p *EC2Planner) Prepare(ctx context.Context) (*Executor, error) {
	if err := p.opts.Validate(); err != nil {
		return nil, err
	}

	instance, err := p.clients.SourceEC2.GetInstance(ctx, p.opts.InstanceID)
	if err != nil {
		return nil, errors.Wrapf(err, "describing source instance '%s'", p.opts.InstanceID)
	}

	migrationID, err := p.store.InitializeMigration(state.ResourceTypeEC2Instance, p.opts.InstanceID, map[string]interface{}{
		"instance_type": instance.Type,
		"name":          cloud.NameTag(instance.Tags),
		"vpc_id":        instance.VPCID,
		"subnet_id":     instance.SubnetID,
	})
	if err != nil {
		return nil, err
	}
	p.migrationID = migrationID

	if incomplete := p.store.GetIncompleteMigrations(state.ResourceTypeEC2Instance, p.opts.InstanceID); len(incomplete) > 0 {
		grip.Info(message.Fields{
			"message":   "resuming incomplete migration",
			"migration": migrationID,
		})
	}

	return NewExecutor(p.store, migrationID, p.steps()), nil
}

func (p *EC2Planner) steps() []Step {
	return []Step{
		{
			Name:        "analyze_instance",
			Description: "Capture the source instance's launch configuration",
			Run:         p.analyzeInstance,
		},
		{
			Name:        "create_image",
			Description: "Create an image of the source instance without rebooting it",
			Run:         p.createImage,
			Validate:    p.validateImage(func() cloud.EC2Client { return p.clients.SourceEC2 }, "image_id"),
		},
		{
			Name:        "wait_source_image",
			Description: "Wait for the source image to become available",
			Run:         p.waitSourceImage,
		},
		{
			Name:        "grant_snapshot_access",
			Description: "Share the image's backing snapshots and encryption keys with the target account",
			Run:         p.grantSnapshotAccess,
		},
		{
			Name:        "share_image",
			Description: "Grant the target account launch permission on the image",
			Run:         p.shareImage,
		},
		{
			Name:        "copy_image",
			Description: "Copy the shared image into the target account",
			Run:         p.copyImage,
			Validate:    p.validateImage(func() cloud.EC2Client { return p.clients.TargetEC2 }, "target_image_id"),
		},
		{
			Name:        "wait_target_image",
			Description: "Wait for the copied image to become available",
			Run:         p.waitTargetImage,
		},
		{
			Name:        "replicate_security_groups",
			Description: "Recreate the instance's security groups in the target VPC",
			Run:         p.replicateSecurityGroups,
			Validate:    p.validateGroups,
		},
		{
			Name:        "launch_instance",
			Description: "Launch the replica instance from the copied image",
			Run:         p.launchInstance,
			Validate:    p.validateInstance,
		},
		{
			Name:        "wait_instance_running",
			Description: "Wait for the replica instance to reach the running state",
			Run:         p.waitInstance,
		},
		{
			Name:        "allocate_address",
			Description: "Allocate and associate an elastic IP when the source instance held one",
			Run:         p.allocateAddress,
		},
	}
}

func (p *EC2Planner) analysis() (*instanceAnalysis, error) {
	analysis := &instanceAnalysis{}
	data := p.store.GetStepData(p.migrationID, "analyze_instance")
	if len(data) == 0 {
		return nil, errors.New("instance analysis is not recorded")
	}
	if err := decodeStepData(data, analysis); err != nil {
		return nil, err
	}
	return analysis, nil
}

func (p *EC2Planner) analyzeInstance(ctx context.Context) (map[string]interface{}, error) {
	instance, err := p.clients.SourceEC2.GetInstance(ctx, p.opts.InstanceID)
	if err != nil {
		return nil, errors.Wrap(err, "describing source instance")
	}
	address, err := p.clients.SourceEC2.GetAddressForInstance(ctx, p.opts.InstanceID)
	if err != nil {
		return nil, errors.Wrap(err, "checking for an elastic ip")
	}

	return encodeStepData(&instanceAnalysis{
		InstanceType:     instance.Type,
		ImageID:          instance.ImageID,
		KeyName:          instance.KeyName,
		VPCID:            instance.VPCID,
		SubnetID:         instance.SubnetID,
		AvailabilityZone: instance.AvailabilityZone,
		SecurityGroupIDs: instance.SecurityGroupIDs,
		Monitoring:       instance.Monitoring,
		UserData:         instance.UserData,
		Name:             cloud.NameTag(instance.Tags),
		Tags:             instance.Tags,
		HasElasticIP:     address != nil,
	})
}

func (p *EC2Planner) createImage(ctx context.Context) (map[string]interface{}, error) {
	name := fmt.Sprintf("%s-migration-%s", p.opts.InstanceID, time.Now().UTC().Format("20060102-150405"))
	imageID, err := p.clients.SourceEC2.CreateImage(ctx, p.opts.InstanceID, name,
		fmt.Sprintf("Migration image of %s", p.opts.InstanceID), true)
	if err != nil {
		return nil, errors.Wrap(err, "creating source image")
	}
	if err := p.store.AddCreatedResource(p.migrationID, "ami", imageID, map[string]interface{}{
		"account": p.clients.Source.ID,
		"name":    name,
	}); err != nil {
		return nil, err
	}
	return map[string]interface{}{"image_id": imageID, "image_name": name}, nil
}

// validateImage builds a validator checking that the image id cached under
// key still exists in the given account.
func (p *EC2Planner) validateImage(client func() cloud.EC2Client, key string) func(context.Context, map[string]interface{}) (bool, error) {
	return func(ctx context.Context, data map[string]interface{}) (bool, error) {
		imageID, _ := data[key].(string)
		if imageID == "" {
			return false, nil
		}
		if _, err := client().GetImage(ctx, imageID); err != nil {
			if cloud.IsResourceNotFound(err) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	}
}

func (p *EC2Planner) waitSourceImage(ctx context.Context) (map[string]interface{}, error) {
	imageID, err := p.cachedString("create_image", "image_id")
	if err != nil {
		return nil, err
	}
	if err := p.waitForImage(ctx, p.clients.SourceEC2, imageID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"image_state": cloud.ImageStateAvailable}, nil
}

func (p *EC2Planner) waitForImage(ctx context.Context, client cloud.EC2Client, imageID string) error {
	return cloud.Wait(ctx, cloud.WaitSpec{
		Resource:    "image",
		ID:          imageID,
		Interval:    p.opts.WaitInterval,
		MaxAttempts: p.opts.WaitAttempts,
	}, func(ctx context.Context) (bool, error) {
		image, err := client.GetImage(ctx, imageID)
		if err != nil {
			return false, err
		}
		if image.State == cloud.ImageStateFailed {
			return false, errors.Errorf("image '%s' entered the failed state", imageID)
		}
		return image.State == cloud.ImageStateAvailable, nil
	})
}

func (p *EC2Planner) grantSnapshotAccess(ctx context.Context) (map[string]interface{}, error) {
	imageID, err := p.cachedString("create_image", "image_id")
	if err != nil {
		return nil, err
	}
	image, err := p.clients.SourceEC2.GetImage(ctx, imageID)
	if err != nil {
		return nil, errors.Wrap(err, "describing source image")
	}

	shared := []string{}
	grantedKeys := []string{}
	for _, mapping := range image.BlockDevices {
		if mapping.SnapshotID == "" {
			continue
		}
		if err := p.clients.SourceEC2.ShareSnapshot(ctx, mapping.SnapshotID, p.clients.Target.ID); err != nil {
			return nil, errors.Wrapf(err, "sharing snapshot '%s'", mapping.SnapshotID)
		}
		shared = append(shared, mapping.SnapshotID)

		if !mapping.Encrypted || mapping.KMSKeyID == "" {
			continue
		}
		key, err := p.clients.SourceKMS.DescribeKey(ctx, mapping.KMSKeyID)
		if err != nil {
			return nil, errors.Wrapf(err, "describing key for snapshot '%s'", mapping.SnapshotID)
		}
		// AWS-managed keys cannot be granted across accounts; the copy on
		// the target side re-encrypts under a target key instead.
		if key.AWSManaged() {
			continue
		}
		if err := p.clients.SourceKMS.CreateGrant(ctx, key.ID, p.clients.Target.ID, cloud.CrossAccountKeyOperations); err != nil {
			return nil, errors.Wrapf(err, "granting key '%s' to the target account", key.ID)
		}
		grantedKeys = append(grantedKeys, key.ID)
	}

	return map[string]interface{}{
		"shared_snapshot_ids": shared,
		"granted_key_ids":     grantedKeys,
	}, nil
}

func (p *EC2Planner) shareImage(ctx context.Context) (map[string]interface{}, error) {
	imageID, err := p.cachedString("create_image", "image_id")
	if err != nil {
		return nil, err
	}
	if err := p.clients.SourceEC2.ShareImage(ctx, imageID, p.clients.Target.ID); err != nil {
		return nil, errors.Wrap(err, "sharing image with the target account")
	}
	return map[string]interface{}{"shared_with": p.clients.Target.ID}, nil
}

func (p *EC2Planner) copyImage(ctx context.Context) (map[string]interface{}, error) {
	imageID, err := p.cachedString("create_image", "image_id")
	if err != nil {
		return nil, err
	}
	name, err := p.cachedString("create_image", "image_name")
	if err != nil {
		return nil, err
	}

	targetImageID, err := p.clients.TargetEC2.CopyImage(ctx, imageID, p.clients.Source.Region,
		name+accountmover.MigratedSuffix, fmt.Sprintf("Migrated copy of %s", imageID))
	if err != nil {
		return nil, errors.Wrap(err, "copying image into the target account")
	}
	if err := p.store.AddCreatedResource(p.migrationID, "ami", targetImageID, map[string]interface{}{
		"account":      p.clients.Target.ID,
		"source_image": imageID,
	}); err != nil {
		return nil, err
	}
	return map[string]interface{}{"target_image_id": targetImageID}, nil
}

func (p *EC2Planner) waitTargetImage(ctx context.Context) (map[string]interface{}, error) {
	imageID, err := p.cachedString("copy_image", "target_image_id")
	if err != nil {
		return nil, err
	}
	if err := p.waitForImage(ctx, p.clients.TargetEC2, imageID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"image_state": cloud.ImageStateAvailable}, nil
}

func (p *EC2Planner) replicateSecurityGroups(ctx context.Context) (map[string]interface{}, error) {
	analysis, err := p.analysis()
	if err != nil {
		return nil, err
	}

	replicator := &groupReplicator{
		source:      p.clients.SourceEC2,
		target:      p.clients.TargetEC2,
		store:       p.store,
		migrationID: p.migrationID,
	}
	result, err := replicator.Replicate(ctx, analysis.SecurityGroupIDs, p.opts.TargetVPC)
	if err != nil {
		return nil, err
	}
	return encodeStepData(result)
}

func (p *EC2Planner) validateGroups(ctx context.Context, data map[string]interface{}) (bool, error) {
	cached := &replicatedGroups{}
	if err := decodeStepData(data, cached); err != nil {
		return false, nil
	}
	if len(cached.GroupMap) == 0 {
		return false, nil
	}
	for _, targetID := range cached.GroupMap {
		if _, err := p.clients.TargetEC2.GetSecurityGroup(ctx, targetID); err != nil {
			if cloud.IsResourceNotFound(err) {
				return false, nil
			}
			return false, err
		}
	}
	return true, nil
}

func (p *EC2Planner) launchInstance(ctx context.Context) (map[string]interface{}, error) {
	analysis, err := p.analysis()
	if err != nil {
		return nil, err
	}
	targetImageID, err := p.cachedString("copy_image", "target_image_id")
	if err != nil {
		return nil, err
	}
	groups := &replicatedGroups{}
	if err := decodeStepData(p.store.GetStepData(p.migrationID, "replicate_security_groups"), groups); err != nil {
		return nil, err
	}

	groupIDs := []string{}
	for _, sourceGroupID := range analysis.SecurityGroupIDs {
		if targetID, ok := groups.GroupMap[sourceGroupID]; ok {
			groupIDs = append(groupIDs, targetID)
		}
	}

	tags := cloud.SanitizeTags(analysis.Tags)
	if analysis.Name != "" {
		tags["Name"] = analysis.Name + accountmover.MigratedSuffix
	}
	tags[accountmover.MigratedFromTag] = p.opts.InstanceID
	tags[accountmover.MigrationDateTag] = time.Now().UTC().Format(time.RFC3339)

	keyName := analysis.KeyName
	if p.opts.TargetKeyName != "" {
		keyName = p.opts.TargetKeyName
	}

	instanceID, err := p.clients.TargetEC2.RunInstance(ctx, cloud.RunInstanceOptions{
		ImageID:          targetImageID,
		InstanceType:     analysis.InstanceType,
		SubnetID:         p.opts.TargetSubnet,
		KeyName:          keyName,
		UserData:         analysis.UserData,
		SecurityGroupIDs: groupIDs,
		Monitoring:       analysis.Monitoring,
		Tags:             tags,
	})
	if err != nil {
		return nil, errors.Wrap(err, "launching replica instance")
	}

	if err := p.store.AddCreatedResource(p.migrationID, "ec2_instance", instanceID, map[string]interface{}{
		"account":   p.clients.Target.ID,
		"subnet_id": p.opts.TargetSubnet,
	}); err != nil {
		return nil, err
	}
	if err := p.store.SetTargetResource(p.migrationID, instanceID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"target_instance_id": instanceID}, nil
}

func (p *EC2Planner) validateInstance(ctx context.Context, data map[string]interface{}) (bool, error) {
	instanceID, _ := data["target_instance_id"].(string)
	if instanceID == "" {
		return false, nil
	}
	if _, err := p.clients.TargetEC2.GetInstance(ctx, instanceID); err != nil {
		if cloud.IsResourceNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (p *EC2Planner) waitInstance(ctx context.Context) (map[string]interface{}, error) {
	instanceID, err := p.cachedString("launch_instance", "target_instance_id")
	if err != nil {
		return nil, err
	}
	err = cloud.Wait(ctx, cloud.WaitSpec{
		Resource:    "instance",
		ID:          instanceID,
		Interval:    p.opts.WaitInterval,
		MaxAttempts: p.opts.WaitAttempts,
	}, func(ctx context.Context) (bool, error) {
		instance, err := p.clients.TargetEC2.GetInstance(ctx, instanceID)
		if err != nil {
			return false, err
		}
		return instance.State == cloud.InstanceStateRunning, nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"instance_state": cloud.InstanceStateRunning}, nil
}

func (p *EC2Planner) allocateAddress(ctx context.Context) (map[string]interface{}, error) {
	analysis, err := p.analysis()
	if err != nil {
		return nil, err
	}
	if !analysis.HasElasticIP {
		return map[string]interface{}{"skipped": true}, nil
	}

	instanceID, err := p.cachedString("launch_instance", "target_instance_id")
	if err != nil {
		return nil, err
	}
	address, err := p.clients.TargetEC2.AllocateAddress(ctx, map[string]string{
		accountmover.MigratedFromTag: p.opts.InstanceID,
	})
	if err != nil {
		return nil, errors.Wrap(err, "allocating elastic ip")
	}
	if err := p.store.AddCreatedResource(p.migrationID, "elastic_ip", address.AllocationID, map[string]interface{}{
		"public_ip": address.PublicIP,
	}); err != nil {
		return nil, err
	}
	if err := p.clients.TargetEC2.AssociateAddress(ctx, address.AllocationID, instanceID); err != nil {
		return nil, errors.Wrap(err, "associating elastic ip")
	}
	return map[string]interface{}{
		"allocation_id": address.AllocationID,
		"public_ip":     address.PublicIP,
	}, nil
}

// cachedString reads a single string out of an earlier step's cached data.
func (p *EC2Planner) cachedString(stepName, key string) (string, error) {
	value, _ := p.store.GetStepData(p.migrationID, stepName)[key].(string)
	if value == "" {
		return "", errors.Errorf("step '%s' did not record '%s'", stepName, key)
	}
	return value, nil
}
