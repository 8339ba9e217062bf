package cloud

import (
	"context"
	"sort"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/rds"
	"github.com/pkg/errors"
)

// CopyDBSnapshotOptions carries one snapshot copy: within an account to
// re-encrypt under a different key, or across accounts from a shared
// snapshot's ARN.
type CopyDBSnapshotOptions struct {
	SourceSnapshot string
	TargetID       string
	KMSKeyID       string
	SourceRegion   string
	Tags           map[string]string
}

// RestoreDBInstanceOptions carries everything needed to restore the replica
// database from the copied snapshot.
type RestoreDBInstanceOptions struct {
	SnapshotID              string
	InstanceID              string
	Class                   string
	SubnetGroup             string
	SecurityGroupIDs        []string
	MultiAZ                 bool
	PubliclyAccessible      bool
	DeletionProtection      bool
	AutoMinorVersionUpgrade bool
	Tags                    map[string]string
}

// RDSClient is the RDS control plane surface the database planner uses.
type RDSClient interface {
	GetDBInstance(ctx context.Context, instanceID string) (*DBInstance, error)
	ListDBInstances(ctx context.Context) ([]DBInstance, error)
	CreateDBSnapshot(ctx context.Context, instanceID, snapshotID string, tags map[string]string) (*DBSnapshot, error)
	GetDBSnapshot(ctx context.Context, snapshotID string) (*DBSnapshot, error)
	CopyDBSnapshot(ctx context.Context, opts CopyDBSnapshotOptions) (*DBSnapshot, error)
	ShareDBSnapshot(ctx context.Context, snapshotID, accountID string) error
	RestoreDBInstance(ctx context.Context, opts RestoreDBInstanceOptions) (*DBInstance, error)
}

type awsRDSClient struct {
	rds *rds.RDS
}

func newRDSClient(s *session.Session) RDSClient {
	return &awsRDSClient{rds: rds.New(s)}
}

func (c *awsRDSClient) GetDBInstance(ctx context.Context, instanceID string) (*DBInstance, error) {
	out, err := c.rds.DescribeDBInstancesWithContext(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: aws.String(instanceID),
	})
	if err != nil {
		return nil, wrapAPIError("rds.DescribeDBInstances", err)
	}
	if len(out.DBInstances) == 0 {
		return nil, &APIError{Op: "rds.DescribeDBInstances", Code: "DBInstanceNotFoundFault",
			Err: errors.Errorf("database '%s' not found", instanceID)}
	}
	return c.convertDBInstance(ctx, out.DBInstances[0])
}

func (c *awsRDSClient) ListDBInstances(ctx context.Context) ([]DBInstance, error) {
	instances := []DBInstance{}
	err := c.rds.DescribeDBInstancesPagesWithContext(ctx, &rds.DescribeDBInstancesInput{},
		func(page *rds.DescribeDBInstancesOutput, _ bool) bool {
			for _, instance := range page.DBInstances {
				converted, err := c.convertDBInstance(ctx, instance)
				if err != nil {
					continue
				}
				instances = append(instances, *converted)
			}
			return true
		})
	if err != nil {
		return nil, wrapAPIError("rds.DescribeDBInstances", err)
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].ID < instances[j].ID })
	return instances, nil
}

func (c *awsRDSClient) convertDBInstance(ctx context.Context, instance *rds.DBInstance) (*DBInstance, error) {
	out := &DBInstance{
		ID:                      aws.StringValue(instance.DBInstanceIdentifier),
		ARN:                     aws.StringValue(instance.DBInstanceArn),
		Class:                   aws.StringValue(instance.DBInstanceClass),
		Engine:                  aws.StringValue(instance.Engine),
		EngineVersion:           aws.StringValue(instance.EngineVersion),
		Status:                  aws.StringValue(instance.DBInstanceStatus),
		AllocatedStorage:        aws.Int64Value(instance.AllocatedStorage),
		StorageType:             aws.StringValue(instance.StorageType),
		MultiAZ:                 aws.BoolValue(instance.MultiAZ),
		Encrypted:               aws.BoolValue(instance.StorageEncrypted),
		KMSKeyID:                aws.StringValue(instance.KmsKeyId),
		PubliclyAccessible:      aws.BoolValue(instance.PubliclyAccessible),
		DeletionProtection:      aws.BoolValue(instance.DeletionProtection),
		AutoMinorVersionUpgrade: aws.BoolValue(instance.AutoMinorVersionUpgrade),
	}
	if instance.DBSubnetGroup != nil {
		out.SubnetGroup = aws.StringValue(instance.DBSubnetGroup.DBSubnetGroupName)
		out.VPCID = aws.StringValue(instance.DBSubnetGroup.VpcId)
	}
	if instance.Endpoint != nil {
		out.Port = aws.Int64Value(instance.Endpoint.Port)
	}
	for _, membership := range instance.VpcSecurityGroups {
		out.SecurityGroupIDs = append(out.SecurityGroupIDs, aws.StringValue(membership.VpcSecurityGroupId))
	}

	tags, err := c.listTags(ctx, out.ARN)
	if err != nil {
		return nil, err
	}
	out.Tags = tags
	return out, nil
}

func (c *awsRDSClient) listTags(ctx context.Context, arn string) (map[string]string, error) {
	if arn == "" {
		return map[string]string{}, nil
	}
	out, err := c.rds.ListTagsForResourceWithContext(ctx, &rds.ListTagsForResourceInput{
		ResourceName: aws.String(arn),
	})
	if err != nil {
		return nil, wrapAPIError("rds.ListTagsForResource", err)
	}
	tags := map[string]string{}
	for _, tag := range out.TagList {
		tags[aws.StringValue(tag.Key)] = aws.StringValue(tag.Value)
	}
	return tags, nil
}

func (c *awsRDSClient) CreateDBSnapshot(ctx context.Context, instanceID, snapshotID string, tags map[string]string) (*DBSnapshot, error) {
	out, err := c.rds.CreateDBSnapshotWithContext(ctx, &rds.CreateDBSnapshotInput{
		DBInstanceIdentifier: aws.String(instanceID),
		DBSnapshotIdentifier: aws.String(snapshotID),
		Tags:                 rdsTags(tags),
	})
	if err != nil {
		return nil, wrapAPIError("rds.CreateDBSnapshot", err)
	}
	return convertDBSnapshot(out.DBSnapshot), nil
}

func (c *awsRDSClient) GetDBSnapshot(ctx context.Context, snapshotID string) (*DBSnapshot, error) {
	out, err := c.rds.DescribeDBSnapshotsWithContext(ctx, &rds.DescribeDBSnapshotsInput{
		DBSnapshotIdentifier: aws.String(snapshotID),
	})
	if err != nil {
		return nil, wrapAPIError("rds.DescribeDBSnapshots", err)
	}
	if len(out.DBSnapshots) == 0 {
		return nil, &APIError{Op: "rds.DescribeDBSnapshots", Code: "DBSnapshotNotFoundFault",
			Err: errors.Errorf("database snapshot '%s' not found", snapshotID)}
	}
	return convertDBSnapshot(out.DBSnapshots[0]), nil
}

func (c *awsRDSClient) CopyDBSnapshot(ctx context.Context, opts CopyDBSnapshotOptions) (*DBSnapshot, error) {
	input := &rds.CopyDBSnapshotInput{
		SourceDBSnapshotIdentifier: aws.String(opts.SourceSnapshot),
		TargetDBSnapshotIdentifier: aws.String(opts.TargetID),
		Tags:                       rdsTags(opts.Tags),
	}
	if opts.KMSKeyID != "" {
		input.KmsKeyId = aws.String(opts.KMSKeyID)
	}
	if opts.SourceRegion != "" {
		input.SourceRegion = aws.String(opts.SourceRegion)
	}
	out, err := c.rds.CopyDBSnapshotWithContext(ctx, input)
	if err != nil {
		return nil, wrapAPIError("rds.CopyDBSnapshot", err)
	}
	return convertDBSnapshot(out.DBSnapshot), nil
}

func (c *awsRDSClient) ShareDBSnapshot(ctx context.Context, snapshotID, accountID string) error {
	_, err := c.rds.ModifyDBSnapshotAttributeWithContext(ctx, &rds.ModifyDBSnapshotAttributeInput{
		DBSnapshotIdentifier: aws.String(snapshotID),
		AttributeName:        aws.String("restore"),
		ValuesToAdd:          []*string{aws.String(accountID)},
	})
	return wrapAPIError("rds.ModifyDBSnapshotAttribute", err)
}

func (c *awsRDSClient) RestoreDBInstance(ctx context.Context, opts RestoreDBInstanceOptions) (*DBInstance, error) {
	input := &rds.RestoreDBInstanceFromDBSnapshotInput{
		DBSnapshotIdentifier:    aws.String(opts.SnapshotID),
		DBInstanceIdentifier:    aws.String(opts.InstanceID),
		DBInstanceClass:         aws.String(opts.Class),
		MultiAZ:                 aws.Bool(opts.MultiAZ),
		PubliclyAccessible:      aws.Bool(opts.PubliclyAccessible),
		DeletionProtection:      aws.Bool(opts.DeletionProtection),
		AutoMinorVersionUpgrade: aws.Bool(opts.AutoMinorVersionUpgrade),
		Tags:                    rdsTags(opts.Tags),
	}
	if opts.SubnetGroup != "" {
		input.DBSubnetGroupName = aws.String(opts.SubnetGroup)
	}
	if len(opts.SecurityGroupIDs) > 0 {
		input.VpcSecurityGroupIds = aws.StringSlice(opts.SecurityGroupIDs)
	}
	out, err := c.rds.RestoreDBInstanceFromDBSnapshotWithContext(ctx, input)
	if err != nil {
		return nil, wrapAPIError("rds.RestoreDBInstanceFromDBSnapshot", err)
	}
	restored, err := c.convertDBInstance(ctx, out.DBInstance)
	if err != nil {
		return nil, err
	}
	return restored, nil
}

func convertDBSnapshot(snapshot *rds.DBSnapshot) *DBSnapshot {
	return &DBSnapshot{
		ID:        aws.StringValue(snapshot.DBSnapshotIdentifier),
		ARN:       aws.StringValue(snapshot.DBSnapshotArn),
		Status:    aws.StringValue(snapshot.Status),
		Encrypted: aws.BoolValue(snapshot.Encrypted),
		KMSKeyID:  aws.StringValue(snapshot.KmsKeyId),
	}
}

func rdsTags(tags map[string]string) []*rds.Tag {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*rds.Tag, 0, len(tags))
	for _, k := range keys {
		out = append(out, &rds.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return out
}
