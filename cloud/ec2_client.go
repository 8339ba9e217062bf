package cloud

import (
	"context"
	"encoding/base64"
	"sort"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/pkg/errors"
)

// RunInstanceOptions carries everything needed to launch a replica instance.
type RunInstanceOptions struct {
	ImageID          string
	InstanceType     string
	SubnetID         string
	KeyName          string
	UserData         string
	SecurityGroupIDs []string
	Monitoring       bool
	Tags             map[string]string
}

// EC2Client is the EC2 control plane surface the planners use, expressed in
// domain types so the AWS SDK never leaks past this package.
type EC2Client interface {
	GetInstance(ctx context.Context, instanceID string) (*Instance, error)
	ListInstances(ctx context.Context, instanceIDs []string) ([]Instance, error)
	RunInstance(ctx context.Context, opts RunInstanceOptions) (string, error)
	CreateTags(ctx context.Context, resourceID string, tags map[string]string) error

	CreateImage(ctx context.Context, instanceID, name, description string, noReboot bool) (string, error)
	GetImage(ctx context.Context, imageID string) (*Image, error)
	CopyImage(ctx context.Context, sourceImageID, sourceRegion, name, description string) (string, error)
	ShareImage(ctx context.Context, imageID, accountID string) error
	GetSnapshot(ctx context.Context, snapshotID string) (*Snapshot, error)
	ShareSnapshot(ctx context.Context, snapshotID, accountID string) error

	GetSecurityGroup(ctx context.Context, groupID string) (*SecurityGroup, error)
	ListSecurityGroups(ctx context.Context, vpcID string) ([]SecurityGroup, error)
	FindSecurityGroupByName(ctx context.Context, vpcID, name string) (*SecurityGroup, error)
	GetDefaultSecurityGroup(ctx context.Context, vpcID string) (*SecurityGroup, error)
	CreateSecurityGroup(ctx context.Context, vpcID, name, description string, tags map[string]string) (string, error)
	AuthorizeIngress(ctx context.Context, groupID string, perms []IPPermission) error
	AuthorizeEgress(ctx context.Context, groupID string, perms []IPPermission) error

	GetAddressForInstance(ctx context.Context, instanceID string) (*Address, error)
	ListAddresses(ctx context.Context) ([]Address, error)
	AllocateAddress(ctx context.Context, tags map[string]string) (*Address, error)
	AssociateAddress(ctx context.Context, allocationID, instanceID string) error
	ListKeyPairs(ctx context.Context) ([]KeyPair, error)

	GetVPC(ctx context.Context, vpcID string) (*VPC, error)
	ListVPCs(ctx context.Context) ([]VPC, error)
	FindVPCByCIDR(ctx context.Context, cidr string) (*VPC, error)
	CreateVPC(ctx context.Context, cidr string, tags map[string]string) (string, error)
	EnableVPCDNS(ctx context.Context, vpcID string) error
	ListSubnets(ctx context.Context, vpcID string) ([]Subnet, error)
	CreateSubnet(ctx context.Context, vpcID, cidr, availabilityZone string, tags map[string]string) (string, error)
	GetAttachedInternetGateway(ctx context.Context, vpcID string) (*InternetGateway, error)
	CreateInternetGateway(ctx context.Context, vpcID string, tags map[string]string) (string, error)
	CreateNatGateway(ctx context.Context, subnetID, allocationID string, tags map[string]string) (string, error)
	GetNatGateway(ctx context.Context, natGatewayID string) (*NatGateway, error)
	ListNatGateways(ctx context.Context, vpcID string) ([]NatGateway, error)
	ListRouteTables(ctx context.Context, vpcID string) ([]RouteTable, error)
	CreateRouteTable(ctx context.Context, vpcID string, tags map[string]string) (string, error)
	CreateRoute(ctx context.Context, routeTableID, destinationCIDR, gatewayID, natGatewayID string) error
	AssociateRouteTable(ctx context.Context, routeTableID, subnetID string) error
	ListNetworkACLs(ctx context.Context, vpcID string) ([]NetworkACL, error)
	CreateNetworkACL(ctx context.Context, vpcID string, tags map[string]string) (string, error)
	CreateNetworkACLEntry(ctx context.Context, aclID string, entry ACLEntry) error
	ReplaceNetworkACLAssociation(ctx context.Context, subnetID, aclID string) error
}

type awsEC2Client struct {
	ec2 *ec2.EC2
}

func newEC2Client(s *session.Session) EC2Client {
	return &awsEC2Client{ec2: ec2.New(s)}
}

func (c *awsEC2Client) GetInstance(ctx context.Context, instanceID string) (*Instance, error) {
	out, err := c.ec2.DescribeInstancesWithContext(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []*string{aws.String(instanceID)},
	})
	if err != nil {
		return nil, wrapAPIError("ec2.DescribeInstances", err)
	}
	for _, reservation := range out.Reservations {
		for _, instance := range reservation.Instances {
			converted, err := c.convertInstance(ctx, instance)
			if err != nil {
				return nil, err
			}
			return converted, nil
		}
	}
	return nil, &APIError{Op: "ec2.DescribeInstances", Code: "InvalidInstanceID.NotFound",
		Err: errors.Errorf("instance '%s' not found", instanceID)}
}

func (c *awsEC2Client) ListInstances(ctx context.Context, instanceIDs []string) ([]Instance, error) {
	input := &ec2.DescribeInstancesInput{}
	if len(instanceIDs) > 0 {
		input.InstanceIds = aws.StringSlice(instanceIDs)
	}

	instances := []Instance{}
	err := c.ec2.DescribeInstancesPagesWithContext(ctx, input, func(page *ec2.DescribeInstancesOutput, _ bool) bool {
		for _, reservation := range page.Reservations {
			for _, instance := range reservation.Instances {
				converted, err := c.convertInstance(ctx, instance)
				if err != nil {
					continue
				}
				instances = append(instances, *converted)
			}
		}
		return true
	})
	if err != nil {
		return nil, wrapAPIError("ec2.DescribeInstances", err)
	}
	return instances, nil
}

func (c *awsEC2Client) convertInstance(ctx context.Context, instance *ec2.Instance) (*Instance, error) {
	out := &Instance{
		ID:      aws.StringValue(instance.InstanceId),
		Type:    aws.StringValue(instance.InstanceType),
		ImageID: aws.StringValue(instance.ImageId),
		KeyName: aws.StringValue(instance.KeyName),
		VPCID:     aws.StringValue(instance.VpcId),
		SubnetID:  aws.StringValue(instance.SubnetId),
		PrivateIP: aws.StringValue(instance.PrivateIpAddress),
		PublicIP:  aws.StringValue(instance.PublicIpAddress),
		Tags:      tagsToMap(instance.Tags),
	}
	if instance.State != nil {
		out.State = aws.StringValue(instance.State.Name)
	}
	if instance.Placement != nil {
		out.AvailabilityZone = aws.StringValue(instance.Placement.AvailabilityZone)
	}
	if instance.Monitoring != nil {
		monitoring := aws.StringValue(instance.Monitoring.State)
		out.Monitoring = monitoring == ec2.MonitoringStateEnabled || monitoring == ec2.MonitoringStatePending
	}
	for _, group := range instance.SecurityGroups {
		out.SecurityGroupIDs = append(out.SecurityGroupIDs, aws.StringValue(group.GroupId))
	}
	for _, mapping := range instance.BlockDeviceMappings {
		device := BlockDevice{DeviceName: aws.StringValue(mapping.DeviceName)}
		if mapping.Ebs != nil {
			device.VolumeID = aws.StringValue(mapping.Ebs.VolumeId)
		}
		out.BlockDevices = append(out.BlockDevices, device)
	}

	attr, err := c.ec2.DescribeInstanceAttributeWithContext(ctx, &ec2.DescribeInstanceAttributeInput{
		InstanceId: instance.InstanceId,
		Attribute:  aws.String(ec2.InstanceAttributeNameUserData),
	})
	if err != nil {
		return nil, wrapAPIError("ec2.DescribeInstanceAttribute", err)
	}
	if attr.UserData != nil && attr.UserData.Value != nil {
		decoded, err := base64.StdEncoding.DecodeString(aws.StringValue(attr.UserData.Value))
		if err == nil {
			out.UserData = string(decoded)
		}
	}
	return out, nil
}

func (c *awsEC2Client) RunInstance(ctx context.Context, opts RunInstanceOptions) (string, error) {
	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(opts.ImageID),
		InstanceType: aws.String(opts.InstanceType),
		SubnetId:     aws.String(opts.SubnetID),
		MinCount:     aws.Int64(1),
		MaxCount:     aws.Int64(1),
		Monitoring:   &ec2.RunInstancesMonitoringEnabled{Enabled: aws.Bool(opts.Monitoring)},
	}
	if opts.KeyName != "" {
		input.KeyName = aws.String(opts.KeyName)
	}
	if opts.UserData != "" {
		input.UserData = aws.String(base64.StdEncoding.EncodeToString([]byte(opts.UserData)))
	}
	if len(opts.SecurityGroupIDs) > 0 {
		input.SecurityGroupIds = aws.StringSlice(opts.SecurityGroupIDs)
	}
	if len(opts.Tags) > 0 {
		input.TagSpecifications = tagSpec(ec2.ResourceTypeInstance, opts.Tags)
	}

	out, err := c.ec2.RunInstancesWithContext(ctx, input)
	if err != nil {
		return "", wrapAPIError("ec2.RunInstances", err)
	}
	if len(out.Instances) == 0 {
		return "", &APIError{Op: "ec2.RunInstances", Err: errors.New("no instance in reservation")}
	}
	return aws.StringValue(out.Instances[0].InstanceId), nil
}

func (c *awsEC2Client) CreateTags(ctx context.Context, resourceID string, tags map[string]string) error {
	if len(tags) == 0 {
		return nil
	}
	_, err := c.ec2.CreateTagsWithContext(ctx, &ec2.CreateTagsInput{
		Resources: []*string{aws.String(resourceID)},
		Tags:      mapToTags(tags),
	})
	return wrapAPIError("ec2.CreateTags", err)
}

func (c *awsEC2Client) CreateImage(ctx context.Context, instanceID, name, description string, noReboot bool) (string, error) {
	out, err := c.ec2.CreateImageWithContext(ctx, &ec2.CreateImageInput{
		InstanceId:  aws.String(instanceID),
		Name:        aws.String(name),
		Description: aws.String(description),
		NoReboot:    aws.Bool(noReboot),
	})
	if err != nil {
		return "", wrapAPIError("ec2.CreateImage", err)
	}
	return aws.StringValue(out.ImageId), nil
}

func (c *awsEC2Client) GetImage(ctx context.Context, imageID string) (*Image, error) {
	out, err := c.ec2.DescribeImagesWithContext(ctx, &ec2.DescribeImagesInput{
		ImageIds: []*string{aws.String(imageID)},
	})
	if err != nil {
		return nil, wrapAPIError("ec2.DescribeImages", err)
	}
	if len(out.Images) == 0 {
		return nil, &APIError{Op: "ec2.DescribeImages", Code: "InvalidAMIID.NotFound",
			Err: errors.Errorf("image '%s' not found", imageID)}
	}

	image := out.Images[0]
	converted := &Image{
		ID:    aws.StringValue(image.ImageId),
		Name:  aws.StringValue(image.Name),
		State: aws.StringValue(image.State),
		Tags:  tagsToMap(image.Tags),
	}
	for _, mapping := range image.BlockDeviceMappings {
		if mapping.Ebs == nil {
			continue
		}
		converted.BlockDevices = append(converted.BlockDevices, ImageMapping{
			DeviceName: aws.StringValue(mapping.DeviceName),
			SnapshotID: aws.StringValue(mapping.Ebs.SnapshotId),
			SizeGiB:    aws.Int64Value(mapping.Ebs.VolumeSize),
			VolumeType: aws.StringValue(mapping.Ebs.VolumeType),
			Encrypted:  aws.BoolValue(mapping.Ebs.Encrypted),
			KMSKeyID:   aws.StringValue(mapping.Ebs.KmsKeyId),
		})
	}
	return converted, nil
}

func (c *awsEC2Client) CopyImage(ctx context.Context, sourceImageID, sourceRegion, name, description string) (string, error) {
	out, err := c.ec2.CopyImageWithContext(ctx, &ec2.CopyImageInput{
		SourceImageId: aws.String(sourceImageID),
		SourceRegion:  aws.String(sourceRegion),
		Name:          aws.String(name),
		Description:   aws.String(description),
	})
	if err != nil {
		return "", wrapAPIError("ec2.CopyImage", err)
	}
	return aws.StringValue(out.ImageId), nil
}

func (c *awsEC2Client) ShareImage(ctx context.Context, imageID, accountID string) error {
	_, err := c.ec2.ModifyImageAttributeWithContext(ctx, &ec2.ModifyImageAttributeInput{
		ImageId: aws.String(imageID),
		LaunchPermission: &ec2.LaunchPermissionModifications{
			Add: []*ec2.LaunchPermission{{UserId: aws.String(accountID)}},
		},
	})
	return wrapAPIError("ec2.ModifyImageAttribute", err)
}

func (c *awsEC2Client) GetSnapshot(ctx context.Context, snapshotID string) (*Snapshot, error) {
	out, err := c.ec2.DescribeSnapshotsWithContext(ctx, &ec2.DescribeSnapshotsInput{
		SnapshotIds: []*string{aws.String(snapshotID)},
	})
	if err != nil {
		return nil, wrapAPIError("ec2.DescribeSnapshots", err)
	}
	if len(out.Snapshots) == 0 {
		return nil, &APIError{Op: "ec2.DescribeSnapshots", Code: "InvalidSnapshot.NotFound",
			Err: errors.Errorf("snapshot '%s' not found", snapshotID)}
	}
	snapshot := out.Snapshots[0]
	return &Snapshot{
		ID:        aws.StringValue(snapshot.SnapshotId),
		State:     aws.StringValue(snapshot.State),
		VolumeID:  aws.StringValue(snapshot.VolumeId),
		SizeGiB:   aws.Int64Value(snapshot.VolumeSize),
		Encrypted: aws.BoolValue(snapshot.Encrypted),
		KMSKeyID:  aws.StringValue(snapshot.KmsKeyId),
	}, nil
}

func (c *awsEC2Client) ShareSnapshot(ctx context.Context, snapshotID, accountID string) error {
	_, err := c.ec2.ModifySnapshotAttributeWithContext(ctx, &ec2.ModifySnapshotAttributeInput{
		SnapshotId: aws.String(snapshotID),
		Attribute:  aws.String(ec2.SnapshotAttributeNameCreateVolumePermission),
		CreateVolumePermission: &ec2.CreateVolumePermissionModifications{
			Add: []*ec2.CreateVolumePermission{{UserId: aws.String(accountID)}},
		},
	})
	return wrapAPIError("ec2.ModifySnapshotAttribute", err)
}

func (c *awsEC2Client) GetSecurityGroup(ctx context.Context, groupID string) (*SecurityGroup, error) {
	out, err := c.ec2.DescribeSecurityGroupsWithContext(ctx, &ec2.DescribeSecurityGroupsInput{
		GroupIds: []*string{aws.String(groupID)},
	})
	if err != nil {
		return nil, wrapAPIError("ec2.DescribeSecurityGroups", err)
	}
	if len(out.SecurityGroups) == 0 {
		return nil, &APIError{Op: "ec2.DescribeSecurityGroups", Code: "InvalidGroup.NotFound",
			Err: errors.Errorf("security group '%s' not found", groupID)}
	}
	return convertSecurityGroup(out.SecurityGroups[0]), nil
}

func (c *awsEC2Client) ListSecurityGroups(ctx context.Context, vpcID string) ([]SecurityGroup, error) {
	out, err := c.ec2.DescribeSecurityGroupsWithContext(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []*ec2.Filter{{Name: aws.String("vpc-id"), Values: []*string{aws.String(vpcID)}}},
	})
	if err != nil {
		return nil, wrapAPIError("ec2.DescribeSecurityGroups", err)
	}
	groups := make([]SecurityGroup, 0, len(out.SecurityGroups))
	for _, group := range out.SecurityGroups {
		groups = append(groups, *convertSecurityGroup(group))
	}
	return groups, nil
}

func (c *awsEC2Client) FindSecurityGroupByName(ctx context.Context, vpcID, name string) (*SecurityGroup, error) {
	out, err := c.ec2.DescribeSecurityGroupsWithContext(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []*ec2.Filter{
			{Name: aws.String("vpc-id"), Values: []*string{aws.String(vpcID)}},
			{Name: aws.String("group-name"), Values: []*string{aws.String(name)}},
		},
	})
	if err != nil {
		return nil, wrapAPIError("ec2.DescribeSecurityGroups", err)
	}
	if len(out.SecurityGroups) == 0 {
		return nil, nil
	}
	return convertSecurityGroup(out.SecurityGroups[0]), nil
}

func (c *awsEC2Client) GetDefaultSecurityGroup(ctx context.Context, vpcID string) (*SecurityGroup, error) {
	group, err := c.FindSecurityGroupByName(ctx, vpcID, "default")
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, &APIError{Op: "ec2.DescribeSecurityGroups", Code: "InvalidGroup.NotFound",
			Err: errors.Errorf("vpc '%s' has no default security group", vpcID)}
	}
	return group, nil
}

func (c *awsEC2Client) CreateSecurityGroup(ctx context.Context, vpcID, name, description string, tags map[string]string) (string, error) {
	input := &ec2.CreateSecurityGroupInput{
		VpcId:       aws.String(vpcID),
		GroupName:   aws.String(name),
		Description: aws.String(description),
	}
	if len(tags) > 0 {
		input.TagSpecifications = tagSpec(ec2.ResourceTypeSecurityGroup, tags)
	}
	out, err := c.ec2.CreateSecurityGroupWithContext(ctx, input)
	if err != nil {
		return "", wrapAPIError("ec2.CreateSecurityGroup", err)
	}
	return aws.StringValue(out.GroupId), nil
}

func (c *awsEC2Client) AuthorizeIngress(ctx context.Context, groupID string, perms []IPPermission) error {
	if len(perms) == 0 {
		return nil
	}
	_, err := c.ec2.AuthorizeSecurityGroupIngressWithContext(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId:       aws.String(groupID),
		IpPermissions: permsToSDK(perms),
	})
	return wrapAPIError("ec2.AuthorizeSecurityGroupIngress", err)
}

func (c *awsEC2Client) AuthorizeEgress(ctx context.Context, groupID string, perms []IPPermission) error {
	if len(perms) == 0 {
		return nil
	}
	_, err := c.ec2.AuthorizeSecurityGroupEgressWithContext(ctx, &ec2.AuthorizeSecurityGroupEgressInput{
		GroupId:       aws.String(groupID),
		IpPermissions: permsToSDK(perms),
	})
	return wrapAPIError("ec2.AuthorizeSecurityGroupEgress", err)
}

func (c *awsEC2Client) GetAddressForInstance(ctx context.Context, instanceID string) (*Address, error) {
	out, err := c.ec2.DescribeAddressesWithContext(ctx, &ec2.DescribeAddressesInput{
		Filters: []*ec2.Filter{{Name: aws.String("instance-id"), Values: []*string{aws.String(instanceID)}}},
	})
	if err != nil {
		return nil, wrapAPIError("ec2.DescribeAddresses", err)
	}
	if len(out.Addresses) == 0 {
		return nil, nil
	}
	return convertAddress(out.Addresses[0]), nil
}

func (c *awsEC2Client) ListAddresses(ctx context.Context) ([]Address, error) {
	out, err := c.ec2.DescribeAddressesWithContext(ctx, &ec2.DescribeAddressesInput{})
	if err != nil {
		return nil, wrapAPIError("ec2.DescribeAddresses", err)
	}
	addresses := make([]Address, 0, len(out.Addresses))
	for _, address := range out.Addresses {
		addresses = append(addresses, *convertAddress(address))
	}
	return addresses, nil
}

func (c *awsEC2Client) AllocateAddress(ctx context.Context, tags map[string]string) (*Address, error) {
	input := &ec2.AllocateAddressInput{Domain: aws.String(ec2.DomainTypeVpc)}
	if len(tags) > 0 {
		input.TagSpecifications = tagSpec(ec2.ResourceTypeElasticIp, tags)
	}
	out, err := c.ec2.AllocateAddressWithContext(ctx, input)
	if err != nil {
		return nil, wrapAPIError("ec2.AllocateAddress", err)
	}
	return &Address{
		AllocationID: aws.StringValue(out.AllocationId),
		PublicIP:     aws.StringValue(out.PublicIp),
	}, nil
}

func (c *awsEC2Client) AssociateAddress(ctx context.Context, allocationID, instanceID string) error {
	_, err := c.ec2.AssociateAddressWithContext(ctx, &ec2.AssociateAddressInput{
		AllocationId: aws.String(allocationID),
		InstanceId:   aws.String(instanceID),
	})
	return wrapAPIError("ec2.AssociateAddress", err)
}

func (c *awsEC2Client) ListKeyPairs(ctx context.Context) ([]KeyPair, error) {
	out, err := c.ec2.DescribeKeyPairsWithContext(ctx, &ec2.DescribeKeyPairsInput{})
	if err != nil {
		return nil, wrapAPIError("ec2.DescribeKeyPairs", err)
	}
	pairs := make([]KeyPair, 0, len(out.KeyPairs))
	for _, pair := range out.KeyPairs {
		pairs = append(pairs, KeyPair{
			Name:        aws.StringValue(pair.KeyName),
			Fingerprint: aws.StringValue(pair.KeyFingerprint),
		})
	}
	return pairs, nil
}

func (c *awsEC2Client) GetVPC(ctx context.Context, vpcID string) (*VPC, error) {
	out, err := c.ec2.DescribeVpcsWithContext(ctx, &ec2.DescribeVpcsInput{
		VpcIds: []*string{aws.String(vpcID)},
	})
	if err != nil {
		return nil, wrapAPIError("ec2.DescribeVpcs", err)
	}
	if len(out.Vpcs) == 0 {
		return nil, &APIError{Op: "ec2.DescribeVpcs", Code: "InvalidVpcID.NotFound",
			Err: errors.Errorf("vpc '%s' not found", vpcID)}
	}
	return convertVPC(out.Vpcs[0]), nil
}

func (c *awsEC2Client) ListVPCs(ctx context.Context) ([]VPC, error) {
	out, err := c.ec2.DescribeVpcsWithContext(ctx, &ec2.DescribeVpcsInput{})
	if err != nil {
		return nil, wrapAPIError("ec2.DescribeVpcs", err)
	}
	vpcs := make([]VPC, 0, len(out.Vpcs))
	for _, vpc := range out.Vpcs {
		vpcs = append(vpcs, *convertVPC(vpc))
	}
	return vpcs, nil
}

func (c *awsEC2Client) FindVPCByCIDR(ctx context.Context, cidr string) (*VPC, error) {
	out, err := c.ec2.DescribeVpcsWithContext(ctx, &ec2.DescribeVpcsInput{
		Filters: []*ec2.Filter{{Name: aws.String("cidr"), Values: []*string{aws.String(cidr)}}},
	})
	if err != nil {
		return nil, wrapAPIError("ec2.DescribeVpcs", err)
	}
	if len(out.Vpcs) == 0 {
		return nil, nil
	}
	return convertVPC(out.Vpcs[0]), nil
}

func (c *awsEC2Client) CreateVPC(ctx context.Context, cidr string, tags map[string]string) (string, error) {
	input := &ec2.CreateVpcInput{CidrBlock: aws.String(cidr)}
	if len(tags) > 0 {
		input.TagSpecifications = tagSpec(ec2.ResourceTypeVpc, tags)
	}
	out, err := c.ec2.CreateVpcWithContext(ctx, input)
	if err != nil {
		return "", wrapAPIError("ec2.CreateVpc", err)
	}
	return aws.StringValue(out.Vpc.VpcId), nil
}

func (c *awsEC2Client) EnableVPCDNS(ctx context.Context, vpcID string) error {
	if _, err := c.ec2.ModifyVpcAttributeWithContext(ctx, &ec2.ModifyVpcAttributeInput{
		VpcId:            aws.String(vpcID),
		EnableDnsSupport: &ec2.AttributeBooleanValue{Value: aws.Bool(true)},
	}); err != nil {
		return wrapAPIError("ec2.ModifyVpcAttribute", err)
	}
	_, err := c.ec2.ModifyVpcAttributeWithContext(ctx, &ec2.ModifyVpcAttributeInput{
		VpcId:              aws.String(vpcID),
		EnableDnsHostnames: &ec2.AttributeBooleanValue{Value: aws.Bool(true)},
	})
	return wrapAPIError("ec2.ModifyVpcAttribute", err)
}

func (c *awsEC2Client) ListSubnets(ctx context.Context, vpcID string) ([]Subnet, error) {
	out, err := c.ec2.DescribeSubnetsWithContext(ctx, &ec2.DescribeSubnetsInput{
		Filters: []*ec2.Filter{{Name: aws.String("vpc-id"), Values: []*string{aws.String(vpcID)}}},
	})
	if err != nil {
		return nil, wrapAPIError("ec2.DescribeSubnets", err)
	}
	subnets := make([]Subnet, 0, len(out.Subnets))
	for _, subnet := range out.Subnets {
		subnets = append(subnets, Subnet{
			ID:               aws.StringValue(subnet.SubnetId),
			VPCID:            aws.StringValue(subnet.VpcId),
			CIDRBlock:        aws.StringValue(subnet.CidrBlock),
			AvailabilityZone: aws.StringValue(subnet.AvailabilityZone),
			MapPublicIP:      aws.BoolValue(subnet.MapPublicIpOnLaunch),
			Tags:             tagsToMap(subnet.Tags),
		})
	}
	sort.Slice(subnets, func(i, j int) bool { return subnets[i].CIDRBlock < subnets[j].CIDRBlock })
	return subnets, nil
}

func (c *awsEC2Client) CreateSubnet(ctx context.Context, vpcID, cidr, availabilityZone string, tags map[string]string) (string, error) {
	input := &ec2.CreateSubnetInput{
		VpcId:     aws.String(vpcID),
		CidrBlock: aws.String(cidr),
	}
	if availabilityZone != "" {
		input.AvailabilityZone = aws.String(availabilityZone)
	}
	if len(tags) > 0 {
		input.TagSpecifications = tagSpec(ec2.ResourceTypeSubnet, tags)
	}
	out, err := c.ec2.CreateSubnetWithContext(ctx, input)
	if err != nil {
		return "", wrapAPIError("ec2.CreateSubnet", err)
	}
	return aws.StringValue(out.Subnet.SubnetId), nil
}

func (c *awsEC2Client) GetAttachedInternetGateway(ctx context.Context, vpcID string) (*InternetGateway, error) {
	out, err := c.ec2.DescribeInternetGatewaysWithContext(ctx, &ec2.DescribeInternetGatewaysInput{
		Filters: []*ec2.Filter{{Name: aws.String("attachment.vpc-id"), Values: []*string{aws.String(vpcID)}}},
	})
	if err != nil {
		return nil, wrapAPIError("ec2.DescribeInternetGateways", err)
	}
	if len(out.InternetGateways) == 0 {
		return nil, nil
	}
	gateway := out.InternetGateways[0]
	return &InternetGateway{
		ID:    aws.StringValue(gateway.InternetGatewayId),
		VPCID: vpcID,
		Tags:  tagsToMap(gateway.Tags),
	}, nil
}

func (c *awsEC2Client) CreateInternetGateway(ctx context.Context, vpcID string, tags map[string]string) (string, error) {
	input := &ec2.CreateInternetGatewayInput{}
	if len(tags) > 0 {
		input.TagSpecifications = tagSpec(ec2.ResourceTypeInternetGateway, tags)
	}
	out, err := c.ec2.CreateInternetGatewayWithContext(ctx, input)
	if err != nil {
		return "", wrapAPIError("ec2.CreateInternetGateway", err)
	}
	gatewayID := aws.StringValue(out.InternetGateway.InternetGatewayId)
	if _, err := c.ec2.AttachInternetGatewayWithContext(ctx, &ec2.AttachInternetGatewayInput{
		InternetGatewayId: aws.String(gatewayID),
		VpcId:             aws.String(vpcID),
	}); err != nil {
		return "", wrapAPIError("ec2.AttachInternetGateway", err)
	}
	return gatewayID, nil
}

func (c *awsEC2Client) CreateNatGateway(ctx context.Context, subnetID, allocationID string, tags map[string]string) (string, error) {
	input := &ec2.CreateNatGatewayInput{
		SubnetId:     aws.String(subnetID),
		AllocationId: aws.String(allocationID),
	}
	if len(tags) > 0 {
		input.TagSpecifications = tagSpec(ec2.ResourceTypeNatgateway, tags)
	}
	out, err := c.ec2.CreateNatGatewayWithContext(ctx, input)
	if err != nil {
		return "", wrapAPIError("ec2.CreateNatGateway", err)
	}
	return aws.StringValue(out.NatGateway.NatGatewayId), nil
}

func (c *awsEC2Client) GetNatGateway(ctx context.Context, natGatewayID string) (*NatGateway, error) {
	out, err := c.ec2.DescribeNatGatewaysWithContext(ctx, &ec2.DescribeNatGatewaysInput{
		NatGatewayIds: []*string{aws.String(natGatewayID)},
	})
	if err != nil {
		return nil, wrapAPIError("ec2.DescribeNatGateways", err)
	}
	if len(out.NatGateways) == 0 {
		return nil, &APIError{Op: "ec2.DescribeNatGateways", Code: "NatGatewayNotFound",
			Err: errors.Errorf("nat gateway '%s' not found", natGatewayID)}
	}
	gateway := out.NatGateways[0]
	converted := &NatGateway{
		ID:       aws.StringValue(gateway.NatGatewayId),
		SubnetID: aws.StringValue(gateway.SubnetId),
		State:    aws.StringValue(gateway.State),
		Tags:     tagsToMap(gateway.Tags),
	}
	if len(gateway.NatGatewayAddresses) > 0 {
		converted.AllocationID = aws.StringValue(gateway.NatGatewayAddresses[0].AllocationId)
	}
	return converted, nil
}

func (c *awsEC2Client) ListNatGateways(ctx context.Context, vpcID string) ([]NatGateway, error) {
	out, err := c.ec2.DescribeNatGatewaysWithContext(ctx, &ec2.DescribeNatGatewaysInput{
		Filter: []*ec2.Filter{{Name: aws.String("vpc-id"), Values: []*string{aws.String(vpcID)}}},
	})
	if err != nil {
		return nil, wrapAPIError("ec2.DescribeNatGateways", err)
	}
	gateways := make([]NatGateway, 0, len(out.NatGateways))
	for _, gateway := range out.NatGateways {
		converted := NatGateway{
			ID:       aws.StringValue(gateway.NatGatewayId),
			SubnetID: aws.StringValue(gateway.SubnetId),
			State:    aws.StringValue(gateway.State),
			Tags:     tagsToMap(gateway.Tags),
		}
		if len(gateway.NatGatewayAddresses) > 0 {
			converted.AllocationID = aws.StringValue(gateway.NatGatewayAddresses[0].AllocationId)
		}
		gateways = append(gateways, converted)
	}
	return gateways, nil
}

func (c *awsEC2Client) ListRouteTables(ctx context.Context, vpcID string) ([]RouteTable, error) {
	out, err := c.ec2.DescribeRouteTablesWithContext(ctx, &ec2.DescribeRouteTablesInput{
		Filters: []*ec2.Filter{{Name: aws.String("vpc-id"), Values: []*string{aws.String(vpcID)}}},
	})
	if err != nil {
		return nil, wrapAPIError("ec2.DescribeRouteTables", err)
	}

	tables := make([]RouteTable, 0, len(out.RouteTables))
	for _, table := range out.RouteTables {
		converted := RouteTable{
			ID:    aws.StringValue(table.RouteTableId),
			VPCID: aws.StringValue(table.VpcId),
			Tags:  tagsToMap(table.Tags),
		}
		for _, association := range table.Associations {
			if aws.BoolValue(association.Main) {
				converted.Main = true
			}
			if association.SubnetId != nil {
				converted.SubnetIDs = append(converted.SubnetIDs, aws.StringValue(association.SubnetId))
			}
		}
		for _, route := range table.Routes {
			converted.Routes = append(converted.Routes, Route{
				DestinationCIDR: aws.StringValue(route.DestinationCidrBlock),
				GatewayID:       aws.StringValue(route.GatewayId),
				NatGatewayID:    aws.StringValue(route.NatGatewayId),
				InstanceID:      aws.StringValue(route.InstanceId),
				Local:           aws.StringValue(route.GatewayId) == "local",
			})
		}
		tables = append(tables, converted)
	}
	return tables, nil
}

func (c *awsEC2Client) CreateRouteTable(ctx context.Context, vpcID string, tags map[string]string) (string, error) {
	input := &ec2.CreateRouteTableInput{VpcId: aws.String(vpcID)}
	if len(tags) > 0 {
		input.TagSpecifications = tagSpec(ec2.ResourceTypeRouteTable, tags)
	}
	out, err := c.ec2.CreateRouteTableWithContext(ctx, input)
	if err != nil {
		return "", wrapAPIError("ec2.CreateRouteTable", err)
	}
	return aws.StringValue(out.RouteTable.RouteTableId), nil
}

func (c *awsEC2Client) CreateRoute(ctx context.Context, routeTableID, destinationCIDR, gatewayID, natGatewayID string) error {
	input := &ec2.CreateRouteInput{
		RouteTableId:         aws.String(routeTableID),
		DestinationCidrBlock: aws.String(destinationCIDR),
	}
	if gatewayID != "" {
		input.GatewayId = aws.String(gatewayID)
	}
	if natGatewayID != "" {
		input.NatGatewayId = aws.String(natGatewayID)
	}
	_, err := c.ec2.CreateRouteWithContext(ctx, input)
	return wrapAPIError("ec2.CreateRoute", err)
}

func (c *awsEC2Client) AssociateRouteTable(ctx context.Context, routeTableID, subnetID string) error {
	_, err := c.ec2.AssociateRouteTableWithContext(ctx, &ec2.AssociateRouteTableInput{
		RouteTableId: aws.String(routeTableID),
		SubnetId:     aws.String(subnetID),
	})
	return wrapAPIError("ec2.AssociateRouteTable", err)
}

func (c *awsEC2Client) ListNetworkACLs(ctx context.Context, vpcID string) ([]NetworkACL, error) {
	out, err := c.ec2.DescribeNetworkAclsWithContext(ctx, &ec2.DescribeNetworkAclsInput{
		Filters: []*ec2.Filter{{Name: aws.String("vpc-id"), Values: []*string{aws.String(vpcID)}}},
	})
	if err != nil {
		return nil, wrapAPIError("ec2.DescribeNetworkAcls", err)
	}

	acls := make([]NetworkACL, 0, len(out.NetworkAcls))
	for _, acl := range out.NetworkAcls {
		converted := NetworkACL{
			ID:        aws.StringValue(acl.NetworkAclId),
			VPCID:     aws.StringValue(acl.VpcId),
			IsDefault: aws.BoolValue(acl.IsDefault),
			Tags:      tagsToMap(acl.Tags),
		}
		for _, association := range acl.Associations {
			converted.SubnetIDs = append(converted.SubnetIDs, aws.StringValue(association.SubnetId))
		}
		for _, entry := range acl.Entries {
			converted.Entries = append(converted.Entries, convertACLEntry(entry))
		}
		acls = append(acls, converted)
	}
	return acls, nil
}

func (c *awsEC2Client) CreateNetworkACL(ctx context.Context, vpcID string, tags map[string]string) (string, error) {
	input := &ec2.CreateNetworkAclInput{VpcId: aws.String(vpcID)}
	if len(tags) > 0 {
		input.TagSpecifications = tagSpec(ec2.ResourceTypeNetworkAcl, tags)
	}
	out, err := c.ec2.CreateNetworkAclWithContext(ctx, input)
	if err != nil {
		return "", wrapAPIError("ec2.CreateNetworkAcl", err)
	}
	return aws.StringValue(out.NetworkAcl.NetworkAclId), nil
}

func (c *awsEC2Client) CreateNetworkACLEntry(ctx context.Context, aclID string, entry ACLEntry) error {
	input := &ec2.CreateNetworkAclEntryInput{
		NetworkAclId: aws.String(aclID),
		RuleNumber:   aws.Int64(entry.RuleNumber),
		Protocol:     aws.String(entry.Protocol),
		RuleAction:   aws.String(entry.RuleAction),
		Egress:       aws.Bool(entry.Egress),
		CidrBlock:    aws.String(entry.CIDRBlock),
	}
	if entry.FromPort != nil || entry.ToPort != nil {
		input.PortRange = &ec2.PortRange{From: entry.FromPort, To: entry.ToPort}
	}
	_, err := c.ec2.CreateNetworkAclEntryWithContext(ctx, input)
	return wrapAPIError("ec2.CreateNetworkAclEntry", err)
}

func (c *awsEC2Client) ReplaceNetworkACLAssociation(ctx context.Context, subnetID, aclID string) error {
	out, err := c.ec2.DescribeNetworkAclsWithContext(ctx, &ec2.DescribeNetworkAclsInput{
		Filters: []*ec2.Filter{{Name: aws.String("association.subnet-id"), Values: []*string{aws.String(subnetID)}}},
	})
	if err != nil {
		return wrapAPIError("ec2.DescribeNetworkAcls", err)
	}

	var associationID string
	for _, acl := range out.NetworkAcls {
		for _, association := range acl.Associations {
			if aws.StringValue(association.SubnetId) == subnetID {
				associationID = aws.StringValue(association.NetworkAclAssociationId)
			}
		}
	}
	if associationID == "" {
		return &APIError{Op: "ec2.DescribeNetworkAcls", Code: "InvalidAssociationID.NotFound",
			Err: errors.Errorf("subnet '%s' has no network acl association", subnetID)}
	}

	_, err = c.ec2.ReplaceNetworkAclAssociationWithContext(ctx, &ec2.ReplaceNetworkAclAssociationInput{
		AssociationId: aws.String(associationID),
		NetworkAclId:  aws.String(aclID),
	})
	return wrapAPIError("ec2.ReplaceNetworkAclAssociation", err)
}

func convertSecurityGroup(group *ec2.SecurityGroup) *SecurityGroup {
	return &SecurityGroup{
		ID:          aws.StringValue(group.GroupId),
		Name:        aws.StringValue(group.GroupName),
		Description: aws.StringValue(group.Description),
		VPCID:       aws.StringValue(group.VpcId),
		OwnerID:     aws.StringValue(group.OwnerId),
		Ingress:     permsFromSDK(group.IpPermissions),
		Egress:      permsFromSDK(group.IpPermissionsEgress),
		Tags:        tagsToMap(group.Tags),
	}
}

func convertAddress(address *ec2.Address) *Address {
	return &Address{
		AllocationID:  aws.StringValue(address.AllocationId),
		PublicIP:      aws.StringValue(address.PublicIp),
		InstanceID:    aws.StringValue(address.InstanceId),
		AssociationID: aws.StringValue(address.AssociationId),
	}
}

func convertVPC(vpc *ec2.Vpc) *VPC {
	return &VPC{
		ID:        aws.StringValue(vpc.VpcId),
		CIDRBlock: aws.StringValue(vpc.CidrBlock),
		IsDefault: aws.BoolValue(vpc.IsDefault),
		Tags:      tagsToMap(vpc.Tags),
	}
}

func convertACLEntry(entry *ec2.NetworkAclEntry) ACLEntry {
	converted := ACLEntry{
		RuleNumber: aws.Int64Value(entry.RuleNumber),
		Protocol:   aws.StringValue(entry.Protocol),
		RuleAction: aws.StringValue(entry.RuleAction),
		Egress:     aws.BoolValue(entry.Egress),
		CIDRBlock:  aws.StringValue(entry.CidrBlock),
	}
	if entry.PortRange != nil {
		converted.FromPort = entry.PortRange.From
		converted.ToPort = entry.PortRange.To
	}
	return converted
}

func permsFromSDK(perms []*ec2.IpPermission) []IPPermission {
	out := make([]IPPermission, 0, len(perms))
	for _, perm := range perms {
		converted := IPPermission{
			Protocol: aws.StringValue(perm.IpProtocol),
			FromPort: perm.FromPort,
			ToPort:   perm.ToPort,
		}
		for _, ipRange := range perm.IpRanges {
			converted.CIDRBlocks = append(converted.CIDRBlocks, aws.StringValue(ipRange.CidrIp))
		}
		for _, ipRange := range perm.Ipv6Ranges {
			converted.IPv6Blocks = append(converted.IPv6Blocks, aws.StringValue(ipRange.CidrIpv6))
		}
		for _, pair := range perm.UserIdGroupPairs {
			converted.GroupPairs = append(converted.GroupPairs, GroupPair{
				GroupID:     aws.StringValue(pair.GroupId),
				UserID:      aws.StringValue(pair.UserId),
				Description: aws.StringValue(pair.Description),
			})
		}
		out = append(out, converted)
	}
	return out
}

func permsToSDK(perms []IPPermission) []*ec2.IpPermission {
	out := make([]*ec2.IpPermission, 0, len(perms))
	for _, perm := range perms {
		converted := &ec2.IpPermission{
			IpProtocol: aws.String(perm.Protocol),
			FromPort:   perm.FromPort,
			ToPort:     perm.ToPort,
		}
		for _, cidr := range perm.CIDRBlocks {
			converted.IpRanges = append(converted.IpRanges, &ec2.IpRange{CidrIp: aws.String(cidr)})
		}
		for _, cidr := range perm.IPv6Blocks {
			converted.Ipv6Ranges = append(converted.Ipv6Ranges, &ec2.Ipv6Range{CidrIpv6: aws.String(cidr)})
		}
		for _, pair := range perm.GroupPairs {
			sdkPair := &ec2.UserIdGroupPair{GroupId: aws.String(pair.GroupID)}
			if pair.UserID != "" {
				sdkPair.UserId = aws.String(pair.UserID)
			}
			if pair.Description != "" {
				sdkPair.Description = aws.String(pair.Description)
			}
			converted.UserIdGroupPairs = append(converted.UserIdGroupPairs, sdkPair)
		}
		out = append(out, converted)
	}
	return out
}

func tagsToMap(tags []*ec2.Tag) map[string]string {
	out := map[string]string{}
	for _, tag := range tags {
		out[aws.StringValue(tag.Key)] = aws.StringValue(tag.Value)
	}
	return out
}

func mapToTags(tags map[string]string) []*ec2.Tag {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*ec2.Tag, 0, len(tags))
	for _, k := range keys {
		out = append(out, &ec2.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return out
}

func tagSpec(resourceType string, tags map[string]string) []*ec2.TagSpecification {
	return []*ec2.TagSpecification{{
		ResourceType: aws.String(resourceType),
		Tags:         mapToTags(tags),
	}}
}
