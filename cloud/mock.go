package cloud

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// MockEC2 is an in-memory EC2 control plane. Tests seed the maps with a
// source topology (or start empty for a target account) and inspect them
// after planners run. All resources created through the mock land in a final
// state immediately so waits pass on the first check; tests exercising the
// waiter set a pending state explicitly.
type MockEC2 struct {
	mu sync.Mutex

	AccountID string
	Region    string

	Instances        map[string]*Instance
	Images           map[string]*Image
	Snapshots        map[string]*Snapshot
	Groups           map[string]*SecurityGroup
	Addresses        map[string]*Address
	KeyPairs         []KeyPair
	VPCs             map[string]*VPC
	Subnets          map[string]*Subnet
	InternetGateways map[string]*InternetGateway
	NatGateways      map[string]*NatGateway
	RouteTables      map[string]*RouteTable
	NetworkACLs      map[string]*NetworkACL

	SharedImages    map[string][]string
	SharedSnapshots map[string][]string
	ACLAssociations map[string]string

	// SharedFrom, when set, lets this mock see resources another account's
	// mock has explicitly shared with this account, the same visibility rule
	// the real control plane applies.
	SharedFrom *MockEC2

	// FailOps forces the named client method to return the given error.
	FailOps map[string]error

	seq int
}

func NewMockEC2(accountID, region string) *MockEC2 {
	return &MockEC2{
		AccountID:        accountID,
		Region:           region,
		Instances:        map[string]*Instance{},
		Images:           map[string]*Image{},
		Snapshots:        map[string]*Snapshot{},
		Groups:           map[string]*SecurityGroup{},
		Addresses:        map[string]*Address{},
		VPCs:             map[string]*VPC{},
		Subnets:          map[string]*Subnet{},
		InternetGateways: map[string]*InternetGateway{},
		NatGateways:      map[string]*NatGateway{},
		RouteTables:      map[string]*RouteTable{},
		NetworkACLs:      map[string]*NetworkACL{},
		SharedImages:     map[string][]string{},
		SharedSnapshots:  map[string][]string{},
		ACLAssociations:  map[string]string{},
		FailOps:          map[string]error{},
	}
}

func (m *MockEC2) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-mock%04d", prefix, m.seq)
}

func (m *MockEC2) failure(op string) error { return m.FailOps[op] }

func (m *MockEC2) GetInstance(ctx context.Context, instanceID string) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("GetInstance"); err != nil {
		return nil, err
	}
	instance, ok := m.Instances[instanceID]
	if !ok {
		return nil, &APIError{Op: "ec2.DescribeInstances", Code: "InvalidInstanceID.NotFound",
			Err: errors.Errorf("instance '%s' not found", instanceID)}
	}
	copied := *instance
	return &copied, nil
}

func (m *MockEC2) ListInstances(ctx context.Context, instanceIDs []string) ([]Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("ListInstances"); err != nil {
		return nil, err
	}
	keep := map[string]bool{}
	for _, id := range instanceIDs {
		keep[id] = true
	}
	out := []Instance{}
	for id, instance := range m.Instances {
		if len(keep) > 0 && !keep[id] {
			continue
		}
		out = append(out, *instance)
	}
	return out, nil
}

func (m *MockEC2) RunInstance(ctx context.Context, opts RunInstanceOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("RunInstance"); err != nil {
		return "", err
	}
	if _, ok := m.Images[opts.ImageID]; !ok {
		return "", &APIError{Op: "ec2.RunInstances", Code: "InvalidAMIID.NotFound",
			Err: errors.Errorf("image '%s' not found", opts.ImageID)}
	}
	id := m.nextID("i")
	subnet := m.Subnets[opts.SubnetID]
	instance := &Instance{
		ID:               id,
		Type:             opts.InstanceType,
		State:            InstanceStateRunning,
		ImageID:          opts.ImageID,
		KeyName:          opts.KeyName,
		SubnetID:         opts.SubnetID,
		SecurityGroupIDs: append([]string{}, opts.SecurityGroupIDs...),
		Monitoring:       opts.Monitoring,
		UserData:         opts.UserData,
		Tags:             copyTags(opts.Tags),
	}
	if subnet != nil {
		instance.VPCID = subnet.VPCID
		instance.AvailabilityZone = subnet.AvailabilityZone
	}
	m.Instances[id] = instance
	return id, nil
}

func (m *MockEC2) CreateTags(ctx context.Context, resourceID string, tags map[string]string) error {
	return m.failure("CreateTags")
}

func (m *MockEC2) CreateImage(ctx context.Context, instanceID, name, description string, noReboot bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("CreateImage"); err != nil {
		return "", err
	}
	instance, ok := m.Instances[instanceID]
	if !ok {
		return "", &APIError{Op: "ec2.CreateImage", Code: "InvalidInstanceID.NotFound",
			Err: errors.Errorf("instance '%s' not found", instanceID)}
	}

	imageID := m.nextID("ami")
	image := &Image{ID: imageID, Name: name, State: ImageStateAvailable}
	for _, device := range instance.BlockDevices {
		snapshotID := m.nextID("snap")
		m.Snapshots[snapshotID] = &Snapshot{
			ID:       snapshotID,
			State:    SnapshotStateCompleted,
			VolumeID: device.VolumeID,
			SizeGiB:  device.SizeGiB,
		}
		image.BlockDevices = append(image.BlockDevices, ImageMapping{
			DeviceName: device.DeviceName,
			SnapshotID: snapshotID,
			SizeGiB:    device.SizeGiB,
			VolumeType: device.VolumeType,
			Encrypted:  device.Encrypted,
		})
	}
	m.Images[imageID] = image
	return imageID, nil
}

func (m *MockEC2) GetImage(ctx context.Context, imageID string) (*Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("GetImage"); err != nil {
		return nil, err
	}
	image, ok := m.Images[imageID]
	if !ok {
		return nil, &APIError{Op: "ec2.DescribeImages", Code: "InvalidAMIID.NotFound",
			Err: errors.Errorf("image '%s' not found", imageID)}
	}
	copied := *image
	return &copied, nil
}

// sharedImage returns a copy of an image this account has shared with
// accountID, or nil.
func (m *MockEC2) sharedImage(imageID, accountID string) *Image {
	m.mu.Lock()
	defer m.mu.Unlock()
	image, ok := m.Images[imageID]
	if !ok {
		return nil
	}
	for _, shared := range m.SharedImages[imageID] {
		if shared == accountID {
			copied := *image
			return &copied
		}
	}
	return nil
}

func (m *MockEC2) CopyImage(ctx context.Context, sourceImageID, sourceRegion, name, description string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("CopyImage"); err != nil {
		return "", err
	}
	source, ok := m.Images[sourceImageID]
	if !ok && m.SharedFrom != nil {
		source = m.SharedFrom.sharedImage(sourceImageID, m.AccountID)
		ok = source != nil
	}
	if !ok {
		return "", &APIError{Op: "ec2.CopyImage", Code: "InvalidAMIID.NotFound",
			Err: errors.Errorf("image '%s' not visible", sourceImageID)}
	}
	imageID := m.nextID("ami")
	copied := *source
	copied.ID = imageID
	copied.Name = name
	copied.State = ImageStateAvailable
	m.Images[imageID] = &copied
	return imageID, nil
}

func (m *MockEC2) ShareImage(ctx context.Context, imageID, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("ShareImage"); err != nil {
		return err
	}
	if _, ok := m.Images[imageID]; !ok {
		return &APIError{Op: "ec2.ModifyImageAttribute", Code: "InvalidAMIID.NotFound",
			Err: errors.Errorf("image '%s' not found", imageID)}
	}
	m.SharedImages[imageID] = append(m.SharedImages[imageID], accountID)
	return nil
}

func (m *MockEC2) GetSnapshot(ctx context.Context, snapshotID string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("GetSnapshot"); err != nil {
		return nil, err
	}
	snapshot, ok := m.Snapshots[snapshotID]
	if !ok {
		return nil, &APIError{Op: "ec2.DescribeSnapshots", Code: "InvalidSnapshot.NotFound",
			Err: errors.Errorf("snapshot '%s' not found", snapshotID)}
	}
	copied := *snapshot
	return &copied, nil
}

func (m *MockEC2) ShareSnapshot(ctx context.Context, snapshotID, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("ShareSnapshot"); err != nil {
		return err
	}
	if _, ok := m.Snapshots[snapshotID]; !ok {
		return &APIError{Op: "ec2.ModifySnapshotAttribute", Code: "InvalidSnapshot.NotFound",
			Err: errors.Errorf("snapshot '%s' not found", snapshotID)}
	}
	m.SharedSnapshots[snapshotID] = append(m.SharedSnapshots[snapshotID], accountID)
	return nil
}

func (m *MockEC2) GetSecurityGroup(ctx context.Context, groupID string) (*SecurityGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("GetSecurityGroup"); err != nil {
		return nil, err
	}
	group, ok := m.Groups[groupID]
	if !ok {
		return nil, &APIError{Op: "ec2.DescribeSecurityGroups", Code: "InvalidGroup.NotFound",
			Err: errors.Errorf("security group '%s' not found", groupID)}
	}
	copied := *group
	return &copied, nil
}

func (m *MockEC2) ListSecurityGroups(ctx context.Context, vpcID string) ([]SecurityGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("ListSecurityGroups"); err != nil {
		return nil, err
	}
	out := []SecurityGroup{}
	for _, group := range m.Groups {
		if group.VPCID == vpcID {
			out = append(out, *group)
		}
	}
	return out, nil
}

func (m *MockEC2) FindSecurityGroupByName(ctx context.Context, vpcID, name string) (*SecurityGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("FindSecurityGroupByName"); err != nil {
		return nil, err
	}
	for _, group := range m.Groups {
		if group.VPCID == vpcID && group.Name == name {
			copied := *group
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *MockEC2) GetDefaultSecurityGroup(ctx context.Context, vpcID string) (*SecurityGroup, error) {
	group, err := m.FindSecurityGroupByName(ctx, vpcID, "default")
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, &APIError{Op: "ec2.DescribeSecurityGroups", Code: "InvalidGroup.NotFound",
			Err: errors.Errorf("vpc '%s' has no default security group", vpcID)}
	}
	return group, nil
}

func (m *MockEC2) CreateSecurityGroup(ctx context.Context, vpcID, name, description string, tags map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("CreateSecurityGroup"); err != nil {
		return "", err
	}
	for _, group := range m.Groups {
		if group.VPCID == vpcID && group.Name == name {
			return "", &APIError{Op: "ec2.CreateSecurityGroup", Code: "InvalidGroup.Duplicate",
				Err: errors.Errorf("group '%s' already exists", name)}
		}
	}
	id := m.nextID("sg")
	m.Groups[id] = &SecurityGroup{
		ID:          id,
		Name:        name,
		Description: description,
		VPCID:       vpcID,
		OwnerID:     m.AccountID,
		Tags:        copyTags(tags),
	}
	return id, nil
}

func (m *MockEC2) AuthorizeIngress(ctx context.Context, groupID string, perms []IPPermission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("AuthorizeIngress"); err != nil {
		return err
	}
	group, ok := m.Groups[groupID]
	if !ok {
		return &APIError{Op: "ec2.AuthorizeSecurityGroupIngress", Code: "InvalidGroup.NotFound",
			Err: errors.Errorf("security group '%s' not found", groupID)}
	}
	group.Ingress = append(group.Ingress, perms...)
	return nil
}

func (m *MockEC2) AuthorizeEgress(ctx context.Context, groupID string, perms []IPPermission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("AuthorizeEgress"); err != nil {
		return err
	}
	group, ok := m.Groups[groupID]
	if !ok {
		return &APIError{Op: "ec2.AuthorizeSecurityGroupEgress", Code: "InvalidGroup.NotFound",
			Err: errors.Errorf("security group '%s' not found", groupID)}
	}
	group.Egress = append(group.Egress, perms...)
	return nil
}

func (m *MockEC2) GetAddressForInstance(ctx context.Context, instanceID string) (*Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("GetAddressForInstance"); err != nil {
		return nil, err
	}
	for _, address := range m.Addresses {
		if address.InstanceID == instanceID {
			copied := *address
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *MockEC2) ListAddresses(ctx context.Context) ([]Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("ListAddresses"); err != nil {
		return nil, err
	}
	out := []Address{}
	for _, address := range m.Addresses {
		out = append(out, *address)
	}
	return out, nil
}

func (m *MockEC2) AllocateAddress(ctx context.Context, tags map[string]string) (*Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("AllocateAddress"); err != nil {
		return nil, err
	}
	id := m.nextID("eipalloc")
	address := &Address{
		AllocationID: id,
		PublicIP:     fmt.Sprintf("198.51.100.%d", m.seq%250),
	}
	m.Addresses[id] = address
	copied := *address
	return &copied, nil
}

func (m *MockEC2) AssociateAddress(ctx context.Context, allocationID, instanceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("AssociateAddress"); err != nil {
		return err
	}
	address, ok := m.Addresses[allocationID]
	if !ok {
		return &APIError{Op: "ec2.AssociateAddress", Code: "InvalidAllocationID.NotFound",
			Err: errors.Errorf("allocation '%s' not found", allocationID)}
	}
	address.InstanceID = instanceID
	address.AssociationID = m.nextID("eipassoc")
	return nil
}

func (m *MockEC2) ListKeyPairs(ctx context.Context) ([]KeyPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("ListKeyPairs"); err != nil {
		return nil, err
	}
	return append([]KeyPair{}, m.KeyPairs...), nil
}

func (m *MockEC2) GetVPC(ctx context.Context, vpcID string) (*VPC, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("GetVPC"); err != nil {
		return nil, err
	}
	vpc, ok := m.VPCs[vpcID]
	if !ok {
		return nil, &APIError{Op: "ec2.DescribeVpcs", Code: "InvalidVpcID.NotFound",
			Err: errors.Errorf("vpc '%s' not found", vpcID)}
	}
	copied := *vpc
	return &copied, nil
}

func (m *MockEC2) ListVPCs(ctx context.Context) ([]VPC, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("ListVPCs"); err != nil {
		return nil, err
	}
	out := []VPC{}
	for _, vpc := range m.VPCs {
		out = append(out, *vpc)
	}
	return out, nil
}

func (m *MockEC2) FindVPCByCIDR(ctx context.Context, cidr string) (*VPC, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("FindVPCByCIDR"); err != nil {
		return nil, err
	}
	for _, vpc := range m.VPCs {
		if vpc.CIDRBlock == cidr {
			copied := *vpc
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *MockEC2) CreateVPC(ctx context.Context, cidr string, tags map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("CreateVPC"); err != nil {
		return "", err
	}
	id := m.nextID("vpc")
	m.VPCs[id] = &VPC{ID: id, CIDRBlock: cidr, Tags: copyTags(tags)}

	// Every VPC gets a default security group, a main route table, and a
	// default network ACL, mirroring the real control plane.
	groupID := m.nextID("sg")
	m.Groups[groupID] = &SecurityGroup{ID: groupID, Name: "default", VPCID: id, OwnerID: m.AccountID}
	tableID := m.nextID("rtb")
	m.RouteTables[tableID] = &RouteTable{
		ID: tableID, VPCID: id, Main: true,
		Routes: []Route{{DestinationCIDR: cidr, GatewayID: "local", Local: true}},
	}
	aclID := m.nextID("acl")
	m.NetworkACLs[aclID] = &NetworkACL{ID: aclID, VPCID: id, IsDefault: true}
	return id, nil
}

func (m *MockEC2) EnableVPCDNS(ctx context.Context, vpcID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("EnableVPCDNS"); err != nil {
		return err
	}
	if _, ok := m.VPCs[vpcID]; !ok {
		return &APIError{Op: "ec2.ModifyVpcAttribute", Code: "InvalidVpcID.NotFound",
			Err: errors.Errorf("vpc '%s' not found", vpcID)}
	}
	return nil
}

func (m *MockEC2) ListSubnets(ctx context.Context, vpcID string) ([]Subnet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("ListSubnets"); err != nil {
		return nil, err
	}
	out := []Subnet{}
	for _, subnet := range m.Subnets {
		if subnet.VPCID == vpcID {
			out = append(out, *subnet)
		}
	}
	return out, nil
}

func (m *MockEC2) CreateSubnet(ctx context.Context, vpcID, cidr, availabilityZone string, tags map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("CreateSubnet"); err != nil {
		return "", err
	}
	id := m.nextID("subnet")
	m.Subnets[id] = &Subnet{
		ID:               id,
		VPCID:            vpcID,
		CIDRBlock:        cidr,
		AvailabilityZone: availabilityZone,
		Tags:             copyTags(tags),
	}
	return id, nil
}

func (m *MockEC2) GetAttachedInternetGateway(ctx context.Context, vpcID string) (*InternetGateway, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("GetAttachedInternetGateway"); err != nil {
		return nil, err
	}
	for _, gateway := range m.InternetGateways {
		if gateway.VPCID == vpcID {
			copied := *gateway
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *MockEC2) CreateInternetGateway(ctx context.Context, vpcID string, tags map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("CreateInternetGateway"); err != nil {
		return "", err
	}
	id := m.nextID("igw")
	m.InternetGateways[id] = &InternetGateway{ID: id, VPCID: vpcID, Tags: copyTags(tags)}
	return id, nil
}

func (m *MockEC2) CreateNatGateway(ctx context.Context, subnetID, allocationID string, tags map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("CreateNatGateway"); err != nil {
		return "", err
	}
	if _, ok := m.Subnets[subnetID]; !ok {
		return "", &APIError{Op: "ec2.CreateNatGateway", Code: "InvalidSubnetID.NotFound",
			Err: errors.Errorf("subnet '%s' not found", subnetID)}
	}
	id := m.nextID("nat")
	m.NatGateways[id] = &NatGateway{
		ID:           id,
		SubnetID:     subnetID,
		State:        NatGatewayAvailable,
		AllocationID: allocationID,
		Tags:         copyTags(tags),
	}
	return id, nil
}

func (m *MockEC2) GetNatGateway(ctx context.Context, natGatewayID string) (*NatGateway, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("GetNatGateway"); err != nil {
		return nil, err
	}
	gateway, ok := m.NatGateways[natGatewayID]
	if !ok {
		return nil, &APIError{Op: "ec2.DescribeNatGateways", Code: "NatGatewayNotFound",
			Err: errors.Errorf("nat gateway '%s' not found", natGatewayID)}
	}
	copied := *gateway
	return &copied, nil
}

func (m *MockEC2) ListNatGateways(ctx context.Context, vpcID string) ([]NatGateway, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("ListNatGateways"); err != nil {
		return nil, err
	}
	out := []NatGateway{}
	for _, gateway := range m.NatGateways {
		subnet := m.Subnets[gateway.SubnetID]
		if subnet != nil && subnet.VPCID == vpcID {
			out = append(out, *gateway)
		}
	}
	return out, nil
}

func (m *MockEC2) ListRouteTables(ctx context.Context, vpcID string) ([]RouteTable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("ListRouteTables"); err != nil {
		return nil, err
	}
	out := []RouteTable{}
	for _, table := range m.RouteTables {
		if table.VPCID == vpcID {
			out = append(out, *table)
		}
	}
	return out, nil
}

func (m *MockEC2) CreateRouteTable(ctx context.Context, vpcID string, tags map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("CreateRouteTable"); err != nil {
		return "", err
	}
	id := m.nextID("rtb")
	m.RouteTables[id] = &RouteTable{ID: id, VPCID: vpcID, Tags: copyTags(tags)}
	return id, nil
}

func (m *MockEC2) CreateRoute(ctx context.Context, routeTableID, destinationCIDR, gatewayID, natGatewayID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("CreateRoute"); err != nil {
		return err
	}
	table, ok := m.RouteTables[routeTableID]
	if !ok {
		return &APIError{Op: "ec2.CreateRoute", Code: "InvalidRouteTableID.NotFound",
			Err: errors.Errorf("route table '%s' not found", routeTableID)}
	}
	table.Routes = append(table.Routes, Route{
		DestinationCIDR: destinationCIDR,
		GatewayID:       gatewayID,
		NatGatewayID:    natGatewayID,
	})
	return nil
}

func (m *MockEC2) AssociateRouteTable(ctx context.Context, routeTableID, subnetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("AssociateRouteTable"); err != nil {
		return err
	}
	table, ok := m.RouteTables[routeTableID]
	if !ok {
		return &APIError{Op: "ec2.AssociateRouteTable", Code: "InvalidRouteTableID.NotFound",
			Err: errors.Errorf("route table '%s' not found", routeTableID)}
	}
	table.SubnetIDs = append(table.SubnetIDs, subnetID)
	return nil
}

func (m *MockEC2) ListNetworkACLs(ctx context.Context, vpcID string) ([]NetworkACL, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("ListNetworkACLs"); err != nil {
		return nil, err
	}
	out := []NetworkACL{}
	for _, acl := range m.NetworkACLs {
		if acl.VPCID == vpcID {
			out = append(out, *acl)
		}
	}
	return out, nil
}

func (m *MockEC2) CreateNetworkACL(ctx context.Context, vpcID string, tags map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("CreateNetworkACL"); err != nil {
		return "", err
	}
	id := m.nextID("acl")
	m.NetworkACLs[id] = &NetworkACL{ID: id, VPCID: vpcID, Tags: copyTags(tags)}
	return id, nil
}

func (m *MockEC2) CreateNetworkACLEntry(ctx context.Context, aclID string, entry ACLEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("CreateNetworkACLEntry"); err != nil {
		return err
	}
	acl, ok := m.NetworkACLs[aclID]
	if !ok {
		return &APIError{Op: "ec2.CreateNetworkAclEntry", Code: "InvalidNetworkAclID.NotFound",
			Err: errors.Errorf("network acl '%s' not found", aclID)}
	}
	acl.Entries = append(acl.Entries, entry)
	return nil
}

func (m *MockEC2) ReplaceNetworkACLAssociation(ctx context.Context, subnetID, aclID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("ReplaceNetworkACLAssociation"); err != nil {
		return err
	}
	acl, ok := m.NetworkACLs[aclID]
	if !ok {
		return &APIError{Op: "ec2.ReplaceNetworkAclAssociation", Code: "InvalidNetworkAclID.NotFound",
			Err: errors.Errorf("network acl '%s' not found", aclID)}
	}
	m.ACLAssociations[subnetID] = aclID
	acl.SubnetIDs = append(acl.SubnetIDs, subnetID)
	return nil
}

// MockRDS is an in-memory RDS control plane.
type MockRDS struct {
	mu sync.Mutex

	AccountID string
	Region    string

	DBInstances     map[string]*DBInstance
	DBSnapshots     map[string]*DBSnapshot
	SharedSnapshots map[string][]string

	// SharedFrom mirrors MockEC2.SharedFrom for shared database snapshots,
	// which are addressed by ARN across accounts.
	SharedFrom *MockRDS

	FailOps map[string]error

	seq int
}

func NewMockRDS(accountID, region string) *MockRDS {
	return &MockRDS{
		AccountID:       accountID,
		Region:          region,
		DBInstances:     map[string]*DBInstance{},
		DBSnapshots:     map[string]*DBSnapshot{},
		SharedSnapshots: map[string][]string{},
		FailOps:         map[string]error{},
	}
}

func (m *MockRDS) arn(kind, id string) string {
	return fmt.Sprintf("arn:aws:rds:%s:%s:%s:%s", m.Region, m.AccountID, kind, id)
}

func (m *MockRDS) GetDBInstance(ctx context.Context, instanceID string) (*DBInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailOps["GetDBInstance"]; err != nil {
		return nil, err
	}
	instance, ok := m.DBInstances[instanceID]
	if !ok {
		return nil, &APIError{Op: "rds.DescribeDBInstances", Code: "DBInstanceNotFoundFault",
			Err: errors.Errorf("database '%s' not found", instanceID)}
	}
	copied := *instance
	return &copied, nil
}

func (m *MockRDS) ListDBInstances(ctx context.Context) ([]DBInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailOps["ListDBInstances"]; err != nil {
		return nil, err
	}
	out := []DBInstance{}
	for _, instance := range m.DBInstances {
		out = append(out, *instance)
	}
	return out, nil
}

func (m *MockRDS) CreateDBSnapshot(ctx context.Context, instanceID, snapshotID string, tags map[string]string) (*DBSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailOps["CreateDBSnapshot"]; err != nil {
		return nil, err
	}
	instance, ok := m.DBInstances[instanceID]
	if !ok {
		return nil, &APIError{Op: "rds.CreateDBSnapshot", Code: "DBInstanceNotFoundFault",
			Err: errors.Errorf("database '%s' not found", instanceID)}
	}
	snapshot := &DBSnapshot{
		ID:        snapshotID,
		ARN:       m.arn("snapshot", snapshotID),
		Status:    DBSnapshotAvailable,
		Encrypted: instance.Encrypted,
		KMSKeyID:  instance.KMSKeyID,
		Tags:      copyTags(tags),
	}
	m.DBSnapshots[snapshotID] = snapshot
	copied := *snapshot
	return &copied, nil
}

func (m *MockRDS) GetDBSnapshot(ctx context.Context, snapshotID string) (*DBSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailOps["GetDBSnapshot"]; err != nil {
		return nil, err
	}
	snapshot, ok := m.DBSnapshots[snapshotID]
	if !ok {
		return nil, &APIError{Op: "rds.DescribeDBSnapshots", Code: "DBSnapshotNotFoundFault",
			Err: errors.Errorf("database snapshot '%s' not found", snapshotID)}
	}
	copied := *snapshot
	return &copied, nil
}

// sharedSnapshot returns a copy of a snapshot this account has shared with
// accountID, matched by id or ARN, or nil.
func (m *MockRDS) sharedSnapshot(ref, accountID string) *DBSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, snapshot := range m.DBSnapshots {
		if id != ref && snapshot.ARN != ref {
			continue
		}
		for _, shared := range m.SharedSnapshots[id] {
			if shared == accountID {
				copied := *snapshot
				return &copied
			}
		}
	}
	return nil
}

func (m *MockRDS) CopyDBSnapshot(ctx context.Context, opts CopyDBSnapshotOptions) (*DBSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailOps["CopyDBSnapshot"]; err != nil {
		return nil, err
	}
	source, ok := m.DBSnapshots[opts.SourceSnapshot]
	if !ok && m.SharedFrom != nil {
		source = m.SharedFrom.sharedSnapshot(opts.SourceSnapshot, m.AccountID)
		ok = source != nil
	}
	if !ok {
		return nil, &APIError{Op: "rds.CopyDBSnapshot", Code: "DBSnapshotNotFoundFault",
			Err: errors.Errorf("database snapshot '%s' not visible", opts.SourceSnapshot)}
	}
	copied := *source
	copied.ID = opts.TargetID
	copied.ARN = m.arn("snapshot", opts.TargetID)
	copied.Status = DBSnapshotAvailable
	copied.Tags = copyTags(opts.Tags)
	if opts.KMSKeyID != "" {
		copied.Encrypted = true
		copied.KMSKeyID = opts.KMSKeyID
	}
	m.DBSnapshots[opts.TargetID] = &copied
	out := copied
	return &out, nil
}

func (m *MockRDS) ShareDBSnapshot(ctx context.Context, snapshotID, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailOps["ShareDBSnapshot"]; err != nil {
		return err
	}
	if _, ok := m.DBSnapshots[snapshotID]; !ok {
		return &APIError{Op: "rds.ModifyDBSnapshotAttribute", Code: "DBSnapshotNotFoundFault",
			Err: errors.Errorf("database snapshot '%s' not found", snapshotID)}
	}
	m.SharedSnapshots[snapshotID] = append(m.SharedSnapshots[snapshotID], accountID)
	return nil
}

func (m *MockRDS) RestoreDBInstance(ctx context.Context, opts RestoreDBInstanceOptions) (*DBInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailOps["RestoreDBInstance"]; err != nil {
		return nil, err
	}
	snapshot, ok := m.DBSnapshots[opts.SnapshotID]
	if !ok {
		return nil, &APIError{Op: "rds.RestoreDBInstanceFromDBSnapshot", Code: "DBSnapshotNotFoundFault",
			Err: errors.Errorf("database snapshot '%s' not found", opts.SnapshotID)}
	}
	instance := &DBInstance{
		ID:                      opts.InstanceID,
		ARN:                     m.arn("db", opts.InstanceID),
		Class:                   opts.Class,
		Status:                  DBStatusAvailable,
		MultiAZ:                 opts.MultiAZ,
		Encrypted:               snapshot.Encrypted,
		KMSKeyID:                snapshot.KMSKeyID,
		SubnetGroup:             opts.SubnetGroup,
		SecurityGroupIDs:        append([]string{}, opts.SecurityGroupIDs...),
		PubliclyAccessible:      opts.PubliclyAccessible,
		DeletionProtection:      opts.DeletionProtection,
		AutoMinorVersionUpgrade: opts.AutoMinorVersionUpgrade,
		Tags:                    copyTags(opts.Tags),
	}
	m.DBInstances[opts.InstanceID] = instance
	copied := *instance
	return &copied, nil
}

// KeyGrant records one CreateGrant call against a mock key.
type KeyGrant struct {
	KeyID      string
	AccountID  string
	Operations []string
}

// MockKMS is an in-memory KMS control plane.
type MockKMS struct {
	mu sync.Mutex

	AccountID string
	Region    string

	Keys     map[string]*Key
	Aliases  map[string]string
	Grants   []KeyGrant
	Policies map[string]string

	FailOps map[string]error

	seq int
}

func NewMockKMS(accountID, region string) *MockKMS {
	return &MockKMS{
		AccountID: accountID,
		Region:    region,
		Keys:      map[string]*Key{},
		Aliases:   map[string]string{},
		Policies:  map[string]string{},
		FailOps:   map[string]error{},
	}
}

// SeedKey registers a key (and optional alias) and returns it.
func (m *MockKMS) SeedKey(keyID, manager, aliasName string) *Key {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := &Key{
		ID:      keyID,
		ARN:     fmt.Sprintf("arn:aws:kms:%s:%s:key/%s", m.Region, m.AccountID, keyID),
		Manager: manager,
		Enabled: true,
	}
	m.Keys[keyID] = key
	m.Keys[key.ARN] = key
	if aliasName != "" {
		m.Aliases[aliasName] = keyID
	}
	m.Policies[keyID] = `{"Version":"2012-10-17","Statement":[]}`
	return key
}

func (m *MockKMS) DescribeKey(ctx context.Context, keyID string) (*Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailOps["DescribeKey"]; err != nil {
		return nil, err
	}
	if target, ok := m.Aliases[keyID]; ok {
		keyID = target
	}
	key, ok := m.Keys[keyID]
	if !ok {
		return nil, &APIError{Op: "kms.DescribeKey", Code: "NotFoundException",
			Err: errors.Errorf("key '%s' not found", keyID)}
	}
	copied := *key
	return &copied, nil
}

func (m *MockKMS) CreateKey(ctx context.Context, description string, tags map[string]string) (*Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailOps["CreateKey"]; err != nil {
		return nil, err
	}
	m.seq++
	keyID := fmt.Sprintf("key-mock%04d", m.seq)
	key := &Key{
		ID:          keyID,
		ARN:         fmt.Sprintf("arn:aws:kms:%s:%s:key/%s", m.Region, m.AccountID, keyID),
		Manager:     KeyManagerCustomer,
		Description: description,
		Enabled:     true,
	}
	m.Keys[keyID] = key
	m.Keys[key.ARN] = key
	m.Policies[keyID] = `{"Version":"2012-10-17","Statement":[]}`
	copied := *key
	return &copied, nil
}

func (m *MockKMS) CreateAlias(ctx context.Context, aliasName, keyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailOps["CreateAlias"]; err != nil {
		return err
	}
	if _, ok := m.Aliases[aliasName]; ok {
		return &APIError{Op: "kms.CreateAlias", Code: "AlreadyExistsException",
			Err: errors.Errorf("alias '%s' already exists", aliasName)}
	}
	m.Aliases[aliasName] = keyID
	return nil
}

func (m *MockKMS) FindKeyByAlias(ctx context.Context, aliasName string) (*Key, error) {
	m.mu.Lock()
	keyID, ok := m.Aliases[aliasName]
	m.mu.Unlock()
	if err := m.FailOps["FindKeyByAlias"]; err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return m.DescribeKey(ctx, keyID)
}

func (m *MockKMS) CreateGrant(ctx context.Context, keyID, granteeAccountID string, operations []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailOps["CreateGrant"]; err != nil {
		return err
	}
	if _, ok := m.Keys[keyID]; !ok {
		return &APIError{Op: "kms.CreateGrant", Code: "NotFoundException",
			Err: errors.Errorf("key '%s' not found", keyID)}
	}
	m.Grants = append(m.Grants, KeyGrant{
		KeyID:      keyID,
		AccountID:  granteeAccountID,
		Operations: append([]string{}, operations...),
	})
	return nil
}

func (m *MockKMS) GetKeyPolicy(ctx context.Context, keyID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailOps["GetKeyPolicy"]; err != nil {
		return "", err
	}
	policy, ok := m.Policies[keyID]
	if !ok {
		return "", &APIError{Op: "kms.GetKeyPolicy", Code: "NotFoundException",
			Err: errors.Errorf("key '%s' not found", keyID)}
	}
	return policy, nil
}

func (m *MockKMS) PutKeyPolicy(ctx context.Context, keyID, policy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailOps["PutKeyPolicy"]; err != nil {
		return err
	}
	m.Policies[keyID] = policy
	return nil
}

func copyTags(tags map[string]string) map[string]string {
	out := map[string]string{}
	for k, v := range tags {
		out[k] = v
	}
	return out
}
