package migration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/accountmover/accountmover/cloud"
	"github.com/accountmover/accountmover/state"
)

type NetworkPlannerSuite struct {
	suite.Suite
	ctx   context.Context
	tc    *testClients
	store *state.Manager
}

func TestNetworkPlannerSuite(t *testing.T) {
	suite.Run(t, new(NetworkPlannerSuite))
}

func (s *NetworkPlannerSuite) SetupTest() {
	s.ctx = context.Background()
	s.tc = newTestClients("us-east-1", "eu-west-2")

	store, err := state.NewFileManager(filepath.Join(s.T().TempDir(), "state.json"))
	s.Require().NoError(err)
	s.store = store

	source := s.tc.sourceEC2
	source.VPCs["vpc-src"] = &cloud.VPC{
		ID: "vpc-src", CIDRBlock: "10.0.0.0/16",
		Tags: map[string]string{"Name": "prod", "env": "prod"},
	}
	source.Subnets["subnet-public"] = &cloud.Subnet{
		ID: "subnet-public", VPCID: "vpc-src", CIDRBlock: "10.0.1.0/24", AvailabilityZone: "us-east-1a",
		Tags: map[string]string{"Name": "public"},
	}
	source.Subnets["subnet-private"] = &cloud.Subnet{
		ID: "subnet-private", VPCID: "vpc-src", CIDRBlock: "10.0.2.0/24", AvailabilityZone: "us-east-1b",
		Tags: map[string]string{"Name": "private"},
	}
	source.InternetGateways["igw-src"] = &cloud.InternetGateway{ID: "igw-src", VPCID: "vpc-src"}
	source.NatGateways["nat-src"] = &cloud.NatGateway{
		ID: "nat-src", SubnetID: "subnet-public", State: cloud.NatGatewayAvailable, AllocationID: "eipalloc-nat",
	}
	source.Groups["sg-default-src"] = &cloud.SecurityGroup{
		ID: "sg-default-src", Name: "default", VPCID: "vpc-src", OwnerID: testSourceAccount,
	}
	source.Groups["sg-web"] = &cloud.SecurityGroup{
		ID: "sg-web", Name: "web", Description: "web tier", VPCID: "vpc-src", OwnerID: testSourceAccount,
		Ingress: []cloud.IPPermission{{
			Protocol: "tcp", FromPort: int64Ptr(443), ToPort: int64Ptr(443),
			GroupPairs: []cloud.GroupPair{{GroupID: "sg-web", UserID: testSourceAccount}},
		}},
	}
	source.RouteTables["rtb-main"] = &cloud.RouteTable{
		ID: "rtb-main", VPCID: "vpc-src", Main: true,
		Routes: []cloud.Route{{DestinationCIDR: "10.0.0.0/16", GatewayID: "local", Local: true}},
	}
	source.RouteTables["rtb-public"] = &cloud.RouteTable{
		ID: "rtb-public", VPCID: "vpc-src",
		Routes: []cloud.Route{
			{DestinationCIDR: "10.0.0.0/16", GatewayID: "local", Local: true},
			{DestinationCIDR: "0.0.0.0/0", GatewayID: "igw-src"},
		},
		SubnetIDs: []string{"subnet-public"},
		Tags:      map[string]string{"Name": "public"},
	}
	source.RouteTables["rtb-private"] = &cloud.RouteTable{
		ID: "rtb-private", VPCID: "vpc-src",
		Routes: []cloud.Route{
			{DestinationCIDR: "10.0.0.0/16", GatewayID: "local", Local: true},
			{DestinationCIDR: "0.0.0.0/0", NatGatewayID: "nat-src"},
			{DestinationCIDR: "172.16.0.0/16", GatewayID: "pcx-peer"},
		},
		SubnetIDs: []string{"subnet-private"},
	}
	source.NetworkACLs["acl-default"] = &cloud.NetworkACL{ID: "acl-default", VPCID: "vpc-src", IsDefault: true}
	source.NetworkACLs["acl-strict"] = &cloud.NetworkACL{
		ID: "acl-strict", VPCID: "vpc-src",
		Entries: []cloud.ACLEntry{
			{RuleNumber: 100, Protocol: "6", RuleAction: "allow", CIDRBlock: "0.0.0.0/0", FromPort: int64Ptr(443), ToPort: int64Ptr(443)},
			{RuleNumber: 200, Protocol: "-1", RuleAction: "deny", Egress: true, CIDRBlock: "192.0.2.0/24"},
		},
		SubnetIDs: []string{"subnet-private"},
		Tags:      map[string]string{"Name": "strict"},
	}
}

func (s *NetworkPlannerSuite) planner() *NetworkPlanner {
	return NewNetworkPlanner(s.tc.clients, s.store, NetworkPlannerOptions{
		VPCID:        "vpc-src",
		WaitInterval: time.Millisecond,
		WaitAttempts: 3,
	})
}

func (s *NetworkPlannerSuite) run() *state.MigrationRecord {
	exec, err := s.planner().Prepare(s.ctx)
	s.Require().NoError(err)
	s.Require().NoError(exec.Run(s.ctx))
	rec, ok := s.store.GetMigrationInfo(exec.MigrationID())
	s.Require().True(ok)
	return rec
}

func (s *NetworkPlannerSuite) targetSubnetByCIDR(cidr string) *cloud.Subnet {
	for _, subnet := range s.tc.targetEC2.Subnets {
		if subnet.CIDRBlock == cidr {
			return subnet
		}
	}
	return nil
}

func (s *NetworkPlannerSuite) TestReplicatesTopologyEndToEnd() {
	rec := s.run()

	s.Equal(state.StatusCompleted, rec.Status)
	s.Require().NotEmpty(rec.TargetID)

	target := s.tc.targetEC2
	vpc, err := target.GetVPC(s.ctx, rec.TargetID)
	s.Require().NoError(err)
	s.Equal("10.0.0.0/16", vpc.CIDRBlock)
	s.Equal("prod-migrated", vpc.Tags["Name"])
	s.Equal("vpc-src", vpc.Tags["MigratedFrom"])
	s.Equal("prod", vpc.Tags["env"])

	// Subnets land in the letter-mapped zones of the target region.
	public := s.targetSubnetByCIDR("10.0.1.0/24")
	s.Require().NotNil(public)
	s.Equal("eu-west-2a", public.AvailabilityZone)
	s.Equal("public-migrated", public.Tags["Name"])
	private := s.targetSubnetByCIDR("10.0.2.0/24")
	s.Require().NotNil(private)
	s.Equal("eu-west-2b", private.AvailabilityZone)

	gateway, err := target.GetAttachedInternetGateway(s.ctx, rec.TargetID)
	s.Require().NoError(err)
	s.Require().NotNil(gateway)

	// One NAT gateway in the mapped public subnet, backed by a fresh EIP.
	s.Require().Len(target.NatGateways, 1)
	for _, nat := range target.NatGateways {
		s.Equal(public.ID, nat.SubnetID)
		s.Equal(cloud.NatGatewayAvailable, nat.State)
		s.Contains(target.Addresses, nat.AllocationID)
	}

	webGroup, err := target.FindSecurityGroupByName(s.ctx, rec.TargetID, "web")
	s.Require().NoError(err)
	s.Require().NotNil(webGroup)
	s.Require().Len(webGroup.Ingress, 1)
	s.Equal(webGroup.ID, webGroup.Ingress[0].GroupPairs[0].GroupID)
}

func (s *NetworkPlannerSuite) TestReplicatesRouteTables() {
	rec := s.run()
	target := s.tc.targetEC2

	tables, err := target.ListRouteTables(s.ctx, rec.TargetID)
	s.Require().NoError(err)
	// The VPC's own main table plus the two custom tables.
	s.Require().Len(tables, 3)

	var igwRoutes, natRoutes int
	skippedPeering := true
	for _, table := range tables {
		for _, route := range table.Routes {
			switch {
			case route.NatGatewayID != "":
				natRoutes++
				_, ok := target.NatGateways[route.NatGatewayID]
				s.True(ok, "nat route must point at the replica gateway")
			case route.GatewayID != "" && route.GatewayID != "local":
				igwRoutes++
				_, ok := target.InternetGateways[route.GatewayID]
				s.True(ok, "gateway route must point at the replica igw")
			}
			if route.DestinationCIDR == "172.16.0.0/16" {
				skippedPeering = false
			}
		}
	}
	s.Equal(1, igwRoutes)
	s.Equal(1, natRoutes)
	s.True(skippedPeering, "peering routes have no replica target and are skipped")

	s.Len(rec.Step("create_route_tables").Data["skipped_routes"], 1)

	// Subnet associations follow the source layout.
	public := s.targetSubnetByCIDR("10.0.1.0/24")
	private := s.targetSubnetByCIDR("10.0.2.0/24")
	var publicAssociated, privateAssociated bool
	for _, table := range tables {
		for _, subnetID := range table.SubnetIDs {
			if subnetID == public.ID {
				publicAssociated = true
			}
			if subnetID == private.ID {
				privateAssociated = true
			}
		}
	}
	s.True(publicAssociated)
	s.True(privateAssociated)
}

func (s *NetworkPlannerSuite) TestReplicatesCustomNetworkACLs() {
	rec := s.run()
	target := s.tc.targetEC2

	acls, err := target.ListNetworkACLs(s.ctx, rec.TargetID)
	s.Require().NoError(err)
	// The VPC's own default ACL plus the replicated custom one.
	s.Require().Len(acls, 2)

	var strict *cloud.NetworkACL
	for i := range acls {
		if !acls[i].IsDefault {
			strict = &acls[i]
		}
	}
	s.Require().NotNil(strict)
	s.Equal("strict-migrated", strict.Tags["Name"])
	s.Require().Len(strict.Entries, 2)
	s.Equal(int64(100), strict.Entries[0].RuleNumber)
	s.True(strict.Entries[1].Egress)

	private := s.targetSubnetByCIDR("10.0.2.0/24")
	s.Equal(strict.ID, target.ACLAssociations[private.ID])
}

func (s *NetworkPlannerSuite) TestSubnetAZOverride() {
	planner := NewNetworkPlanner(s.tc.clients, s.store, NetworkPlannerOptions{
		VPCID:             "vpc-src",
		SubnetAZOverrides: map[string]string{"subnet-private": "eu-west-2c"},
		WaitInterval:      time.Millisecond,
		WaitAttempts:      3,
	})
	exec, err := planner.Prepare(s.ctx)
	s.Require().NoError(err)
	s.Require().NoError(exec.Run(s.ctx))

	private := s.targetSubnetByCIDR("10.0.2.0/24")
	s.Require().NotNil(private)
	s.Equal("eu-west-2c", private.AvailabilityZone)
}

func (s *NetworkPlannerSuite) TestRerunConverges() {
	s.run()
	target := s.tc.targetEC2
	vpcs := len(target.VPCs)
	subnets := len(target.Subnets)
	nats := len(target.NatGateways)
	addresses := len(target.Addresses)
	tables := len(target.RouteTables)
	acls := len(target.NetworkACLs)

	s.run()
	s.Equal(vpcs, len(target.VPCs))
	s.Equal(subnets, len(target.Subnets))
	s.Equal(nats, len(target.NatGateways))
	s.Equal(addresses, len(target.Addresses))
	s.Equal(tables, len(target.RouteTables))
	s.Equal(acls, len(target.NetworkACLs))
}

func (s *NetworkPlannerSuite) TestTargetCIDROverride() {
	planner := NewNetworkPlanner(s.tc.clients, s.store, NetworkPlannerOptions{
		VPCID:        "vpc-src",
		TargetCIDR:   "10.8.0.0/16",
		WaitInterval: time.Millisecond,
		WaitAttempts: 3,
	})
	exec, err := planner.Prepare(s.ctx)
	s.Require().NoError(err)
	s.Require().NoError(exec.Run(s.ctx))
	rec, _ := s.store.GetMigrationInfo(exec.MigrationID())

	vpc, err := s.tc.targetEC2.GetVPC(s.ctx, rec.TargetID)
	s.Require().NoError(err)
	s.Equal("10.8.0.0/16", vpc.CIDRBlock)
}

func TestMapAvailabilityZone(t *testing.T) {
	assert.Equal(t, "eu-west-2a", mapAvailabilityZone("us-east-1a", "us-east-1", "eu-west-2"))
	assert.Equal(t, "us-east-1c", mapAvailabilityZone("us-east-1c", "us-east-1", "us-east-1"))
	assert.Equal(t, "", mapAvailabilityZone("use1-az4", "us-east-1", "eu-west-2"),
		"zone ids outside the region naming scheme are left to the provider")
}
