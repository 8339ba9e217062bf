package migration

import (
	"context"
	"strings"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"

	"github.com/accountmover/accountmover"
	"github.com/accountmover/accountmover/cloud"
	"github.com/accountmover/accountmover/state"
)

// NetworkPlannerOptions configures one VPC topology migration.
type NetworkPlannerOptions struct {
	VPCID string
	// TargetCIDR overrides the replica VPC's CIDR block. When empty the
	// source block is reused.
	TargetCIDR string
	// SubnetAZOverrides pins source subnets (by id) to explicit target
	// availability zones, overriding the letter-suffix mapping heuristic.
	SubnetAZOverrides map[string]string
	WaitInterval      time.Duration
	WaitAttempts      int
}

func (o *NetworkPlannerOptions) Validate() error {
	if o.VPCID == "" {
		return errors.New("vpc id must not be empty")
	}
	return nil
}

// NetworkPlanner replicates a VPC and its topology (subnets, internet
// gateway, security groups, NAT gateways, route tables, network ACLs) into
// the target account. Every step converges on existing target resources so
// re-running after a partial failure completes the topology instead of
// duplicating it.
type NetworkPlanner struct {
	clients     *cloud.Clients
	store       *state.Manager
	opts        NetworkPlannerOptions
	migrationID string
}

func NewNetworkPlanner(clients *cloud.Clients, store *state.Manager, opts NetworkPlannerOptions) *NetworkPlanner {
	return &NetworkPlanner{clients: clients, store: store, opts: opts}
}

type vpcAnalysis struct {
	CIDRBlock   string            `json:"cidr_block"`
	Name        string            `json:"name"`
	Tags        map[string]string `json:"tags"`
	SubnetCount int               `json:"subnet_count"`
}

type subnetMapping struct {
	// SubnetMap maps source subnet ids to their target replicas.
	SubnetMap map[string]string `json:"subnet_map"`
}

type natMapping struct {
	NatMap map[string]string `json:"nat_map"`
}

type routeTableMapping struct {
	RouteTableMap map[string]string `json:"route_table_map"`
	SkippedRoutes []string          `json:"skipped_routes"`
}

// Prepare resolves the source VPC, initializes (or resumes) the migration
// record, and returns the executor for the full step sequence.
func (p *NetworkPlanner) Prepare(ctx context.Context) (*Executor, error) {
	if err := p.opts.Validate(); err != nil {
		return nil, err
	}

	vpc, err := p.clients.SourceEC2.GetVPC(ctx, p.opts.VPCID)
	if err != nil {
		return nil, errors.Wrapf(err, "describing source vpc '%s'", p.opts.VPCID)
	}

	migrationID, err := p.store.InitializeMigration(state.ResourceTypeVPC, p.opts.VPCID, map[string]interface{}{
		"cidr_block": vpc.CIDRBlock,
		"name":       cloud.NameTag(vpc.Tags),
	})
	if err != nil {
		return nil, err
	}
	p.migrationID = migrationID

	return NewExecutor(p.store, migrationID, p.steps()), nil
}

func (p *NetworkPlanner) steps() []Step {
	return []Step{
		{
			Name:        "analyze_vpc",
			Description: "Capture the source VPC's topology",
			Run:         p.analyzeVPC,
		},
		{
			Name:        "ensure_vpc",
			Description: "Reuse or create the replica VPC",
			Run:         p.ensureVPC,
			Validate:    p.validateVPC,
		},
		{
			Name:        "create_subnets",
			Description: "Reuse or create the replica subnets",
			Run:         p.createSubnets,
			Validate:    p.validateSubnets,
		},
		{
			Name:        "create_internet_gateway",
			Description: "Attach an internet gateway when the source VPC has one",
			Run:         p.createInternetGateway,
		},
		{
			Name:        "create_security_groups",
			Description: "Recreate the VPC's security groups with remapped rules",
			Run:         p.createSecurityGroups,
		},
		{
			Name:        "create_nat_gateways",
			Description: "Recreate NAT gateways in the mapped subnets",
			Run:         p.createNatGateways,
		},
		{
			Name:        "create_route_tables",
			Description: "Recreate custom route tables with remapped targets",
			Run:         p.createRouteTables,
		},
		{
			Name:        "associate_route_tables",
			Description: "Associate the replicated route tables with the mapped subnets",
			Run:         p.associateRouteTables,
		},
		{
			Name:        "create_network_acls",
			Description: "Recreate custom network ACLs and move subnet associations to them",
			Run:         p.createNetworkACLs,
		},
	}
}

func (p *NetworkPlanner) analyzeVPC(ctx context.Context) (map[string]interface{}, error) {
	vpc, err := p.clients.SourceEC2.GetVPC(ctx, p.opts.VPCID)
	if err != nil {
		return nil, errors.Wrap(err, "describing source vpc")
	}
	subnets, err := p.clients.SourceEC2.ListSubnets(ctx, p.opts.VPCID)
	if err != nil {
		return nil, errors.Wrap(err, "listing source subnets")
	}
	return encodeStepData(&vpcAnalysis{
		CIDRBlock:   vpc.CIDRBlock,
		Name:        cloud.NameTag(vpc.Tags),
		Tags:        vpc.Tags,
		SubnetCount: len(subnets),
	})
}

func (p *NetworkPlanner) analysis() (*vpcAnalysis, error) {
	analysis := &vpcAnalysis{}
	data := p.store.GetStepData(p.migrationID, "analyze_vpc")
	if len(data) == 0 {
		return nil, errors.New("vpc analysis is not recorded")
	}
	if err := decodeStepData(data, analysis); err != nil {
		return nil, err
	}
	return analysis, nil
}

func (p *NetworkPlanner) targetVPC() (string, error) {
	vpcID, _ := p.store.GetStepData(p.migrationID, "ensure_vpc")["target_vpc_id"].(string)
	if vpcID == "" {
		return "", errors.New("target vpc is not recorded")
	}
	return vpcID, nil
}

func (p *NetworkPlanner) subnetMap() (map[string]string, error) {
	mapping := &subnetMapping{}
	if err := decodeStepData(p.store.GetStepData(p.migrationID, "create_subnets"), mapping); err != nil {
		return nil, err
	}
	if len(mapping.SubnetMap) == 0 {
		return nil, errors.New("subnet mapping is not recorded")
	}
	return mapping.SubnetMap, nil
}

func (p *NetworkPlanner) ensureVPC(ctx context.Context) (map[string]interface{}, error) {
	analysis, err := p.analysis()
	if err != nil {
		return nil, err
	}

	cidr := analysis.CIDRBlock
	if p.opts.TargetCIDR != "" {
		cidr = p.opts.TargetCIDR
	}

	existing, err := p.clients.TargetEC2.FindVPCByCIDR(ctx, cidr)
	if err != nil {
		return nil, errors.Wrap(err, "looking for an existing vpc by cidr")
	}
	if existing != nil {
		grip.Info(message.Fields{
			"message":    "reusing existing vpc",
			"migration":  p.migrationID,
			"vpc":        existing.ID,
			"cidr_block": cidr,
		})
		return map[string]interface{}{"target_vpc_id": existing.ID, "cidr_block": cidr, "reused": true}, nil
	}

	name := analysis.Name
	if name == "" {
		name = p.opts.VPCID
	}
	tags := cloud.SanitizeTags(analysis.Tags)
	tags["Name"] = name + accountmover.MigratedSuffix
	tags[accountmover.MigratedFromTag] = p.opts.VPCID

	vpcID, err := p.clients.TargetEC2.CreateVPC(ctx, cidr, tags)
	if err != nil {
		return nil, errors.Wrap(err, "creating replica vpc")
	}
	if err := p.clients.TargetEC2.EnableVPCDNS(ctx, vpcID); err != nil {
		return nil, errors.Wrap(err, "enabling dns on replica vpc")
	}
	if err := p.store.AddCreatedResource(p.migrationID, "vpc", vpcID, map[string]interface{}{
		"cidr_block": cidr,
	}); err != nil {
		return nil, err
	}
	if err := p.store.SetTargetResource(p.migrationID, vpcID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"target_vpc_id": vpcID, "cidr_block": cidr, "reused": false}, nil
}

func (p *NetworkPlanner) validateVPC(ctx context.Context, data map[string]interface{}) (bool, error) {
	vpcID, _ := data["target_vpc_id"].(string)
	if vpcID == "" {
		return false, nil
	}
	if _, err := p.clients.TargetEC2.GetVPC(ctx, vpcID); err != nil {
		if cloud.IsResourceNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (p *NetworkPlanner) createSubnets(ctx context.Context) (map[string]interface{}, error) {
	targetVPC, err := p.targetVPC()
	if err != nil {
		return nil, err
	}
	sourceSubnets, err := p.clients.SourceEC2.ListSubnets(ctx, p.opts.VPCID)
	if err != nil {
		return nil, errors.Wrap(err, "listing source subnets")
	}
	targetSubnets, err := p.clients.TargetEC2.ListSubnets(ctx, targetVPC)
	if err != nil {
		return nil, errors.Wrap(err, "listing target subnets")
	}

	existingByCIDR := map[string]string{}
	for _, subnet := range targetSubnets {
		existingByCIDR[subnet.CIDRBlock] = subnet.ID
	}

	subnetMap := map[string]string{}
	for _, subnet := range sourceSubnets {
		if targetID, ok := existingByCIDR[subnet.CIDRBlock]; ok {
			subnetMap[subnet.ID] = targetID
			continue
		}

		zone := p.opts.SubnetAZOverrides[subnet.ID]
		if zone == "" {
			zone = mapAvailabilityZone(subnet.AvailabilityZone, p.clients.Source.Region, p.clients.Target.Region)
		}
		tags := cloud.SanitizeTags(subnet.Tags)
		if name := cloud.NameTag(subnet.Tags); name != "" {
			tags["Name"] = name + accountmover.MigratedSuffix
		}
		tags[accountmover.MigratedFromTag] = subnet.ID

		targetID, err := p.clients.TargetEC2.CreateSubnet(ctx, targetVPC, subnet.CIDRBlock, zone, tags)
		if err != nil {
			return nil, errors.Wrapf(err, "creating subnet for '%s'", subnet.CIDRBlock)
		}
		if err := p.store.AddCreatedResource(p.migrationID, "subnet", targetID, map[string]interface{}{
			"cidr_block":    subnet.CIDRBlock,
			"source_subnet": subnet.ID,
		}); err != nil {
			return nil, err
		}
		subnetMap[subnet.ID] = targetID
	}

	return encodeStepData(&subnetMapping{SubnetMap: subnetMap})
}

func (p *NetworkPlanner) validateSubnets(ctx context.Context, data map[string]interface{}) (bool, error) {
	mapping := &subnetMapping{}
	if err := decodeStepData(data, mapping); err != nil || len(mapping.SubnetMap) == 0 {
		return false, nil
	}
	vpcID, err := p.targetVPC()
	if err != nil {
		return false, nil
	}
	subnets, err := p.clients.TargetEC2.ListSubnets(ctx, vpcID)
	if err != nil {
		if cloud.IsResourceNotFound(err) {
			return false, nil
		}
		return false, err
	}
	live := map[string]bool{}
	for _, subnet := range subnets {
		live[subnet.ID] = true
	}
	for _, targetID := range mapping.SubnetMap {
		if !live[targetID] {
			return false, nil
		}
	}
	return true, nil
}

func (p *NetworkPlanner) createInternetGateway(ctx context.Context) (map[string]interface{}, error) {
	sourceGateway, err := p.clients.SourceEC2.GetAttachedInternetGateway(ctx, p.opts.VPCID)
	if err != nil {
		return nil, errors.Wrap(err, "checking for a source internet gateway")
	}
	if sourceGateway == nil {
		return map[string]interface{}{"skipped": true}, nil
	}

	targetVPC, err := p.targetVPC()
	if err != nil {
		return nil, err
	}
	existing, err := p.clients.TargetEC2.GetAttachedInternetGateway(ctx, targetVPC)
	if err != nil {
		return nil, errors.Wrap(err, "checking for an existing target internet gateway")
	}
	if existing != nil {
		return map[string]interface{}{"igw_id": existing.ID, "reused": true}, nil
	}

	gatewayID, err := p.clients.TargetEC2.CreateInternetGateway(ctx, targetVPC, map[string]string{
		accountmover.MigratedFromTag: sourceGateway.ID,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating internet gateway")
	}
	if err := p.store.AddCreatedResource(p.migrationID, "internet_gateway", gatewayID, map[string]interface{}{
		"vpc_id": targetVPC,
	}); err != nil {
		return nil, err
	}
	return map[string]interface{}{"igw_id": gatewayID, "reused": false}, nil
}

func (p *NetworkPlanner) createSecurityGroups(ctx context.Context) (map[string]interface{}, error) {
	targetVPC, err := p.targetVPC()
	if err != nil {
		return nil, err
	}
	groups, err := p.clients.SourceEC2.ListSecurityGroups(ctx, p.opts.VPCID)
	if err != nil {
		return nil, errors.Wrap(err, "listing source security groups")
	}
	groupIDs := make([]string, 0, len(groups))
	for _, group := range groups {
		groupIDs = append(groupIDs, group.ID)
	}

	replicator := &groupReplicator{
		source:      p.clients.SourceEC2,
		target:      p.clients.TargetEC2,
		store:       p.store,
		migrationID: p.migrationID,
	}
	result, err := replicator.Replicate(ctx, groupIDs, targetVPC)
	if err != nil {
		return nil, err
	}
	return encodeStepData(result)
}

func (p *NetworkPlanner) createNatGateways(ctx context.Context) (map[string]interface{}, error) {
	subnetMap, err := p.subnetMap()
	if err != nil {
		return nil, err
	}
	targetVPC, err := p.targetVPC()
	if err != nil {
		return nil, err
	}

	sourceGateways, err := p.clients.SourceEC2.ListNatGateways(ctx, p.opts.VPCID)
	if err != nil {
		return nil, errors.Wrap(err, "listing source nat gateways")
	}
	targetGateways, err := p.clients.TargetEC2.ListNatGateways(ctx, targetVPC)
	if err != nil {
		return nil, errors.Wrap(err, "listing target nat gateways")
	}
	existingBySubnet := map[string]string{}
	for _, gateway := range targetGateways {
		existingBySubnet[gateway.SubnetID] = gateway.ID
	}

	natMap := map[string]string{}
	for _, gateway := range sourceGateways {
		if gateway.State != cloud.NatGatewayAvailable {
			continue
		}
		targetSubnet, ok := subnetMap[gateway.SubnetID]
		if !ok {
			return nil, errors.Errorf("nat gateway '%s' sits in subnet '%s' which has no mapped replica",
				gateway.ID, gateway.SubnetID)
		}
		if existingID, ok := existingBySubnet[targetSubnet]; ok {
			natMap[gateway.ID] = existingID
			continue
		}

		address, err := p.clients.TargetEC2.AllocateAddress(ctx, map[string]string{
			accountmover.MigratedFromTag: gateway.ID,
		})
		if err != nil {
			return nil, errors.Wrap(err, "allocating address for nat gateway")
		}
		if err := p.store.AddCreatedResource(p.migrationID, "elastic_ip", address.AllocationID, map[string]interface{}{
			"public_ip": address.PublicIP,
		}); err != nil {
			return nil, err
		}

		targetID, err := p.clients.TargetEC2.CreateNatGateway(ctx, targetSubnet, address.AllocationID, map[string]string{
			accountmover.MigratedFromTag: gateway.ID,
		})
		if err != nil {
			return nil, errors.Wrap(err, "creating nat gateway")
		}
		if err := p.store.AddCreatedResource(p.migrationID, "nat_gateway", targetID, map[string]interface{}{
			"subnet_id": targetSubnet,
		}); err != nil {
			return nil, err
		}

		err = cloud.Wait(ctx, cloud.WaitSpec{
			Resource:    "nat gateway",
			ID:          targetID,
			Interval:    p.opts.WaitInterval,
			MaxAttempts: p.opts.WaitAttempts,
		}, func(ctx context.Context) (bool, error) {
			current, err := p.clients.TargetEC2.GetNatGateway(ctx, targetID)
			if err != nil {
				return false, err
			}
			if current.State == cloud.NatGatewayFailed {
				return false, errors.Errorf("nat gateway '%s' entered the failed state", targetID)
			}
			return current.State == cloud.NatGatewayAvailable, nil
		})
		if err != nil {
			return nil, err
		}
		natMap[gateway.ID] = targetID
	}

	return encodeStepData(&natMapping{NatMap: natMap})
}

func (p *NetworkPlanner) createRouteTables(ctx context.Context) (map[string]interface{}, error) {
	targetVPC, err := p.targetVPC()
	if err != nil {
		return nil, err
	}
	sourceTables, err := p.clients.SourceEC2.ListRouteTables(ctx, p.opts.VPCID)
	if err != nil {
		return nil, errors.Wrap(err, "listing source route tables")
	}
	targetTables, err := p.clients.TargetEC2.ListRouteTables(ctx, targetVPC)
	if err != nil {
		return nil, errors.Wrap(err, "listing target route tables")
	}

	var targetMain string
	for _, table := range targetTables {
		if table.Main {
			targetMain = table.ID
		}
	}

	igwID, _ := p.store.GetStepData(p.migrationID, "create_internet_gateway")["igw_id"].(string)
	nats := &natMapping{}
	if err := decodeStepData(p.store.GetStepData(p.migrationID, "create_nat_gateways"), nats); err != nil {
		return nil, err
	}
	natMap := nats.NatMap

	tableMap := map[string]string{}
	skipped := []string{}
	for _, table := range sourceTables {
		if table.Main {
			// The main table cannot be created; the target VPC's own main
			// table stands in for it.
			tableMap[table.ID] = targetMain
			continue
		}

		tags := cloud.SanitizeTags(table.Tags)
		if name := cloud.NameTag(table.Tags); name != "" {
			tags["Name"] = name + accountmover.MigratedSuffix
		}
		tags[accountmover.MigratedFromTag] = table.ID
		targetID, err := p.clients.TargetEC2.CreateRouteTable(ctx, targetVPC, tags)
		if err != nil {
			return nil, errors.Wrapf(err, "creating route table for '%s'", table.ID)
		}
		if err := p.store.AddCreatedResource(p.migrationID, "route_table", targetID, map[string]interface{}{
			"source_table": table.ID,
		}); err != nil {
			return nil, err
		}
		tableMap[table.ID] = targetID

		for _, route := range table.Routes {
			if route.Local || route.DestinationCIDR == "" {
				continue
			}
			var gatewayID, natGatewayID string
			switch {
			case strings.HasPrefix(route.GatewayID, "igw-") && igwID != "":
				gatewayID = igwID
			case route.NatGatewayID != "":
				mapped, ok := natMap[route.NatGatewayID]
				if !ok {
					skipped = append(skipped, route.DestinationCIDR)
					continue
				}
				natGatewayID = mapped
			default:
				// Instance, peering, and other targets have no replica to
				// point at.
				skipped = append(skipped, route.DestinationCIDR)
				continue
			}
			if err := p.clients.TargetEC2.CreateRoute(ctx, targetID, route.DestinationCIDR, gatewayID, natGatewayID); err != nil && !cloud.IsDuplicateResource(err) {
				return nil, errors.Wrapf(err, "creating route to '%s'", route.DestinationCIDR)
			}
		}
	}

	if len(skipped) > 0 {
		grip.Warning(message.Fields{
			"message":        "some routes could not be replicated",
			"migration":      p.migrationID,
			"skipped_routes": skipped,
		})
	}
	return encodeStepData(&routeTableMapping{RouteTableMap: tableMap, SkippedRoutes: skipped})
}

func (p *NetworkPlanner) associateRouteTables(ctx context.Context) (map[string]interface{}, error) {
	subnetMap, err := p.subnetMap()
	if err != nil {
		return nil, err
	}
	sourceTables, err := p.clients.SourceEC2.ListRouteTables(ctx, p.opts.VPCID)
	if err != nil {
		return nil, errors.Wrap(err, "listing source route tables")
	}

	tables := &routeTableMapping{}
	if err := decodeStepData(p.store.GetStepData(p.migrationID, "create_route_tables"), tables); err != nil {
		return nil, err
	}
	tableMap := tables.RouteTableMap

	associated := 0
	for _, table := range sourceTables {
		if table.Main {
			continue
		}
		targetTable, ok := tableMap[table.ID]
		if !ok || targetTable == "" {
			continue
		}
		for _, sourceSubnet := range table.SubnetIDs {
			targetSubnet, ok := subnetMap[sourceSubnet]
			if !ok {
				continue
			}
			if err := p.clients.TargetEC2.AssociateRouteTable(ctx, targetTable, targetSubnet); err != nil && !cloud.IsDuplicateResource(err) {
				return nil, errors.Wrapf(err, "associating route table '%s' with subnet '%s'", targetTable, targetSubnet)
			}
			associated++
		}
	}
	return map[string]interface{}{"associations": associated}, nil
}

func (p *NetworkPlanner) createNetworkACLs(ctx context.Context) (map[string]interface{}, error) {
	subnetMap, err := p.subnetMap()
	if err != nil {
		return nil, err
	}
	targetVPC, err := p.targetVPC()
	if err != nil {
		return nil, err
	}
	sourceACLs, err := p.clients.SourceEC2.ListNetworkACLs(ctx, p.opts.VPCID)
	if err != nil {
		return nil, errors.Wrap(err, "listing source network acls")
	}

	aclMap := map[string]string{}
	for _, acl := range sourceACLs {
		// Default ACLs exist in every VPC already; only custom ones carry
		// intent worth replicating.
		if acl.IsDefault {
			continue
		}

		tags := cloud.SanitizeTags(acl.Tags)
		if name := cloud.NameTag(acl.Tags); name != "" {
			tags["Name"] = name + accountmover.MigratedSuffix
		}
		tags[accountmover.MigratedFromTag] = acl.ID
		targetID, err := p.clients.TargetEC2.CreateNetworkACL(ctx, targetVPC, tags)
		if err != nil {
			return nil, errors.Wrapf(err, "creating network acl for '%s'", acl.ID)
		}
		if err := p.store.AddCreatedResource(p.migrationID, "network_acl", targetID, map[string]interface{}{
			"source_acl": acl.ID,
		}); err != nil {
			return nil, err
		}
		aclMap[acl.ID] = targetID

		for _, entry := range acl.Entries {
			if err := p.clients.TargetEC2.CreateNetworkACLEntry(ctx, targetID, entry); err != nil && !cloud.IsDuplicateResource(err) {
				return nil, errors.Wrapf(err, "creating network acl entry %d", entry.RuleNumber)
			}
		}
		for _, sourceSubnet := range acl.SubnetIDs {
			targetSubnet, ok := subnetMap[sourceSubnet]
			if !ok {
				continue
			}
			if err := p.clients.TargetEC2.ReplaceNetworkACLAssociation(ctx, targetSubnet, targetID); err != nil {
				return nil, errors.Wrapf(err, "associating network acl with subnet '%s'", targetSubnet)
			}
		}
	}

	return map[string]interface{}{"acl_map": aclMap}, nil
}

// mapAvailabilityZone translates a source zone into the target region by
// carrying the zone letter suffix across, so us-east-1a becomes eu-west-2a.
// Zones that do not start with the source region name are left to the
// provider to place.
func mapAvailabilityZone(zone, sourceRegion, targetRegion string) string {
	if sourceRegion == targetRegion {
		return zone
	}
	if !strings.HasPrefix(zone, sourceRegion) {
		return ""
	}
	return targetRegion + strings.TrimPrefix(zone, sourceRegion)
}
