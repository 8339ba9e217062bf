package migration

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"

	"github.com/accountmover/accountmover/cloud"
)

// Report is the dependency-inclusive inventory of everything in the source
// account the migration could touch. It is assembled read-only; collecting a
// report never writes to either account or to the state store.
type Report struct {
	AccountID   string `json:"account_id"`
	Region      string `json:"region"`
	GeneratedAt string `json:"generated_at"`

	Instances []InstanceReport `json:"instances"`
	Databases []DatabaseReport `json:"databases"`
	VPCs      []VPCReport      `json:"vpcs"`
	KeyPairs  []cloud.KeyPair  `json:"key_pairs"`
	Addresses []cloud.Address  `json:"addresses"`
}

// InstanceReport is one instance together with the resources it pulls along:
// the image it launched from, its security groups, and its attached volumes.
type InstanceReport struct {
	Instance       cloud.Instance        `json:"instance"`
	Image          *cloud.Image          `json:"image,omitempty"`
	SecurityGroups []cloud.SecurityGroup `json:"security_groups"`
	BlockDevices   []cloud.BlockDevice   `json:"block_devices"`
	Address        *cloud.Address        `json:"address,omitempty"`
}

// DatabaseReport is one RDS instance with its encryption key, when the key
// is readable.
type DatabaseReport struct {
	Database      cloud.DBInstance `json:"database"`
	EncryptionKey *cloud.Key       `json:"encryption_key,omitempty"`
}

// VPCReport is one VPC with the topology the network planner replicates.
type VPCReport struct {
	VPC             cloud.VPC              `json:"vpc"`
	Subnets         []cloud.Subnet         `json:"subnets"`
	InternetGateway *cloud.InternetGateway `json:"internet_gateway,omitempty"`
	NatGateways     []cloud.NatGateway     `json:"nat_gateways"`
	RouteTables     []cloud.RouteTable     `json:"route_tables"`
	NetworkACLs     []cloud.NetworkACL     `json:"network_acls"`
	SecurityGroups  []cloud.SecurityGroup  `json:"security_groups"`
}

// Collector walks the source account's control plane and assembles a Report.
type Collector struct {
	clients *cloud.Clients
	// InstanceIDs restricts the instance inventory; empty collects every
	// instance in the region.
	InstanceIDs []string
}

func NewCollector(clients *cloud.Clients) *Collector {
	return &Collector{clients: clients}
}

// Collect assembles the full inventory. Lookups of secondary resources that
// fail with not-found are logged and skipped rather than failing the report,
// since dangling references (a deregistered image, a deleted key) are common
// in long-lived accounts.
func (c *Collector) Collect(ctx context.Context) (*Report, error) {
	report := &Report{
		AccountID:   c.clients.Source.ID,
		Region:      c.clients.Source.Region,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}

	instances, err := c.clients.SourceEC2.ListInstances(ctx, c.InstanceIDs)
	if err != nil {
		return nil, errors.Wrap(err, "listing instances")
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].ID < instances[j].ID })
	for _, instance := range instances {
		entry, err := c.collectInstance(ctx, instance)
		if err != nil {
			return nil, errors.Wrapf(err, "collecting instance '%s'", instance.ID)
		}
		report.Instances = append(report.Instances, *entry)
	}

	databases, err := c.clients.SourceRDS.ListDBInstances(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing databases")
	}
	sort.Slice(databases, func(i, j int) bool { return databases[i].ID < databases[j].ID })
	for _, database := range databases {
		entry := DatabaseReport{Database: database}
		if database.Encrypted && database.KMSKeyID != "" {
			key, err := c.clients.SourceKMS.DescribeKey(ctx, database.KMSKeyID)
			if err != nil {
				if !cloud.IsResourceNotFound(err) && !cloud.IsAccessDenied(err) {
					return nil, errors.Wrapf(err, "describing key for database '%s'", database.ID)
				}
				grip.Warning(message.Fields{
					"message":  "could not read a database's encryption key",
					"database": database.ID,
					"key":      database.KMSKeyID,
				})
			} else {
				entry.EncryptionKey = key
			}
		}
		report.Databases = append(report.Databases, entry)
	}

	vpcs, err := c.clients.SourceEC2.ListVPCs(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing vpcs")
	}
	sort.Slice(vpcs, func(i, j int) bool { return vpcs[i].ID < vpcs[j].ID })
	for _, vpc := range vpcs {
		entry, err := c.collectVPC(ctx, vpc)
		if err != nil {
			return nil, errors.Wrapf(err, "collecting vpc '%s'", vpc.ID)
		}
		report.VPCs = append(report.VPCs, *entry)
	}

	if report.KeyPairs, err = c.clients.SourceEC2.ListKeyPairs(ctx); err != nil {
		return nil, errors.Wrap(err, "listing key pairs")
	}
	if report.Addresses, err = c.clients.SourceEC2.ListAddresses(ctx); err != nil {
		return nil, errors.Wrap(err, "listing addresses")
	}
	return report, nil
}

func (c *Collector) collectInstance(ctx context.Context, instance cloud.Instance) (*InstanceReport, error) {
	entry := &InstanceReport{Instance: instance, BlockDevices: instance.BlockDevices}

	if instance.ImageID != "" {
		image, err := c.clients.SourceEC2.GetImage(ctx, instance.ImageID)
		if err != nil {
			if !cloud.IsResourceNotFound(err) {
				return nil, errors.Wrap(err, "describing launch image")
			}
			grip.Warning(message.Fields{
				"message":  "launch image no longer exists",
				"instance": instance.ID,
				"image":    instance.ImageID,
			})
		} else {
			entry.Image = image
		}
	}

	for _, groupID := range instance.SecurityGroupIDs {
		group, err := c.clients.SourceEC2.GetSecurityGroup(ctx, groupID)
		if err != nil {
			return nil, errors.Wrapf(err, "describing security group '%s'", groupID)
		}
		entry.SecurityGroups = append(entry.SecurityGroups, *group)
	}

	address, err := c.clients.SourceEC2.GetAddressForInstance(ctx, instance.ID)
	if err != nil {
		return nil, errors.Wrap(err, "checking for an elastic ip")
	}
	entry.Address = address
	return entry, nil
}

func (c *Collector) collectVPC(ctx context.Context, vpc cloud.VPC) (*VPCReport, error) {
	entry := &VPCReport{VPC: vpc}

	var err error
	if entry.Subnets, err = c.clients.SourceEC2.ListSubnets(ctx, vpc.ID); err != nil {
		return nil, errors.Wrap(err, "listing subnets")
	}
	if entry.InternetGateway, err = c.clients.SourceEC2.GetAttachedInternetGateway(ctx, vpc.ID); err != nil {
		return nil, errors.Wrap(err, "checking for an internet gateway")
	}
	if entry.NatGateways, err = c.clients.SourceEC2.ListNatGateways(ctx, vpc.ID); err != nil {
		return nil, errors.Wrap(err, "listing nat gateways")
	}
	if entry.RouteTables, err = c.clients.SourceEC2.ListRouteTables(ctx, vpc.ID); err != nil {
		return nil, errors.Wrap(err, "listing route tables")
	}
	if entry.NetworkACLs, err = c.clients.SourceEC2.ListNetworkACLs(ctx, vpc.ID); err != nil {
		return nil, errors.Wrap(err, "listing network acls")
	}
	if entry.SecurityGroups, err = c.clients.SourceEC2.ListSecurityGroups(ctx, vpc.ID); err != nil {
		return nil, errors.Wrap(err, "listing security groups")
	}
	return entry, nil
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(r), "encoding report")
}
