// Package cloud is the resource control plane: typed clients over the AWS
// SDK for the EC2, RDS, and KMS surfaces the migration planners touch, a
// bounded polling waiter, and stateful mocks of all three clients. Planners
// never see SDK input/output types; everything crosses this boundary as
// domain structs.
package cloud

import (
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/pkg/errors"

	"github.com/accountmover/accountmover"
)

// Resource state strings shared by clients and waiters.
const (
	ImageStateAvailable    = "available"
	ImageStatePending      = "pending"
	ImageStateFailed       = "failed"
	SnapshotStateCompleted = "completed"
	SnapshotStateError     = "error"
	InstanceStateRunning   = "running"
	InstanceStatePending   = "pending"
	NatGatewayAvailable    = "available"
	NatGatewayFailed       = "failed"
	DBStatusAvailable      = "available"
	DBSnapshotAvailable    = "available"
)

// KeyManagerAWS and KeyManagerCustomer mirror the KMS key manager field.
const (
	KeyManagerAWS      = "AWS"
	KeyManagerCustomer = "CUSTOMER"
)

// Instance is an EC2 instance.
type Instance struct {
	ID               string
	Type             string
	State            string
	ImageID          string
	KeyName          string
	VPCID            string
	SubnetID         string
	AvailabilityZone string
	PrivateIP        string
	PublicIP         string
	SecurityGroupIDs []string
	Monitoring       bool
	UserData         string
	BlockDevices     []BlockDevice
	Tags             map[string]string
}

// BlockDevice is a volume attached to an instance.
type BlockDevice struct {
	DeviceName string
	VolumeID   string
	SizeGiB    int64
	VolumeType string
	Encrypted  bool
}

// Image is an AMI together with its backing snapshot mappings.
type Image struct {
	ID           string
	Name         string
	State        string
	BlockDevices []ImageMapping
	Tags         map[string]string
}

// ImageMapping is one block device mapping of an image.
type ImageMapping struct {
	DeviceName string
	SnapshotID string
	SizeGiB    int64
	VolumeType string
	Encrypted  bool
	KMSKeyID   string
}

// Snapshot is an EBS snapshot.
type Snapshot struct {
	ID        string
	State     string
	VolumeID  string
	SizeGiB   int64
	Encrypted bool
	KMSKeyID  string
}

// SecurityGroup is an EC2 security group with its rule sets.
type SecurityGroup struct {
	ID          string
	Name        string
	Description string
	VPCID       string
	OwnerID     string
	Ingress     []IPPermission
	Egress      []IPPermission
	Tags        map[string]string
}

// IsDefault reports whether the group is a VPC's default group, which cannot
// be created or deleted and is always reused on the target side.
func (g *SecurityGroup) IsDefault() bool { return g.Name == "default" }

// IPPermission is a single security group rule.
type IPPermission struct {
	Protocol   string
	FromPort   *int64
	ToPort     *int64
	CIDRBlocks []string
	IPv6Blocks []string
	GroupPairs []GroupPair
}

// GroupPair is a rule's reference to another security group, possibly in
// another account.
type GroupPair struct {
	GroupID     string
	UserID      string
	Description string
}

// Address is an Elastic IP allocation.
type Address struct {
	AllocationID  string
	PublicIP      string
	InstanceID    string
	AssociationID string
}

// KeyPair is an EC2 SSH key pair (report inventory only).
type KeyPair struct {
	Name        string
	Fingerprint string
}

// VPC is a virtual private cloud.
type VPC struct {
	ID        string
	CIDRBlock string
	IsDefault bool
	Tags      map[string]string
}

// Subnet is a VPC subnet.
type Subnet struct {
	ID               string
	VPCID            string
	CIDRBlock        string
	AvailabilityZone string
	MapPublicIP      bool
	Tags             map[string]string
}

// InternetGateway is an internet gateway and the VPC it is attached to.
type InternetGateway struct {
	ID    string
	VPCID string
	Tags  map[string]string
}

// NatGateway is a NAT gateway.
type NatGateway struct {
	ID           string
	SubnetID     string
	State        string
	AllocationID string
	Tags         map[string]string
}

// RouteTable is a VPC route table with its routes and subnet associations.
type RouteTable struct {
	ID        string
	VPCID     string
	Main      bool
	Routes    []Route
	SubnetIDs []string
	Tags      map[string]string
}

// Route is a single route table entry. Exactly one target field is set;
// Local marks the implicit in-VPC route.
type Route struct {
	DestinationCIDR string
	GatewayID       string
	NatGatewayID    string
	InstanceID      string
	Local           bool
}

// NetworkACL is a network ACL with its entries and subnet associations.
type NetworkACL struct {
	ID        string
	VPCID     string
	IsDefault bool
	Entries   []ACLEntry
	SubnetIDs []string
	Tags      map[string]string
}

// ACLEntry is one numbered rule of a network ACL.
type ACLEntry struct {
	RuleNumber int64
	Protocol   string
	RuleAction string
	Egress     bool
	CIDRBlock  string
	FromPort   *int64
	ToPort     *int64
}

// DBInstance is an RDS database instance.
type DBInstance struct {
	ID                      string
	ARN                     string
	Class                   string
	Engine                  string
	EngineVersion           string
	Status                  string
	AllocatedStorage        int64
	StorageType             string
	MultiAZ                 bool
	Encrypted               bool
	KMSKeyID                string
	SubnetGroup             string
	VPCID                   string
	SecurityGroupIDs        []string
	PubliclyAccessible      bool
	DeletionProtection      bool
	AutoMinorVersionUpgrade bool
	Port                    int64
	Tags                    map[string]string
}

// DBSnapshot is an RDS database snapshot.
type DBSnapshot struct {
	ID        string
	ARN       string
	Status    string
	Encrypted bool
	KMSKeyID  string
	Tags      map[string]string
}

// Key is a KMS key.
type Key struct {
	ID          string
	ARN         string
	Manager     string
	Description string
	Enabled     bool
}

// AWSManaged reports whether AWS, rather than the account owner, manages the
// key. AWS-managed keys cannot be shared across accounts, which forces the
// snapshot re-encryption path.
func (k *Key) AWSManaged() bool { return k.Manager == KeyManagerAWS }

// APIError is a failed control plane call: the operation attempted, the
// service error code when the SDK exposed one, and the underlying error.
type APIError struct {
	Op   string
	Code string
	Err  error
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *APIError) Cause() error { return e.Err }

// wrapAPIError converts an SDK error into an APIError, extracting the awserr
// code when present. A nil err returns nil.
func wrapAPIError(op string, err error) error {
	if err == nil {
		return nil
	}
	apiErr := &APIError{Op: op, Err: err}
	if aerr, ok := errors.Cause(err).(awserr.Error); ok {
		apiErr.Code = aerr.Code()
	}
	return apiErr
}

// IsAPIError reports whether err (or its cause) is an APIError.
func IsAPIError(err error) bool {
	if err == nil {
		return false
	}
	_, ok := errors.Cause(err).(*APIError)
	return ok
}

// errorCode extracts the service error code from err, whether it is an
// APIError or a raw awserr.
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	switch cause := errors.Cause(err).(type) {
	case *APIError:
		return cause.Code
	case awserr.Error:
		return cause.Code()
	}
	return ""
}

// IsResourceNotFound reports whether err indicates the referenced resource
// does not exist. Planners treat this as "the cached resource is gone":
// validation fails and the step reruns.
func IsResourceNotFound(err error) bool {
	code := errorCode(err)
	if code == "" {
		return false
	}
	if strings.Contains(code, "NotFound") {
		return true
	}
	switch code {
	case "NotFoundException", "DBInstanceNotFoundFault", "DBSnapshotNotFoundFault":
		return true
	}
	return false
}

// IsDuplicateResource reports whether err indicates the resource or rule
// already exists. Idempotent creation paths swallow these.
func IsDuplicateResource(err error) bool {
	code := errorCode(err)
	switch code {
	case "InvalidPermission.Duplicate", "InvalidGroup.Duplicate",
		"AlreadyExistsException", "DBSnapshotAlreadyExists", "NetworkAclEntryAlreadyExists":
		return true
	}
	return strings.Contains(code, "Duplicate")
}

// IsAccessDenied reports whether err is a permissions rejection. The RDS key
// resolution path uses this to fall back from CreateGrant to a key-policy
// statement.
func IsAccessDenied(err error) bool {
	switch errorCode(err) {
	case "AccessDenied", "AccessDeniedException", "UnauthorizedOperation":
		return true
	}
	return false
}

// WaiterTimeoutError indicates a resource did not reach its expected state
// within the waiter's attempt budget. The operation may still converge on the
// provider side; re-running the migration resumes from the same wait.
type WaiterTimeoutError struct {
	Resource string
	ID       string
	Attempts int
	Interval time.Duration
}

func (e *WaiterTimeoutError) Error() string {
	return fmt.Sprintf("%s '%s' did not reach the expected state after %d checks %s apart",
		e.Resource, e.ID, e.Attempts, e.Interval)
}

// IsWaiterTimeout reports whether err (or its cause) is a WaiterTimeoutError.
func IsWaiterTimeout(err error) bool {
	if err == nil {
		return false
	}
	_, ok := errors.Cause(err).(*WaiterTimeoutError)
	return ok
}

// SanitizeTags returns tags minus the reserved aws: namespace and minus the
// Name key, which migrated resources replace with their own.
func SanitizeTags(tags map[string]string) map[string]string {
	out := map[string]string{}
	for k, v := range tags {
		if strings.HasPrefix(k, accountmover.ReservedTagPrefix) || k == "Name" {
			continue
		}
		out[k] = v
	}
	return out
}

// NameTag extracts the Name tag, or the empty string.
func NameTag(tags map[string]string) string { return tags["Name"] }
