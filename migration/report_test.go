package migration

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accountmover/accountmover/cloud"
)

func seedReportTopology(tc *testClients) {
	source := tc.sourceEC2
	source.VPCs["vpc-src"] = &cloud.VPC{ID: "vpc-src", CIDRBlock: "10.0.0.0/16"}
	source.Subnets["subnet-src"] = &cloud.Subnet{ID: "subnet-src", VPCID: "vpc-src", CIDRBlock: "10.0.1.0/24"}
	source.Groups["sg-app"] = &cloud.SecurityGroup{ID: "sg-app", Name: "app", VPCID: "vpc-src"}
	source.Images["ami-base"] = &cloud.Image{ID: "ami-base", Name: "base", State: cloud.ImageStateAvailable}
	source.Instances["i-web"] = &cloud.Instance{
		ID: "i-web", Type: "t3.micro", State: cloud.InstanceStateRunning,
		ImageID: "ami-base", VPCID: "vpc-src", SecurityGroupIDs: []string{"sg-app"},
	}
	source.Instances["i-worker"] = &cloud.Instance{
		ID: "i-worker", Type: "t3.small", State: cloud.InstanceStateRunning,
		ImageID: "ami-gone", VPCID: "vpc-src",
	}
	source.Addresses["eipalloc-1"] = &cloud.Address{AllocationID: "eipalloc-1", PublicIP: "203.0.113.5", InstanceID: "i-web"}
	source.KeyPairs = []cloud.KeyPair{{Name: "prod-key", Fingerprint: "ab:cd"}}

	key := tc.sourceKMS.SeedKey("key-db", cloud.KeyManagerCustomer, "")
	tc.sourceRDS.DBInstances["prod-db"] = &cloud.DBInstance{
		ID: "prod-db", Status: cloud.DBStatusAvailable, Encrypted: true, KMSKeyID: key.ID,
	}
}

func TestCollectorAssemblesInventory(t *testing.T) {
	ctx := context.Background()
	tc := newTestClients("us-east-1", "us-east-1")
	seedReportTopology(tc)

	report, err := NewCollector(tc.clients).Collect(ctx)
	require.NoError(t, err)

	assert.Equal(t, testSourceAccount, report.AccountID)
	assert.Equal(t, "us-east-1", report.Region)

	require.Len(t, report.Instances, 2)
	web := report.Instances[0]
	assert.Equal(t, "i-web", web.Instance.ID)
	require.NotNil(t, web.Image)
	assert.Equal(t, "ami-base", web.Image.ID)
	require.Len(t, web.SecurityGroups, 1)
	require.NotNil(t, web.Address)
	assert.Equal(t, "203.0.113.5", web.Address.PublicIP)

	// A dangling image reference is skipped, not fatal.
	worker := report.Instances[1]
	assert.Equal(t, "i-worker", worker.Instance.ID)
	assert.Nil(t, worker.Image)

	require.Len(t, report.Databases, 1)
	require.NotNil(t, report.Databases[0].EncryptionKey)
	assert.Equal(t, "key-db", report.Databases[0].EncryptionKey.ID)

	require.Len(t, report.VPCs, 1)
	assert.Len(t, report.VPCs[0].Subnets, 1)
	assert.Len(t, report.VPCs[0].SecurityGroups, 1)

	assert.Len(t, report.KeyPairs, 1)
	assert.Len(t, report.Addresses, 1)
}

func TestCollectorRestrictsInstances(t *testing.T) {
	ctx := context.Background()
	tc := newTestClients("us-east-1", "us-east-1")
	seedReportTopology(tc)

	collector := NewCollector(tc.clients)
	collector.InstanceIDs = []string{"i-web"}
	report, err := collector.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, report.Instances, 1)
	assert.Equal(t, "i-web", report.Instances[0].Instance.ID)
}

func TestReportWritesJSON(t *testing.T) {
	ctx := context.Background()
	tc := newTestClients("us-east-1", "us-east-1")
	seedReportTopology(tc)

	report, err := NewCollector(tc.clients).Collect(ctx)
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	require.NoError(t, report.WriteJSON(buf))

	decoded := &Report{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), decoded))
	assert.Equal(t, report.AccountID, decoded.AccountID)
	assert.Len(t, decoded.Instances, 2)
}
