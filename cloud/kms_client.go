package cloud

import (
	"context"
	"sort"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kms"
)

// Grant operations the cross-account key sharing path requests for the
// target account.
var CrossAccountKeyOperations = []string{
	kms.GrantOperationDecrypt,
	kms.GrantOperationDescribeKey,
	kms.GrantOperationCreateGrant,
}

// KMSClient is the KMS surface the database planner's key resolution uses.
type KMSClient interface {
	DescribeKey(ctx context.Context, keyID string) (*Key, error)
	CreateKey(ctx context.Context, description string, tags map[string]string) (*Key, error)
	CreateAlias(ctx context.Context, aliasName, keyID string) error
	FindKeyByAlias(ctx context.Context, aliasName string) (*Key, error)
	CreateGrant(ctx context.Context, keyID, granteeAccountID string, operations []string) error
	GetKeyPolicy(ctx context.Context, keyID string) (string, error)
	PutKeyPolicy(ctx context.Context, keyID, policy string) error
}

type awsKMSClient struct {
	kms *kms.KMS
}

func newKMSClient(s *session.Session) KMSClient {
	return &awsKMSClient{kms: kms.New(s)}
}

func (c *awsKMSClient) DescribeKey(ctx context.Context, keyID string) (*Key, error) {
	out, err := c.kms.DescribeKeyWithContext(ctx, &kms.DescribeKeyInput{
		KeyId: aws.String(keyID),
	})
	if err != nil {
		return nil, wrapAPIError("kms.DescribeKey", err)
	}
	return convertKey(out.KeyMetadata), nil
}

func (c *awsKMSClient) CreateKey(ctx context.Context, description string, tags map[string]string) (*Key, error) {
	out, err := c.kms.CreateKeyWithContext(ctx, &kms.CreateKeyInput{
		Description: aws.String(description),
		Tags:        kmsTags(tags),
	})
	if err != nil {
		return nil, wrapAPIError("kms.CreateKey", err)
	}
	return convertKey(out.KeyMetadata), nil
}

func (c *awsKMSClient) CreateAlias(ctx context.Context, aliasName, keyID string) error {
	_, err := c.kms.CreateAliasWithContext(ctx, &kms.CreateAliasInput{
		AliasName:   aws.String(aliasName),
		TargetKeyId: aws.String(keyID),
	})
	return wrapAPIError("kms.CreateAlias", err)
}

func (c *awsKMSClient) FindKeyByAlias(ctx context.Context, aliasName string) (*Key, error) {
	var keyID string
	err := c.kms.ListAliasesPagesWithContext(ctx, &kms.ListAliasesInput{},
		func(page *kms.ListAliasesOutput, _ bool) bool {
			for _, alias := range page.Aliases {
				if aws.StringValue(alias.AliasName) == aliasName {
					keyID = aws.StringValue(alias.TargetKeyId)
					return false
				}
			}
			return true
		})
	if err != nil {
		return nil, wrapAPIError("kms.ListAliases", err)
	}
	if keyID == "" {
		return nil, nil
	}
	return c.DescribeKey(ctx, keyID)
}

func (c *awsKMSClient) CreateGrant(ctx context.Context, keyID, granteeAccountID string, operations []string) error {
	_, err := c.kms.CreateGrantWithContext(ctx, &kms.CreateGrantInput{
		KeyId:            aws.String(keyID),
		GranteePrincipal: aws.String("arn:aws:iam::" + granteeAccountID + ":root"),
		Operations:       aws.StringSlice(operations),
	})
	return wrapAPIError("kms.CreateGrant", err)
}

func (c *awsKMSClient) GetKeyPolicy(ctx context.Context, keyID string) (string, error) {
	out, err := c.kms.GetKeyPolicyWithContext(ctx, &kms.GetKeyPolicyInput{
		KeyId:      aws.String(keyID),
		PolicyName: aws.String("default"),
	})
	if err != nil {
		return "", wrapAPIError("kms.GetKeyPolicy", err)
	}
	return aws.StringValue(out.Policy), nil
}

func (c *awsKMSClient) PutKeyPolicy(ctx context.Context, keyID, policy string) error {
	_, err := c.kms.PutKeyPolicyWithContext(ctx, &kms.PutKeyPolicyInput{
		KeyId:      aws.String(keyID),
		PolicyName: aws.String("default"),
		Policy:     aws.String(policy),
	})
	return wrapAPIError("kms.PutKeyPolicy", err)
}

func convertKey(metadata *kms.KeyMetadata) *Key {
	return &Key{
		ID:          aws.StringValue(metadata.KeyId),
		ARN:         aws.StringValue(metadata.Arn),
		Manager:     aws.StringValue(metadata.KeyManager),
		Description: aws.StringValue(metadata.Description),
		Enabled:     aws.BoolValue(metadata.Enabled),
	}
}

func kmsTags(tags map[string]string) []*kms.Tag {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*kms.Tag, 0, len(tags))
	for _, k := range keys {
		out = append(out, &kms.Tag{TagKey: aws.String(k), TagValue: aws.String(tags[k])})
	}
	return out
}
