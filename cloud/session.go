package cloud

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sts"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// Account identifies one side of the migration: a resolved account id plus
// the profile and region the session was built from.
type Account struct {
	ID      string
	Profile string
	Region  string
}

// Clients bundles the source and target control plane clients with their
// resolved account identities. Planners receive exactly one of these.
type Clients struct {
	Source Account
	Target Account

	SourceEC2 EC2Client
	TargetEC2 EC2Client
	SourceRDS RDSClient
	TargetRDS RDSClient
	SourceKMS KMSClient
	TargetKMS KMSClient
}

// CrossRegion reports whether the two sides live in different regions.
func (c *Clients) CrossRegion() bool { return c.Source.Region != c.Target.Region }

// NewClients builds sessions for the source and target profiles, resolves
// both account ids through STS, and returns the full client bundle.
func NewClients(ctx context.Context, sourceProfile, sourceRegion, targetProfile, targetRegion string) (*Clients, error) {
	sourceSession, sourceAccount, err := newAccountSession(ctx, sourceProfile, sourceRegion)
	if err != nil {
		return nil, errors.Wrap(err, "building source account session")
	}
	targetSession, targetAccount, err := newAccountSession(ctx, targetProfile, targetRegion)
	if err != nil {
		return nil, errors.Wrap(err, "building target account session")
	}

	grip.Info(message.Fields{
		"message":        "resolved migration accounts",
		"source_account": sourceAccount.ID,
		"source_region":  sourceRegion,
		"target_account": targetAccount.ID,
		"target_region":  targetRegion,
	})

	return &Clients{
		Source:    sourceAccount,
		Target:    targetAccount,
		SourceEC2: newEC2Client(sourceSession),
		TargetEC2: newEC2Client(targetSession),
		SourceRDS: newRDSClient(sourceSession),
		TargetRDS: newRDSClient(targetSession),
		SourceKMS: newKMSClient(sourceSession),
		TargetKMS: newKMSClient(targetSession),
	}, nil
}

func newAccountSession(ctx context.Context, profile, region string) (*session.Session, Account, error) {
	s, err := session.NewSessionWithOptions(session.Options{
		Profile:           profile,
		Config:            aws.Config{Region: aws.String(region)},
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, Account{}, errors.Wrapf(err, "creating session for profile '%s'", profile)
	}

	identity, err := sts.New(s).GetCallerIdentityWithContext(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, Account{}, wrapAPIError("sts.GetCallerIdentity", err)
	}

	return s, Account{
		ID:      aws.StringValue(identity.Account),
		Profile: profile,
		Region:  region,
	}, nil
}
