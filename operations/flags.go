// Package operations holds the command line surface: thin urfave/cli
// commands that parse flags, build control plane clients and the state
// store, and hand off to the migration planners.
package operations

import (
	"strings"

	"github.com/mongodb/grip"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/accountmover/accountmover"
	"github.com/accountmover/accountmover/state"
)

const (
	sourceProfileFlagName = "source-profile"
	targetProfileFlagName = "target-profile"
	sourceRegionFlagName  = "source-region"
	targetRegionFlagName  = "target-region"
	stateFileFlagName     = "state-file"

	instanceFlagName    = "instance"
	targetVPCFlagName   = "target-vpc"
	subnetFlagName      = "target-subnet"
	keyNameFlagName     = "key-name"
	databaseFlagName    = "database"
	subnetGroupFlagName = "subnet-group"
	kmsKeyFlagName      = "kms-key"
	vpcFlagName         = "vpc"
	cidrFlagName        = "cidr"
	subnetAZFlagName    = "subnet-az"
	outputFlagName      = "output"
	migrationFlagName   = "migration"
	olderThanFlagName   = "older-than"
)

// settingsFromContext assembles the account pair settings from the global
// flags.
func settingsFromContext(c *cli.Context) (*accountmover.Settings, error) {
	settings := &accountmover.Settings{
		SourceProfile: c.GlobalString(sourceProfileFlagName),
		TargetProfile: c.GlobalString(targetProfileFlagName),
		SourceRegion:  c.GlobalString(sourceRegionFlagName),
		TargetRegion:  c.GlobalString(targetRegionFlagName),
		StateFile:     c.GlobalString(stateFileFlagName),
	}
	if err := settings.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid account settings")
	}
	return settings, nil
}

func openStore(settings *accountmover.Settings) (*state.Manager, error) {
	return state.NewFileManager(settings.StateFile)
}

// openStoreFromContext opens the state store for commands that only read or
// prune the state document and never contact either account, so the account
// profile and region flags are not required.
func openStoreFromContext(c *cli.Context) (*state.Manager, error) {
	path := c.GlobalString(stateFileFlagName)
	if path == "" {
		return nil, errors.Errorf("flag '--%s' is required", stateFileFlagName)
	}
	return state.NewFileManager(path)
}

func mergeBeforeFuncs(ops ...cli.BeforeFunc) cli.BeforeFunc {
	return func(c *cli.Context) error {
		catcher := grip.NewBasicCatcher()
		for _, op := range ops {
			catcher.Add(op(c))
		}
		return catcher.Resolve()
	}
}

// requireStringFlags fails the command before the action runs when any of the
// named string flags is empty.
func requireStringFlags(names ...string) cli.BeforeFunc {
	return func(c *cli.Context) error {
		catcher := grip.NewBasicCatcher()
		for _, name := range names {
			if c.String(name) == "" {
				catcher.Errorf("flag '--%s' is required", name)
			}
		}
		return catcher.Resolve()
	}
}

// parseKeyValuePairs splits KEY=VALUE arguments, as used by the subnet
// availability zone overrides.
func parseKeyValuePairs(pairs []string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, errors.Errorf("'%s' is not a KEY=VALUE pair", pair)
		}
		out[parts[0]] = parts[1]
	}
	return out, nil
}
