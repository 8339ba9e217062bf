package operations

import (
	"context"
	"os"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/accountmover/accountmover/cloud"
	"github.com/accountmover/accountmover/migration"
)

// Migrate returns the migrate command tree: one subcommand per migratable
// resource kind.
func Migrate() cli.Command {
	return cli.Command{
		Name:  "migrate",
		Usage: "replicate a resource from the source account into the target account",
		Subcommands: []cli.Command{
			migrateEC2(),
			migrateRDS(),
			migrateVPC(),
		},
	}
}

// runMigration is the shared tail of every migrate subcommand: run the
// executor to completion and print the record summary whether or not the run
// succeeded, so an operator always sees where a halted migration stopped.
func runMigration(ctx context.Context, exec *migration.Executor) error {
	runErr := exec.Run(ctx)
	grip.Error(message.WrapError(exec.Summary(os.Stdout), message.Fields{
		"message":   "could not render migration summary",
		"migration": exec.MigrationID(),
	}))
	return runErr
}

func migrateEC2() cli.Command {
	return cli.Command{
		Name:  "ec2",
		Usage: "migrate an EC2 instance",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  instanceFlagName + ", i",
				Usage: "id of the source instance to migrate",
			},
			cli.StringFlag{
				Name:  targetVPCFlagName,
				Usage: "id of the VPC to launch the replica in",
			},
			cli.StringFlag{
				Name:  subnetFlagName,
				Usage: "id of the subnet to launch the replica in",
			},
			cli.StringFlag{
				Name:  keyNameFlagName + ", k",
				Usage: "name of the target-account key pair for the replica",
			},
		},
		Before: mergeBeforeFuncs(requireStringFlags(instanceFlagName, targetVPCFlagName, subnetFlagName)),
		Action: func(c *cli.Context) error {
			ctx := context.Background()
			settings, err := settingsFromContext(c)
			if err != nil {
				return err
			}
			clients, err := cloud.NewClients(ctx, settings.SourceProfile, settings.SourceRegion,
				settings.TargetProfile, settings.TargetRegion)
			if err != nil {
				return err
			}
			store, err := openStore(settings)
			if err != nil {
				return err
			}

			planner := migration.NewEC2Planner(clients, store, migration.EC2PlannerOptions{
				InstanceID:    c.String(instanceFlagName),
				TargetVPC:     c.String(targetVPCFlagName),
				TargetSubnet:  c.String(subnetFlagName),
				TargetKeyName: c.String(keyNameFlagName),
			})
			exec, err := planner.Prepare(ctx)
			if err != nil {
				return errors.Wrap(err, "preparing instance migration")
			}
			return runMigration(ctx, exec)
		},
	}
}

func migrateRDS() cli.Command {
	const securityGroupFlagName = "security-group"

	return cli.Command{
		Name:  "rds",
		Usage: "migrate an RDS database instance",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  databaseFlagName + ", d",
				Usage: "id of the source database to migrate",
			},
			cli.StringFlag{
				Name:  subnetGroupFlagName + ", g",
				Usage: "name of the target-account DB subnet group for the replica",
			},
			cli.StringFlag{
				Name:  kmsKeyFlagName + ", k",
				Usage: "target-account KMS key for the replica; resolved automatically when omitted",
			},
			cli.StringSliceFlag{
				Name:  securityGroupFlagName,
				Usage: "target-account VPC security group for the replica; may be repeated",
			},
		},
		Before: mergeBeforeFuncs(requireStringFlags(databaseFlagName, subnetGroupFlagName)),
		Action: func(c *cli.Context) error {
			ctx := context.Background()
			settings, err := settingsFromContext(c)
			if err != nil {
				return err
			}
			clients, err := cloud.NewClients(ctx, settings.SourceProfile, settings.SourceRegion,
				settings.TargetProfile, settings.TargetRegion)
			if err != nil {
				return err
			}
			store, err := openStore(settings)
			if err != nil {
				return err
			}

			planner := migration.NewRDSPlanner(clients, store, migration.RDSPlannerOptions{
				DatabaseID:             c.String(databaseFlagName),
				SubnetGroup:            c.String(subnetGroupFlagName),
				TargetKMSKey:           c.String(kmsKeyFlagName),
				TargetSecurityGroupIDs: c.StringSlice(securityGroupFlagName),
			})
			exec, err := planner.Prepare(ctx)
			if err != nil {
				return errors.Wrap(err, "preparing database migration")
			}
			return runMigration(ctx, exec)
		},
	}
}

func migrateVPC() cli.Command {
	return cli.Command{
		Name:  "vpc",
		Usage: "migrate a VPC and its network topology",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  vpcFlagName,
				Usage: "id of the source VPC to migrate",
			},
			cli.StringFlag{
				Name:  cidrFlagName,
				Usage: "CIDR block for the replica VPC; the source block is reused when omitted",
			},
			cli.StringSliceFlag{
				Name:  subnetAZFlagName,
				Usage: "pin a source subnet to a target availability zone as SUBNET_ID=ZONE; may be repeated",
			},
		},
		Before: mergeBeforeFuncs(requireStringFlags(vpcFlagName)),
		Action: func(c *cli.Context) error {
			ctx := context.Background()
			settings, err := settingsFromContext(c)
			if err != nil {
				return err
			}
			overrides, err := parseKeyValuePairs(c.StringSlice(subnetAZFlagName))
			if err != nil {
				return errors.Wrapf(err, "parsing '--%s'", subnetAZFlagName)
			}
			clients, err := cloud.NewClients(ctx, settings.SourceProfile, settings.SourceRegion,
				settings.TargetProfile, settings.TargetRegion)
			if err != nil {
				return err
			}
			store, err := openStore(settings)
			if err != nil {
				return err
			}

			planner := migration.NewNetworkPlanner(clients, store, migration.NetworkPlannerOptions{
				VPCID:             c.String(vpcFlagName),
				TargetCIDR:        c.String(cidrFlagName),
				SubnetAZOverrides: overrides,
			})
			exec, err := planner.Prepare(ctx)
			if err != nil {
				return errors.Wrap(err, "preparing vpc migration")
			}
			return runMigration(ctx, exec)
		},
	}
}
