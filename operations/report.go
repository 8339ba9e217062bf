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

// Report returns the command that inventories the source account without
// touching the state store.
func Report() cli.Command {
	return cli.Command{
		Name:  "report",
		Usage: "inventory the source account's migratable resources and their dependencies",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  outputFlagName + ", o",
				Usage: "write the JSON report to this file instead of stdout",
			},
			cli.StringSliceFlag{
				Name:  "instances",
				Usage: "restrict the instance inventory to these ids; may be repeated",
			},
		},
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

			collector := migration.NewCollector(clients)
			collector.InstanceIDs = c.StringSlice("instances")
			report, err := collector.Collect(ctx)
			if err != nil {
				return errors.Wrap(err, "collecting source account inventory")
			}

			if path := c.String(outputFlagName); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return errors.Wrapf(err, "creating report file '%s'", path)
				}
				defer func() {
					grip.Error(message.WrapError(f.Close(), message.Fields{
						"message": "closing report file",
						"path":    path,
					}))
				}()
				if err := report.WriteJSON(f); err != nil {
					return err
				}
				grip.Info(message.Fields{
					"message": "wrote source account report",
					"path":    path,
				})
				return nil
			}
			return report.WriteJSON(os.Stdout)
		},
	}
}
