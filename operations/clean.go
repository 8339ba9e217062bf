package operations

import (
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

// Clean returns the command that prunes old completed migration records.
func Clean() cli.Command {
	return cli.Command{
		Name:  "clean",
		Usage: "remove completed migration records older than the retention window",
		Flags: []cli.Flag{
			cli.IntFlag{
				Name:  olderThanFlagName,
				Usage: "retention window in days",
				Value: 30,
			},
		},
		Action: func(c *cli.Context) error {
			store, err := openStoreFromContext(c)
			if err != nil {
				return err
			}

			days := c.Int(olderThanFlagName)
			if days < 0 {
				return errors.Errorf("retention window must not be negative, got %d", days)
			}
			pruned, err := store.CleanCompletedMigrations(days)
			if err != nil {
				return errors.Wrap(err, "pruning completed migrations")
			}
			grip.Info(message.Fields{
				"message":         "pruned completed migration records",
				"pruned":          pruned,
				"older_than_days": days,
			})
			return nil
		},
	}
}
