package operations

import (
	"os"
	"sort"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/accountmover/accountmover/migration"
	"github.com/accountmover/accountmover/state"
)

// Status returns the command that reports migration progress from the state
// store. It reads the document without contacting either account.
func Status() cli.Command {
	return cli.Command{
		Name:  "status",
		Usage: "show the progress of recorded migrations",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  migrationFlagName + ", m",
				Usage: "show the full step detail of one migration id",
			},
		},
		Action: func(c *cli.Context) error {
			store, err := openStoreFromContext(c)
			if err != nil {
				return err
			}

			if id := c.String(migrationFlagName); id != "" {
				record, ok := store.GetMigrationInfo(id)
				if !ok {
					return errors.WithStack(&state.NotFoundError{MigrationID: id})
				}
				migration.WriteSummary(os.Stdout, id, record)
				return nil
			}

			records := store.GetAllMigrations()
			ids := make([]string, 0, len(records))
			for id := range records {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			return migration.WriteOverview(os.Stdout, store, ids)
		},
	}
}
