package main

import (
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/level"
	"github.com/mongodb/grip/send"
	"github.com/urfave/cli"

	"github.com/accountmover/accountmover"
	"github.com/accountmover/accountmover/operations"
)

func main() {
	app := buildApp()
	grip.EmergencyFatal(app.Run(os.Args))
}

func buildApp() *cli.App {
	app := cli.NewApp()
	app.Name = "accountmover"
	app.Usage = "Resumable AWS resource migration between accounts"
	app.Version = accountmover.ClientVersion

	app.Commands = []cli.Command{
		operations.Migrate(),
		operations.Report(),
		operations.Status(),
		operations.Clean(),
	}

	defaultStatePath := accountmover.DefaultStateFile
	if userHome, err := homedir.Dir(); err == nil {
		defaultStatePath = filepath.Join(userHome, accountmover.DefaultStateFile)
	}

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "source-profile",
			Usage: "shared-config profile for the source account",
		},
		cli.StringFlag{
			Name:  "target-profile",
			Usage: "shared-config profile for the target account",
		},
		cli.StringFlag{
			Name:  "source-region",
			Usage: "region to read source resources from",
		},
		cli.StringFlag{
			Name:  "target-region",
			Usage: "region to create replica resources in",
		},
		cli.StringFlag{
			Name:  "state-file",
			Usage: "path of the migration state document",
			Value: defaultStatePath,
		},
		cli.StringFlag{
			Name:  "level",
			Value: "info",
			Usage: "Specify lowest visible log level as string: 'emergency|alert|critical|error|warning|notice|info|debug|trace'",
		},
	}

	app.Before = func(c *cli.Context) error {
		return loggingSetup(app.Name, c.String("level"))
	}

	return app
}

func loggingSetup(name, l string) error {
	if err := grip.SetSender(send.MakeErrorLogger()); err != nil {
		return err
	}
	grip.SetName(name)

	sender := grip.GetSender()
	info := sender.Level()
	info.Threshold = level.FromString(l)

	return sender.SetLevel(info)
}
