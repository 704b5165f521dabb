// Command nxarchive is the CLI front end for the content-archive engine:
// dump a gamecard image, build an NSP from a set of already-extracted
// NCAs, or print the contents of a single NCA. It operates purely on
// local files — a flag-driven front end over the pkg/nca, pkg/gamecard
// and pkg/nsp primitives, structured as github.com/urfave/cli/v2
// subcommands rather than a flat flag set.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/nxarchive/nxarchive/pkg/keyset"
	"github.com/nxarchive/nxarchive/pkg/nxlog"
)

func main() {
	app := &cli.App{
		Name:  "nxarchive",
		Usage: "dump, build and inspect Switch content archives",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "keys",
				Aliases:  []string{"k"},
				Usage:    "path to a prod.keys-style keyset file",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "titlekeys",
				Usage: "path to a title.keys-style file (rightsID = titlekey)",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "log at debug level",
			},
		},
		Commands: []*cli.Command{
			infoCommand,
			xciCommand,
			nspCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "nxarchive: %v\n", err)
		os.Exit(1)
	}
}

// loadKeys builds the keyset.Oracle shared by every subcommand from the
// -keys file, merging in the -titlekeys file when one is given.
func loadKeys(c *cli.Context) (*keyset.FileOracle, error) {
	oracle, err := keyset.NewFileOracle(c.String("keys"))
	if err != nil {
		return nil, fmt.Errorf("loading keys: %w", err)
	}
	if tk := c.String("titlekeys"); tk != "" {
		if err := oracle.LoadTitleKeys(tk); err != nil {
			return nil, fmt.Errorf("loading title keys: %w", err)
		}
	}
	return oracle, nil
}

// loadLogger wires a stdlib-backed nxlog.Logger when -verbose is set,
// and a silent one otherwise (§SPEC_FULL.md ambient stack "Logging").
func loadLogger(c *cli.Context) nxlog.Logger {
	if c.Bool("verbose") {
		return nxlog.NewStd(os.Stderr)
	}
	return nxlog.Nop{}
}
