// Package cmd provides the commands of the stakeout binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared flags.
var (
	// ConfigFlag points at an explicit config file. Without it the
	// default search paths apply.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to the configuration file",
	}

	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// JSONFlag forces JSON output, shorthand for --format json.
	JSONFlag = &cli.BoolFlag{
		Name:  "json",
		Usage: "Output JSON (shorthand for --format json)",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}
)

// ReadOnlyFlags returns the shared flags of the read-only commands.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		JSONFlag,
		NoColorFlag,
	}
}

// ListFlags returns the shared flags of the list subcommands.
func ListFlags() []cli.Flag {
	return append(ReadOnlyFlags(),
		&cli.StringFlag{
			Name:  "status",
			Usage: "Filter by status (new, working, failing, crashed, inprogress, archived)",
		},
		&cli.StringFlag{
			Name:  "family",
			Usage: "Filter by malware family",
		},
		&cli.IntFlag{
			Name:  "start",
			Usage: "Skip that many records",
		},
		&cli.IntFlag{
			Name:  "count",
			Usage: "Maximum records to return (0 uses the default page size)",
		},
	)
}
