// Package cmd provides the CLI commands of the imitatoes binary.
package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/imitatoes/lode"
)

// DefaultOutputDir is where the fs backend writes when no path is given.
const DefaultOutputDir = "runs"

// Shared flags for read-only commands.
var (
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag is accepted everywhere so unsupported commands can reject it
	// explicitly.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (inspect only)",
	}

	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to a YAML run config; flags override its values",
	}
)

// ReadOnlyFlags returns the shared flags for all read-only commands.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{FormatFlag, NoColorFlag, TUIFlag}
}

// StorageFlags select where iteration artifacts live. run writes there and
// inspect reads from there.
func StorageFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "storage-backend",
			Usage: "Artifact storage backend: fs or s3",
			Value: string(lode.BackendFS),
		},
		&cli.StringFlag{
			Name:    "output-dir",
			Aliases: []string{"storage-path"},
			Usage:   "Artifact location (fs: directory, s3: bucket/prefix)",
			Value:   DefaultOutputDir,
		},
		&cli.StringFlag{
			Name:  "s3-region",
			Usage: "AWS region for the s3 backend (default chain when empty)",
		},
		&cli.StringFlag{
			Name:  "s3-endpoint",
			Usage: "Custom S3 endpoint, e.g. MinIO or R2",
		},
		&cli.BoolFlag{
			Name:  "s3-path-style",
			Usage: "Use path-style S3 addressing",
		},
	}
}
