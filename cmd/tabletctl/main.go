// Package main provides tabletctl, a command line tool for tabletdb databases.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	err := newRootCommand().Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app carries state shared by all subcommands.
type app struct {
	configPath string
	cfg        *Config
}

func newRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "tabletctl",
		Short: "Inspect and operate tabletdb databases",
		Long: `tabletctl reads and writes a tabletdb database on local disk, MinIO or S3.

Configuration is read from .tabletctl.yaml (CWD or $HOME), TABLETDB_* environment
variables and flags, in increasing precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(a.configPath, cmd)
			if err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default .tabletctl.yaml)")
	flags.String("dir", DefaultDir, "database directory for the local backend")
	flags.String("backend", DefaultBackend, "storage backend: local, minio or s3")
	flags.String("log-level", DefaultLogLevel, "log level: debug, info, warn or error")
	flags.String("bucket", "", "object storage bucket")
	flags.String("prefix", "", "object key prefix")
	flags.String("endpoint", "", "object storage endpoint")
	flags.String("region", "", "object storage region")
	flags.String("access-key", "", "minio access key")
	flags.String("secret-key", "", "minio secret key")
	flags.Bool("secure", true, "use TLS for minio")
	flags.String("ddb-table", "", "DynamoDB table for S3 manifest commits")

	rootCmd.AddCommand(
		a.putCommand(),
		a.getCommand(),
		a.deleteCommand(),
		a.scanCommand(),
		a.flushCommand(),
		a.compactCommand(),
		a.inspectCommand(),
		a.serveCommand(),
	)

	return rootCmd
}
