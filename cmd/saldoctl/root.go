package main

import (
	"github.com/spf13/cobra"

	"saldo/internal/cli"
	"saldo/internal/log"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "saldoctl",
		Short: "Offline tools for the saldo ledger",
		Long: `saldoctl reconciles ledgers exported as JSON without a running server
and manages the SQLite schema used by the saldo server and worker.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cli.LoadEnvFile()
		},
	}
	root.AddCommand(newReconcileCmd(), newMigrateCmd())
	return root
}

// cmdLogger writes to the command's error stream so stdout stays pure JSON.
func cmdLogger(cmd *cobra.Command) *log.Logger {
	cfg := log.DefaultConfig()
	cfg.Component = log.ComponentCLI
	cfg.Output = cmd.ErrOrStderr()
	return log.New(cfg)
}
