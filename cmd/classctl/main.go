// Command classctl inspects and edits class session state in the configured
// store. It shares the server's environment variables.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"weltverbinder/internal/infra"
	"weltverbinder/internal/session"
	"weltverbinder/internal/store"
)

var (
	envFile string
	verbose bool

	logger infra.Logger
	syncer *session.Syncer
	closer func()

	// openStore is swapped in tests.
	openStore = store.Open
)

var rootCmd = &cobra.Command{
	Use:           "classctl",
	Short:         "Inspect and edit class session state",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
		} else {
			_ = godotenv.Load()
		}
		cfg, err := infra.LoadConfig()
		if err != nil {
			return err
		}
		logger = infra.NewLogger("cli")
		if !verbose {
			logger = logger.Level(zerolog.WarnLevel)
		}
		st, closeStore, err := openStore(cmd.Context(), cfg, logger)
		if err != nil {
			return fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
		}
		syncer = session.NewSyncer(session.Options{Store: st, Debounce: cfg.SessionDebounce, Logger: &logger})
		closer = closeStore
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if syncer != nil {
			syncer.Close(context.Background())
		}
		if closer != nil {
			closer()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load instead of ./.env")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	deleteCmd.Flags().BoolVar(&confirmDelete, "yes", false, "confirm deletion")
	useEnergizerCmd.Flags().StringSliceVar(&energizerPool, "from", nil, "energizers to pick from when none is named")

	rootCmd.AddCommand(
		listCmd, showCmd, watchCmd,
		completeStepCmd, unlockDayCmd, introSeenCmd,
		spendEnergyCmd, restoreEnergyCmd, useEnergizerCmd,
		deleteCmd,
	)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "classctl:", err)
		os.Exit(1)
	}
}
