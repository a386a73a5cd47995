package cmd

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/recway/roadquality/server/internal/services"
)

var processCmd = &cobra.Command{
	Use:   "process [trace.csv ...]",
	Short: "Process trace files once",
	Long: `Process the given trace files, or every file in --csv-dir whose name
contains --prefix when none are given, and exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cmd)
		if err != nil {
			return err
		}
		defer a.close()

		files := args
		if len(files) == 0 {
			files, err = services.FindTraces(a.config.Batch.InputDir, a.config.Batch.Prefix)
			if err != nil {
				return err
			}
		}
		if len(files) == 0 {
			a.logger.Warn("No traces found",
				zap.String("dir", a.config.Batch.InputDir),
				zap.String("prefix", a.config.Batch.Prefix))
			return nil
		}

		results, err := a.batch.Run(ctx, files)
		printSummary(results)
		if err != nil {
			return errors.New("some traces failed")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(processCmd)
}
