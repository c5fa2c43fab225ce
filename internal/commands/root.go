package commands

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"books-engine/internal/db"
)

var log = logrus.New()

// NewRootCmd wires the booksctl command tree.
func NewRootCmd() *cobra.Command {
	var jsonLogs bool
	var verbose bool

	root := &cobra.Command{
		Use:           "booksctl",
		Short:         "Bookkeeping and inventory valuation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
			if jsonLogs {
				log.SetFormatter(&logrus.JSONFormatter{})
			}
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}
		},
	}
	root.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit logs as JSON")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newMigrateCmd(),
		newInitBusinessCmd(),
		newInstallCoaCmd(),
		newPnlCmd(),
		newBalanceSheetCmd(),
		newTrialBalanceCmd(),
		newStockValueCmd(),
		newDiagnoseCmd(),
	)
	return root
}

func connect(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := db.NewPool(ctx)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	return pool, nil
}
