package commands

import (
	"github.com/spf13/cobra"

	"books-engine/internal/core"
)

func newInitBusinessCmd() *cobra.Command {
	var name, businessType string

	cmd := &cobra.Command{
		Use:   "init-business",
		Short: "Create a business",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			accounts := core.NewAccountService(pool)
			b, err := accounts.CreateBusiness(ctx, name, businessType)
			if err != nil {
				return err
			}
			log.WithFields(map[string]any{"id": b.ID, "name": b.Name}).Info("business created")
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "business name")
	cmd.Flags().StringVar(&businessType, "type", "RETAIL", "business type")
	cmd.MarkFlagRequired("name")
	return cmd
}

func newInstallCoaCmd() *cobra.Command {
	var businessID int64

	cmd := &cobra.Command{
		Use:   "install-coa",
		Short: "Install the default chart of accounts for a business",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			accounts := core.NewAccountService(pool)
			if err := accounts.InstallDefaultChart(ctx, businessID); err != nil {
				return err
			}
			log.WithField("business_id", businessID).Info("default chart installed")
			return nil
		},
	}
	cmd.Flags().Int64Var(&businessID, "business", 0, "business id")
	cmd.MarkFlagRequired("business")
	return cmd
}
