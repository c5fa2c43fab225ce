package commands

import (
	"github.com/spf13/cobra"

	"books-engine/internal/core"
)

func newDiagnoseCmd() *cobra.Command {
	var businessID int64
	var fix bool

	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Find duplicate purchase vouchers and stock ledger rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			diag := core.NewDiagnosticsService(pool)

			voucherDupes, err := diag.DuplicatePurchaseVouchers(ctx, businessID)
			if err != nil {
				return err
			}
			if len(voucherDupes) == 0 {
				log.Info("no duplicate purchase vouchers (same date+amount)")
			}
			for _, g := range voucherDupes {
				log.WithFields(map[string]any{
					"date":     g.PostingDate,
					"amount":   g.TotalAmount.StringFixed(2),
					"vouchers": g.VoucherIDs,
				}).Warn("possible duplicate purchase vouchers")
			}

			groups, removed, err := diag.RemoveDuplicateStockEntries(ctx, businessID, !fix)
			if err != nil {
				return err
			}
			for _, g := range groups {
				log.WithFields(map[string]any{
					"item":    g.ItemID,
					"godown":  g.GodownID,
					"date":    g.PostingDate,
					"keep_id": g.KeepID,
					"remove":  g.RemoveCount,
				}).Warn("duplicate stock ledger rows")
			}
			if fix {
				log.WithField("deleted", removed).Info("duplicate stock rows removed")
			} else if len(groups) > 0 {
				log.WithField("would_delete", removed).Warn("dry run: re-run with --fix to delete")
			} else {
				log.Info("no duplicate stock ledger rows")
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&businessID, "business", 0, "business id")
	cmd.Flags().BoolVar(&fix, "fix", false, "delete duplicate stock rows (default is dry run)")
	cmd.MarkFlagRequired("business")
	return cmd
}
