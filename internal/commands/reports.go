package commands

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"books-engine/internal/core"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newPnlCmd() *cobra.Command {
	var businessID int64
	var startDate, endDate string
	var godownID int64

	cmd := &cobra.Command{
		Use:   "pnl",
		Short: "Profit & Loss for a period",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			valuation := core.NewValuationService(pool)
			reporting := core.NewReportingService(pool, valuation)

			params := core.PLParams{BusinessID: businessID, StartDate: startDate, EndDate: endDate}
			if godownID != 0 {
				params.GodownID = &godownID
			}
			report, err := reporting.ProfitAndLoss(ctx, params)
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
	cmd.Flags().Int64Var(&businessID, "business", 0, "business id")
	cmd.Flags().StringVar(&startDate, "from", "", "period start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endDate, "to", "", "period end (YYYY-MM-DD)")
	cmd.Flags().Int64Var(&godownID, "godown", 0, "restrict stock valuation to one godown")
	cmd.MarkFlagRequired("business")
	return cmd
}

func newBalanceSheetCmd() *cobra.Command {
	var businessID int64
	var endDate string

	cmd := &cobra.Command{
		Use:   "balance-sheet",
		Short: "Balance sheet as on a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			valuation := core.NewValuationService(pool)
			reporting := core.NewReportingService(pool, valuation)

			report, err := reporting.BalanceSheet(ctx, businessID, endDate)
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
	cmd.Flags().Int64Var(&businessID, "business", 0, "business id")
	cmd.Flags().StringVar(&endDate, "to", "", "as-on date (YYYY-MM-DD)")
	cmd.MarkFlagRequired("business")
	return cmd
}

func newTrialBalanceCmd() *cobra.Command {
	var businessID int64
	var endDate string

	cmd := &cobra.Command{
		Use:   "trial-balance",
		Short: "Per-ledger closing balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			valuation := core.NewValuationService(pool)
			reporting := core.NewReportingService(pool, valuation)

			rows, err := reporting.TrialBalance(ctx, businessID, endDate)
			if err != nil {
				return err
			}
			return printJSON(rows)
		},
	}
	cmd.Flags().Int64Var(&businessID, "business", 0, "business id")
	cmd.Flags().StringVar(&endDate, "to", "", "as-on date (YYYY-MM-DD)")
	cmd.MarkFlagRequired("business")
	return cmd
}

func newStockValueCmd() *cobra.Command {
	var businessID int64
	var date string
	var godownID int64

	cmd := &cobra.Command{
		Use:   "stock-value",
		Short: "Closing stock valuation with per-item breakdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			valuation := core.NewValuationService(pool)
			var godown *int64
			if godownID != 0 {
				godown = &godownID
			}
			summary, err := valuation.StockSummary(ctx, businessID, date, godown)
			if err != nil {
				return err
			}
			total, err := valuation.ClosingStockValue(ctx, businessID, date, godown)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"items": summary, "total": total})
		},
	}
	cmd.Flags().Int64Var(&businessID, "business", 0, "business id")
	cmd.Flags().StringVar(&date, "date", "", "valuation date (YYYY-MM-DD)")
	cmd.Flags().Int64Var(&godownID, "godown", 0, "restrict to one godown")
	cmd.MarkFlagRequired("business")
	cmd.MarkFlagRequired("date")
	return cmd
}
