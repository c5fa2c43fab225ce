package core

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// DuplicateVoucherGroup flags PURCHASE vouchers that booked the same
// total amount on the same date. Possible double entry; left to the
// operator to judge.
type DuplicateVoucherGroup struct {
	PostingDate string
	TotalAmount decimal.Decimal
	VoucherIDs  []int64
}

// DuplicateEntryGroup is a set of stock ledger rows recording the same
// movement. KeepID is the smallest id in the group; RemoveCount is how
// many rows a cleanup would delete.
type DuplicateEntryGroup struct {
	BusinessID  int64
	VoucherType string
	VoucherID   *int64
	ItemID      int64
	GodownID    int64
	PostingDate string
	QtyIn       decimal.Decimal
	QtyOut      decimal.Decimal
	KeepID      int64
	RemoveCount int64
}

// DiagnosticsService finds bookkeeping anomalies that inflate stock
// valuations, like a doubled purchase import leaving closing stock at
// twice its book value.
type DiagnosticsService interface {
	// DuplicatePurchaseVouchers groups posted purchase stock entries by
	// voucher and flags vouchers sharing a posting date and total amount.
	DuplicatePurchaseVouchers(ctx context.Context, businessID int64) ([]DuplicateVoucherGroup, error)
	// DuplicateStockEntries lists groups of identical stock ledger rows.
	DuplicateStockEntries(ctx context.Context, businessID int64) ([]DuplicateEntryGroup, error)
	// RemoveDuplicateStockEntries deletes all but the smallest-id row of
	// each duplicate group. With dryRun it only reports what would go.
	RemoveDuplicateStockEntries(ctx context.Context, businessID int64, dryRun bool) ([]DuplicateEntryGroup, int64, error)
}

type diagnosticsService struct {
	pool *pgxpool.Pool
}

func NewDiagnosticsService(pool *pgxpool.Pool) DiagnosticsService {
	return &diagnosticsService{pool: pool}
}

func (s *diagnosticsService) DuplicatePurchaseVouchers(ctx context.Context, businessID int64) ([]DuplicateVoucherGroup, error) {
	rows, err := s.pool.Query(ctx, `
		WITH per_voucher AS (
			SELECT voucher_id, posting_date, COALESCE(SUM(amount), 0) AS total_amount
			FROM stock_ledger_entries
			WHERE business_id = $1 AND is_posted = TRUE AND voucher_type = 'PURCHASE'
			GROUP BY voucher_id, posting_date
		)
		SELECT posting_date::text, total_amount, array_agg(voucher_id ORDER BY voucher_id)
		FROM per_voucher
		GROUP BY posting_date, total_amount
		HAVING count(*) > 1
		ORDER BY posting_date
	`, businessID)
	if err != nil {
		return nil, fmt.Errorf("failed to query duplicate purchase vouchers: %w", err)
	}
	defer rows.Close()

	var groups []DuplicateVoucherGroup
	for rows.Next() {
		var g DuplicateVoucherGroup
		if err := rows.Scan(&g.PostingDate, &g.TotalAmount, &g.VoucherIDs); err != nil {
			return nil, fmt.Errorf("failed to scan duplicate voucher group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

const duplicateEntryGroupsQuery = `
	SELECT business_id, voucher_type, voucher_id, item_id, godown_id, posting_date::text,
	       qty_in, qty_out, MIN(id) AS keep_id, count(*) - 1 AS remove_count
	FROM stock_ledger_entries
	WHERE business_id = $1
	GROUP BY business_id, voucher_type, voucher_id, item_id, godown_id, posting_date, qty_in, qty_out
	HAVING count(*) > 1
	ORDER BY posting_date, item_id`

func (s *diagnosticsService) DuplicateStockEntries(ctx context.Context, businessID int64) ([]DuplicateEntryGroup, error) {
	rows, err := s.pool.Query(ctx, duplicateEntryGroupsQuery, businessID)
	if err != nil {
		return nil, fmt.Errorf("failed to query duplicate stock entries: %w", err)
	}
	defer rows.Close()

	var groups []DuplicateEntryGroup
	for rows.Next() {
		var g DuplicateEntryGroup
		if err := rows.Scan(&g.BusinessID, &g.VoucherType, &g.VoucherID, &g.ItemID, &g.GodownID,
			&g.PostingDate, &g.QtyIn, &g.QtyOut, &g.KeepID, &g.RemoveCount); err != nil {
			return nil, fmt.Errorf("failed to scan duplicate entry group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *diagnosticsService) RemoveDuplicateStockEntries(ctx context.Context, businessID int64, dryRun bool) ([]DuplicateEntryGroup, int64, error) {
	groups, err := s.DuplicateStockEntries(ctx, businessID)
	if err != nil {
		return nil, 0, err
	}

	var total int64
	for _, g := range groups {
		total += g.RemoveCount
	}
	if dryRun || len(groups) == 0 {
		return groups, total, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		DELETE FROM stock_ledger_entries sle
		USING (`+duplicateEntryGroupsQuery+`) d
		WHERE sle.business_id = d.business_id
		  AND sle.voucher_type = d.voucher_type
		  AND sle.voucher_id IS NOT DISTINCT FROM d.voucher_id
		  AND sle.item_id = d.item_id
		  AND sle.godown_id = d.godown_id
		  AND sle.posting_date = d.posting_date::date
		  AND sle.qty_in = d.qty_in
		  AND sle.qty_out = d.qty_out
		  AND sle.id <> d.keep_id
	`, businessID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to delete duplicate stock entries: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, 0, fmt.Errorf("failed to commit duplicate cleanup: %w", err)
	}
	return groups, tag.RowsAffected(), nil
}
