package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ItemValuation is one item's position in a valuation snapshot.
type ItemValuation struct {
	ItemID     int64
	SKU        string
	ClosingQty decimal.Decimal
	AvgRate    decimal.Decimal
	Value      decimal.Decimal
}

// ValuationService derives stock values from the posted stock ledger
// using the weighted-average method: an item's average rate is total
// inward value over total inward quantity, and its closing value is the
// closing quantity at that rate. Items with no stock on hand contribute
// nothing.
type ValuationService interface {
	// ClosingStockValue values all stock held on the given date. An empty
	// date returns zero. godownID nil means all godowns.
	ClosingStockValue(ctx context.Context, businessID int64, date string, godownID *int64) (decimal.Decimal, error)
	// OpeningStockValue is the closing value of the previous day.
	OpeningStockValue(ctx context.Context, businessID int64, date string, godownID *int64) (decimal.Decimal, error)
	// StockSummary returns the per-item breakdown behind ClosingStockValue.
	StockSummary(ctx context.Context, businessID int64, date string, godownID *int64) ([]ItemValuation, error)
	// ClosingStockValuePerGodown values each godown's holdings separately.
	ClosingStockValuePerGodown(ctx context.Context, businessID int64, date string) ([]GodownValuation, error)
}

// GodownValuation is one godown's share of the closing stock value.
type GodownValuation struct {
	GodownID int64
	Name     string
	Value    decimal.Decimal
}

type valuationService struct {
	pool *pgxpool.Pool
}

func NewValuationService(pool *pgxpool.Pool) ValuationService {
	return &valuationService{pool: pool}
}

// itemPositions aggregates posted entries up to the date into per-item
// closing quantity, total inward quantity and total inward value.
const itemPositionsQuery = `
	SELECT sle.item_id, i.sku,
	       COALESCE(SUM(sle.qty_in), 0) - COALESCE(SUM(sle.qty_out), 0) AS closing_qty,
	       COALESCE(SUM(sle.qty_in) FILTER (WHERE sle.qty_in > 0), 0)   AS total_in_qty,
	       COALESCE(SUM(sle.amount) FILTER (WHERE sle.qty_in > 0), 0)   AS total_in_value
	FROM stock_ledger_entries sle
	JOIN items i ON i.id = sle.item_id
	WHERE sle.business_id = $1 AND sle.is_posted = TRUE AND sle.posting_date <= $2::date
	  AND ($3::bigint IS NULL OR sle.godown_id = $3)
	GROUP BY sle.item_id, i.sku
	ORDER BY i.sku`

func (s *valuationService) StockSummary(ctx context.Context, businessID int64, date string, godownID *int64) ([]ItemValuation, error) {
	if date == "" {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, itemPositionsQuery, businessID, date, godownID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock positions: %w", err)
	}
	defer rows.Close()

	var out []ItemValuation
	for rows.Next() {
		var iv ItemValuation
		var totalInQty, totalInValue decimal.Decimal
		if err := rows.Scan(&iv.ItemID, &iv.SKU, &iv.ClosingQty, &totalInQty, &totalInValue); err != nil {
			return nil, fmt.Errorf("failed to scan stock position: %w", err)
		}
		if !iv.ClosingQty.IsPositive() {
			continue
		}
		if totalInQty.IsPositive() {
			iv.AvgRate = totalInValue.Div(totalInQty)
		}
		iv.Value = iv.ClosingQty.Mul(iv.AvgRate).RoundBank(2)
		out = append(out, iv)
	}
	return out, rows.Err()
}

func (s *valuationService) ClosingStockValue(ctx context.Context, businessID int64, date string, godownID *int64) (decimal.Decimal, error) {
	summary, err := s.StockSummary(ctx, businessID, date, godownID)
	if err != nil {
		return decimal.Zero, err
	}
	var total decimal.Decimal
	for _, iv := range summary {
		total = total.Add(iv.Value)
	}
	return total, nil
}

func (s *valuationService) ClosingStockValuePerGodown(ctx context.Context, businessID int64, date string) ([]GodownValuation, error) {
	if date == "" {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		"SELECT id, name FROM godowns WHERE business_id = $1 ORDER BY id", businessID)
	if err != nil {
		return nil, fmt.Errorf("failed to query godowns: %w", err)
	}
	defer rows.Close()

	var godowns []GodownValuation
	for rows.Next() {
		var g GodownValuation
		if err := rows.Scan(&g.GodownID, &g.Name); err != nil {
			return nil, fmt.Errorf("failed to scan godown: %w", err)
		}
		godowns = append(godowns, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Average rates are computed within each godown, matching the
	// single-godown valuation exactly. Godowns holding nothing are
	// left out of the breakdown.
	out := make([]GodownValuation, 0, len(godowns))
	for _, g := range godowns {
		value, err := s.ClosingStockValue(ctx, businessID, date, &g.GodownID)
		if err != nil {
			return nil, err
		}
		if !value.IsPositive() {
			continue
		}
		g.Value = value
		out = append(out, g)
	}
	return out, nil
}

func (s *valuationService) OpeningStockValue(ctx context.Context, businessID int64, date string, godownID *int64) (decimal.Decimal, error) {
	if date == "" {
		return decimal.Zero, nil
	}
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid date %q: %w", date, err)
	}
	prev := d.AddDate(0, 0, -1).Format("2006-01-02")
	return s.ClosingStockValue(ctx, businessID, prev, godownID)
}
