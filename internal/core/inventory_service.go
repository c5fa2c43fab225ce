package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// VoucherRow is one item movement in a purchase or sales voucher.
type VoucherRow struct {
	ItemID int64
	Qty    decimal.Decimal
	Rate   decimal.Decimal
}

// PurchaseInput books a purchase: one accounting voucher (DR purchase
// ledger / CR party) plus an inward stock entry per row, posted in one
// transaction.
type PurchaseInput struct {
	BusinessID        int64
	PostingDate       string
	PurchaseLedgerID  int64
	PartyLedgerID     int64
	GodownID          int64
	Narration         string
	SupplierInvoiceNo string
	Actor             string
	Rows              []VoucherRow
}

// SalesInput books a sale: DR party / CR sales ledger plus an outward
// stock entry per row. Every row is balance-checked first; nothing is
// persisted on insufficient stock.
type SalesInput struct {
	BusinessID    int64
	PostingDate   string
	SalesLedgerID int64
	PartyLedgerID int64
	GodownID      int64
	Narration     string
	Actor         string
	Rows          []VoucherRow
}

// TransferInput moves quantity of one item between godowns: an outward
// entry at the source and an inward entry at the destination, same date,
// rate and amount, linked by a shared transfer reference.
type TransferInput struct {
	BusinessID   int64
	PostingDate  string
	ItemID       int64
	FromGodownID int64
	ToGodownID   int64
	Qty          decimal.Decimal
	Rate         decimal.Decimal
	Narration    string
}

// InventoryService manages stock masters and the stock ledger. Balances
// are always derived from posted entries; there is no stored quantity to
// drift out of sync.
type InventoryService interface {
	CreateItem(ctx context.Context, item Item) (*Item, error)
	GetItemBySKU(ctx context.Context, businessID int64, sku string) (*Item, error)
	ListItems(ctx context.Context, businessID int64) ([]Item, error)
	CreateGodown(ctx context.Context, businessID int64, name string) (*Godown, error)
	ListGodowns(ctx context.Context, businessID int64) ([]Godown, error)
	CreateStockGroup(ctx context.Context, sg StockGroup) (*StockGroup, error)
	ListStockGroups(ctx context.Context, businessID int64) ([]StockGroup, error)
	CreateUnit(ctx context.Context, u UnitOfMeasure) (*UnitOfMeasure, error)
	ListUnits(ctx context.Context, businessID int64) ([]UnitOfMeasure, error)
	SetStandardRate(ctx context.Context, r StandardRate) (*StandardRate, error)
	// StandardRateAsOn returns the latest rate of the given type effective
	// on or before the date, or nil if none applies.
	StandardRateAsOn(ctx context.Context, itemID int64, rateType, date string) (*StandardRate, error)

	// CurrentBalance is sum(qty_in) - sum(qty_out) over posted entries for
	// the (item, godown) pair.
	CurrentBalance(ctx context.Context, businessID, itemID, godownID int64) (decimal.Decimal, error)
	ListEntries(ctx context.Context, businessID, itemID int64) ([]StockLedgerEntry, error)

	PostPurchaseVoucher(ctx context.Context, in PurchaseInput) (*Voucher, error)
	PostSalesVoucher(ctx context.Context, in SalesInput) (*Voucher, error)
	Transfer(ctx context.Context, in TransferInput) (string, error)
}

type inventoryService struct {
	pool     *pgxpool.Pool
	vouchers VoucherService
}

func NewInventoryService(pool *pgxpool.Pool, vouchers VoucherService) InventoryService {
	return &inventoryService{pool: pool, vouchers: vouchers}
}

// ── Masters ──────────────────────────────────────────────────────────────────

func (s *inventoryService) CreateItem(ctx context.Context, item Item) (*Item, error) {
	if item.SKU == "" {
		return nil, &StructuralError{Field: "sku", Reason: "must not be empty"}
	}
	if item.Name == "" {
		item.Name = item.SKU
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO items (business_id, sku, name, alias, stock_group_id, unit_id, reorder_level, is_stock_item)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, item.BusinessID, item.SKU, item.Name, item.Alias, item.StockGroupID, item.UnitID,
		item.ReorderLevel, item.IsStockItem).Scan(&item.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &ConflictError{Entity: "item", Key: item.SKU}
		}
		return nil, fmt.Errorf("failed to insert item %q: %w", item.SKU, err)
	}
	return &item, nil
}

func (s *inventoryService) GetItemBySKU(ctx context.Context, businessID int64, sku string) (*Item, error) {
	var item Item
	err := s.pool.QueryRow(ctx, `
		SELECT id, business_id, sku, name, alias, stock_group_id, unit_id, reorder_level, is_stock_item
		FROM items WHERE business_id = $1 AND sku = $2
	`, businessID, sku).Scan(&item.ID, &item.BusinessID, &item.SKU, &item.Name, &item.Alias,
		&item.StockGroupID, &item.UnitID, &item.ReorderLevel, &item.IsStockItem)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("item %q not found for business %d", sku, businessID)
		}
		return nil, fmt.Errorf("failed to fetch item %q: %w", sku, err)
	}
	return &item, nil
}

func (s *inventoryService) ListItems(ctx context.Context, businessID int64) ([]Item, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, business_id, sku, name, alias, stock_group_id, unit_id, reorder_level, is_stock_item
		FROM items WHERE business_id = $1 ORDER BY sku
	`, businessID)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.BusinessID, &item.SKU, &item.Name, &item.Alias,
			&item.StockGroupID, &item.UnitID, &item.ReorderLevel, &item.IsStockItem); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *inventoryService) CreateGodown(ctx context.Context, businessID int64, name string) (*Godown, error) {
	g := Godown{BusinessID: businessID, Name: name}
	err := s.pool.QueryRow(ctx,
		"INSERT INTO godowns (business_id, name) VALUES ($1, $2) RETURNING id", businessID, name,
	).Scan(&g.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &ConflictError{Entity: "godown", Key: name}
		}
		return nil, fmt.Errorf("failed to insert godown %q: %w", name, err)
	}
	return &g, nil
}

func (s *inventoryService) ListGodowns(ctx context.Context, businessID int64) ([]Godown, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, business_id, name FROM godowns WHERE business_id = $1 ORDER BY name", businessID)
	if err != nil {
		return nil, fmt.Errorf("failed to query godowns: %w", err)
	}
	defer rows.Close()

	var godowns []Godown
	for rows.Next() {
		var g Godown
		if err := rows.Scan(&g.ID, &g.BusinessID, &g.Name); err != nil {
			return nil, fmt.Errorf("failed to scan godown: %w", err)
		}
		godowns = append(godowns, g)
	}
	return godowns, rows.Err()
}

func (s *inventoryService) CreateStockGroup(ctx context.Context, sg StockGroup) (*StockGroup, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO stock_groups (business_id, name, alias, parent_id, can_quantities_be_added)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, sg.BusinessID, sg.Name, sg.Alias, sg.ParentID, sg.CanQuantitiesBeAdded).Scan(&sg.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &ConflictError{Entity: "stock group", Key: sg.Name}
		}
		return nil, fmt.Errorf("failed to insert stock group %q: %w", sg.Name, err)
	}
	return &sg, nil
}

func (s *inventoryService) ListStockGroups(ctx context.Context, businessID int64) ([]StockGroup, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, business_id, name, alias, parent_id, can_quantities_be_added
		FROM stock_groups WHERE business_id = $1 ORDER BY name
	`, businessID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock groups: %w", err)
	}
	defer rows.Close()

	var groups []StockGroup
	for rows.Next() {
		var sg StockGroup
		if err := rows.Scan(&sg.ID, &sg.BusinessID, &sg.Name, &sg.Alias, &sg.ParentID, &sg.CanQuantitiesBeAdded); err != nil {
			return nil, fmt.Errorf("failed to scan stock group: %w", err)
		}
		groups = append(groups, sg)
	}
	return groups, rows.Err()
}

func (s *inventoryService) CreateUnit(ctx context.Context, u UnitOfMeasure) (*UnitOfMeasure, error) {
	if u.UnitType == "" {
		u.UnitType = "SIMPLE"
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO units_of_measure (business_id, unit_type, symbol, formal_name, decimal_places)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, u.BusinessID, u.UnitType, u.Symbol, u.FormalName, u.DecimalPlaces).Scan(&u.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &ConflictError{Entity: "unit", Key: u.Symbol}
		}
		return nil, fmt.Errorf("failed to insert unit %q: %w", u.Symbol, err)
	}
	return &u, nil
}

func (s *inventoryService) ListUnits(ctx context.Context, businessID int64) ([]UnitOfMeasure, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, business_id, unit_type, symbol, formal_name, decimal_places
		FROM units_of_measure WHERE business_id = $1 ORDER BY symbol
	`, businessID)
	if err != nil {
		return nil, fmt.Errorf("failed to query units: %w", err)
	}
	defer rows.Close()

	var units []UnitOfMeasure
	for rows.Next() {
		var u UnitOfMeasure
		if err := rows.Scan(&u.ID, &u.BusinessID, &u.UnitType, &u.Symbol, &u.FormalName, &u.DecimalPlaces); err != nil {
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func (s *inventoryService) SetStandardRate(ctx context.Context, r StandardRate) (*StandardRate, error) {
	if r.RateType != RateTypeCost && r.RateType != RateTypeSelling {
		return nil, &StructuralError{Field: "rate_type", Reason: "must be COST or SELLING"}
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO standard_rates (item_id, rate_type, applicable_from, rate)
		VALUES ($1, $2, $3::date, $4)
		ON CONFLICT (item_id, rate_type, applicable_from) DO UPDATE SET rate = EXCLUDED.rate
		RETURNING id
	`, r.ItemID, r.RateType, r.ApplicableFrom, r.Rate).Scan(&r.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert standard rate: %w", err)
	}
	return &r, nil
}

func (s *inventoryService) StandardRateAsOn(ctx context.Context, itemID int64, rateType, date string) (*StandardRate, error) {
	var r StandardRate
	err := s.pool.QueryRow(ctx, `
		SELECT id, item_id, rate_type, applicable_from::text, rate
		FROM standard_rates
		WHERE item_id = $1 AND rate_type = $2 AND applicable_from <= $3::date
		ORDER BY applicable_from DESC
		LIMIT 1
	`, itemID, rateType, date).Scan(&r.ID, &r.ItemID, &r.RateType, &r.ApplicableFrom, &r.Rate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch standard rate: %w", err)
	}
	return &r, nil
}

// ── Stock ledger ─────────────────────────────────────────────────────────────

func (s *inventoryService) CurrentBalance(ctx context.Context, businessID, itemID, godownID int64) (decimal.Decimal, error) {
	return stockBalance(ctx, s.pool, businessID, itemID, godownID)
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func stockBalance(ctx context.Context, q queryer, businessID, itemID, godownID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(qty_in), 0) - COALESCE(SUM(qty_out), 0)
		FROM stock_ledger_entries
		WHERE business_id = $1 AND item_id = $2 AND godown_id = $3 AND is_posted = TRUE
	`, businessID, itemID, godownID).Scan(&balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to compute stock balance: %w", err)
	}
	return balance, nil
}

// lockStock serializes writers of one (business, item, godown) stream for
// the duration of the transaction, so the balance check and the insert
// are atomic against concurrent sales and transfers.
func lockStock(ctx context.Context, tx pgx.Tx, businessID, itemID, godownID int64) error {
	key := fmt.Sprintf("stock:%d:%d:%d", businessID, itemID, godownID)
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", key); err != nil {
		return fmt.Errorf("failed to acquire stock lock: %w", err)
	}
	return nil
}

func insertStockEntryTx(ctx context.Context, tx pgx.Tx, e StockLedgerEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO stock_ledger_entries
			(business_id, posting_date, item_id, godown_id, qty_in, qty_out, rate, amount,
			 voucher_type, voucher_id, is_posted, transfer_ref, narration)
		VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, e.BusinessID, e.PostingDate, e.ItemID, e.GodownID, e.QtyIn, e.QtyOut, e.Rate, e.Amount,
		e.VoucherType, e.VoucherID, e.IsPosted, e.TransferRef, e.Narration)
	if err != nil {
		return fmt.Errorf("failed to insert stock entry: %w", err)
	}
	return nil
}

func (s *inventoryService) ListEntries(ctx context.Context, businessID, itemID int64) ([]StockLedgerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, business_id, posting_date::text, item_id, godown_id, qty_in, qty_out, rate, amount,
		       voucher_type, voucher_id, is_posted, transfer_ref, narration, created_at
		FROM stock_ledger_entries
		WHERE business_id = $1 AND item_id = $2
		ORDER BY posting_date, id
	`, businessID, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock entries: %w", err)
	}
	defer rows.Close()

	var entries []StockLedgerEntry
	for rows.Next() {
		var e StockLedgerEntry
		if err := rows.Scan(&e.ID, &e.BusinessID, &e.PostingDate, &e.ItemID, &e.GodownID,
			&e.QtyIn, &e.QtyOut, &e.Rate, &e.Amount,
			&e.VoucherType, &e.VoucherID, &e.IsPosted, &e.TransferRef, &e.Narration, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stock entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ── Trade flows ──────────────────────────────────────────────────────────────

func validateRows(rows []VoucherRow) (decimal.Decimal, error) {
	if len(rows) == 0 {
		return decimal.Zero, &StructuralError{Field: "rows", Reason: "at least one item row required"}
	}
	var total decimal.Decimal
	for _, row := range rows {
		if !row.Qty.IsPositive() {
			return decimal.Zero, &StructuralError{Field: "qty", Reason: "must be positive"}
		}
		if row.Rate.IsNegative() {
			return decimal.Zero, &StructuralError{Field: "rate", Reason: "must not be negative"}
		}
		total = total.Add(EntryAmount(row.Qty, decimal.Zero, row.Rate))
	}
	return total, nil
}

// PostPurchaseVoucher books DR purchase ledger / CR party ledger for the
// row total, writes one inward stock entry per row, and posts the
// voucher, all in one transaction.
func (s *inventoryService) PostPurchaseVoucher(ctx context.Context, in PurchaseInput) (*Voucher, error) {
	total, err := validateRows(in.Rows)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	v, err := s.vouchers.CreateDraftTx(ctx, tx, VoucherInput{
		BusinessID:  in.BusinessID,
		VoucherType: VoucherPurchase,
		PostingDate: in.PostingDate,
		Narration:   in.Narration,
		SourceType:  "SUPPLIER_INVOICE",
		SourceID:    in.SupplierInvoiceNo,
	}, []LineInput{
		{AccountID: in.PurchaseLedgerID, Debit: total},
		{AccountID: in.PartyLedgerID, Credit: total},
	})
	if err != nil {
		return nil, err
	}

	for _, row := range in.Rows {
		if err := insertStockEntryTx(ctx, tx, StockLedgerEntry{
			BusinessID:  in.BusinessID,
			PostingDate: in.PostingDate,
			ItemID:      row.ItemID,
			GodownID:    in.GodownID,
			QtyIn:       row.Qty,
			Rate:        row.Rate,
			Amount:      EntryAmount(row.Qty, decimal.Zero, row.Rate),
			VoucherType: string(VoucherPurchase),
			VoucherID:   &v.ID,
			IsPosted:    true,
			Narration:   in.Narration,
		}); err != nil {
			return nil, err
		}
	}

	if err := s.vouchers.PostTx(ctx, tx, v.ID, in.Actor); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit purchase voucher: %w", err)
	}
	return s.vouchers.Get(ctx, v.ID)
}

// PostSalesVoucher books DR party / CR sales ledger and writes outward
// stock entries. Each row's godown balance is re-checked under the stock
// lock inside the transaction; any shortfall aborts the whole voucher.
func (s *inventoryService) PostSalesVoucher(ctx context.Context, in SalesInput) (*Voucher, error) {
	total, err := validateRows(in.Rows)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Rows may repeat an item, so the sufficiency check runs against the
	// voucher's cumulative demand per item, not each row alone.
	requested := make(map[int64]decimal.Decimal)
	for _, row := range in.Rows {
		if _, seen := requested[row.ItemID]; !seen {
			if err := lockStock(ctx, tx, in.BusinessID, row.ItemID, in.GodownID); err != nil {
				return nil, err
			}
		}
		requested[row.ItemID] = requested[row.ItemID].Add(row.Qty)
		balance, err := stockBalance(ctx, tx, in.BusinessID, row.ItemID, in.GodownID)
		if err != nil {
			return nil, err
		}
		if balance.LessThan(requested[row.ItemID]) {
			sku := fmt.Sprintf("item %d", row.ItemID)
			var itemSKU string
			if err := tx.QueryRow(ctx, "SELECT sku FROM items WHERE id = $1", row.ItemID).Scan(&itemSKU); err == nil {
				sku = itemSKU
			}
			return nil, &InsufficientStockError{SKU: sku, GodownID: in.GodownID, Available: balance, Requested: requested[row.ItemID]}
		}
	}

	v, err := s.vouchers.CreateDraftTx(ctx, tx, VoucherInput{
		BusinessID:  in.BusinessID,
		VoucherType: VoucherSales,
		PostingDate: in.PostingDate,
		Narration:   in.Narration,
	}, []LineInput{
		{AccountID: in.PartyLedgerID, Debit: total},
		{AccountID: in.SalesLedgerID, Credit: total},
	})
	if err != nil {
		return nil, err
	}

	for _, row := range in.Rows {
		if err := insertStockEntryTx(ctx, tx, StockLedgerEntry{
			BusinessID:  in.BusinessID,
			PostingDate: in.PostingDate,
			ItemID:      row.ItemID,
			GodownID:    in.GodownID,
			QtyOut:      row.Qty,
			Rate:        row.Rate,
			Amount:      EntryAmount(decimal.Zero, row.Qty, row.Rate),
			VoucherType: string(VoucherSales),
			VoucherID:   &v.ID,
			IsPosted:    true,
			Narration:   in.Narration,
		}); err != nil {
			return nil, err
		}
	}

	if err := s.vouchers.PostTx(ctx, tx, v.ID, in.Actor); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit sales voucher: %w", err)
	}
	return s.vouchers.Get(ctx, v.ID)
}

// Transfer writes the out and in legs of a godown-to-godown movement and
// returns the shared transfer reference.
func (s *inventoryService) Transfer(ctx context.Context, in TransferInput) (string, error) {
	if !in.Qty.IsPositive() {
		return "", &StructuralError{Field: "qty", Reason: "must be positive"}
	}
	if in.Rate.IsNegative() {
		return "", &StructuralError{Field: "rate", Reason: "must not be negative"}
	}
	if in.FromGodownID == in.ToGodownID {
		return "", &StructuralError{Field: "to_godown_id", Reason: "source and destination godowns must differ"}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockStock(ctx, tx, in.BusinessID, in.ItemID, in.FromGodownID); err != nil {
		return "", err
	}
	balance, err := stockBalance(ctx, tx, in.BusinessID, in.ItemID, in.FromGodownID)
	if err != nil {
		return "", err
	}
	if balance.LessThan(in.Qty) {
		sku := fmt.Sprintf("item %d", in.ItemID)
		var itemSKU string
		if err := tx.QueryRow(ctx, "SELECT sku FROM items WHERE id = $1", in.ItemID).Scan(&itemSKU); err == nil {
			sku = itemSKU
		}
		return "", &InsufficientStockError{SKU: sku, GodownID: in.FromGodownID, Available: balance, Requested: in.Qty}
	}

	ref := uuid.NewString()
	amount := EntryAmount(in.Qty, decimal.Zero, in.Rate)

	out := StockLedgerEntry{
		BusinessID:  in.BusinessID,
		PostingDate: in.PostingDate,
		ItemID:      in.ItemID,
		GodownID:    in.FromGodownID,
		QtyOut:      in.Qty,
		Rate:        in.Rate,
		Amount:      amount,
		VoucherType: "STOCK_JOURNAL",
		IsPosted:    true,
		TransferRef: ref,
		Narration:   in.Narration,
	}
	if err := insertStockEntryTx(ctx, tx, out); err != nil {
		return "", err
	}

	inEntry := out
	inEntry.GodownID = in.ToGodownID
	inEntry.QtyOut = decimal.Zero
	inEntry.QtyIn = in.Qty
	if err := insertStockEntryTx(ctx, tx, inEntry); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit stock transfer: %w", err)
	}
	return ref, nil
}
