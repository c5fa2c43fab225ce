package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Name hints used when the hierarchy does not resolve to a P&L side
// (e.g. a ledger filed under Assets). Applied sparingly, as a fallback.
var (
	incomeNameHints  = []string{"sales", "revenue", "income"}
	expenseNameHints = []string{"purchase", "rent", "salary", "electricity", "wages", "expense"}
	// Split the trading account: Sales vs Other Income, Purchase vs Indirect.
	salesNameHints    = []string{"sales"}
	purchaseNameHints = []string{"purchase"}
)

// Root group names of the standard chart. Businesses that add their own
// primary groups (Capital Account, Current Liabilities, ...) get those
// shown on the balance sheet instead of the standard buckets.
var standardRootNames = []string{"Assets", "Liabilities", "Income", "Expenses"}

// ReportRow is one named amount on a statement.
type ReportRow struct {
	Name   string
	Amount decimal.Decimal
}

// PLParams selects the period and valuation scope of a P&L report.
// The stock overrides, when set, replace the inventory valuation (to
// reconcile against an externally maintained book value).
type PLParams struct {
	BusinessID           int64
	StartDate            string
	EndDate              string
	GodownID             *int64
	OpeningStockOverride *decimal.Decimal
	ClosingStockOverride *decimal.Decimal
}

// PLReport is a trading-account style P&L:
//
//	COGS         = Opening Stock + Purchases - Closing Stock
//	Gross Profit = Sales - COGS
//	Net Profit   = Gross Profit - Indirect Expenses + Other Income
//
// TotalCredit is Sales + Closing Stock and TotalDebit is Opening +
// Purchases + Indirect + Net Profit; with no other income the two agree.
type PLReport struct {
	Sales            []ReportRow
	Purchases        []ReportRow
	OtherIncome      []ReportRow
	IndirectExpenses []ReportRow

	SalesTotal           decimal.Decimal
	PurchaseTotal        decimal.Decimal
	OtherIncomeTotal     decimal.Decimal
	IndirectExpenseTotal decimal.Decimal

	OpeningStock decimal.Decimal
	ClosingStock decimal.Decimal
	COGS         decimal.Decimal
	GrossProfit  decimal.Decimal
	NetProfit    decimal.Decimal

	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
}

// BSReport groups ledger closing balances under their root groups.
// Liabilities are shown with credit balances positive; the Profit & Loss
// A/c row carries the gross profit so both sides agree.
type BSReport struct {
	LiabilityRows []ReportRow
	AssetRows     []ReportRow

	GrossProfit      decimal.Decimal
	TotalLiabilities decimal.Decimal
	TotalAssets      decimal.Decimal
}

// TrialBalanceRow is one ledger's closing position: a debit balance
// shows in the Debit column, a credit balance in Credit.
type TrialBalanceRow struct {
	AccountID int64
	Name      string
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

// ReportingService derives financial statements from posted vouchers and
// the stock ledger. Nothing here writes; reports are pure reads.
type ReportingService interface {
	ProfitAndLoss(ctx context.Context, p PLParams) (*PLReport, error)
	BalanceSheet(ctx context.Context, businessID int64, endDate string) (*BSReport, error)
	TrialBalance(ctx context.Context, businessID int64, endDate string) ([]TrialBalanceRow, error)
}

type reportingService struct {
	pool      *pgxpool.Pool
	valuation ValuationService
}

func NewReportingService(pool *pgxpool.Pool, valuation ValuationService) ReportingService {
	return &reportingService{pool: pool, valuation: valuation}
}

// AccountNode is the slice of an account needed to walk the hierarchy.
type AccountNode struct {
	ParentID *int64
	RootType RootType
}

// ResolveRootTypes walks each account's parent chain to its root and
// returns the root's root type. Unknown parents and cycles resolve to
// the empty root type.
func ResolveRootTypes(accounts map[int64]AccountNode) map[int64]RootType {
	cache := make(map[int64]RootType, len(accounts))
	resolved := make(map[int64]bool, len(accounts))

	var walk func(id int64, seen map[int64]bool) RootType
	walk = func(id int64, seen map[int64]bool) RootType {
		if resolved[id] {
			return cache[id]
		}
		if seen[id] {
			cache[id] = ""
			resolved[id] = true
			return ""
		}
		seen[id] = true
		acc, ok := accounts[id]
		if !ok {
			cache[id] = ""
			resolved[id] = true
			return ""
		}
		var rt RootType
		if acc.ParentID == nil {
			rt = acc.RootType
		} else {
			rt = walk(*acc.ParentID, seen)
		}
		cache[id] = rt
		resolved[id] = true
		return rt
	}

	for id := range accounts {
		if !resolved[id] {
			walk(id, make(map[int64]bool))
		}
	}
	return cache
}

func containsAny(s string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(s, h) {
			return true
		}
	}
	return false
}

// classifyPL picks the P&L side of a ledger: own root type first, then
// the parent's, then the tree walk, and finally the name hints.
func classifyPL(name string, own, parent, walked RootType) RootType {
	rt := walked
	if own == RootIncome || own == RootExpense {
		rt = own
	} else if parent == RootIncome || parent == RootExpense {
		rt = parent
	}
	if rt != RootIncome && rt != RootExpense {
		nameLower := strings.ToLower(name)
		switch {
		case containsAny(nameLower, incomeNameHints):
			rt = RootIncome
		case containsAny(nameLower, expenseNameHints):
			rt = RootExpense
		default:
			rt = ""
		}
	}
	return rt
}

func (s *reportingService) accountNodes(ctx context.Context, businessID int64) (map[int64]AccountNode, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, parent_id, root_type FROM accounts WHERE business_id = $1", businessID)
	if err != nil {
		return nil, fmt.Errorf("failed to query account tree: %w", err)
	}
	defer rows.Close()

	nodes := make(map[int64]AccountNode)
	for rows.Next() {
		var id int64
		var node AccountNode
		if err := rows.Scan(&id, &node.ParentID, &node.RootType); err != nil {
			return nil, fmt.Errorf("failed to scan account node: %w", err)
		}
		nodes[id] = node
	}
	return nodes, rows.Err()
}

func (s *reportingService) ProfitAndLoss(ctx context.Context, p PLParams) (*PLReport, error) {
	nodes, err := s.accountNodes(ctx, p.BusinessID)
	if err != nil {
		return nil, err
	}
	walked := ResolveRootTypes(nodes)

	rows, err := s.pool.Query(ctx, `
		SELECT vl.account_id, a.name, a.root_type, COALESCE(p.root_type, ''),
		       COALESCE(SUM(vl.debit), 0), COALESCE(SUM(vl.credit), 0)
		FROM voucher_lines vl
		JOIN vouchers v ON v.id = vl.voucher_id
		JOIN accounts a ON a.id = vl.account_id
		LEFT JOIN accounts p ON p.id = a.parent_id
		WHERE v.business_id = $1 AND v.is_posted = TRUE AND a.is_group = FALSE
		  AND (NULLIF($2, '')::date IS NULL OR v.posting_date >= NULLIF($2, '')::date)
		  AND (NULLIF($3, '')::date IS NULL OR v.posting_date <= NULLIF($3, '')::date)
		GROUP BY vl.account_id, a.name, a.root_type, p.root_type
		ORDER BY a.name
	`, p.BusinessID, p.StartDate, p.EndDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger movements: %w", err)
	}
	defer rows.Close()

	r := &PLReport{}
	for rows.Next() {
		var accountID int64
		var name string
		var own, parent RootType
		var dr, cr decimal.Decimal
		if err := rows.Scan(&accountID, &name, &own, &parent, &dr, &cr); err != nil {
			return nil, fmt.Errorf("failed to scan ledger movement: %w", err)
		}

		rt := classifyPL(name, own, parent, walked[accountID])
		nameLower := strings.ToLower(name)

		switch rt {
		case RootIncome:
			amt := cr.Sub(dr)
			if amt.IsZero() {
				continue
			}
			if containsAny(nameLower, salesNameHints) {
				r.Sales = append(r.Sales, ReportRow{Name: name, Amount: amt})
				r.SalesTotal = r.SalesTotal.Add(amt)
			} else {
				r.OtherIncome = append(r.OtherIncome, ReportRow{Name: name, Amount: amt})
				r.OtherIncomeTotal = r.OtherIncomeTotal.Add(amt)
			}
		case RootExpense:
			amt := dr.Sub(cr)
			if amt.IsZero() {
				continue
			}
			if containsAny(nameLower, purchaseNameHints) {
				r.Purchases = append(r.Purchases, ReportRow{Name: name, Amount: amt})
				r.PurchaseTotal = r.PurchaseTotal.Add(amt)
			} else {
				r.IndirectExpenses = append(r.IndirectExpenses, ReportRow{Name: name, Amount: amt})
				r.IndirectExpenseTotal = r.IndirectExpenseTotal.Add(amt)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger movements: %w", err)
	}

	periodEnd := p.EndDate
	if periodEnd == "" {
		periodEnd = time.Now().Format("2006-01-02")
	}
	if p.OpeningStockOverride != nil {
		r.OpeningStock = p.OpeningStockOverride.RoundBank(2)
	} else {
		r.OpeningStock, err = s.valuation.OpeningStockValue(ctx, p.BusinessID, p.StartDate, p.GodownID)
		if err != nil {
			return nil, err
		}
	}
	if p.ClosingStockOverride != nil {
		r.ClosingStock = p.ClosingStockOverride.RoundBank(2)
	} else {
		r.ClosingStock, err = s.valuation.ClosingStockValue(ctx, p.BusinessID, periodEnd, p.GodownID)
		if err != nil {
			return nil, err
		}
	}

	r.COGS = r.OpeningStock.Add(r.PurchaseTotal).Sub(r.ClosingStock).RoundBank(2)
	r.GrossProfit = r.SalesTotal.Sub(r.COGS).RoundBank(2)
	r.NetProfit = r.GrossProfit.Sub(r.IndirectExpenseTotal).Add(r.OtherIncomeTotal).RoundBank(2)
	r.TotalCredit = r.SalesTotal.Add(r.ClosingStock).RoundBank(2)
	r.TotalDebit = r.OpeningStock.Add(r.PurchaseTotal).Add(r.IndirectExpenseTotal).Add(r.NetProfit).RoundBank(2)

	return r, nil
}

// ledgerClosingNets returns every ledger's closing net balance at the
// end date: opening (DR positive, CR negative) plus posted debits minus
// posted credits.
func (s *reportingService) ledgerClosingNets(ctx context.Context, businessID int64, endDate string) (map[int64]decimal.Decimal, map[int64]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.name,
		       CASE WHEN a.opening_balance_type = 'CR' THEN -a.opening_balance ELSE a.opening_balance END
		       + COALESCE(SUM(vl.debit), 0) - COALESCE(SUM(vl.credit), 0)
		FROM accounts a
		LEFT JOIN (voucher_lines vl
		     JOIN vouchers v ON v.id = vl.voucher_id
		          AND v.is_posted = TRUE
		          AND (NULLIF($2, '')::date IS NULL OR v.posting_date <= NULLIF($2, '')::date)
		) ON vl.account_id = a.id
		WHERE a.business_id = $1 AND a.is_group = FALSE
		GROUP BY a.id, a.name
	`, businessID, endDate)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query ledger balances: %w", err)
	}
	defer rows.Close()

	nets := make(map[int64]decimal.Decimal)
	names := make(map[int64]string)
	for rows.Next() {
		var id int64
		var name string
		var net decimal.Decimal
		if err := rows.Scan(&id, &name, &net); err != nil {
			return nil, nil, fmt.Errorf("failed to scan ledger balance: %w", err)
		}
		nets[id] = net.RoundBank(2)
		names[id] = name
	}
	return nets, names, rows.Err()
}

func isStandardRootName(name string) bool {
	for _, n := range standardRootNames {
		if name == n {
			return true
		}
	}
	return false
}

func (s *reportingService) BalanceSheet(ctx context.Context, businessID int64, endDate string) (*BSReport, error) {
	nets, _, err := s.ledgerClosingNets(ctx, businessID, endDate)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		"SELECT id, parent_id, name, is_group, root_type FROM accounts WHERE business_id = $1", businessID)
	if err != nil {
		return nil, fmt.Errorf("failed to query account tree: %w", err)
	}
	defer rows.Close()

	type treeNode struct {
		name     string
		isGroup  bool
		rootType RootType
	}
	accountMap := make(map[int64]treeNode)
	children := make(map[int64][]int64)
	var rootIDs []int64
	for rows.Next() {
		var id int64
		var parentID *int64
		var node treeNode
		if err := rows.Scan(&id, &parentID, &node.name, &node.isGroup, &node.rootType); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accountMap[id] = node
		if parentID == nil {
			rootIDs = append(rootIDs, id)
		} else {
			children[*parentID] = append(children[*parentID], id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	// Primary groups the business added (Capital Account, Current
	// Liabilities, ...) take the rows; the standard buckets are the
	// fallback when no primary groups exist.
	pickRoots := func(rt RootType) []int64 {
		var primary, all []int64
		for _, id := range rootIDs {
			acc := accountMap[id]
			if acc.rootType != rt {
				continue
			}
			all = append(all, id)
			if !isStandardRootName(acc.name) {
				primary = append(primary, id)
			}
		}
		if len(primary) > 0 {
			return primary
		}
		return all
	}

	// The visited set keeps the walk finite if the stored tree ever
	// carries a cycle.
	visited := make(map[int64]bool)
	var descendantLedgers func(id int64) []int64
	descendantLedgers = func(id int64) []int64 {
		if visited[id] {
			return nil
		}
		visited[id] = true
		var out []int64
		for _, childID := range children[id] {
			if accountMap[childID].isGroup {
				out = append(out, descendantLedgers(childID)...)
			} else {
				out = append(out, childID)
			}
		}
		return out
	}

	groupRows := func(ids []int64, sign int64) []ReportRow {
		sort.Slice(ids, func(i, j int) bool {
			return accountMap[ids[i]].name < accountMap[ids[j]].name
		})
		var out []ReportRow
		for _, id := range ids {
			acc := accountMap[id]
			if !acc.isGroup {
				continue
			}
			var total decimal.Decimal
			for _, lid := range descendantLedgers(id) {
				total = total.Add(nets[lid])
			}
			out = append(out, ReportRow{Name: acc.name, Amount: total.Mul(decimal.NewFromInt(sign)).RoundBank(2)})
		}
		return out
	}

	r := &BSReport{
		// Liabilities carry credit balances, so flip the sign for display.
		LiabilityRows: groupRows(pickRoots(RootLiability), -1),
		AssetRows:     groupRows(pickRoots(RootAsset), 1),
	}

	pl, err := s.ProfitAndLoss(ctx, PLParams{BusinessID: businessID, EndDate: endDate})
	if err != nil {
		return nil, err
	}
	r.GrossProfit = pl.GrossProfit

	for _, row := range r.LiabilityRows {
		r.TotalLiabilities = r.TotalLiabilities.Add(row.Amount)
	}
	r.TotalLiabilities = r.TotalLiabilities.Add(r.GrossProfit).RoundBank(2)
	for _, row := range r.AssetRows {
		r.TotalAssets = r.TotalAssets.Add(row.Amount)
	}
	r.TotalAssets = r.TotalAssets.RoundBank(2)

	return r, nil
}

func (s *reportingService) TrialBalance(ctx context.Context, businessID int64, endDate string) ([]TrialBalanceRow, error) {
	nets, names, err := s.ledgerClosingNets(ctx, businessID, endDate)
	if err != nil {
		return nil, err
	}

	out := make([]TrialBalanceRow, 0, len(nets))
	for id, net := range nets {
		row := TrialBalanceRow{AccountID: id, Name: names[id]}
		if net.IsNegative() {
			row.Credit = net.Neg()
		} else {
			row.Debit = net
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
