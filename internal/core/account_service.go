package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Ledger names whose opening balances count toward a business's opening
// capital total.
var LedgersInOpeningBalanceTotal = []string{"Bank Accounts", "Cash-in-hand", "Capital Account"}

// AccountInput is the caller-supplied portion of an account. RootType is
// only honored for root groups; everywhere else it is inherited from the
// parent.
type AccountInput struct {
	BusinessID         int64
	Name               string
	ParentID           *int64
	IsGroup            bool
	RootType           RootType
	AccountType        string
	IsPrimaryLedger    bool
	OpeningBalance     decimal.Decimal
	OpeningBalanceType string
	OpeningBalanceDate string
}

// AccountService manages the chart-of-accounts tree. Creation and
// alteration enforce the hierarchy invariants; classification fields are
// always derived, never trusted from the caller.
type AccountService interface {
	Create(ctx context.Context, in AccountInput) (*Account, error)
	// Alter updates name, account type and opening balance fields, and may
	// re-parent the account. Root accounts can never be altered.
	Alter(ctx context.Context, accountID int64, in AccountInput) (*Account, error)
	Get(ctx context.Context, accountID int64) (*Account, error)
	GetByName(ctx context.Context, businessID int64, name string) (*Account, error)
	ListByBusiness(ctx context.Context, businessID int64) ([]Account, error)
	// InstallDefaultChart seeds the standard chart of accounts for a new
	// business. It refuses to run if the business already has accounts.
	InstallDefaultChart(ctx context.Context, businessID int64) error
	// OpeningBalanceTotal sums the opening balances (DR positive, CR
	// negative) of the well-known capital ledgers.
	OpeningBalanceTotal(ctx context.Context, businessID int64) (decimal.Decimal, error)

	CreateBusiness(ctx context.Context, name, businessType string) (*Business, error)
	GetBusiness(ctx context.Context, businessID int64) (*Business, error)
}

type accountService struct {
	pool *pgxpool.Pool
}

func NewAccountService(pool *pgxpool.Pool) AccountService {
	return &accountService{pool: pool}
}

const accountColumns = `id, business_id, name, parent_id, is_group, root_type, report_type,
       account_type, is_root, is_primary_ledger,
       opening_balance, opening_balance_type, COALESCE(opening_balance_date::text, ''), created_at`

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.BusinessID, &a.Name, &a.ParentID, &a.IsGroup, &a.RootType, &a.ReportType,
		&a.AccountType, &a.IsRoot, &a.IsPrimaryLedger,
		&a.OpeningBalance, &a.OpeningBalanceType, &a.OpeningBalanceDate, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *accountService) CreateBusiness(ctx context.Context, name, businessType string) (*Business, error) {
	if businessType == "" {
		businessType = "RETAIL"
	}
	var b Business
	err := s.pool.QueryRow(ctx, `
		INSERT INTO businesses (name, business_type)
		VALUES ($1, $2)
		RETURNING id, name, business_type, created_at
	`, name, businessType).Scan(&b.ID, &b.Name, &b.BusinessType, &b.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &ConflictError{Entity: "business", Key: name}
		}
		return nil, fmt.Errorf("failed to create business: %w", err)
	}
	return &b, nil
}

func (s *accountService) GetBusiness(ctx context.Context, businessID int64) (*Business, error) {
	var b Business
	err := s.pool.QueryRow(ctx,
		"SELECT id, name, business_type, created_at FROM businesses WHERE id = $1", businessID,
	).Scan(&b.ID, &b.Name, &b.BusinessType, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("business %d not found", businessID)
		}
		return nil, fmt.Errorf("failed to fetch business: %w", err)
	}
	return &b, nil
}

func (s *accountService) Create(ctx context.Context, in AccountInput) (*Account, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	a, err := createAccountTx(ctx, tx, in)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit account: %w", err)
	}
	return a, nil
}

// createAccountTx validates and inserts one account within the caller's TX.
func createAccountTx(ctx context.Context, tx pgx.Tx, in AccountInput) (*Account, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, &StructuralError{Field: "name", Reason: "must not be empty"}
	}

	rootType, reportType, isRoot, err := classify(ctx, tx, in)
	if err != nil {
		return nil, err
	}

	if in.OpeningBalanceType == "" {
		in.OpeningBalanceType = "DR"
	}
	if in.OpeningBalanceType != "DR" && in.OpeningBalanceType != "CR" {
		return nil, &StructuralError{Field: "opening_balance_type", Reason: "must be DR or CR"}
	}

	var obDate any
	if in.OpeningBalanceDate != "" {
		obDate = in.OpeningBalanceDate
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO accounts (business_id, name, parent_id, is_group, root_type, report_type,
		                      account_type, is_root, is_primary_ledger,
		                      opening_balance, opening_balance_type, opening_balance_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::date)
		RETURNING `+accountColumns,
		in.BusinessID, in.Name, in.ParentID, in.IsGroup, rootType, reportType,
		in.AccountType, isRoot, in.IsPrimaryLedger,
		in.OpeningBalance, in.OpeningBalanceType, obDate)

	a, err := scanAccount(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &ConflictError{Entity: "account", Key: in.Name}
		}
		return nil, fmt.Errorf("failed to insert account %q: %w", in.Name, err)
	}
	return a, nil
}

// classify derives root_type, report_type and is_root for an account,
// enforcing the hierarchy rules:
//   - a parentless group is a root and must carry an explicit root type
//   - a parentless ledger is only legal as the primary ledger (always PL)
//   - a parented account must attach to a group of the same business and
//     inherits the parent's classification unconditionally
func classify(ctx context.Context, tx pgx.Tx, in AccountInput) (RootType, ReportType, bool, error) {
	if in.ParentID == nil {
		if in.IsGroup {
			switch in.RootType {
			case RootAsset, RootLiability, RootIncome, RootExpense:
			default:
				return "", "", false, &StructuralError{Field: "root_type", Reason: "root group requires a valid root type"}
			}
			return in.RootType, ReportTypeFromRoot(in.RootType), true, nil
		}
		if !in.IsPrimaryLedger {
			return "", "", false, &StructuralError{Field: "parent_id", Reason: "ledger requires a parent group"}
		}
		// The primary ledger (Profit & Loss A/c) sits outside the tree and
		// always reports under P&L.
		return "", ReportProfitLoss, false, nil
	}

	var parentBusinessID int64
	var parentIsGroup bool
	var parentRootType RootType
	err := tx.QueryRow(ctx,
		"SELECT business_id, is_group, root_type FROM accounts WHERE id = $1", *in.ParentID,
	).Scan(&parentBusinessID, &parentIsGroup, &parentRootType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", false, &StructuralError{Field: "parent_id", Reason: fmt.Sprintf("parent account %d not found", *in.ParentID)}
		}
		return "", "", false, fmt.Errorf("failed to fetch parent account: %w", err)
	}
	if !parentIsGroup {
		return "", "", false, &StructuralError{Field: "parent_id", Reason: "parent must be a group"}
	}
	if parentBusinessID != in.BusinessID {
		return "", "", false, &StructuralError{Field: "parent_id", Reason: "parent belongs to a different business"}
	}
	return parentRootType, ReportTypeFromRoot(parentRootType), false, nil
}

func (s *accountService) Alter(ctx context.Context, accountID int64, in AccountInput) (*Account, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, err := scanAccount(tx.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1 FOR UPDATE", accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("account %d not found", accountID)
		}
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}

	if existing.IsRoot {
		return nil, &StructuralError{Field: "id", Reason: "root accounts cannot be altered"}
	}
	if strings.TrimSpace(in.Name) == "" {
		in.Name = existing.Name
	}

	// Re-parenting re-derives the classification; keeping the parent keeps it.
	rootType, reportType := existing.RootType, existing.ReportType
	parentID := existing.ParentID
	if in.ParentID != nil {
		check := in
		check.BusinessID = existing.BusinessID
		check.IsGroup = existing.IsGroup
		check.IsPrimaryLedger = existing.IsPrimaryLedger
		rootType, reportType, _, err = classify(ctx, tx, check)
		if err != nil {
			return nil, err
		}
		if *in.ParentID == accountID {
			return nil, &StructuralError{Field: "parent_id", Reason: "account cannot be its own parent"}
		}
		if err := ensureNotDescendant(ctx, tx, accountID, *in.ParentID); err != nil {
			return nil, err
		}
		parentID = in.ParentID
	}

	if in.OpeningBalanceType == "" {
		in.OpeningBalanceType = existing.OpeningBalanceType
	}
	if in.OpeningBalanceType != "DR" && in.OpeningBalanceType != "CR" {
		return nil, &StructuralError{Field: "opening_balance_type", Reason: "must be DR or CR"}
	}
	obDateStr := in.OpeningBalanceDate
	if obDateStr == "" {
		obDateStr = existing.OpeningBalanceDate
	}
	var obDate any
	if obDateStr != "" {
		obDate = obDateStr
	}

	row := tx.QueryRow(ctx, `
		UPDATE accounts
		SET name = $1, parent_id = $2, root_type = $3, report_type = $4,
		    account_type = $5, opening_balance = $6, opening_balance_type = $7,
		    opening_balance_date = $8::date
		WHERE id = $9
		RETURNING `+accountColumns,
		in.Name, parentID, rootType, reportType,
		in.AccountType, in.OpeningBalance, in.OpeningBalanceType, obDate, accountID)

	a, err := scanAccount(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &ConflictError{Entity: "account", Key: in.Name}
		}
		return nil, fmt.Errorf("failed to update account %d: %w", accountID, err)
	}

	// Descendants inherit the new classification when the branch moved.
	if in.ParentID != nil && (rootType != existing.RootType || reportType != existing.ReportType) {
		if err := reclassifySubtree(ctx, tx, a.ID, rootType, reportType); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit account update: %w", err)
	}
	return a, nil
}

// ensureNotDescendant walks the new parent's ancestor chain and rejects
// the move when it passes through the account being altered, which would
// detach the branch into a cycle. The visited set keeps the walk finite
// even on already-corrupt data.
func ensureNotDescendant(ctx context.Context, tx pgx.Tx, accountID, newParentID int64) error {
	seen := make(map[int64]bool)
	cur := &newParentID
	for cur != nil && !seen[*cur] {
		if *cur == accountID {
			return &StructuralError{Field: "parent_id", Reason: "account cannot be moved under its own descendant"}
		}
		seen[*cur] = true
		var next *int64
		if err := tx.QueryRow(ctx, "SELECT parent_id FROM accounts WHERE id = $1", *cur).Scan(&next); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("failed to walk ancestors of account %d: %w", newParentID, err)
		}
		cur = next
	}
	return nil
}

func reclassifySubtree(ctx context.Context, tx pgx.Tx, rootID int64, rootType RootType, reportType ReportType) error {
	_, err := tx.Exec(ctx, `
		WITH RECURSIVE subtree AS (
			SELECT id FROM accounts WHERE parent_id = $1
			UNION ALL
			SELECT a.id FROM accounts a JOIN subtree s ON a.parent_id = s.id
		)
		UPDATE accounts SET root_type = $2, report_type = $3
		WHERE id IN (SELECT id FROM subtree)
	`, rootID, rootType, reportType)
	if err != nil {
		return fmt.Errorf("failed to reclassify subtree of account %d: %w", rootID, err)
	}
	return nil
}

func (s *accountService) Get(ctx context.Context, accountID int64) (*Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1", accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("account %d not found", accountID)
		}
		return nil, fmt.Errorf("failed to fetch account: %w", err)
	}
	return a, nil
}

func (s *accountService) GetByName(ctx context.Context, businessID int64, name string) (*Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE business_id = $1 AND name = $2", businessID, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("account %q not found for business %d", name, businessID)
		}
		return nil, fmt.Errorf("failed to fetch account %q: %w", name, err)
	}
	return a, nil
}

func (s *accountService) ListByBusiness(ctx context.Context, businessID int64) ([]Account, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE business_id = $1 ORDER BY id", businessID)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// defaultChart is the seed chart of accounts: four root groups with their
// standard subgroups and ledgers, plus the parentless Profit & Loss A/c.
type chartNode struct {
	name     string
	isGroup  bool
	children []chartNode
}

var defaultChart = []struct {
	rootType RootType
	node     chartNode
}{
	{RootAsset, chartNode{name: "Assets", isGroup: true, children: []chartNode{
		{name: "Cash-in-Hand", isGroup: true, children: []chartNode{
			{name: "Cash"},
		}},
		{name: "Bank Accounts", isGroup: true},
	}}},
	{RootLiability, chartNode{name: "Liabilities", isGroup: true, children: []chartNode{
		{name: "Duties & Taxes", isGroup: true},
		{name: "Sundry Creditors", isGroup: true},
	}}},
	{RootIncome, chartNode{name: "Income", isGroup: true, children: []chartNode{
		{name: "Sales"},
	}}},
	{RootExpense, chartNode{name: "Expenses", isGroup: true, children: []chartNode{
		{name: "Purchase"},
		{name: "Indirect Expenses", isGroup: true, children: []chartNode{
			{name: "Rent"},
			{name: "Electricity"},
		}},
	}}},
}

func (s *accountService) InstallDefaultChart(ctx context.Context, businessID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var count int
	if err := tx.QueryRow(ctx,
		"SELECT count(*) FROM accounts WHERE business_id = $1", businessID).Scan(&count); err != nil {
		return fmt.Errorf("failed to count accounts: %w", err)
	}
	if count > 0 {
		return &StructuralError{Field: "business_id", Reason: fmt.Sprintf("business %d already has %d accounts", businessID, count)}
	}

	for _, root := range defaultChart {
		rootAcct, err := createAccountTx(ctx, tx, AccountInput{
			BusinessID: businessID,
			Name:       root.node.name,
			IsGroup:    true,
			RootType:   root.rootType,
		})
		if err != nil {
			return err
		}
		if err := installChildren(ctx, tx, businessID, rootAcct.ID, root.node.children); err != nil {
			return err
		}
	}

	// Profit & Loss A/c: the one parentless ledger, carries retained results.
	if _, err := createAccountTx(ctx, tx, AccountInput{
		BusinessID:      businessID,
		Name:            "Profit & Loss A/c",
		IsGroup:         false,
		IsPrimaryLedger: true,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit default chart: %w", err)
	}
	return nil
}

func installChildren(ctx context.Context, tx pgx.Tx, businessID, parentID int64, children []chartNode) error {
	for _, child := range children {
		acct, err := createAccountTx(ctx, tx, AccountInput{
			BusinessID: businessID,
			Name:       child.name,
			ParentID:   &parentID,
			IsGroup:    child.isGroup,
		})
		if err != nil {
			return err
		}
		if len(child.children) > 0 {
			if err := installChildren(ctx, tx, businessID, acct.ID, child.children); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *accountService) OpeningBalanceTotal(ctx context.Context, businessID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN opening_balance_type = 'CR' THEN -opening_balance ELSE opening_balance END), 0)
		FROM accounts
		WHERE business_id = $1 AND lower(name) = ANY($2)
	`, businessID, lowerAll(LedgersInOpeningBalanceTotal)).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum opening balances: %w", err)
	}
	return total, nil
}

func lowerAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = strings.ToLower(n)
	}
	return out
}
