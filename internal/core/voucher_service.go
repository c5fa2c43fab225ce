package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// VoucherInput creates a draft voucher header. Number, when empty, is
// assigned from the business-scoped sequence.
type VoucherInput struct {
	BusinessID  int64
	Number      string
	VoucherType VoucherType
	PostingDate string
	Narration   string
	SourceType  string
	SourceID    string
}

// LineInput adds one line to a draft voucher. Exactly one of Debit and
// Credit must be positive.
type LineInput struct {
	AccountID int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	Memo      string
}

// VoucherService is the posting state machine. Drafts are freely
// editable; Post validates and locks the voucher permanently. Delete is
// allowed even for posted vouchers and takes the linked stock movements
// with it.
type VoucherService interface {
	CreateDraft(ctx context.Context, in VoucherInput, lines []LineInput) (*Voucher, error)
	AddLine(ctx context.Context, voucherID int64, line LineInput) error
	// Post validates and marks the voucher posted. Posting an already
	// posted voucher is a no-op.
	Post(ctx context.Context, voucherID int64, actor string) error
	Get(ctx context.Context, voucherID int64) (*Voucher, error)
	ListByBusiness(ctx context.Context, businessID int64) ([]Voucher, error)
	// Delete removes the voucher and, for posted PURCHASE/SALES vouchers,
	// the stock ledger entries they created, in one transaction.
	Delete(ctx context.Context, voucherID int64) error
	Totals(ctx context.Context, voucherID int64) (debit, credit decimal.Decimal, err error)

	// TX-scoped operations used by the inventory flows to keep voucher and
	// stock writes atomic.
	CreateDraftTx(ctx context.Context, tx pgx.Tx, in VoucherInput, lines []LineInput) (*Voucher, error)
	PostTx(ctx context.Context, tx pgx.Tx, voucherID int64, actor string) error
}

type voucherService struct {
	pool *pgxpool.Pool
}

func NewVoucherService(pool *pgxpool.Pool) VoucherService {
	return &voucherService{pool: pool}
}

func validateLine(line LineInput) error {
	if line.Debit.IsNegative() || line.Credit.IsNegative() {
		return &StructuralError{Field: "line", Reason: "debit and credit must be non-negative"}
	}
	if line.Debit.IsPositive() && line.Credit.IsPositive() {
		return &StructuralError{Field: "line", Reason: "a line cannot carry both debit and credit"}
	}
	if line.Debit.IsZero() && line.Credit.IsZero() {
		return &StructuralError{Field: "line", Reason: "a line must carry a debit or a credit"}
	}
	return nil
}

// nextVoucherNumber assigns count+1 within the business. The unique
// constraint on (business_id, number) catches the race between two
// concurrent drafts.
func nextVoucherNumber(ctx context.Context, tx pgx.Tx, businessID int64) (string, error) {
	var count int64
	if err := tx.QueryRow(ctx,
		"SELECT count(*) FROM vouchers WHERE business_id = $1", businessID).Scan(&count); err != nil {
		return "", fmt.Errorf("failed to count vouchers: %w", err)
	}
	return strconv.FormatInt(count+1, 10), nil
}

func (s *voucherService) CreateDraft(ctx context.Context, in VoucherInput, lines []LineInput) (*Voucher, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	v, err := s.CreateDraftTx(ctx, tx, in, lines)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit voucher: %w", err)
	}
	return v, nil
}

func (s *voucherService) CreateDraftTx(ctx context.Context, tx pgx.Tx, in VoucherInput, lines []LineInput) (*Voucher, error) {
	switch in.VoucherType {
	case VoucherReceipt, VoucherPayment, VoucherJournal, VoucherContra, VoucherSales, VoucherPurchase:
	default:
		return nil, &StructuralError{Field: "voucher_type", Reason: fmt.Sprintf("unknown voucher type %q", in.VoucherType)}
	}
	if in.PostingDate == "" {
		return nil, &StructuralError{Field: "posting_date", Reason: "must not be empty"}
	}
	for _, line := range lines {
		if err := validateLine(line); err != nil {
			return nil, err
		}
	}

	number := in.Number
	if number == "" {
		var err error
		number, err = nextVoucherNumber(ctx, tx, in.BusinessID)
		if err != nil {
			return nil, err
		}
	}

	var v Voucher
	err := tx.QueryRow(ctx, `
		INSERT INTO vouchers (business_id, number, voucher_type, posting_date, narration, source_type, source_id)
		VALUES ($1, $2, $3, $4::date, $5, $6, $7)
		RETURNING id, business_id, number, voucher_type, posting_date::text, narration,
		          is_posted, posted_at, posted_by, source_type, source_id, created_at
	`, in.BusinessID, number, in.VoucherType, in.PostingDate, in.Narration, in.SourceType, in.SourceID).Scan(
		&v.ID, &v.BusinessID, &v.Number, &v.VoucherType, &v.PostingDate, &v.Narration,
		&v.IsPosted, &v.PostedAt, &v.PostedBy, &v.SourceType, &v.SourceID, &v.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &ConflictError{Entity: "voucher", Key: number}
		}
		return nil, fmt.Errorf("failed to insert voucher: %w", err)
	}

	for _, line := range lines {
		vl, err := insertLineTx(ctx, tx, v.ID, line)
		if err != nil {
			return nil, err
		}
		v.Lines = append(v.Lines, *vl)
	}
	return &v, nil
}

func insertLineTx(ctx context.Context, tx pgx.Tx, voucherID int64, line LineInput) (*VoucherLine, error) {
	var vl VoucherLine
	err := tx.QueryRow(ctx, `
		INSERT INTO voucher_lines (voucher_id, account_id, debit, credit, memo)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, voucher_id, account_id, debit, credit, memo
	`, voucherID, line.AccountID, line.Debit, line.Credit, line.Memo).Scan(
		&vl.ID, &vl.VoucherID, &vl.AccountID, &vl.Debit, &vl.Credit, &vl.Memo)
	if err != nil {
		return nil, fmt.Errorf("failed to insert voucher line: %w", err)
	}
	return &vl, nil
}

func (s *voucherService) AddLine(ctx context.Context, voucherID int64, line LineInput) error {
	if err := validateLine(line); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var isPosted bool
	err = tx.QueryRow(ctx,
		"SELECT is_posted FROM vouchers WHERE id = $1 FOR UPDATE", voucherID).Scan(&isPosted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("voucher %d not found", voucherID)
		}
		return fmt.Errorf("failed to lock voucher: %w", err)
	}
	if isPosted {
		return &StructuralError{Field: "is_posted", Reason: "posted vouchers cannot be modified"}
	}

	if _, err := insertLineTx(ctx, tx, voucherID, line); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit voucher line: %w", err)
	}
	return nil
}

func (s *voucherService) Post(ctx context.Context, voucherID int64, actor string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.PostTx(ctx, tx, voucherID, actor); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit voucher post: %w", err)
	}
	return nil
}

// PostTx validates and posts a voucher within the caller's TX:
// at least two lines, debits equal credits exactly, and no line may hit a
// group account. Already-posted vouchers return nil without changes.
func (s *voucherService) PostTx(ctx context.Context, tx pgx.Tx, voucherID int64, actor string) error {
	var businessID int64
	var isPosted bool
	err := tx.QueryRow(ctx,
		"SELECT business_id, is_posted FROM vouchers WHERE id = $1 FOR UPDATE", voucherID,
	).Scan(&businessID, &isPosted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("voucher %d not found", voucherID)
		}
		return fmt.Errorf("failed to lock voucher: %w", err)
	}
	if isPosted {
		return nil
	}

	rows, err := tx.Query(ctx, `
		SELECT vl.debit, vl.credit, a.is_group, a.name
		FROM voucher_lines vl
		JOIN accounts a ON a.id = vl.account_id
		WHERE vl.voucher_id = $1
	`, voucherID)
	if err != nil {
		return fmt.Errorf("failed to fetch voucher lines: %w", err)
	}
	defer rows.Close()

	var lineCount int
	var totalDebit, totalCredit decimal.Decimal
	for rows.Next() {
		var debit, credit decimal.Decimal
		var isGroup bool
		var accountName string
		if err := rows.Scan(&debit, &credit, &isGroup, &accountName); err != nil {
			return fmt.Errorf("failed to scan voucher line: %w", err)
		}
		if isGroup {
			return &StructuralError{Field: "line", Reason: fmt.Sprintf("cannot post to group account %q", accountName)}
		}
		lineCount++
		totalDebit = totalDebit.Add(debit)
		totalCredit = totalCredit.Add(credit)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating voucher lines: %w", err)
	}

	if lineCount < 2 {
		return &StructuralError{Field: "lines", Reason: "voucher needs at least two lines"}
	}
	if !totalDebit.Equal(totalCredit) {
		return &UnbalancedError{Debit: totalDebit, Credit: totalCredit}
	}

	_, err = tx.Exec(ctx, `
		UPDATE vouchers SET is_posted = TRUE, posted_at = NOW(), posted_by = $1
		WHERE id = $2
	`, actor, voucherID)
	if err != nil {
		return fmt.Errorf("failed to mark voucher posted: %w", err)
	}
	return nil
}

func (s *voucherService) Get(ctx context.Context, voucherID int64) (*Voucher, error) {
	var v Voucher
	err := s.pool.QueryRow(ctx, `
		SELECT id, business_id, number, voucher_type, posting_date::text, narration,
		       is_posted, posted_at, posted_by, source_type, source_id, created_at
		FROM vouchers WHERE id = $1
	`, voucherID).Scan(
		&v.ID, &v.BusinessID, &v.Number, &v.VoucherType, &v.PostingDate, &v.Narration,
		&v.IsPosted, &v.PostedAt, &v.PostedBy, &v.SourceType, &v.SourceID, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("voucher %d not found", voucherID)
		}
		return nil, fmt.Errorf("failed to fetch voucher: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, voucher_id, account_id, debit, credit, memo
		FROM voucher_lines WHERE voucher_id = $1 ORDER BY id
	`, voucherID)
	if err != nil {
		return nil, fmt.Errorf("failed to query voucher lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var vl VoucherLine
		if err := rows.Scan(&vl.ID, &vl.VoucherID, &vl.AccountID, &vl.Debit, &vl.Credit, &vl.Memo); err != nil {
			return nil, fmt.Errorf("failed to scan voucher line: %w", err)
		}
		v.Lines = append(v.Lines, vl)
	}
	return &v, rows.Err()
}

func (s *voucherService) ListByBusiness(ctx context.Context, businessID int64) ([]Voucher, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, business_id, number, voucher_type, posting_date::text, narration,
		       is_posted, posted_at, posted_by, source_type, source_id, created_at
		FROM vouchers WHERE business_id = $1 ORDER BY posting_date, id
	`, businessID)
	if err != nil {
		return nil, fmt.Errorf("failed to query vouchers: %w", err)
	}
	defer rows.Close()

	var vouchers []Voucher
	for rows.Next() {
		var v Voucher
		if err := rows.Scan(
			&v.ID, &v.BusinessID, &v.Number, &v.VoucherType, &v.PostingDate, &v.Narration,
			&v.IsPosted, &v.PostedAt, &v.PostedBy, &v.SourceType, &v.SourceID, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan voucher: %w", err)
		}
		vouchers = append(vouchers, v)
	}
	return vouchers, rows.Err()
}

// Delete removes a voucher. Posted trade vouchers cascade the deletion to
// the posted stock ledger entries they generated, so the books and the
// stock ledger move together.
func (s *voucherService) Delete(ctx context.Context, voucherID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var businessID int64
	var voucherType VoucherType
	var isPosted bool
	err = tx.QueryRow(ctx,
		"SELECT business_id, voucher_type, is_posted FROM vouchers WHERE id = $1 FOR UPDATE", voucherID,
	).Scan(&businessID, &voucherType, &isPosted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("voucher %d not found", voucherID)
		}
		return fmt.Errorf("failed to lock voucher: %w", err)
	}

	if isPosted && (voucherType == VoucherPurchase || voucherType == VoucherSales) {
		_, err = tx.Exec(ctx, `
			DELETE FROM stock_ledger_entries
			WHERE business_id = $1 AND voucher_type IN ('PURCHASE', 'SALES') AND voucher_id = $2 AND is_posted = TRUE
		`, businessID, voucherID)
		if err != nil {
			return fmt.Errorf("failed to delete linked stock entries: %w", err)
		}
	}

	// voucher_lines go via ON DELETE CASCADE.
	if _, err := tx.Exec(ctx, "DELETE FROM vouchers WHERE id = $1", voucherID); err != nil {
		return fmt.Errorf("failed to delete voucher: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit voucher delete: %w", err)
	}
	return nil
}

func (s *voucherService) Totals(ctx context.Context, voucherID int64) (decimal.Decimal, decimal.Decimal, error) {
	var debit, credit decimal.Decimal
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(debit), 0), COALESCE(SUM(credit), 0)
		FROM voucher_lines WHERE voucher_id = $1
	`, voucherID).Scan(&debit, &credit)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to sum voucher lines: %w", err)
	}
	return debit, credit, nil
}
