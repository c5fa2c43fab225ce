package core

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// StructuralError reports a chart-of-accounts or posting-lock invariant
// violation. It is always raised before anything is persisted.
type StructuralError struct {
	Field  string
	Reason string
}

func (e *StructuralError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// UnbalancedError means a voucher's debit and credit totals differ at
// post time. The voucher stays in draft.
type UnbalancedError struct {
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

func (e *UnbalancedError) Error() string {
	return fmt.Sprintf("voucher not balanced: debit %s != credit %s",
		e.Debit.StringFixed(2), e.Credit.StringFixed(2))
}

// InsufficientStockError means a sale or transfer would drive an
// (item, godown) balance negative. Nothing is persisted.
type InsufficientStockError struct {
	SKU       string
	GodownID  int64
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("%s: insufficient stock (have %s, need %s)",
		e.SKU, e.Available.StringFixed(3), e.Requested.StringFixed(3))
}

// ConflictError is a uniqueness violation (duplicate account name,
// duplicate voucher number). The caller decides whether to retry with a
// different identifier.
type ConflictError struct {
	Entity string
	Key    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Entity, e.Key)
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
