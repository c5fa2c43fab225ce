package core_test

import (
	"context"
	"errors"
	"testing"

	"books-engine/internal/core"
)

func TestAccountService_HierarchyRules(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	accounts := core.NewAccountService(pool)
	b, err := accounts.CreateBusiness(ctx, "Hierarchy Co", "")
	if err != nil {
		t.Fatalf("CreateBusiness failed: %v", err)
	}

	// Root group without a root type is rejected.
	_, err = accounts.Create(ctx, core.AccountInput{BusinessID: b.ID, Name: "Orphan Group", IsGroup: true})
	var structural *core.StructuralError
	if !errors.As(err, &structural) {
		t.Fatalf("Expected StructuralError for root group without root type, got %v", err)
	}

	// Parentless ledger is rejected unless it is the primary ledger.
	_, err = accounts.Create(ctx, core.AccountInput{BusinessID: b.ID, Name: "Orphan Ledger"})
	if !errors.As(err, &structural) {
		t.Fatalf("Expected StructuralError for parentless ledger, got %v", err)
	}

	assets, err := accounts.Create(ctx, core.AccountInput{
		BusinessID: b.ID, Name: "Assets", IsGroup: true, RootType: core.RootAsset,
	})
	if err != nil {
		t.Fatalf("Failed to create root group: %v", err)
	}
	if !assets.IsRoot {
		t.Error("Expected root group to have IsRoot set")
	}
	if assets.ReportType != core.ReportBalanceSheet {
		t.Errorf("Expected BS report type for asset root, got %s", assets.ReportType)
	}

	// Child inherits classification from the parent, even if the caller
	// supplies a different root type.
	cash, err := accounts.Create(ctx, core.AccountInput{
		BusinessID: b.ID, Name: "Cash", ParentID: &assets.ID, RootType: core.RootIncome,
	})
	if err != nil {
		t.Fatalf("Failed to create child ledger: %v", err)
	}
	if cash.RootType != core.RootAsset || cash.ReportType != core.ReportBalanceSheet {
		t.Errorf("Expected child to inherit ASSET/BS, got %s/%s", cash.RootType, cash.ReportType)
	}
	if cash.IsRoot {
		t.Error("Child must not be a root")
	}

	// A ledger cannot be a parent.
	_, err = accounts.Create(ctx, core.AccountInput{BusinessID: b.ID, Name: "Petty Cash", ParentID: &cash.ID})
	if !errors.As(err, &structural) {
		t.Fatalf("Expected StructuralError for ledger parent, got %v", err)
	}

	// Parent must belong to the same business.
	other, err := accounts.CreateBusiness(ctx, "Other Co", "")
	if err != nil {
		t.Fatalf("CreateBusiness failed: %v", err)
	}
	_, err = accounts.Create(ctx, core.AccountInput{BusinessID: other.ID, Name: "Foreign", ParentID: &assets.ID})
	if !errors.As(err, &structural) {
		t.Fatalf("Expected StructuralError for cross-business parent, got %v", err)
	}

	// Duplicate name within the business.
	_, err = accounts.Create(ctx, core.AccountInput{BusinessID: b.ID, Name: "Cash", ParentID: &assets.ID})
	var conflict *core.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Expected ConflictError for duplicate name, got %v", err)
	}

	// Root accounts can never be altered.
	_, err = accounts.Alter(ctx, assets.ID, core.AccountInput{Name: "Renamed Assets"})
	if !errors.As(err, &structural) {
		t.Fatalf("Expected StructuralError altering root, got %v", err)
	}

	// Non-root accounts can.
	renamed, err := accounts.Alter(ctx, cash.ID, core.AccountInput{Name: "Cash in Hand"})
	if err != nil {
		t.Fatalf("Alter failed: %v", err)
	}
	if renamed.Name != "Cash in Hand" {
		t.Errorf("Expected renamed ledger, got %q", renamed.Name)
	}
}

func TestAccountService_AlterRejectsDescendantParent(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	accounts := core.NewAccountService(pool)
	b, err := accounts.CreateBusiness(ctx, "Cycle Co", "")
	if err != nil {
		t.Fatalf("CreateBusiness failed: %v", err)
	}

	assets, err := accounts.Create(ctx, core.AccountInput{
		BusinessID: b.ID, Name: "Assets", IsGroup: true, RootType: core.RootAsset,
	})
	if err != nil {
		t.Fatalf("Failed to create root group: %v", err)
	}
	current, err := accounts.Create(ctx, core.AccountInput{
		BusinessID: b.ID, Name: "Current Assets", ParentID: &assets.ID, IsGroup: true,
	})
	if err != nil {
		t.Fatalf("Failed to create group: %v", err)
	}
	deposits, err := accounts.Create(ctx, core.AccountInput{
		BusinessID: b.ID, Name: "Deposits", ParentID: &current.ID, IsGroup: true,
	})
	if err != nil {
		t.Fatalf("Failed to create nested group: %v", err)
	}

	// Moving a group under its own child or grandchild would cut the
	// branch loose from the root.
	var structural *core.StructuralError
	_, err = accounts.Alter(ctx, current.ID, core.AccountInput{ParentID: &deposits.ID})
	if !errors.As(err, &structural) {
		t.Fatalf("Expected StructuralError moving group under its child, got %v", err)
	}
	_, err = accounts.Alter(ctx, assets.ID, core.AccountInput{ParentID: &deposits.ID})
	if !errors.As(err, &structural) {
		t.Fatalf("Expected StructuralError altering root, got %v", err)
	}

	// The hierarchy is untouched and a legal move still works.
	got, err := accounts.Get(ctx, current.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ParentID == nil || *got.ParentID != assets.ID {
		t.Errorf("Expected Current Assets to stay under Assets, got parent %v", got.ParentID)
	}
	moved, err := accounts.Alter(ctx, deposits.ID, core.AccountInput{ParentID: &assets.ID})
	if err != nil {
		t.Fatalf("Alter to a valid parent failed: %v", err)
	}
	if moved.ParentID == nil || *moved.ParentID != assets.ID {
		t.Errorf("Expected Deposits under Assets, got parent %v", moved.ParentID)
	}
}

func TestAccountService_InstallDefaultChart(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	accounts := core.NewAccountService(pool)
	b, err := accounts.CreateBusiness(ctx, "Chart Co", "")
	if err != nil {
		t.Fatalf("CreateBusiness failed: %v", err)
	}

	if err := accounts.InstallDefaultChart(ctx, b.ID); err != nil {
		t.Fatalf("InstallDefaultChart failed: %v", err)
	}

	all, err := accounts.ListByBusiness(ctx, b.ID)
	if err != nil {
		t.Fatalf("ListByBusiness failed: %v", err)
	}
	if len(all) != 15 {
		t.Errorf("Expected 15 seeded accounts, got %d", len(all))
	}

	sales, err := accounts.GetByName(ctx, b.ID, "Sales")
	if err != nil {
		t.Fatalf("Sales ledger missing: %v", err)
	}
	if sales.RootType != core.RootIncome || sales.ReportType != core.ReportProfitLoss || sales.IsGroup {
		t.Errorf("Unexpected Sales classification: %+v", sales)
	}

	rent, err := accounts.GetByName(ctx, b.ID, "Rent")
	if err != nil {
		t.Fatalf("Rent ledger missing: %v", err)
	}
	if rent.RootType != core.RootExpense {
		t.Errorf("Expected Rent under EXPENSE, got %s", rent.RootType)
	}

	pl, err := accounts.GetByName(ctx, b.ID, "Profit & Loss A/c")
	if err != nil {
		t.Fatalf("Profit & Loss A/c missing: %v", err)
	}
	if !pl.IsPrimaryLedger || pl.IsGroup || pl.ParentID != nil || pl.ReportType != core.ReportProfitLoss {
		t.Errorf("Unexpected primary ledger shape: %+v", pl)
	}

	// Installing twice is refused.
	err = accounts.InstallDefaultChart(ctx, b.ID)
	var structural *core.StructuralError
	if !errors.As(err, &structural) {
		t.Fatalf("Expected StructuralError on second install, got %v", err)
	}
}

func TestAccountService_OpeningBalanceTotal(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	accounts := core.NewAccountService(pool)
	b, err := accounts.CreateBusiness(ctx, "Opening Co", "")
	if err != nil {
		t.Fatalf("CreateBusiness failed: %v", err)
	}
	if err := accounts.InstallDefaultChart(ctx, b.ID); err != nil {
		t.Fatalf("InstallDefaultChart failed: %v", err)
	}

	liabilities, err := accounts.GetByName(ctx, b.ID, "Liabilities")
	if err != nil {
		t.Fatalf("Liabilities group missing: %v", err)
	}
	if _, err := accounts.Create(ctx, core.AccountInput{
		BusinessID:         b.ID,
		Name:               "Capital Account",
		ParentID:           &liabilities.ID,
		IsGroup:            true,
		OpeningBalance:     dec(t, "1000.00"),
		OpeningBalanceType: "CR",
	}); err != nil {
		t.Fatalf("Failed to create Capital Account: %v", err)
	}

	cash, err := accounts.GetByName(ctx, b.ID, "Cash")
	if err != nil {
		t.Fatalf("Cash ledger missing: %v", err)
	}
	if _, err := accounts.Alter(ctx, cash.ID, core.AccountInput{
		OpeningBalance:     dec(t, "400.00"),
		OpeningBalanceType: "DR",
	}); err != nil {
		t.Fatalf("Failed to set Cash opening balance: %v", err)
	}

	// "Cash" itself is not in the well-known list; "Capital Account" is.
	total, err := accounts.OpeningBalanceTotal(ctx, b.ID)
	if err != nil {
		t.Fatalf("OpeningBalanceTotal failed: %v", err)
	}
	if total.StringFixed(2) != "-1000.00" {
		t.Errorf("Expected opening total -1000.00, got %s", total.StringFixed(2))
	}
}
