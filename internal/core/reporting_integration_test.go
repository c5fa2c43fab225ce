package core_test

import (
	"context"
	"testing"

	"books-engine/internal/core"
)

func TestProfitAndLoss_TradingIdentity(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	fx := seedTradingFixture(t, pool)
	vouchers := core.NewVoucherService(pool)
	inventory := core.NewInventoryService(pool, vouchers)
	valuation := core.NewValuationService(pool)
	reporting := core.NewReportingService(pool, valuation)

	// Buy 10 @ 10.00, sell 4 @ 37.50 within January.
	if _, err := inventory.PostPurchaseVoucher(ctx, core.PurchaseInput{
		BusinessID:       fx.business.ID,
		PostingDate:      "2026-01-10",
		PurchaseLedgerID: fx.purchase.ID,
		PartyLedgerID:    fx.party.ID,
		GodownID:         fx.godown.ID,
		Actor:            "tester",
		Rows: []core.VoucherRow{
			{ItemID: fx.item.ID, Qty: dec(t, "10"), Rate: dec(t, "10.00")},
		},
	}); err != nil {
		t.Fatalf("PostPurchaseVoucher failed: %v", err)
	}
	if _, err := inventory.PostSalesVoucher(ctx, core.SalesInput{
		BusinessID:    fx.business.ID,
		PostingDate:   "2026-01-15",
		SalesLedgerID: fx.sales.ID,
		PartyLedgerID: fx.cash.ID,
		GodownID:      fx.godown.ID,
		Actor:         "tester",
		Rows: []core.VoucherRow{
			{ItemID: fx.item.ID, Qty: dec(t, "4"), Rate: dec(t, "37.50")},
		},
	}); err != nil {
		t.Fatalf("PostSalesVoucher failed: %v", err)
	}

	// Rent paid in cash: an indirect expense.
	rent, err := core.NewAccountService(pool).GetByName(ctx, fx.business.ID, "Rent")
	if err != nil {
		t.Fatalf("Rent ledger missing: %v", err)
	}
	rv, err := vouchers.CreateDraft(ctx, core.VoucherInput{
		BusinessID:  fx.business.ID,
		VoucherType: core.VoucherPayment,
		PostingDate: "2026-01-20",
		Narration:   "January rent",
	}, []core.LineInput{
		{AccountID: rent.ID, Debit: dec(t, "25.00")},
		{AccountID: fx.cash.ID, Credit: dec(t, "25.00")},
	})
	if err != nil {
		t.Fatalf("CreateDraft failed: %v", err)
	}
	if err := vouchers.Post(ctx, rv.ID, "tester"); err != nil {
		t.Fatalf("Post failed: %v", err)
	}

	pl, err := reporting.ProfitAndLoss(ctx, core.PLParams{
		BusinessID: fx.business.ID,
		StartDate:  "2026-01-01",
		EndDate:    "2026-01-31",
	})
	if err != nil {
		t.Fatalf("ProfitAndLoss failed: %v", err)
	}

	check := func(name, got, want string) {
		if got != want {
			t.Errorf("%s: got %s, want %s", name, got, want)
		}
	}
	check("sales", pl.SalesTotal.StringFixed(2), "150.00")
	check("purchases", pl.PurchaseTotal.StringFixed(2), "100.00")
	check("opening stock", pl.OpeningStock.StringFixed(2), "0.00")
	// 6 left at average rate 10.00.
	check("closing stock", pl.ClosingStock.StringFixed(2), "60.00")
	check("cogs", pl.COGS.StringFixed(2), "40.00")
	check("gross profit", pl.GrossProfit.StringFixed(2), "110.00")
	check("indirect expenses", pl.IndirectExpenseTotal.StringFixed(2), "25.00")
	check("net profit", pl.NetProfit.StringFixed(2), "85.00")

	// Both sides of the trading account agree, net profit balancing.
	check("total credit", pl.TotalCredit.StringFixed(2), "210.00")
	check("total debit", pl.TotalDebit.StringFixed(2), "210.00")

	if len(pl.Sales) != 1 || pl.Sales[0].Name != "Sales" {
		t.Errorf("Expected one Sales row, got %+v", pl.Sales)
	}
	if len(pl.IndirectExpenses) != 1 || pl.IndirectExpenses[0].Name != "Rent" {
		t.Errorf("Expected Rent under indirect expenses, got %+v", pl.IndirectExpenses)
	}
}

func TestBalanceSheet_SidesAgree(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	fx := seedTradingFixture(t, pool)
	accounts := core.NewAccountService(pool)
	vouchers := core.NewVoucherService(pool)
	valuation := core.NewValuationService(pool)
	reporting := core.NewReportingService(pool, valuation)

	liabilities, err := accounts.GetByName(ctx, fx.business.ID, "Liabilities")
	if err != nil {
		t.Fatalf("Liabilities group missing: %v", err)
	}
	capital, err := accounts.Create(ctx, core.AccountInput{
		BusinessID: fx.business.ID,
		Name:       "Owner Capital",
		ParentID:   &liabilities.ID,
	})
	if err != nil {
		t.Fatalf("Failed to create capital ledger: %v", err)
	}

	// Cash-only activity so every movement lands on a balance sheet ledger:
	// capital in, goods bought and sold for cash, no stock left.
	post := func(vt core.VoucherType, date string, lines []core.LineInput) {
		t.Helper()
		v, err := vouchers.CreateDraft(ctx, core.VoucherInput{
			BusinessID:  fx.business.ID,
			VoucherType: vt,
			PostingDate: date,
		}, lines)
		if err != nil {
			t.Fatalf("CreateDraft failed: %v", err)
		}
		if err := vouchers.Post(ctx, v.ID, "tester"); err != nil {
			t.Fatalf("Post failed: %v", err)
		}
	}

	post(core.VoucherReceipt, "2026-01-02", []core.LineInput{
		{AccountID: fx.cash.ID, Debit: dec(t, "1000.00")},
		{AccountID: capital.ID, Credit: dec(t, "1000.00")},
	})
	post(core.VoucherPayment, "2026-01-05", []core.LineInput{
		{AccountID: fx.purchase.ID, Debit: dec(t, "100.00")},
		{AccountID: fx.cash.ID, Credit: dec(t, "100.00")},
	})
	post(core.VoucherSales, "2026-01-08", []core.LineInput{
		{AccountID: fx.cash.ID, Debit: dec(t, "150.00")},
		{AccountID: fx.sales.ID, Credit: dec(t, "150.00")},
	})

	bs, err := reporting.BalanceSheet(ctx, fx.business.ID, "2026-01-31")
	if err != nil {
		t.Fatalf("BalanceSheet failed: %v", err)
	}

	if bs.TotalAssets.StringFixed(2) != "1050.00" {
		t.Errorf("Expected assets 1050.00, got %s", bs.TotalAssets.StringFixed(2))
	}
	// No stock on hand, so gross profit is sales minus purchases.
	if bs.GrossProfit.StringFixed(2) != "50.00" {
		t.Errorf("Expected gross profit 50.00, got %s", bs.GrossProfit.StringFixed(2))
	}
	if bs.TotalLiabilities.StringFixed(2) != "1050.00" {
		t.Errorf("Expected liabilities 1050.00, got %s", bs.TotalLiabilities.StringFixed(2))
	}
	if !bs.TotalAssets.Equal(bs.TotalLiabilities) {
		t.Error("Both sides of the balance sheet must agree")
	}
}

func TestTrialBalance(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	fx := seedTradingFixture(t, pool)
	vouchers := core.NewVoucherService(pool)
	valuation := core.NewValuationService(pool)
	reporting := core.NewReportingService(pool, valuation)

	v, err := vouchers.CreateDraft(ctx, core.VoucherInput{
		BusinessID:  fx.business.ID,
		VoucherType: core.VoucherReceipt,
		PostingDate: "2026-01-05",
	}, []core.LineInput{
		{AccountID: fx.cash.ID, Debit: dec(t, "200.00")},
		{AccountID: fx.sales.ID, Credit: dec(t, "200.00")},
	})
	if err != nil {
		t.Fatalf("CreateDraft failed: %v", err)
	}
	if err := vouchers.Post(ctx, v.ID, "tester"); err != nil {
		t.Fatalf("Post failed: %v", err)
	}

	rows, err := reporting.TrialBalance(ctx, fx.business.ID, "2026-01-31")
	if err != nil {
		t.Fatalf("TrialBalance failed: %v", err)
	}

	byName := make(map[string]core.TrialBalanceRow)
	for _, r := range rows {
		byName[r.Name] = r
	}
	if byName["Cash"].Debit.StringFixed(2) != "200.00" {
		t.Errorf("Expected Cash debit 200.00, got %s", byName["Cash"].Debit.StringFixed(2))
	}
	if byName["Sales"].Credit.StringFixed(2) != "200.00" {
		t.Errorf("Expected Sales credit 200.00, got %s", byName["Sales"].Credit.StringFixed(2))
	}

	// Drafts do not show up.
	draft, err := vouchers.CreateDraft(ctx, core.VoucherInput{
		BusinessID:  fx.business.ID,
		VoucherType: core.VoucherJournal,
		PostingDate: "2026-01-10",
	}, []core.LineInput{
		{AccountID: fx.cash.ID, Debit: dec(t, "999.00")},
		{AccountID: fx.sales.ID, Credit: dec(t, "999.00")},
	})
	if err != nil {
		t.Fatalf("CreateDraft failed: %v", err)
	}
	_ = draft

	rows, err = reporting.TrialBalance(ctx, fx.business.ID, "2026-01-31")
	if err != nil {
		t.Fatalf("TrialBalance failed: %v", err)
	}
	for _, r := range rows {
		if r.Name == "Cash" && r.Debit.StringFixed(2) != "200.00" {
			t.Errorf("Draft voucher leaked into trial balance: %+v", r)
		}
	}
}
