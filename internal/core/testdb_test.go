package core_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"books-engine/internal/core"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	_ = godotenv.Load("../../.env")

	// Use a dedicated TEST database to avoid wiping the live app database.
	// Set TEST_DATABASE_URL in your .env or environment to run integration tests.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set — skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE stock_ledger_entries, standard_rates, items, units_of_measure,
			stock_groups, godowns, voucher_lines, vouchers, accounts, businesses
		RESTART IDENTITY CASCADE;
	`)
	if err != nil {
		t.Fatalf("Failed to clean test database: %v", err)
	}

	return pool
}

// tradingFixture is a business with the default chart installed plus the
// masters most tests need: a party ledger, one item and one godown.
type tradingFixture struct {
	business *core.Business
	purchase *core.Account
	sales    *core.Account
	cash     *core.Account
	party    *core.Account
	item     *core.Item
	godown   *core.Godown
}

func seedTradingFixture(t *testing.T, pool *pgxpool.Pool) tradingFixture {
	t.Helper()
	ctx := context.Background()

	accounts := core.NewAccountService(pool)
	inventory := core.NewInventoryService(pool, core.NewVoucherService(pool))

	b, err := accounts.CreateBusiness(ctx, "Test Traders", "RETAIL")
	if err != nil {
		t.Fatalf("Failed to create business: %v", err)
	}
	if err := accounts.InstallDefaultChart(ctx, b.ID); err != nil {
		t.Fatalf("Failed to install chart: %v", err)
	}

	creditors, err := accounts.GetByName(ctx, b.ID, "Sundry Creditors")
	if err != nil {
		t.Fatalf("Failed to fetch Sundry Creditors: %v", err)
	}
	party, err := accounts.Create(ctx, core.AccountInput{
		BusinessID: b.ID,
		Name:       "Acme Supplies",
		ParentID:   &creditors.ID,
	})
	if err != nil {
		t.Fatalf("Failed to create party ledger: %v", err)
	}

	purchase, err := accounts.GetByName(ctx, b.ID, "Purchase")
	if err != nil {
		t.Fatalf("Failed to fetch Purchase ledger: %v", err)
	}
	sales, err := accounts.GetByName(ctx, b.ID, "Sales")
	if err != nil {
		t.Fatalf("Failed to fetch Sales ledger: %v", err)
	}
	cash, err := accounts.GetByName(ctx, b.ID, "Cash")
	if err != nil {
		t.Fatalf("Failed to fetch Cash ledger: %v", err)
	}

	item, err := inventory.CreateItem(ctx, core.Item{
		BusinessID:  b.ID,
		SKU:         "WIDGET-1",
		Name:        "Widget",
		IsStockItem: true,
	})
	if err != nil {
		t.Fatalf("Failed to create item: %v", err)
	}
	godown, err := inventory.CreateGodown(ctx, b.ID, "Main")
	if err != nil {
		t.Fatalf("Failed to create godown: %v", err)
	}

	return tradingFixture{
		business: b,
		purchase: purchase,
		sales:    sales,
		cash:     cash,
		party:    party,
		item:     item,
		godown:   godown,
	}
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}
