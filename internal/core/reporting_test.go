package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr(v int64) *int64 { return &v }

func TestResolveRootTypes(t *testing.T) {
	accounts := map[int64]AccountNode{
		1: {ParentID: nil, RootType: RootAsset},
		2: {ParentID: ptr(1)},
		3: {ParentID: ptr(2)},
		4: {ParentID: nil, RootType: RootExpense},
		5: {ParentID: ptr(4), RootType: RootIncome}, // own root type is ignored below the root
		6: {ParentID: ptr(99)},                      // dangling parent
	}

	got := ResolveRootTypes(accounts)
	assert.Equal(t, RootAsset, got[1])
	assert.Equal(t, RootAsset, got[2])
	assert.Equal(t, RootAsset, got[3])
	assert.Equal(t, RootExpense, got[4])
	assert.Equal(t, RootExpense, got[5])
	assert.Equal(t, RootType(""), got[6])
}

func TestResolveRootTypesCycle(t *testing.T) {
	accounts := map[int64]AccountNode{
		1: {ParentID: ptr(2)},
		2: {ParentID: ptr(1)},
		3: {ParentID: nil, RootType: RootLiability},
	}

	got := ResolveRootTypes(accounts)
	assert.Equal(t, RootType(""), got[1])
	assert.Equal(t, RootType(""), got[2])
	assert.Equal(t, RootLiability, got[3])
}

func TestClassifyPL(t *testing.T) {
	tests := []struct {
		name    string
		account string
		own     RootType
		parent  RootType
		walked  RootType
		want    RootType
	}{
		{"own root type wins", "Sales", RootIncome, RootExpense, RootExpense, RootIncome},
		{"parent root type next", "Rent", "", RootExpense, RootIncome, RootExpense},
		{"tree walk next", "Wages", "", RootAsset, RootExpense, RootExpense},
		{"income hint on misfiled ledger", "Service Revenue", "", RootAsset, RootAsset, RootIncome},
		{"expense hint on misfiled ledger", "Electricity", "", "", "", RootExpense},
		{"no signal", "Cash", "", RootAsset, RootAsset, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyPL(tt.account, tt.own, tt.parent, tt.walked))
		})
	}
}
