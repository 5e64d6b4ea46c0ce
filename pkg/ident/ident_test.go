package ident

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jameshartig/mygas/pkg/types"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1234567890_counter_abc-def-123", "1234567890_counter_abc_def_123"},
		{"Hello World", "hello_world"},
		{"  --A__B--  ", "a_b"},
		{"Дом", "dom"},
		{"", "unknown"},
		{"!!!", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Slugify(tt.in))
		})
	}
}

func TestIdentifiers(t *testing.T) {
	assert.Equal(t, "1234567890_account", Account("1234567890"))
	assert.Equal(t, "1234567890_counter_abc_def_123", Counter("1234567890", "abc-def-123"))
	assert.Equal(t, "1234567890_service_99", Service("1234567890", "99"))
	assert.Equal(t, "mygas_1234567890_account_balance", Entity(Account("1234567890"), "balance"))
	assert.Equal(t, "mygas_1234567890_service_99_service_tariff_0", Entity(Service("1234567890", "99"), "service_tariff_0"))

	// distinct inputs stay distinct
	assert.NotEqual(t, Counter("1", "23"), Counter("12", "3"))
}

func testTree(counters []types.Counter, services []types.Service) *types.Tree {
	return &types.Tree{
		Organization: types.Independent,
		Accounts: []types.Account{
			types.IndependentAccount{ID: 12345, Items: []types.SubAccount{{
				Account:  "1234567890",
				Counters: counters,
				Services: services,
			}}},
		},
	}
}

func TestCurrent(t *testing.T) {
	tree := testTree(
		[]types.Counter{{UUID: "abc-def-123"}, {UUID: ""}},
		[]types.Service{{ID: "99"}, {ID: "supply"}},
	)
	got := Current(tree)
	assert.Equal(t, []string{
		"1234567890_account",
		"1234567890_counter_abc_def_123",
		"1234567890_service_99",
		"1234567890_service_supply",
	}, got.Sorted())

	assert.Empty(t, Current(nil))
}

func TestCurrentStableUnderReordering(t *testing.T) {
	a := testTree(
		[]types.Counter{{UUID: "u1"}, {UUID: "u2"}},
		[]types.Service{{ID: "s1"}, {ID: "s2"}},
	)
	b := testTree(
		[]types.Counter{{UUID: "u2"}, {UUID: "u1"}},
		[]types.Service{{ID: "s2"}, {ID: "s1"}},
	)
	assert.Equal(t, Current(a), Current(b))
}

func TestStale(t *testing.T) {
	before := Current(testTree(
		[]types.Counter{{UUID: "old-counter"}, {UUID: "kept"}},
		[]types.Service{{ID: "99"}},
	))
	after := Current(testTree(
		[]types.Counter{{UUID: "kept"}},
		[]types.Service{{ID: "99"}},
	))

	stale := Stale(before.Sorted(), after)
	assert.Equal(t, []string{"1234567890_counter_old_counter"}, stale)
	assert.False(t, after.Has("1234567890_counter_old_counter"))
	assert.True(t, after.Has("1234567890_counter_kept"))

	t.Run("Duplicates", func(t *testing.T) {
		assert.Equal(t, []string{"x"}, Stale([]string{"x", "x"}, Set{}))
	})

	t.Run("NothingStale", func(t *testing.T) {
		assert.Empty(t, Stale(after.Sorted(), after))
	})
}
