package rules

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "rules.db"))
	require.NoError(t, err)
	return store
}

func TestStore_CreateAndListActive(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	low := &Rule{Name: "low", Priority: 5, CategoryID: "c1", CategoryName: "One", IsActive: true}
	high := &Rule{Name: "high", Priority: 10, CategoryID: "c2", CategoryName: "Two", IsActive: true}
	tied := &Rule{Name: "tied", Priority: 5, CategoryID: "c3", CategoryName: "Three", IsActive: true}

	require.NoError(t, store.Create(ctx, low))
	require.NoError(t, store.Create(ctx, high))
	require.NoError(t, store.Create(ctx, tied))

	rules, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 3)

	// Priority desc, insertion order on ties.
	assert.Equal(t, "high", rules[0].Name)
	assert.Equal(t, "low", rules[1].Name)
	assert.Equal(t, "tied", rules[2].Name)
}

func TestStore_SoftDelete(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	rule := &Rule{Name: "doomed", CategoryID: "c1", CategoryName: "One", IsActive: true}
	require.NoError(t, store.Create(ctx, rule))

	require.NoError(t, store.SoftDelete(ctx, rule.ID))

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active, "soft-deleted rule must not be listed as active")

	// The row itself survives for audit.
	kept, err := store.Get(ctx, rule.ID)
	require.NoError(t, err)
	assert.False(t, kept.IsActive)
	assert.Equal(t, "doomed", kept.Name)
}

func TestStore_SoftDeleteMissingRule(t *testing.T) {
	store := testStore(t)

	err := store.SoftDelete(context.Background(), 9999)
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestStore_Update(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	rule := &Rule{Name: "before", Priority: 1, CategoryID: "c1", CategoryName: "One", IsActive: true}
	require.NoError(t, store.Create(ctx, rule))

	updated, err := store.Update(ctx, rule.ID, &Rule{
		Name:          "after",
		Priority:      7,
		PayeeContains: strPtr("MARKET"),
		CategoryID:    "c2",
		CategoryName:  "Two",
	})
	require.NoError(t, err)

	assert.Equal(t, "after", updated.Name)
	assert.Equal(t, 7, updated.Priority)
	require.NotNil(t, updated.PayeeContains)
	assert.Equal(t, "MARKET", *updated.PayeeContains)
	assert.Equal(t, "c2", updated.CategoryID)
	assert.True(t, updated.IsActive, "update must not deactivate the rule")
}

func TestStore_UpdateMissingRule(t *testing.T) {
	store := testStore(t)

	_, err := store.Update(context.Background(), 9999, &Rule{Name: "x"})
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestStore_GetMissingRule(t *testing.T) {
	store := testStore(t)

	_, err := store.Get(context.Background(), 123)
	assert.ErrorIs(t, err, ErrRuleNotFound)
}
