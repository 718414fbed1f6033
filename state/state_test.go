package state

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Store{
		"sqlite": sqlite,
		"memory": NewMemoryStore(),
	}
}

func TestCursorRoundTripAndMonotonicity(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			var ctx = context.Background()

			var _, ok, err = store.GetCursor(ctx, "src-1/all-tickets")
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, store.PutCursor(ctx, "src-1/all-tickets", 100))
			position, ok, err := store.GetCursor(ctx, "src-1/all-tickets")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, 100, position)

			// A lower position never rolls the cursor back.
			require.NoError(t, store.PutCursor(ctx, "src-1/all-tickets", 50))
			position, _, err = store.GetCursor(ctx, "src-1/all-tickets")
			require.NoError(t, err)
			require.Equal(t, 100, position)

			require.NoError(t, store.PutCursor(ctx, "src-1/all-tickets", 150))
			position, _, err = store.GetCursor(ctx, "src-1/all-tickets")
			require.NoError(t, err)
			require.Equal(t, 150, position)

			// Units are independent.
			_, ok, err = store.GetCursor(ctx, "src-2/all-tickets")
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestKeySetMembershipAndTail(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			var ctx = context.Background()

			require.NoError(t, store.AddKeys(ctx, "u", []string{"h1", "h2"}))
			require.NoError(t, store.AddKeys(ctx, "u", []string{"h2", "h3"})) // h2 is idempotent.

			for _, h := range []string{"h1", "h2", "h3"} {
				ok, err := store.HasKey(ctx, "u", h)
				require.NoError(t, err)
				require.True(t, ok, h)
			}
			ok, err := store.HasKey(ctx, "u", "h4")
			require.NoError(t, err)
			require.False(t, ok)

			// Tail read returns most recent first, bounded by limit.
			recent, err := store.RecentKeys(ctx, "u", 2)
			require.NoError(t, err)
			require.Equal(t, []string{"h3", "h2"}, recent)

			recent, err = store.RecentKeys(ctx, "u", 10)
			require.NoError(t, err)
			require.Equal(t, []string{"h3", "h2", "h1"}, recent)

			// Keys of other units are invisible.
			ok, err = store.HasKey(ctx, "other", "h1")
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestAddKeysEmptyIsNoOp(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.AddKeys(context.Background(), "u", nil))
		})
	}
}
