package addressbook

import (
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestBook(t *testing.T) *Book {
	t.Helper()
	book, err := Open(zap.NewNop(), t.TempDir(), 2, 24*time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { book.Close() })
	return book
}

func TestObserveAndActivePromotesOpenPositions(t *testing.T) {
	book := openTestBook(t)
	owner := solana.NewWallet().PublicKey()
	pool := solana.NewWallet().PublicKey()

	require.NoError(t, book.Observe(owner, pool, 1, "", time.Now()))

	active, recent, err := book.Active(owner)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Empty(t, recent)
	require.Equal(t, owner.String(), active[0].Owner)
	require.Equal(t, pool.String(), active[0].Pool)
	require.Equal(t, 1, active[0].OpenCount)
}

func TestActiveDistinguishesPoolsForSameOwner(t *testing.T) {
	book := openTestBook(t)
	owner := solana.NewWallet().PublicKey()
	poolA := solana.NewWallet().PublicKey()
	poolB := solana.NewWallet().PublicKey()
	now := time.Now()

	require.NoError(t, book.Observe(owner, poolA, 3, "pool-a", now))
	require.NoError(t, book.Observe(owner, poolB, 0, "pool-b", now))

	active, recent, err := book.Active(owner)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, poolA.String(), active[0].Pool)
	require.Equal(t, 3, active[0].OpenCount)

	require.Len(t, recent, 1)
	require.Equal(t, poolB.String(), recent[0].Pool)
}

func TestActiveCapsRecentInactiveEntries(t *testing.T) {
	book := openTestBook(t)
	owner := solana.NewWallet().PublicKey()
	now := time.Now()
	for i := 0; i < 5; i++ {
		pool := solana.NewWallet().PublicKey()
		require.NoError(t, book.Observe(owner, pool, 0, "", now.Add(time.Duration(i)*time.Minute)))
	}
	_, recent, err := book.Active(owner)
	require.NoError(t, err)
	require.Len(t, recent, 2) // recentRetain=2 from openTestBook
}

func TestPruneRemovesStaleInactiveEntries(t *testing.T) {
	book, err := Open(zap.NewNop(), t.TempDir(), 16, time.Millisecond)
	require.NoError(t, err)
	defer book.Close()

	owner := solana.NewWallet().PublicKey()
	pool := solana.NewWallet().PublicKey()
	require.NoError(t, book.Observe(owner, pool, 0, "", time.Now().Add(-time.Hour)))

	time.Sleep(5 * time.Millisecond)
	removed, err := book.Prune()
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	active, recent, err := book.Active(owner)
	require.NoError(t, err)
	require.Empty(t, active)
	require.Empty(t, recent)
}
