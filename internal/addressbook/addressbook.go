// Package addressbook persists an append-only record of every (wallet,
// pool) pair the keeper has observed a position change for, backed by a
// pebble key-value store so the book survives process restarts without
// needing a full registry rebuild from chain.
package addressbook

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/binfarm/keeper/internal/keepererr"
)

// DefaultRecentRetention is the default number K of most-recent inactive
// entries Active returns per wallet, applied whether or not the wallet
// has active entries.
const DefaultRecentRetention = 16

// DefaultPruneAfter is the default age T at which an inactive (no open
// positions) entry is pruned from the recent set entirely.
const DefaultPruneAfter = 30 * 24 * time.Hour

// Entry is one (wallet, pool) address book record: the latest-interaction
// timestamp, the open-position count in that pool, and a cached pool
// name for display without a round trip back to the registry.
type Entry struct {
	Owner     string    `json:"owner"`
	Pool      string    `json:"pool"`
	PoolName  string    `json:"pool_name,omitempty"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	OpenCount int       `json:"open_count"`
}

// Book is a pebble-backed append-only address store with a
// promote-to-active / prune-when-stale retention policy, keyed per
// (wallet, pool) so one owner can be active in one pool and merely
// recent in another.
type Book struct {
	log          *zap.Logger
	db           *pebble.DB
	recentRetain int
	pruneAfter   time.Duration
}

// Open opens (creating if absent) a pebble database at path.
func Open(log *zap.Logger, path string, recentRetain int, pruneAfter time.Duration) (*Book, error) {
	if recentRetain <= 0 {
		recentRetain = DefaultRecentRetention
	}
	if pruneAfter <= 0 {
		pruneAfter = DefaultPruneAfter
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, keepererr.Fatal("addressbook.open", err)
	}
	return &Book{log: log, db: db, recentRetain: recentRetain, pruneAfter: pruneAfter}, nil
}

// Close closes the underlying pebble database.
func (b *Book) Close() error {
	return b.db.Close()
}

// ownerPrefix is the lower bound of every entry for owner, across all
// pools; ownerUpperBound is the matching exclusive upper bound.
func ownerPrefix(owner solana.PublicKey) []byte {
	key := append([]byte("owner/"), owner.Bytes()...)
	return append(key, '/')
}

func ownerUpperBound(owner solana.PublicKey) []byte {
	prefix := ownerPrefix(owner)
	prefix[len(prefix)-1]++ // '/' (0x2f) -> '0' (0x30), past any pool suffix
	return prefix
}

func entryKey(owner, pool solana.PublicKey) []byte {
	return append(ownerPrefix(owner), pool.Bytes()...)
}

// Observe records that owner currently has openCount open positions in
// pool, promoting the (owner, pool) pair to active (openCount > 0) or
// leaving it as a recent-but-inactive record otherwise. poolName is
// cached verbatim for display; pass "" if unknown.
func (b *Book) Observe(owner, pool solana.PublicKey, openCount int, poolName string, now time.Time) error {
	key := entryKey(owner, pool)
	entry := Entry{
		Owner: owner.String(), Pool: pool.String(), PoolName: poolName,
		FirstSeen: now, LastSeen: now, OpenCount: openCount,
	}

	if existing, ok, err := b.get(key); err != nil {
		return err
	} else if ok {
		entry.FirstSeen = existing.FirstSeen
		if entry.PoolName == "" {
			entry.PoolName = existing.PoolName
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return keepererr.Fatal("addressbook.marshal", err)
	}
	if err := b.db.Set(key, data, pebble.Sync); err != nil {
		return keepererr.Transient("addressbook.set", err)
	}
	return nil
}

func (b *Book) get(key []byte) (Entry, bool, error) {
	val, closer, err := b.db.Get(key)
	if err == pebble.ErrNotFound {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, keepererr.Transient("addressbook.get", err)
	}
	defer closer.Close()

	var entry Entry
	if err := json.Unmarshal(val, &entry); err != nil {
		return Entry{}, false, keepererr.Fatal("addressbook.unmarshal", err)
	}
	return entry, true, nil
}

// Active returns, for the given wallet, the pools it is currently active
// in (OpenCount > 0) and the pools it merely visited recently (last seen
// within the retention window), newest-first, capped at the configured
// recent-retention count.
func (b *Book) Active(wallet solana.PublicKey) (active, recent []Entry, err error) {
	iter, iterErr := b.db.NewIter(&pebble.IterOptions{LowerBound: ownerPrefix(wallet), UpperBound: ownerUpperBound(wallet)})
	if iterErr != nil {
		return nil, nil, keepererr.Transient("addressbook.iter", iterErr)
	}
	defer iter.Close()

	cutoff := time.Now().Add(-b.pruneAfter)
	for iter.First(); iter.Valid(); iter.Next() {
		var entry Entry
		if err := json.Unmarshal(iter.Value(), &entry); err != nil {
			continue
		}
		if entry.OpenCount > 0 {
			active = append(active, entry)
			continue
		}
		if entry.LastSeen.After(cutoff) {
			recent = append(recent, entry)
		}
	}

	sortByLastSeenDesc(active)
	sortByLastSeenDesc(recent)
	if len(recent) > b.recentRetain {
		recent = recent[:b.recentRetain]
	}
	return active, recent, nil
}

// AllActive scans every (wallet, pool) entry in the book regardless of
// owner, for diagnostics and pruning; the per-wallet REST contract is
// served by Active instead.
func (b *Book) AllActive() ([]Entry, error) {
	iter, err := b.db.NewIter(&pebble.IterOptions{LowerBound: []byte("owner/"), UpperBound: []byte("owner0")})
	if err != nil {
		return nil, keepererr.Transient("addressbook.iter", err)
	}
	defer iter.Close()

	var all []Entry
	for iter.First(); iter.Valid(); iter.Next() {
		var entry Entry
		if err := json.Unmarshal(iter.Value(), &entry); err != nil {
			continue
		}
		all = append(all, entry)
	}
	return all, nil
}

func sortByLastSeenDesc(entries []Entry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].LastSeen.After(entries[j-1].LastSeen); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

// Prune removes entries that are inactive and older than the configured
// prune window entirely, called periodically by the Saturday Keeper.
func (b *Book) Prune() (removed int, err error) {
	iter, iterErr := b.db.NewIter(&pebble.IterOptions{LowerBound: []byte("owner/"), UpperBound: []byte("owner0")})
	if iterErr != nil {
		return 0, keepererr.Transient("addressbook.iter", iterErr)
	}
	defer iter.Close()

	cutoff := time.Now().Add(-b.pruneAfter)
	var toDelete [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		var entry Entry
		if err := json.Unmarshal(iter.Value(), &entry); err != nil {
			continue
		}
		if entry.OpenCount == 0 && entry.LastSeen.Before(cutoff) {
			toDelete = append(toDelete, append([]byte(nil), iter.Key()...))
		}
	}
	for _, k := range toDelete {
		if err := b.db.Delete(k, pebble.Sync); err != nil {
			return removed, keepererr.Transient("addressbook.delete", err)
		}
		removed++
	}
	if removed > 0 {
		b.log.Info("pruned stale address book entries", zap.Int("removed", removed))
	}
	return removed, nil
}
