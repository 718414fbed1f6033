package dedup

import (
	"context"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"go.gridsync.dev/core/grid"
	"go.gridsync.dev/core/state"
)

// keyIndex is the external key-index Strategy. Identity hashes of mirrored
// rows live in a durable side table; a hash present in the index is never
// appended again. A bounded tail of the most recent hashes is held in an
// in-memory LRU, on the assumption that duplicates are temporally local.
// A very old identity resurrected after the tail rotates past it would be
// re-mirrored; that is a known trade-off of the tail optimization, not a
// defect.
type keyIndex struct {
	unit   Unit
	store  state.Store
	cfg    Config
	recent *lru.Cache
	loaded bool
}

func newKeyIndex(u Unit, store state.Store, cfg Config) (*keyIndex, error) {
	var size = cfg.KeyTailSize
	if size <= 0 {
		size = 10000
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, errors.WithMessage(err, "building key tail cache")
	}
	return &keyIndex{unit: u, store: store, cfg: cfg, recent: cache}, nil
}

func (k *keyIndex) Name() string { return "keyindex" }

// Resume returns the tail window of the source, first warming the in-memory
// tail from the durable index.
func (k *keyIndex) Resume(ctx context.Context) (int, int, error) {
	var lastRow, _, err = sheetDims(ctx, k.unit, k.cfg.Retry)
	if err != nil {
		return 0, -1, err
	}

	if !k.loaded {
		hashes, err := k.store.RecentKeys(ctx, k.unit.Key(), k.cacheSize())
		if err != nil {
			return 0, -1, err
		}
		// RecentKeys is most-recent-first; add in reverse so the newest
		// hashes are also the most recently used.
		for i := len(hashes) - 1; i >= 0; i-- {
			k.recent.Add(hashes[i], struct{}{})
		}
		k.loaded = true
	}
	var from, to = tailWindow(k.unit, lastRow, k.cfg.TailWindowRows)
	return from, to, nil
}

func (k *keyIndex) cacheSize() int {
	if k.cfg.KeyTailSize > 0 {
		return k.cfg.KeyTailSize
	}
	return 10000
}

// FilterUnseen drops rows whose identity hash is in the tail cache or the
// durable index.
func (k *keyIndex) FilterUnseen(ctx context.Context, rows []grid.Row) ([]grid.Row, error) {
	var out = rows[:0]
	for _, row := range rows {
		var hash = k.unit.Flow.IdentityKey(k.unit.SourceID, row)
		if k.recent.Contains(hash) {
			continue
		}
		ok, err := k.store.HasKey(ctx, k.unit.Key(), hash)
		if err != nil {
			return nil, errors.WithMessage(err, "checking key index")
		} else if ok {
			k.recent.Add(hash, struct{}{})
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

// Commit appends identity hashes of mirrored rows to the durable index,
// then admits them to the tail cache.
func (k *keyIndex) Commit(ctx context.Context, _ int, mirrored []grid.Row) error {
	if len(mirrored) == 0 {
		return nil
	}
	var hashes = make([]string, 0, len(mirrored))
	for _, row := range mirrored {
		hashes = append(hashes, k.unit.Flow.IdentityKey(k.unit.SourceID, row))
	}
	if err := k.store.AddKeys(ctx, k.unit.Key(), hashes); err != nil {
		return errors.WithMessage(err, "appending to key index")
	}
	for _, h := range hashes {
		k.recent.Add(h, struct{}{})
	}
	return nil
}
