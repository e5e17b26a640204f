// Package registry is the durable table of auction records plus the indexes
// the scheduler trigger sweeps: item -> active auction, pending ids, and
// active-or-paused ids. All writes go through the state machine; nothing here
// enforces lifecycle rules.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"auction-ledger/internal/kv"
	"auction-ledger/internal/models"
)

var (
	// ErrNotFound is returned for unknown auction ids.
	ErrNotFound = errors.New("auction not found")

	// ErrIDSpaceExhausted is returned when the id counter has no room left.
	ErrIDSpaceExhausted = errors.New("auction id space exhausted")

	// ErrItemAlreadyAuctioned is returned when binding an item that already
	// maps to a different non-stopped auction.
	ErrItemAlreadyAuctioned = errors.New("item already on auction")
)

// Registry persists auctions in the key-value store.
type Registry struct {
	store kv.Store
}

func New(store kv.Store) *Registry {
	return &Registry{store: store}
}

// NextID allocates the next strictly increasing auction id.
func (r *Registry) NextID(ctx context.Context) (uint64, error) {
	next := uint64(0)
	raw, err := r.store.Get(ctx, keyNextID)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return 0, err
	}
	if err == nil {
		next, err = strconv.ParseUint(string(raw), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse next auction id: %w", err)
		}
	}
	if next == math.MaxUint64 {
		return 0, ErrIDSpaceExhausted
	}
	if err := r.store.Put(ctx, keyNextID, []byte(strconv.FormatUint(next+1, 10))); err != nil {
		return 0, err
	}
	return next, nil
}

// Get loads one auction record.
func (r *Registry) Get(ctx context.Context, id uint64) (*models.Auction, error) {
	raw, err := r.store.Get(ctx, auctionKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var a models.Auction
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode auction %d: %w", id, err)
	}
	return &a, nil
}

// Put stores one auction record.
func (r *Registry) Put(ctx context.Context, a *models.Auction) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode auction %d: %w", a.ID, err)
	}
	return r.store.Put(ctx, auctionKey(a.ID), raw)
}

// BindItem records item -> id in the uniqueness index. The state machine
// guarantees stopped auctions are unbound, so any existing mapping to a
// different id means the item is still on auction.
func (r *Registry) BindItem(ctx context.Context, item string, id uint64) error {
	raw, err := r.store.Get(ctx, itemIndexKey(item))
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return err
	}
	if err == nil {
		bound, parseErr := strconv.ParseUint(string(raw), 10, 64)
		if parseErr != nil {
			return fmt.Errorf("parse item index for %s: %w", item, parseErr)
		}
		if bound != id {
			return fmt.Errorf("item %s bound to auction %d: %w", item, bound, ErrItemAlreadyAuctioned)
		}
		return nil
	}
	return r.store.Put(ctx, itemIndexKey(item), []byte(strconv.FormatUint(id, 10)))
}

// UnbindItem clears the item's index entry.
func (r *Registry) UnbindItem(ctx context.Context, item string) error {
	return r.store.Delete(ctx, itemIndexKey(item))
}

// ItemAuction returns the auction an item is currently bound to, if any.
func (r *Registry) ItemAuction(ctx context.Context, item string) (uint64, bool, error) {
	raw, err := r.store.Get(ctx, itemIndexKey(item))
	if errors.Is(err, kv.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse item index for %s: %w", item, err)
	}
	return id, true, nil
}

func (r *Registry) readIndex(ctx context.Context, key string) ([]uint64, error) {
	raw, err := r.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []uint64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("decode index %s: %w", key, err)
	}
	return ids, nil
}

// writeIndex keeps ids sorted ascending so every sweep sees the same order.
func (r *Registry) writeIndex(ctx context.Context, key string, ids []uint64) error {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode index %s: %w", key, err)
	}
	return r.store.Put(ctx, key, raw)
}

func (r *Registry) addToIndex(ctx context.Context, key string, id uint64) error {
	ids, err := r.readIndex(ctx, key)
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	return r.writeIndex(ctx, key, append(ids, id))
}

func (r *Registry) removeFromIndex(ctx context.Context, key string, id uint64) error {
	ids, err := r.readIndex(ctx, key)
	if err != nil {
		return err
	}
	kept := ids[:0]
	for _, existing := range ids {
		if existing != id {
			kept = append(kept, existing)
		}
	}
	return r.writeIndex(ctx, key, kept)
}

// AddPending / RemovePending maintain the PendingStart index.
func (r *Registry) AddPending(ctx context.Context, id uint64) error {
	return r.addToIndex(ctx, keyPendingIndex, id)
}

func (r *Registry) RemovePending(ctx context.Context, id uint64) error {
	return r.removeFromIndex(ctx, keyPendingIndex, id)
}

// ListPending returns PendingStart auction ids in ascending order.
func (r *Registry) ListPending(ctx context.Context) ([]uint64, error) {
	return r.readIndex(ctx, keyPendingIndex)
}

// AddLive / RemoveLive maintain the Active-or-Paused index.
func (r *Registry) AddLive(ctx context.Context, id uint64) error {
	return r.addToIndex(ctx, keyLiveIndex, id)
}

func (r *Registry) RemoveLive(ctx context.Context, id uint64) error {
	return r.removeFromIndex(ctx, keyLiveIndex, id)
}

// ListLive returns Active-or-Paused auction ids in ascending order.
func (r *Registry) ListLive(ctx context.Context) ([]uint64, error) {
	return r.readIndex(ctx, keyLiveIndex)
}
