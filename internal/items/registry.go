// Package items tracks item ownership and performs the ownership transfer
// settlement relies on.
package items

import (
	"context"
	"errors"
	"fmt"

	"auction-ledger/internal/kv"
)

var (
	// ErrItemNotFound is returned for items never registered.
	ErrItemNotFound = errors.New("item not found")

	// ErrNotItemOwner is returned when a transfer names a from-principal that
	// does not currently own the item.
	ErrNotItemOwner = errors.New("not item owner")
)

// Registry persists the item -> owner mapping in the key-value store.
type Registry struct {
	store kv.Store
}

func NewRegistry(store kv.Store) *Registry {
	return &Registry{store: store}
}

func itemKey(item string) string {
	return fmt.Sprintf("item:%s", item)
}

// Register assigns an item to an owner, creating it if needed.
func (r *Registry) Register(ctx context.Context, item, owner string) error {
	return r.store.Put(ctx, itemKey(item), []byte(owner))
}

// Owner returns the current owner of an item.
func (r *Registry) Owner(ctx context.Context, item string) (string, error) {
	raw, err := r.store.Get(ctx, itemKey(item))
	if errors.Is(err, kv.ErrNotFound) {
		return "", ErrItemNotFound
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// TransferOwnership reassigns the item from its current owner to a new one.
func (r *Registry) TransferOwnership(ctx context.Context, item, from, to string) error {
	owner, err := r.Owner(ctx, item)
	if err != nil {
		return err
	}
	if owner != from {
		return fmt.Errorf("transfer %s from %s: %w", item, from, ErrNotItemOwner)
	}
	return r.store.Put(ctx, itemKey(item), []byte(to))
}
