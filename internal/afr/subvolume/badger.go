package subvolume

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/distfs/afr-core/internal/logger"
	"github.com/distfs/afr-core/pkg/lock"
	"github.com/distfs/afr-core/pkg/metadata/errors"
)

// BadgerSubvolume persists per-path attrs, dirty counters, and pending
// changelog matrices in a badger key-value store, the replica-side
// analogue of the on-disk xattr keys spec.md §6 names
// (trusted.afr.dirty, trusted.afr.<brick>-pending).
type BadgerSubvolume struct {
	db    *badger.DB
	locks *lock.Manager
}

// OpenBadgerSubvolume opens (creating if absent) a badger database rooted
// at dir to back one replica's pending-xattr and dirty-counter state.
func OpenBadgerSubvolume(dir string) (*BadgerSubvolume, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger subvolume at %s: %w", dir, err)
	}
	return &BadgerSubvolume{db: db, locks: lock.NewManager()}, nil
}

// Close releases the underlying badger database.
func (b *BadgerSubvolume) Close() error {
	return b.db.Close()
}

func attrsKey(path string) []byte   { return []byte("attrs:" + path) }
func dirtyKey(path string) []byte   { return []byte("dirty:" + path) }
func pendingKey(path string, peer int) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(peer))
	return append([]byte("pending:"+path+":"), buf...)
}

func (b *BadgerSubvolume) Stat(ctx context.Context, path string) (Attrs, error) {
	var out Attrs
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(attrsKey(path))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if err == badger.ErrKeyNotFound {
		return Attrs{}, errors.NewNotFoundError(path, "file")
	}
	if err != nil {
		logger.ErrorCtx(ctx, "badger stat failed", logger.Path(path), logger.Err(err))
		return Attrs{}, errors.NewInvalidArgumentError(err.Error())
	}
	return out, nil
}

// SetAttrs seeds path's stat reply.
func (b *BadgerSubvolume) SetAttrs(path string, a Attrs) error {
	buf, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(attrsKey(path), buf)
	})
}

func (b *BadgerSubvolume) GetDirty(_ context.Context, path string) (PendingCounters, error) {
	return b.getCounters(dirtyKey(path))
}

func (b *BadgerSubvolume) SetDirty(_ context.Context, path string, c PendingCounters) error {
	return b.setCounters(dirtyKey(path), c)
}

func (b *BadgerSubvolume) GetPending(_ context.Context, path string, peer int) (PendingCounters, error) {
	return b.getCounters(pendingKey(path, peer))
}

func (b *BadgerSubvolume) SetPending(_ context.Context, path string, peer int, c PendingCounters) error {
	return b.setCounters(pendingKey(path, peer), c)
}

func (b *BadgerSubvolume) getCounters(key []byte) (PendingCounters, error) {
	var out PendingCounters
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if err == badger.ErrKeyNotFound {
		return PendingCounters{}, nil
	}
	if err != nil {
		return PendingCounters{}, err
	}
	return out, nil
}

func (b *BadgerSubvolume) setCounters(key []byte, c PendingCounters) error {
	buf, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, buf)
	})
}

func (b *BadgerSubvolume) Locks() *lock.Manager {
	return b.locks
}

var _ Subvolume = (*BadgerSubvolume)(nil)
