package txndswrap

import (
	"context"
	"errors"
	"sync"

	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
)

// TxnDatastore is the transactional datastore interface required by stores
// in this repo.
type TxnDatastore = ds.TxnDatastore

// ErrTxnFinalized indicates the transaction was already committed or discarded.
var ErrTxnFinalized = errors.New("transaction already finalized")

// Wrap adds transaction support to a plain datastore. Datastores with native
// transaction support (e.g. Badger) are returned unchanged. Otherwise
// transactions are serialized with a mutex held from NewTransaction until
// Commit or Discard: reads see the transaction's own writes, writes are
// buffered and applied on Commit.
func Wrap(dstore ds.Datastore) TxnDatastore {
	if t, ok := dstore.(ds.TxnDatastore); ok {
		return t
	}
	return &wrapped{Datastore: dstore}
}

type wrapped struct {
	ds.Datastore
	lk sync.Mutex
}

func (w *wrapped) NewTransaction(_ context.Context, readOnly bool) (ds.Txn, error) {
	w.lk.Lock()
	return &txn{w: w, readOnly: readOnly, ops: map[ds.Key]txnOp{}}, nil
}

type txnOp struct {
	delete bool
	value  []byte
}

type txn struct {
	w        *wrapped
	readOnly bool
	done     bool
	ops      map[ds.Key]txnOp
}

func (t *txn) Get(ctx context.Context, key ds.Key) ([]byte, error) {
	if op, ok := t.ops[key]; ok {
		if op.delete {
			return nil, ds.ErrNotFound
		}
		return op.value, nil
	}
	return t.w.Datastore.Get(ctx, key)
}

func (t *txn) Has(ctx context.Context, key ds.Key) (bool, error) {
	if op, ok := t.ops[key]; ok {
		return !op.delete, nil
	}
	return t.w.Datastore.Has(ctx, key)
}

func (t *txn) GetSize(ctx context.Context, key ds.Key) (int, error) {
	if op, ok := t.ops[key]; ok {
		if op.delete {
			return -1, ds.ErrNotFound
		}
		return len(op.value), nil
	}
	return t.w.Datastore.GetSize(ctx, key)
}

// Query delegates to the underlying datastore; buffered writes are not
// visible to queries until Commit.
func (t *txn) Query(ctx context.Context, q dsq.Query) (dsq.Results, error) {
	return t.w.Datastore.Query(ctx, q)
}

func (t *txn) Put(_ context.Context, key ds.Key, value []byte) error {
	if t.readOnly {
		return errors.New("write in read-only transaction")
	}
	t.ops[key] = txnOp{value: value}
	return nil
}

func (t *txn) Delete(_ context.Context, key ds.Key) error {
	if t.readOnly {
		return errors.New("delete in read-only transaction")
	}
	t.ops[key] = txnOp{delete: true}
	return nil
}

func (t *txn) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxnFinalized
	}
	defer t.finalize()
	for key, op := range t.ops {
		if op.delete {
			if err := t.w.Datastore.Delete(ctx, key); err != nil {
				return err
			}
		} else {
			if err := t.w.Datastore.Put(ctx, key, op.value); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *txn) Discard(_ context.Context) {
	if t.done {
		return
	}
	t.finalize()
}

func (t *txn) finalize() {
	t.done = true
	t.w.lk.Unlock()
}
