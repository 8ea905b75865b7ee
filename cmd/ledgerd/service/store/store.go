package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"unicode/utf8"

	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	golog "github.com/ipfs/go-log/v2"
	"github.com/textileio/tender-core/dshelper/txndswrap"
	"github.com/textileio/tender-core/ledger"
)

var (
	log = golog.Logger("ledgerd/store")

	// dsHeaderPrefix is the prefix for per-project bid lists.
	// Structure: /headers/<hex(project_id)> -> []ledger.BidHeader.
	// A key exists under this prefix if and only if the project was
	// registered; an empty list means no live bids.
	dsHeaderPrefix = ds.NewKey("/headers")

	// dsBidPrefix is the prefix for full bid records.
	// Structure: /bids/<hex(project_id)>/<hex(bidder_id)> -> ledger.BidRecord.
	dsBidPrefix = ds.NewKey("/bids")

	// dsAccessKey holds the accessState singleton.
	dsAccessKey = ds.NewKey("/access")
)

// accessState is the process-wide admin identity and kill-switch.
type accessState struct {
	Admin  ledger.BidderID
	Paused bool
}

// Store is the sealed-bid commit-reveal ledger. It owns the per-project bid
// lists, the full bid records and the admin/pause state, and enforces all
// lifecycle invariants. Every mutation runs in a single datastore
// transaction; the first failing precondition aborts the operation with zero
// state change. Operations are expected to arrive already ordered and
// already authenticated.
type Store struct {
	store txndswrap.TxnDatastore
}

// NewStore returns a new Store backed by the given datastore. The admin
// identity seeds the access-control state on first use; on restart the
// persisted admin wins.
func NewStore(ctx context.Context, store txndswrap.TxnDatastore, admin ledger.BidderID) (*Store, error) {
	if admin == "" {
		return nil, errors.New("admin identity is empty")
	}
	s := &Store{store: store}

	txn, err := store.NewTransaction(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("creating txn: %v", err)
	}
	defer txn.Discard(ctx)

	exists, err := txn.Has(ctx, dsAccessKey)
	if err != nil {
		return nil, fmt.Errorf("checking access state: %v", err)
	}
	if !exists {
		if err := saveAccess(ctx, txn, accessState{Admin: admin}); err != nil {
			return nil, err
		}
		if err := txn.Commit(ctx); err != nil {
			return nil, fmt.Errorf("committing txn: %v", err)
		}
		log.Infof("initialized ledger with admin %s", admin)
	}
	return s, nil
}

// CreateProject registers a project so it can start accepting bids. The
// project registry is an external collaborator; this is its seeding hook.
func (s *Store) CreateProject(ctx context.Context, id ledger.ProjectID) error {
	if id == "" {
		return errors.New("project id is empty")
	}

	txn, err := s.store.NewTransaction(ctx, false)
	if err != nil {
		return fmt.Errorf("creating txn: %v", err)
	}
	defer txn.Discard(ctx)

	acc, err := getAccess(ctx, txn)
	if err != nil {
		return err
	}
	if acc.Paused {
		return ledger.ErrPaused
	}
	exists, err := txn.Has(ctx, headerKey(id))
	if err != nil {
		return fmt.Errorf("checking project: %v", err)
	}
	if exists {
		return ledger.ErrProjectExists
	}
	if err := putHeaders(ctx, txn, id, []ledger.BidHeader{}); err != nil {
		return err
	}
	if err := txn.Commit(ctx); err != nil {
		return fmt.Errorf("committing txn: %v", err)
	}

	log.Debugf("registered project %s", id)
	return nil
}

// SubmitBid records a sealed bid: the commitment is appended to the
// project's bid list and a fresh unrevealed record is created, atomically.
func (s *Store) SubmitBid(
	ctx context.Context,
	id ledger.ProjectID,
	bidder ledger.BidderID,
	commitment []byte,
	height uint64,
) error {
	if bidder == "" {
		return errors.New("bidder identity is empty")
	}

	txn, err := s.store.NewTransaction(ctx, false)
	if err != nil {
		return fmt.Errorf("creating txn: %v", err)
	}
	defer txn.Discard(ctx)

	acc, err := getAccess(ctx, txn)
	if err != nil {
		return err
	}
	if acc.Paused {
		return ledger.ErrPaused
	}
	headers, err := getHeaders(ctx, txn, id)
	if err != nil {
		return err
	}
	_, err = getRecord(ctx, txn, id, bidder)
	if err == nil {
		return ledger.ErrAlreadySubmitted
	} else if !errors.Is(err, ledger.ErrBidNotFound) {
		return err
	}
	if !ledger.ValidCommitment(commitment) {
		return ledger.ErrInvalidHash
	}
	if len(headers) >= ledger.MaxProjectBids {
		return ledger.ErrBidsFull
	}

	headers = append(headers, ledger.BidHeader{
		Bidder:      bidder,
		Commitment:  commitment,
		SubmittedAt: height,
	})
	if err := putHeaders(ctx, txn, id, headers); err != nil {
		return err
	}
	if err := putRecord(ctx, txn, id, bidder, ledger.BidRecord{Commitment: commitment}); err != nil {
		return err
	}
	if err := txn.Commit(ctx); err != nil {
		return fmt.Errorf("committing txn: %v", err)
	}

	log.Debugf("bid submitted to project %s by %s at height %d", id, bidder, height)
	return nil
}

// RevealBid discloses a bid's content and verifies it against the stored
// commitment. The supplied commitment must equal the stored one, and the
// BLAKE3-256 hash of the canonical (amount, description, bidder) encoding
// must reproduce it. On success the record is updated in place; the header
// keeps the original commitment for audit purposes.
func (s *Store) RevealBid(
	ctx context.Context,
	id ledger.ProjectID,
	bidder ledger.BidderID,
	amount uint64,
	description string,
	commitment []byte,
	height uint64,
) error {
	txn, err := s.store.NewTransaction(ctx, false)
	if err != nil {
		return fmt.Errorf("creating txn: %v", err)
	}
	defer txn.Discard(ctx)

	acc, err := getAccess(ctx, txn)
	if err != nil {
		return err
	}
	if acc.Paused {
		return ledger.ErrPaused
	}
	if _, err := getHeaders(ctx, txn, id); err != nil {
		return err
	}
	rec, err := getRecord(ctx, txn, id, bidder)
	if err != nil {
		return err
	}
	if rec.Revealed {
		return ledger.ErrAlreadyRevealed
	}
	if !bytes.Equal(commitment, rec.Commitment) {
		return ledger.ErrInvalidReveal
	}
	expected := ledger.ComputeCommitment(amount, description, bidder)
	if !bytes.Equal(expected, rec.Commitment) {
		return ledger.ErrInvalidReveal
	}
	if utf8.RuneCountInString(description) > ledger.MaxDescriptionLen {
		return ledger.ErrInvalidReveal
	}

	rec.Amount = amount
	rec.Description = description
	rec.Revealed = true
	rec.RevealedAt = height
	if err := putRecord(ctx, txn, id, bidder, *rec); err != nil {
		return err
	}
	if err := txn.Commit(ctx); err != nil {
		return fmt.Errorf("committing txn: %v", err)
	}

	log.Debugf("bid revealed in project %s by %s at height %d", id, bidder, height)
	return nil
}

// WithdrawBid removes an unrevealed bid: the header leaves the project's
// list (order of remaining entries preserved) and the record is deleted,
// atomically. Revealed bids can no longer be withdrawn.
func (s *Store) WithdrawBid(ctx context.Context, id ledger.ProjectID, bidder ledger.BidderID) error {
	txn, err := s.store.NewTransaction(ctx, false)
	if err != nil {
		return fmt.Errorf("creating txn: %v", err)
	}
	defer txn.Discard(ctx)

	acc, err := getAccess(ctx, txn)
	if err != nil {
		return err
	}
	if acc.Paused {
		return ledger.ErrPaused
	}
	headers, err := getHeaders(ctx, txn, id)
	if err != nil {
		return err
	}
	rec, err := getRecord(ctx, txn, id, bidder)
	if err != nil {
		return err
	}
	if rec.Revealed {
		return ledger.ErrAlreadyOpened
	}

	for i := range headers {
		if headers[i].Bidder == bidder {
			headers = append(headers[:i], headers[i+1:]...)
			break
		}
	}
	if err := putHeaders(ctx, txn, id, headers); err != nil {
		return err
	}
	if err := txn.Delete(ctx, bidKey(id, bidder)); err != nil {
		return fmt.Errorf("deleting bid: %v", err)
	}
	if err := txn.Commit(ctx); err != nil {
		return fmt.Errorf("committing txn: %v", err)
	}

	log.Debugf("bid withdrawn from project %s by %s", id, bidder)
	return nil
}

// Pause halts all mutating operations. Admin only.
func (s *Store) Pause(ctx context.Context, caller ledger.BidderID) error {
	return s.setPaused(ctx, caller, true)
}

// Unpause lifts the kill-switch. Admin only.
func (s *Store) Unpause(ctx context.Context, caller ledger.BidderID) error {
	return s.setPaused(ctx, caller, false)
}

func (s *Store) setPaused(ctx context.Context, caller ledger.BidderID, paused bool) error {
	txn, err := s.store.NewTransaction(ctx, false)
	if err != nil {
		return fmt.Errorf("creating txn: %v", err)
	}
	defer txn.Discard(ctx)

	acc, err := getAccess(ctx, txn)
	if err != nil {
		return err
	}
	if caller != acc.Admin {
		return ledger.ErrUnauthorized
	}

	acc.Paused = paused
	if err := saveAccess(ctx, txn, acc); err != nil {
		return err
	}
	if err := txn.Commit(ctx); err != nil {
		return fmt.Errorf("committing txn: %v", err)
	}

	log.Infof("ledger paused=%v by %s", paused, caller)
	return nil
}

// SetAdmin transfers adminship to newAdmin. The ledger must not be paused,
// and a self-transfer is rejected as unauthorized.
func (s *Store) SetAdmin(ctx context.Context, caller, newAdmin ledger.BidderID) error {
	if newAdmin == "" {
		return errors.New("new admin identity is empty")
	}

	txn, err := s.store.NewTransaction(ctx, false)
	if err != nil {
		return fmt.Errorf("creating txn: %v", err)
	}
	defer txn.Discard(ctx)

	acc, err := getAccess(ctx, txn)
	if err != nil {
		return err
	}
	if caller != acc.Admin {
		return ledger.ErrUnauthorized
	}
	if acc.Paused {
		return ledger.ErrPaused
	}
	if newAdmin == caller {
		return ledger.ErrUnauthorized
	}

	acc.Admin = newAdmin
	if err := saveAccess(ctx, txn, acc); err != nil {
		return err
	}
	if err := txn.Commit(ctx); err != nil {
		return fmt.Errorf("committing txn: %v", err)
	}

	log.Infof("adminship transferred from %s to %s", caller, newAdmin)
	return nil
}

// GetBid returns the full bid record for (project, bidder).
// If no record exists, ledger.ErrBidNotFound is returned.
func (s *Store) GetBid(ctx context.Context, id ledger.ProjectID, bidder ledger.BidderID) (*ledger.BidRecord, error) {
	return getRecord(ctx, s.store, id, bidder)
}

// ListProjectBids returns the project's bid headers in insertion order.
// If the project was never registered, ledger.ErrProjectNotFound is returned.
func (s *Store) ListProjectBids(ctx context.Context, id ledger.ProjectID) ([]ledger.BidHeader, error) {
	return getHeaders(ctx, s.store, id)
}

// ListProjects returns the ids of all registered projects in key order.
func (s *Store) ListProjects(ctx context.Context) ([]ledger.ProjectID, error) {
	results, err := s.store.Query(ctx, dsq.Query{
		Prefix:   dsHeaderPrefix.String(),
		KeysOnly: true,
		Orders:   []dsq.Order{dsq.OrderByKey{}},
	})
	if err != nil {
		return nil, fmt.Errorf("querying projects: %v", err)
	}
	defer func() { _ = results.Close() }()

	var list []ledger.ProjectID
	for res := range results.Next() {
		if res.Error != nil {
			return nil, fmt.Errorf("getting next result: %v", res.Error)
		}
		raw, err := hex.DecodeString(ds.NewKey(res.Key).BaseNamespace())
		if err != nil {
			return nil, fmt.Errorf("decoding project key %s: %v", res.Key, err)
		}
		list = append(list, ledger.ProjectID(raw))
	}
	return list, nil
}

// IsPaused reports whether the ledger is globally halted.
func (s *Store) IsPaused(ctx context.Context) (bool, error) {
	acc, err := getAccess(ctx, s.store)
	if err != nil {
		return false, err
	}
	return acc.Paused, nil
}

// Admin returns the current admin identity.
func (s *Store) Admin(ctx context.Context) (ledger.BidderID, error) {
	acc, err := getAccess(ctx, s.store)
	if err != nil {
		return "", err
	}
	return acc.Admin, nil
}

// Ids are opaque and may contain path separators, so key segments are
// hex-encoded; splicing them in raw would let distinct ids collide after
// key cleaning. Hex preserves byte order, so key order still follows id order.
func keySegment(s string) string {
	return hex.EncodeToString([]byte(s))
}

func headerKey(id ledger.ProjectID) ds.Key {
	return dsHeaderPrefix.ChildString(keySegment(string(id)))
}

func bidKey(id ledger.ProjectID, bidder ledger.BidderID) ds.Key {
	return dsBidPrefix.ChildString(keySegment(string(id))).ChildString(keySegment(string(bidder)))
}

func getAccess(ctx context.Context, reader ds.Read) (accessState, error) {
	val, err := reader.Get(ctx, dsAccessKey)
	if err != nil {
		return accessState{}, fmt.Errorf("getting access state: %v", err)
	}
	var acc accessState
	if err := decode(val, &acc); err != nil {
		return accessState{}, fmt.Errorf("decoding access state: %v", err)
	}
	return acc, nil
}

func saveAccess(ctx context.Context, writer ds.Write, acc accessState) error {
	val, err := encode(acc)
	if err != nil {
		return fmt.Errorf("encoding access state: %v", err)
	}
	if err := writer.Put(ctx, dsAccessKey, val); err != nil {
		return fmt.Errorf("putting access state: %v", err)
	}
	return nil
}

func getHeaders(ctx context.Context, reader ds.Read, id ledger.ProjectID) ([]ledger.BidHeader, error) {
	val, err := reader.Get(ctx, headerKey(id))
	if errors.Is(err, ds.ErrNotFound) {
		return nil, ledger.ErrProjectNotFound
	} else if err != nil {
		return nil, fmt.Errorf("getting bid list: %v", err)
	}
	var headers []ledger.BidHeader
	if err := decode(val, &headers); err != nil {
		return nil, fmt.Errorf("decoding bid list: %v", err)
	}
	return headers, nil
}

func putHeaders(ctx context.Context, writer ds.Write, id ledger.ProjectID, headers []ledger.BidHeader) error {
	val, err := encode(headers)
	if err != nil {
		return fmt.Errorf("encoding bid list: %v", err)
	}
	if err := writer.Put(ctx, headerKey(id), val); err != nil {
		return fmt.Errorf("putting bid list: %v", err)
	}
	return nil
}

func getRecord(ctx context.Context, reader ds.Read, id ledger.ProjectID, bidder ledger.BidderID) (*ledger.BidRecord, error) {
	val, err := reader.Get(ctx, bidKey(id, bidder))
	if errors.Is(err, ds.ErrNotFound) {
		return nil, ledger.ErrBidNotFound
	} else if err != nil {
		return nil, fmt.Errorf("getting bid: %v", err)
	}
	var rec ledger.BidRecord
	if err := decode(val, &rec); err != nil {
		return nil, fmt.Errorf("decoding bid: %v", err)
	}
	return &rec, nil
}

func putRecord(ctx context.Context, writer ds.Write, id ledger.ProjectID, bidder ledger.BidderID, rec ledger.BidRecord) error {
	val, err := encode(rec)
	if err != nil {
		return fmt.Errorf("encoding bid: %v", err)
	}
	if err := writer.Put(ctx, bidKey(id, bidder), val); err != nil {
		return fmt.Errorf("putting bid: %v", err)
	}
	return nil
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(val []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(val)).Decode(v)
}
