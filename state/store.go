package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"zkusd/core/types"
	"zkusd/native/oracle"
	"zkusd/native/vault"
	"zkusd/storage"
)

// ErrStaleRead is returned by Commit when a record read inside the
// transaction was modified by a concurrent commit. The caller re-executes the
// whole operation against fresh state, which makes every precondition an
// equality check against the exact versions the operation observed.
var ErrStaleRead = errors.New("state: record changed since transaction read")

// maxRetries bounds the automatic re-execution in Update.
const maxRetries = 5

// envelope wraps every stored record with a monotonically increasing version
// used for the optimistic concurrency check at commit.
type envelope struct {
	Version uint64          `json:"version"`
	Payload json.RawMessage `json:"payload"`
}

// Store is the protocol state layer over a key-value database. All access
// goes through transactions; commits are serialized under the store mutex.
type Store struct {
	db storage.Database
	mu sync.Mutex
}

func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

// Begin opens a transaction. Reads record the version they observed; writes
// are staged in memory until Commit.
func (s *Store) Begin() *Txn {
	return &Txn{
		store:  s,
		reads:  make(map[string]uint64),
		writes: make(map[string][]byte),
	}
}

// Update runs fn inside a transaction and commits it, re-executing fn from
// scratch when the commit loses an optimistic concurrency race.
func (s *Store) Update(fn func(txn *Txn) error) error {
	for attempt := 0; attempt < maxRetries; attempt++ {
		txn := s.Begin()
		if err := fn(txn); err != nil {
			return err
		}
		err := txn.Commit()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrStaleRead) {
			return err
		}
	}
	return ErrStaleRead
}

// View runs fn inside a read-only transaction. Nothing is committed.
func (s *Store) View(fn func(txn *Txn) error) error {
	return fn(s.Begin())
}

// Txn is a single optimistic transaction. It satisfies the state interfaces
// consumed by the engine, oracle and token modules.
type Txn struct {
	store  *Store
	reads  map[string]uint64
	writes map[string][]byte
}

// load reads a record into out, preferring a staged write. The first database
// read of a key pins the version checked at commit. It reports whether the
// record exists.
func (t *Txn) load(key string, out any) (bool, error) {
	if payload, ok := t.writes[key]; ok {
		if err := json.Unmarshal(payload, out); err != nil {
			return false, fmt.Errorf("state: decode staged %s: %w", key, err)
		}
		return true, nil
	}
	raw, err := t.store.db.Get([]byte(key))
	if errors.Is(err, storage.ErrKeyNotFound) {
		if _, seen := t.reads[key]; !seen {
			t.reads[key] = 0
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false, fmt.Errorf("state: decode envelope %s: %w", key, err)
	}
	if _, seen := t.reads[key]; !seen {
		t.reads[key] = env.Version
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return false, fmt.Errorf("state: decode %s: %w", key, err)
	}
	return true, nil
}

func (t *Txn) stage(key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", key, err)
	}
	t.writes[key] = payload
	return nil
}

// Commit validates every pinned read version against the database and, if
// none went stale, persists the staged writes with bumped versions. All
// envelopes go through a single batch write so a multi-record mutation is
// durable as a whole or not at all.
func (t *Txn) Commit() error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, version := range t.reads {
		current, err := s.currentVersion(key)
		if err != nil {
			return err
		}
		if current != version {
			return ErrStaleRead
		}
	}
	batch := &storage.Batch{}
	for key, payload := range t.writes {
		current, err := s.currentVersion(key)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(envelope{Version: current + 1, Payload: payload})
		if err != nil {
			return fmt.Errorf("state: encode envelope %s: %w", key, err)
		}
		batch.Put([]byte(key), raw)
	}
	if batch.Len() == 0 {
		return nil
	}
	return s.db.Write(batch)
}

func (s *Store) currentVersion(key string) (uint64, error) {
	raw, err := s.db.Get([]byte(key))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return 0, fmt.Errorf("state: decode envelope %s: %w", key, err)
	}
	return env.Version, nil
}

// --- Typed accessors ---

// GetAccount returns the stored account, or a zero-valued account for
// addresses that have never transacted.
func (t *Txn) GetAccount(addr [20]byte) (*types.Account, error) {
	account := &types.Account{}
	if _, err := t.load(accountKey(addr), account); err != nil {
		return nil, err
	}
	return account, nil
}

func (t *Txn) PutAccount(addr [20]byte, account *types.Account) error {
	return t.stage(accountKey(addr), account)
}

// GetVault returns the vault at addr and whether it exists.
func (t *Txn) GetVault(addr [20]byte) (*vault.Vault, bool, error) {
	v := &vault.Vault{}
	found, err := t.load(vaultKey(addr), v)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	return v, true, nil
}

func (t *Txn) PutVault(addr [20]byte, v *vault.Vault) error {
	return t.stage(vaultKey(addr), v)
}

// GetProtocol returns the packed protocol record, or nil before genesis
// initialisation.
func (t *Txn) GetProtocol() (*types.ProtocolRecord, error) {
	record := &types.ProtocolRecord{}
	found, err := t.load(keyProtocol, record)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return record, nil
}

func (t *Txn) PutProtocol(record *types.ProtocolRecord) error {
	return t.stage(keyProtocol, record)
}

func (t *Txn) GetTokenSupply() (uint64, error) {
	var supply uint64
	if _, err := t.load(keyTokenSupply, &supply); err != nil {
		return 0, err
	}
	return supply, nil
}

func (t *Txn) PutTokenSupply(supply uint64) error {
	return t.stage(keyTokenSupply, supply)
}

// GetPriceState returns the parity-staged price slots, zero-valued before
// oracle initialisation.
func (t *Txn) GetPriceState() (*oracle.PriceState, error) {
	priceState := &oracle.PriceState{}
	if _, err := t.load(keyPriceState, priceState); err != nil {
		return nil, err
	}
	return priceState, nil
}

func (t *Txn) PutPriceState(priceState *oracle.PriceState) error {
	return t.stage(keyPriceState, priceState)
}

func (t *Txn) GetPendingActions() ([]oracle.PendingAction, error) {
	var pending []oracle.PendingAction
	if _, err := t.load(keyPendingActions, &pending); err != nil {
		return nil, err
	}
	return pending, nil
}

func (t *Txn) PutPendingActions(pending []oracle.PendingAction) error {
	if pending == nil {
		pending = []oracle.PendingAction{}
	}
	return t.stage(keyPendingActions, pending)
}

func (t *Txn) GetWhitelistHash() ([32]byte, error) {
	var hash [32]byte
	if _, err := t.load(keyWhitelistHash, &hash); err != nil {
		return [32]byte{}, err
	}
	return hash, nil
}

func (t *Txn) PutWhitelistHash(hash [32]byte) error {
	return t.stage(keyWhitelistHash, hash)
}
