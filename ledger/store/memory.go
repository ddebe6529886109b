// Package store provides an in-memory ledger.Store.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/dhn/kerupuk-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu    sync.RWMutex
	state *state
}

type state struct {
	accounts map[string]ledger.Account
	records  []ledger.DeliveryRecord // append order == ID order
	nextID   ledger.RecordID
}

func NewMemory() *Memory {
	return &Memory{state: &state{
		accounts: make(map[string]ledger.Account),
		nextID:   1,
	}}
}

var _ ledger.Store = (*Memory)(nil)

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) GetAccount(_ context.Context, username string) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getAccount(username), nil
}

func (m *Memory) CountAccounts(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.state.accounts), nil
}

func (m *Memory) InsertAccount(_ context.Context, a ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.insertAccount(a)
}

func (m *Memory) UpdatePassword(_ context.Context, username string, hash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.updatePassword(username, hash)
}

func (m *Memory) SetAdmin(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.setAdmin(username)
}

func (m *Memory) ListAccounts(_ context.Context, filter ledger.AccountFilter) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listAccounts(filter), nil
}

// AppendRecord adds a single record. Append-only.
func (m *Memory) AppendRecord(_ context.Context, rec ledger.DeliveryRecord) (ledger.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.appendRecord(rec), nil
}

func (m *Memory) QueryRecords(_ context.Context, filter ledger.RecordFilter) ([]ledger.DeliveryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.queryRecords(filter), nil
}

// WithTx runs fn against a copy of the state and swaps it in only if fn
// succeeds. The write lock is held throughout, so transactions serialize.
func (m *Memory) WithTx(ctx context.Context, fn func(tx ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{state: m.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

// =============================================================================
// STATE - lock-free operations shared by Memory and memoryTx
// =============================================================================

func (s *state) clone() *state {
	c := &state{
		accounts: make(map[string]ledger.Account, len(s.accounts)),
		records:  make([]ledger.DeliveryRecord, len(s.records)),
		nextID:   s.nextID,
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	copy(c.records, s.records)
	return c
}

func (s *state) getAccount(username string) *ledger.Account {
	a, ok := s.accounts[username]
	if !ok {
		return nil
	}
	a.PasswordHash = append([]byte(nil), a.PasswordHash...)
	return &a
}

func (s *state) insertAccount(a ledger.Account) error {
	if _, ok := s.accounts[a.Username]; ok {
		return ledger.ErrDuplicateUsername
	}
	a.PasswordHash = append([]byte(nil), a.PasswordHash...)
	s.accounts[a.Username] = a
	return nil
}

func (s *state) updatePassword(username string, hash []byte) error {
	a, ok := s.accounts[username]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	a.PasswordHash = append([]byte(nil), hash...)
	s.accounts[username] = a
	return nil
}

func (s *state) setAdmin(username string) error {
	a, ok := s.accounts[username]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	a.IsAdmin = true
	s.accounts[username] = a
	return nil
}

func (s *state) listAccounts(filter ledger.AccountFilter) []ledger.Account {
	var out []ledger.Account
	for _, a := range s.accounts {
		if filter.Matches(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

func (s *state) appendRecord(rec ledger.DeliveryRecord) ledger.DeliveryRecord {
	rec.ID = s.nextID
	s.nextID++
	s.records = append(s.records, rec)
	return rec
}

func (s *state) queryRecords(filter ledger.RecordFilter) []ledger.DeliveryRecord {
	var out []ledger.DeliveryRecord
	for _, r := range s.records {
		if filter.Matches(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// =============================================================================
// TRANSACTION VIEW
// =============================================================================

type memoryTx struct {
	state *state
}

func (t *memoryTx) GetAccount(_ context.Context, username string) (*ledger.Account, error) {
	return t.state.getAccount(username), nil
}

func (t *memoryTx) CountAccounts(_ context.Context) (int, error) {
	return len(t.state.accounts), nil
}

func (t *memoryTx) InsertAccount(_ context.Context, a ledger.Account) error {
	return t.state.insertAccount(a)
}

func (t *memoryTx) UpdatePassword(_ context.Context, username string, hash []byte) error {
	return t.state.updatePassword(username, hash)
}

func (t *memoryTx) SetAdmin(_ context.Context, username string) error {
	return t.state.setAdmin(username)
}

func (t *memoryTx) ListAccounts(_ context.Context, filter ledger.AccountFilter) ([]ledger.Account, error) {
	return t.state.listAccounts(filter), nil
}

func (t *memoryTx) AppendRecord(_ context.Context, rec ledger.DeliveryRecord) (ledger.DeliveryRecord, error) {
	return t.state.appendRecord(rec), nil
}

func (t *memoryTx) QueryRecords(_ context.Context, filter ledger.RecordFilter) ([]ledger.DeliveryRecord, error) {
	return t.state.queryRecords(filter), nil
}

// WithTx on a transaction view runs fn in the same transaction.
func (t *memoryTx) WithTx(_ context.Context, fn func(tx ledger.Store) error) error {
	return fn(t)
}
