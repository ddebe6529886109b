package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhn/kerupuk-ledger/ledger"
)

func TestMemory_WithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	boom := errors.New("boom")

	err := m.WithTx(ctx, func(tx ledger.Store) error {
		require.NoError(t, tx.InsertAccount(ctx, ledger.Account{Username: "ana"}))
		_, err := tx.AppendRecord(ctx, ledger.DeliveryRecord{OutletName: "Toko A"})
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	n, err := m.CountAccounts(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// The aborted append did not consume an ID.
	rec, err := m.AppendRecord(ctx, ledger.DeliveryRecord{OutletName: "Toko B"})
	require.NoError(t, err)
	assert.Equal(t, ledger.RecordID(1), rec.ID)
}

func TestMemory_WithTxCommits(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.WithTx(ctx, func(tx ledger.Store) error {
		return tx.InsertAccount(ctx, ledger.Account{Username: "ana"})
	}))

	acc, err := m.GetAccount(ctx, "ana")
	require.NoError(t, err)
	require.NotNil(t, acc)
}

func TestMemory_ReturnedAccountIsACopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.InsertAccount(ctx, ledger.Account{Username: "ana", PasswordHash: []byte("hash")}))

	acc, err := m.GetAccount(ctx, "ana")
	require.NoError(t, err)
	acc.PasswordHash[0] = 'X'
	acc.IsAdmin = true

	again, err := m.GetAccount(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, []byte("hash"), again.PasswordHash)
	assert.False(t, again.IsAdmin)
}

func TestMemory_QueryOrdersByDateThenID(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	late := ledger.NewDate(2024, time.May, 2)
	early := ledger.NewDate(2024, time.May, 1)

	for _, r := range []ledger.DeliveryRecord{
		{Date: late, OutletName: "c"},
		{Date: early, OutletName: "a"},
		{Date: early, OutletName: "b"},
	} {
		_, err := m.AppendRecord(ctx, r)
		require.NoError(t, err)
	}

	recs, err := m.QueryRecords(ctx, ledger.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{recs[0].OutletName, recs[1].OutletName, recs[2].OutletName})
}
