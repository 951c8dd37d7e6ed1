package payments

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_CreateGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedPending(t, store, "ORD1", 500000, testNow)

	a, err := store.Get(ctx, "ORD1")
	require.NoError(t, err)
	assert.Equal(t, int64(500000), a.Amount)

	// Returned values are copies.
	a.State = StatePaid
	again, _ := store.Get(ctx, "ORD1")
	assert.Equal(t, StatePending, again.State)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrAttemptNotFound)

	err = store.Create(ctx, &Attempt{OrderReference: "ORD1"})
	assert.ErrorIs(t, err, ErrDuplicateReference)
}

func TestMemoryStore_TransitionOnlyFromPending(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedPending(t, store, "ORD1", 500000, testNow)

	a, changed, err := store.Transition(ctx, "ORD1", StatePaid, Resolution{ResponseCode: "00"}, testNow)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, StatePaid, a.State)

	a, changed, err = store.Transition(ctx, "ORD1", StateFailed, Resolution{ResponseCode: "51"}, testNow.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, StatePaid, a.State)
	assert.Equal(t, "00", a.ResponseCode)

	_, _, err = store.Transition(ctx, "missing", StatePaid, Resolution{}, testNow)
	assert.ErrorIs(t, err, ErrAttemptNotFound)
}

func TestMemoryStore_ListExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedPending(t, store, "B", 1, testNow.Add(-time.Minute))
	seedPending(t, store, "A", 1, testNow.Add(-2*time.Minute))
	seedPending(t, store, "C", 1, testNow.Add(time.Minute))

	list, err := store.ListExpired(ctx, testNow, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "A", list[0].OrderReference)
	assert.Equal(t, "B", list[1].OrderReference)
}

func TestMemoryStore_Callbacks(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i, reason := range []string{"signature-mismatch", "ok", "ok"} {
		require.NoError(t, store.RecordCallback(ctx, &CallbackRecord{
			ID:             reason + string(rune('a'+i)),
			OrderReference: "ORD1",
			Channel:        "ipn",
			Reason:         reason,
			ReceivedAt:     testNow.Add(time.Duration(i) * time.Second),
		}))
	}

	recs, err := store.ListCallbacks(ctx, "ORD1", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "okc", recs[0].ID)
	assert.Equal(t, "okb", recs[1].ID)

	none, err := store.ListCallbacks(ctx, "other", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
