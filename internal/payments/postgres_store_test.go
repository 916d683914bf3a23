//go:build integration

package payments

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelpeer/payments/internal/testutil"
)

func seedIntent(userID string, amount int64) *Intent {
	return &Intent{
		ID:        uuid.NewString(),
		UserID:    userID,
		Amount:    amount,
		Currency:  "NGN",
		Status:    StatusPending,
		Reference: "PP-" + uuid.NewString(),
	}
}

func TestPostgresStore_CreateAndLookup(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	intent := seedIntent("usr_pg_pay", 50000)
	intent.ParcelID = "pcl_pg_1"
	require.NoError(t, store.Create(ctx, intent))
	assert.False(t, intent.CreatedAt.IsZero())

	byID, err := store.GetByID(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, intent.Reference, byID.Reference)
	assert.Equal(t, "pcl_pg_1", byID.ParcelID)
	assert.Nil(t, byID.PaidAt)

	byRef, err := store.GetByReference(ctx, intent.Reference)
	require.NoError(t, err)
	assert.Equal(t, intent.ID, byRef.ID)

	_, err = store.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrIntentNotFound)
	_, err = store.GetByReference(ctx, "PP-missing")
	assert.ErrorIs(t, err, ErrIntentNotFound)
}

func TestPostgresStore_MarkStatus(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	intent := seedIntent("usr_pg_pay", 75000)
	require.NoError(t, store.Create(ctx, intent))

	now := time.Now()
	require.NoError(t, store.MarkStatus(ctx, intent.ID, StatusSuccess, &now))

	settled, err := store.GetByID(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, settled.Status)
	require.NotNil(t, settled.PaidAt)
	assert.WithinDuration(t, now, *settled.PaidAt, time.Second)

	assert.ErrorIs(t, store.MarkStatus(ctx, uuid.NewString(), StatusFailed, nil), ErrIntentNotFound)
}

func TestPostgresStore_ListByUser(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Create(ctx, seedIntent("usr_pg_a", 10000)))
	}
	require.NoError(t, store.Create(ctx, seedIntent("usr_pg_b", 20000)))

	intents, err := store.ListByUser(ctx, "usr_pg_a", 10)
	require.NoError(t, err)
	assert.Len(t, intents, 3)
	for _, in := range intents {
		assert.Equal(t, "usr_pg_a", in.UserID)
	}

	limited, err := store.ListByUser(ctx, "usr_pg_a", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
