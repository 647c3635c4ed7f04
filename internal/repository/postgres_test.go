package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/apperr"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
)

func newTestPostgres(t *testing.T) *PostgresRepository {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URI")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URI is not set")
	}
	r, err := NewPostgresRepository(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestPostgresCampaignVersioning(t *testing.T) {
	ctx := context.Background()
	r := newTestPostgres(t)

	id := time.Now().UnixNano()
	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, r.WithinTx(ctx, func(tx Tx) error {
		return tx.InsertCampaign(ctx, &model.Campaign{
			ID:               id,
			AuthorID:         1,
			Title:            "pg",
			TargetReviews:    10,
			ReviewsPerWeek:   5,
			AvailableFormats: model.FormatsBoth,
			Status:           model.CampaignDraft,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	}))

	var stale model.Campaign
	require.NoError(t, r.WithinTx(ctx, func(tx Tx) error {
		c, err := tx.LockCampaign(ctx, id)
		if err != nil {
			return err
		}
		stale = *c
		c.Status = model.CampaignActive
		return tx.UpdateCampaign(ctx, c)
	}))

	got, err := r.GetCampaign(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignActive, got.Status)
	assert.Equal(t, stale.Version+1, got.Version)

	err = r.WithinTx(ctx, func(tx Tx) error {
		return tx.UpdateCampaign(ctx, &stale)
	})
	assert.True(t, errors.Is(err, apperr.ErrConcurrentModification))
}

func TestPostgresRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	r := newTestPostgres(t)

	owner := time.Now().UnixNano()
	boom := errors.New("boom")
	err := r.WithinTx(ctx, func(tx Tx) error {
		if err := tx.InsertAccount(ctx, &model.Account{
			ID:        owner,
			OwnerID:   owner,
			Kind:      model.AccountReaderWallet,
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = r.GetAccountByOwner(ctx, owner, model.AccountReaderWallet)
	assert.ErrorIs(t, err, apperr.ErrAccountNotFound)
}
