package engine

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/apperr"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/repository"
)

func TestApplyUpToWeeklyPace(t *testing.T) {
	f := newFixture(t)
	c := f.campaign(campaignSpec{target: 25, pace: 10})

	for i := int64(1); i <= 10; i++ {
		a := f.apply(100+i, c.ID)
		assert.Equal(t, model.StateWaiting, a.State)
		assert.Equal(t, 1, a.ScheduledWeek)
		assert.Equal(t, int(i), a.QueuePosition)
		assert.False(t, a.IsBufferAssignment)
	}

	_, err := f.eng.ApplyToCampaign(f.ctx, 111, c.ID, model.FormatEbook)
	require.ErrorIs(t, err, apperr.ErrCampaignFull)
	assert.Equal(t, "CAMPAIGN_FULL", apperr.ReasonOf(err))

	stored := f.campaignByID(c.ID)
	assert.Equal(t, 10, stored.TotalAssignedReaders)
	assert.Equal(t, int64(10), stored.CreditsCommitted)
}

func TestApplyFillsHiddenBuffer(t *testing.T) {
	f := newFixture(t)
	c := f.campaign(campaignSpec{target: 25, pace: 10, overbooking: 20})

	for i := int64(1); i <= 10; i++ {
		f.apply(100+i, c.ID)
	}
	b1 := f.apply(111, c.ID)
	b2 := f.apply(112, c.ID)
	assert.True(t, b1.IsBufferAssignment)
	assert.True(t, b2.IsBufferAssignment)
	assert.Equal(t, 12, b2.QueuePosition)

	_, err := f.eng.ApplyToCampaign(f.ctx, 113, c.ID, model.FormatEbook)
	require.ErrorIs(t, err, apperr.ErrCampaignFull)

	stored := f.campaignByID(c.ID)
	assert.Equal(t, 12, stored.TotalAssignedReaders)
	assert.LessOrEqual(t, stored.TotalAssignedReaders, 30)
	// буферные заявки не закрепляют кредиты автора
	assert.Equal(t, int64(10), stored.CreditsCommitted)
}

func TestApplyRejections(t *testing.T) {
	f := newFixture(t)
	active := f.campaign(campaignSpec{target: 5, pace: 5})

	draft, err := f.eng.CreateCampaign(f.ctx, authorID, NewCampaign{Title: "Draft", TargetReviews: 5, ReviewsPerWeek: 5, Formats: model.FormatsEbook})
	require.NoError(t, err)

	paused := f.campaign(campaignSpec{target: 5, pace: 5})
	_, err = f.eng.PauseCampaign(f.ctx, admin, paused.ID)
	require.NoError(t, err)

	f.apply(1, active.ID)

	tests := []struct {
		name     string
		reader   int64
		campaign int64
		format   model.Format
		want     error
		reason   string
	}{
		{"draft campaign", 2, draft.ID, model.FormatEbook, apperr.ErrCampaignInactive, "CAMPAIGN_INACTIVE"},
		{"paused campaign", 2, paused.ID, model.FormatEbook, apperr.ErrCampaignInactive, "CAMPAIGN_INACTIVE"},
		{"format not offered", 2, active.ID, model.FormatAudiobook, apperr.ErrFormatUnavailable, "FORMAT_UNAVAILABLE"},
		{"unknown format", 2, active.ID, model.Format("PAPERBACK"), apperr.ErrFormatUnavailable, "FORMAT_UNAVAILABLE"},
		{"duplicate", 1, active.ID, model.FormatEbook, apperr.ErrDuplicateApplication, "DUPLICATE_APPLICATION"},
		{"unknown campaign", 2, 987654, model.FormatEbook, apperr.ErrCampaignNotFound, "CAMPAIGN_NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.eng.ApplyToCampaign(f.ctx, tt.reader, tt.campaign, tt.format)
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.reason, apperr.ReasonOf(err))
		})
	}

	assert.Equal(t, 1, f.campaignByID(active.ID).TotalAssignedReaders)
}

func TestApplyAfterWithdrawalIsAllowed(t *testing.T) {
	f := newFixture(t)
	c := f.campaign(campaignSpec{target: 5, pace: 5})

	a := f.apply(1, c.ID)
	_, err := f.eng.WithdrawAssignment(f.ctx, 1, a.ID)
	require.NoError(t, err)

	again := f.apply(1, c.ID)
	assert.Equal(t, 2, again.QueuePosition, "positions are never reused")
}

func TestApplyInsufficientAuthorCredits(t *testing.T) {
	f := newFixture(t)
	c := f.campaign(campaignSpec{target: 2, pace: 2, formats: model.FormatsBoth})

	// остаток бюджета кампании обнуляется вручную
	_, err := f.eng.ApplyToCampaign(f.ctx, 1, c.ID, model.FormatAudiobook)
	require.NoError(t, err)

	require.NoError(t, f.repo.WithinTx(f.ctx, func(tx repository.Tx) error {
		locked, err := tx.LockCampaign(f.ctx, c.ID)
		if err != nil {
			return err
		}
		locked.CreditsRefunded = locked.CreditsAllocated - locked.CreditsCommitted
		return tx.UpdateCampaign(f.ctx, locked)
	}))

	_, err = f.eng.ApplyToCampaign(f.ctx, 2, c.ID, model.FormatEbook)
	require.ErrorIs(t, err, apperr.ErrInsufficientAuthorCredits)
	assert.Equal(t, "INSUFFICIENT_AUTHOR_CREDITS", apperr.ReasonOf(err))
}

func TestConcurrentApplicationsRespectCapacity(t *testing.T) {
	const (
		readers  = 40
		capacity = 7
	)
	f := newFixture(t)
	c := f.campaign(campaignSpec{target: capacity, pace: capacity})

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		positions []int
		full      int
	)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(readerID int64) {
			defer wg.Done()
			a, err := f.eng.ApplyToCampaign(f.ctx, readerID, c.ID, model.FormatEbook)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				positions = append(positions, a.QueuePosition)
			case apperr.CodeOf(err) == apperr.CodeCampaignFull:
				full++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(int64(1000 + i))
	}
	wg.Wait()

	require.Len(t, positions, capacity)
	assert.Equal(t, readers-capacity, full)

	sort.Ints(positions)
	for i, p := range positions {
		assert.Equal(t, i+1, p)
	}

	stored := f.campaignByID(c.ID)
	assert.Equal(t, capacity, stored.TotalAssignedReaders)

	as, err := f.repo.ListAssignmentsByCampaign(f.ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, as, capacity)
}

func TestApplyOpensNextWeek(t *testing.T) {
	f := newFixture(t)
	c := f.campaign(campaignSpec{target: 20, pace: 10})

	for i := int64(1); i <= 10; i++ {
		f.apply(i, c.ID)
	}
	_, err := f.eng.ApplyToCampaign(f.ctx, 11, c.ID, model.FormatEbook)
	require.ErrorIs(t, err, apperr.ErrCampaignFull)

	f.clock.Advance(model.Week)
	a := f.apply(11, c.ID)
	assert.Equal(t, 2, a.ScheduledWeek)
	assert.Equal(t, 11, a.QueuePosition)
}

func TestManualQuotaLimitsAdmissions(t *testing.T) {
	f := newFixture(t)
	c := f.campaign(campaignSpec{target: 20, pace: 10})

	adjusted, err := f.eng.AdjustDistribution(f.ctx, c.ID, 2)
	require.NoError(t, err)
	assert.True(t, adjusted.ManualDistributionOverride)
	assert.NotNil(t, adjusted.DistributionPausedAt)

	f.apply(1, c.ID)
	f.apply(2, c.ID)
	_, err = f.eng.ApplyToCampaign(f.ctx, 3, c.ID, model.FormatEbook)
	require.ErrorIs(t, err, apperr.ErrCampaignFull)

	resumed, err := f.eng.ResumeDistribution(f.ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, resumed.ManualDistributionOverride)
	assert.NotNil(t, resumed.DistributionResumedAt)

	f.apply(3, c.ID)

	_, err = f.eng.ResumeDistribution(f.ctx, c.ID)
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)
}
