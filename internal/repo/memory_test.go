package repo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cpms/internal/models"
)

func profile(cp string, level int) models.ChargingProfile {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return models.ChargingProfile{
		ChargePointId: cp,
		Purpose:       models.PurposeTxDefault,
		Kind:          models.KindAbsolute,
		StackLevel:    level,
		StartSchedule: &start,
		RateUnit:      models.RateUnitAmperes,
		Periods:       []models.SchedulePeriod{{StartPeriodSeconds: 0, Limit: 16}},
	}
}

func TestMemoryStoreAssignsIncreasingIds(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a, err := s.Create(ctx, profile("CP-1", 0))
	require.NoError(t, err)
	b, err := s.Create(ctx, profile("CP-1", 0))
	require.NoError(t, err)
	assert.Greater(t, b, a)

	got, err := s.Get(ctx, b)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, b, got.Id)

	missing, err := s.Get(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryStoreSnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id, err := s.Create(ctx, profile("CP-1", 0))
	require.NoError(t, err)

	snap, err := s.ProfilesFor(ctx, "CP-1")
	require.NoError(t, err)
	require.Len(t, snap, 1)

	replacement := profile("CP-1", 3)
	replacement.Id = id
	replacement.Periods[0].Limit = 6
	require.NoError(t, s.Replace(ctx, replacement))
	require.NoError(t, s.Delete(ctx, id))

	assert.Equal(t, 0, snap[0].StackLevel)
	assert.Equal(t, 16.0, snap[0].Periods[0].Limit)

	// Mutating a snapshot must not leak back into the store.
	id2, err := s.Create(ctx, profile("CP-1", 1))
	require.NoError(t, err)
	snap, err = s.ProfilesFor(ctx, "CP-1")
	require.NoError(t, err)
	snap[0].Periods[0].Limit = 1
	again, err := s.Get(ctx, id2)
	require.NoError(t, err)
	assert.Equal(t, 16.0, again.Periods[0].Limit)
}

func TestMemoryStoreMissingIds(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := profile("CP-1", 0)
	p.Id = 42
	assert.ErrorIs(t, s.Replace(ctx, p), ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, 42), ErrNotFound)
}

func TestMemoryStoreListFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	night := profile("CP-1", 2)
	night.Description = "Night cap"
	_, err := s.Create(ctx, night)
	require.NoError(t, err)
	_, err = s.Create(ctx, profile("CP-2", 0))
	require.NoError(t, err)
	cpMax := profile("CP-1", 0)
	cpMax.Purpose = models.PurposeChargePointMax
	_, err = s.Create(ctx, cpMax)
	require.NoError(t, err)

	all, err := s.List(ctx, models.ProfileFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Greater(t, all[0].Id, all[1].Id, "newest first")

	level := 2
	tests := []struct {
		name   string
		filter models.ProfileFilter
		want   int
	}{
		{"charge point", models.ProfileFilter{ChargePointId: "CP-1"}, 2},
		{"purpose", models.ProfileFilter{Purpose: models.PurposeChargePointMax}, 1},
		{"stack level", models.ProfileFilter{StackLevel: &level}, 1},
		{"description", models.ProfileFilter{Description: "night"}, 1},
		{"recurrency", models.ProfileFilter{RecurrencyKind: models.RecurrencyDaily}, 0},
		{"limit", models.ProfileFilter{Limit: 1}, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.List(ctx, tc.filter)
			require.NoError(t, err)
			assert.Len(t, got, tc.want)
		})
	}
}

func TestMemorySessionsTransactionStart(t *testing.T) {
	ctx := context.Background()
	m := NewMemorySessions()
	first := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

	_, err := m.Start(ctx, models.Session{ChargePointId: "CP-1", TransactionId: 5, StartedAt: first})
	require.NoError(t, err)
	id, err := m.Start(ctx, models.Session{ChargePointId: "CP-1", TransactionId: 5, StartedAt: first.Add(time.Hour)})
	require.NoError(t, err)

	got, err := m.TransactionStart(ctx, "CP-1", 5)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Equal(first.Add(time.Hour)))

	require.NoError(t, m.End(ctx, id, first.Add(2*time.Hour), nil))
	s, err := m.FindByTx(ctx, "CP-1", 5)
	require.NoError(t, err)
	require.NotNil(t, s.EndedAt)

	none, err := m.TransactionStart(ctx, "CP-1", 6)
	require.NoError(t, err)
	assert.Nil(t, none)
}
