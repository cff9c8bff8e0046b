package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cpms/internal/models"
	"cpms/internal/repo"
	"cpms/internal/smartcharging"
)

var t0 = time.Date(2024, time.March, 4, 8, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func draft(cp string, purpose models.Purpose, stack int, limits ...float64) models.ProfileDraft {
	periods := make([]models.SchedulePeriod, len(limits))
	for i, l := range limits {
		periods[i] = models.SchedulePeriod{StartPeriodSeconds: i * 3600, Limit: l}
	}
	return models.ProfileDraft{
		ChargePointId: cp,
		Purpose:       string(purpose),
		Kind:          string(models.KindAbsolute),
		StackLevel:    stack,
		StartSchedule: ptr(t0),
		RateUnit:      string(models.RateUnitAmperes),
		Periods:       periods,
	}
}

type recorded struct {
	mu          sync.Mutex
	validations []string
	queries     []string
	mutations   []string
}

func (r *recorded) ObserveValidation(result, rule string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validations = append(r.validations, result+":"+rule)
}

func (r *recorded) ObserveQuery(result string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, result)
}

func (r *recorded) ObserveMutation(op, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mutations = append(r.mutations, op+":"+result)
}

func newEngine(t *testing.T) (*Engine, *repo.MemoryStore, *repo.MemorySessions, *recorded) {
	t.Helper()
	store := repo.NewMemoryStore()
	sessions := repo.NewMemorySessions()
	rec := &recorded{}
	return NewEngine(store, sessions, rec, nil, 24*time.Hour), store, sessions, rec
}

func TestEngine_SubmitThenQuery(t *testing.T) {
	e, _, _, rec := newEngine(t)
	ctx := context.Background()

	id, err := e.Submit(ctx, draft("CP-1", models.PurposeTxDefault, 0, 16, 32))
	require.NoError(t, err)

	limit, ok, err := e.Query(ctx, models.Scope{ChargePointId: "CP-1"}, t0.Add(90*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, limit.ProfileId)
	assert.Equal(t, 1, limit.PeriodIndex)
	assert.Equal(t, 32.0, limit.Period.Limit)
	assert.Equal(t, int64(5400), limit.OffsetSeconds)

	_, ok, err = e.Query(ctx, models.Scope{ChargePointId: "CP-2"}, t0)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []string{"accepted:"}, rec.validations)
	assert.Equal(t, []string{"create:accepted"}, rec.mutations)
	assert.Equal(t, []string{"limited", "unconstrained"}, rec.queries)
}

func TestEngine_SubmitRejectsInvalidDraft(t *testing.T) {
	e, store, _, rec := newEngine(t)
	d := draft("CP-1", models.PurposeTxDefault, 0, 16)
	d.Periods[0].StartPeriodSeconds = 60

	_, err := e.Submit(context.Background(), d)
	var verr *smartcharging.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, smartcharging.RulePeriods, verr.Rule)

	all, err := store.List(context.Background(), models.ProfileFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Equal(t, []string{"rejected:periods"}, rec.validations)
	assert.Empty(t, rec.mutations)
}

func TestEngine_StackAndPurposePrecedence(t *testing.T) {
	e, _, _, _ := newEngine(t)
	ctx := context.Background()

	_, err := e.Submit(ctx, draft("CP-1", models.PurposeChargePointMax, 9, 10))
	require.NoError(t, err)
	low, err := e.Submit(ctx, draft("CP-1", models.PurposeTxDefault, 1, 20))
	require.NoError(t, err)
	high, err := e.Submit(ctx, draft("CP-1", models.PurposeTxDefault, 3, 30))
	require.NoError(t, err)

	limit, ok, err := e.Query(ctx, models.Scope{ChargePointId: "CP-1"}, t0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, high, limit.ProfileId)

	require.NoError(t, e.Remove(ctx, high))
	limit, ok, err = e.Query(ctx, models.Scope{ChargePointId: "CP-1"}, t0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, low, limit.ProfileId)
}

func TestEngine_ReplaceKeepsIdentity(t *testing.T) {
	e, _, _, _ := newEngine(t)
	ctx := context.Background()

	id, err := e.Submit(ctx, draft("CP-1", models.PurposeTxDefault, 0, 16))
	require.NoError(t, err)

	d := draft("CP-1", models.PurposeTxDefault, 2, 11)
	d.Description = "night cap"
	require.NoError(t, e.Replace(ctx, id, d))

	got, err := e.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.Id)
	assert.Equal(t, 2, got.StackLevel)
	assert.Equal(t, "night cap", got.Description)
	assert.Equal(t, 11.0, got.Periods[0].Limit)
}

func TestEngine_UnknownProfile(t *testing.T) {
	e, _, _, rec := newEngine(t)
	ctx := context.Background()

	err := e.Replace(ctx, 42, draft("CP-1", models.PurposeTxDefault, 0, 16))
	assert.ErrorIs(t, err, ErrProfileNotFound)
	assert.ErrorIs(t, err, repo.ErrNotFound)

	assert.ErrorIs(t, e.Remove(ctx, 42), ErrProfileNotFound)

	_, err = e.Get(ctx, 42)
	assert.ErrorIs(t, err, ErrProfileNotFound)

	assert.Equal(t, []string{"replace:rejected", "delete:rejected"}, rec.mutations)
}

func TestEngine_RelativeProfileAnchoredOnTransactionStart(t *testing.T) {
	e, _, sessions, _ := newEngine(t)
	ctx := context.Background()

	started := t0.Add(2 * time.Hour)
	_, err := sessions.Start(ctx, models.Session{ChargePointId: "CP-1", ConnectorId: 1, TransactionId: 7, StartedAt: started})
	require.NoError(t, err)

	d := draft("CP-1", models.PurposeTx, 0, 6, 12)
	d.Kind = string(models.KindRelative)
	d.StartSchedule = nil
	d.TransactionId = ptr(7)
	d.DurationSeconds = ptr(3 * 3600)
	id, err := e.Submit(ctx, d)
	require.NoError(t, err)

	scope := models.Scope{ChargePointId: "CP-1", TransactionId: ptr(7)}

	limit, ok, err := e.Query(ctx, scope, started.Add(61*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, limit.ProfileId)
	assert.Equal(t, 12.0, limit.Period.Limit)
	assert.Equal(t, int64(3660), limit.OffsetSeconds)

	_, ok, err = e.Query(ctx, scope, started.Add(3*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok, "last second of the run still applies")

	_, ok, err = e.Query(ctx, scope, started.Add(3*time.Hour+time.Second))
	require.NoError(t, err)
	assert.False(t, ok)

	// an explicit activation instant overrides the recorded start
	scope.ActivatedAt = ptr(started.Add(-30 * time.Minute))
	limit, ok, err = e.Query(ctx, scope, started)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1800), limit.OffsetSeconds)

	_, ok, err = e.Query(ctx, models.Scope{ChargePointId: "CP-1", TransactionId: ptr(8)}, started)
	require.NoError(t, err)
	assert.False(t, ok)
}

type failingActivations struct{}

func (failingActivations) TransactionStart(context.Context, string, int) (*time.Time, error) {
	return nil, errors.New("connection refused")
}

func TestEngine_ActivationLookupFailure(t *testing.T) {
	store := repo.NewMemoryStore()
	e := NewEngine(store, failingActivations{}, nil, nil, 0)

	_, _, err := e.Query(context.Background(), models.Scope{ChargePointId: "CP-1", TransactionId: ptr(1)}, t0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CP-1/1")
}

func TestEngine_QueryConnectors(t *testing.T) {
	e, _, _, rec := newEngine(t)
	ctx := context.Background()

	_, err := e.Submit(ctx, draft("CP-1", models.PurposeChargePointMax, 0, 63))
	require.NoError(t, err)
	d := draft("CP-1", models.PurposeTxDefault, 0, 16)
	d.ConnectorId = ptr(2)
	bound, err := e.Submit(ctx, d)
	require.NoError(t, err)

	out, err := e.QueryConnectors(ctx, "CP-1", []int{1, 2, 3}, t0)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, []int{1, 2, 3}, []int{out[0].ConnectorId, out[1].ConnectorId, out[2].ConnectorId})
	require.NotNil(t, out[0].Limit)
	assert.Equal(t, 63.0, out[0].Limit.Period.Limit)
	require.NotNil(t, out[1].Limit)
	assert.Equal(t, bound, out[1].Limit.ProfileId)
	require.NotNil(t, out[2].Limit)
	assert.Equal(t, 63.0, out[2].Limit.Period.Limit)
	assert.Len(t, rec.queries, 3)

	out, err = e.QueryConnectors(ctx, "CP-9", []int{1}, t0)
	require.NoError(t, err)
	assert.Nil(t, out[0].Limit)
}

func TestEngine_QueryIsIdempotent(t *testing.T) {
	e, _, _, _ := newEngine(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := e.Submit(ctx, draft("CP-1", models.PurposeTxDefault, 1, float64(10+i)))
		require.NoError(t, err)
	}

	scope := models.Scope{ChargePointId: "CP-1"}
	first, ok, err := e.Query(ctx, scope, t0)
	require.NoError(t, err)
	require.True(t, ok)
	for i := 0; i < 5; i++ {
		again, _, err := e.Query(ctx, scope, t0)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, 12.0, first.Period.Limit, "newest profile wins a stack level tie")
}

// snapshotThenDelete removes a profile as soon as a snapshot has been taken.
type snapshotThenDelete struct {
	*repo.MemoryStore
	victim int64
}

func (s snapshotThenDelete) ProfilesFor(ctx context.Context, cp string) ([]models.ChargingProfile, error) {
	out, err := s.MemoryStore.ProfilesFor(ctx, cp)
	if err != nil {
		return nil, err
	}
	return out, s.MemoryStore.Delete(ctx, s.victim)
}

func TestEngine_QueryUsesSnapshot(t *testing.T) {
	store := repo.NewMemoryStore()
	e := NewEngine(store, nil, nil, nil, 0)
	ctx := context.Background()

	id, err := e.Submit(ctx, draft("CP-1", models.PurposeTxDefault, 0, 16))
	require.NoError(t, err)

	e.Store = snapshotThenDelete{MemoryStore: store, victim: id}
	limit, ok, err := e.Query(ctx, models.Scope{ChargePointId: "CP-1"}, t0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, limit.ProfileId)

	e.Store = store
	_, ok, err = e.Query(ctx, models.Scope{ChargePointId: "CP-1"}, t0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_CompositeSchedule(t *testing.T) {
	e, _, _, _ := newEngine(t)
	ctx := context.Background()

	_, err := e.Submit(ctx, draft("CP-1", models.PurposeTxDefault, 0, 16, 32))
	require.NoError(t, err)

	out, err := e.CompositeSchedule(ctx, models.Scope{ChargePointId: "CP-1"}, t0.Add(-time.Hour), 4*time.Hour)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Nil(t, out[0].Limit)
	assert.Equal(t, t0, out[0].End)
	require.NotNil(t, out[1].Limit)
	assert.Equal(t, 16.0, out[1].Limit.Period.Limit)
	require.NotNil(t, out[2].Limit)
	assert.Equal(t, 32.0, out[2].Limit.Period.Limit)
	assert.Equal(t, t0.Add(3*time.Hour), out[2].End)
}

func TestEngine_CompositeScheduleWindow(t *testing.T) {
	e, _, _, _ := newEngine(t)
	ctx := context.Background()
	scope := models.Scope{ChargePointId: "CP-1"}

	_, err := e.CompositeSchedule(ctx, scope, t0, 0)
	assert.ErrorIs(t, err, ErrInvalidWindow)

	_, err = e.CompositeSchedule(ctx, scope, t0, 25*time.Hour)
	assert.ErrorIs(t, err, ErrWindowTooLarge)

	out, err := e.CompositeSchedule(ctx, scope, t0, time.Hour)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Nil(t, out[0].Limit)
}
