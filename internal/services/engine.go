package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"cpms/internal/logger"
	"cpms/internal/metrics"
	"cpms/internal/models"
	"cpms/internal/repo"
	"cpms/internal/smartcharging"
)

var (
	// ErrProfileNotFound is returned when a profile id is unknown.
	ErrProfileNotFound = fmt.Errorf("charging profile: %w", repo.ErrNotFound)
	// ErrWindowTooLarge is returned for composite schedules beyond the configured maximum.
	ErrWindowTooLarge = errors.New("composite schedule: window too large")
	// ErrInvalidWindow is returned for empty or negative composite windows.
	ErrInvalidWindow = errors.New("composite schedule: window must be positive")
)

// ProfileStore persists accepted profiles. ProfilesFor must return a
// consistent point-in-time snapshot that callers may keep using after
// later writes.
type ProfileStore interface {
	ProfilesFor(ctx context.Context, chargePointId string) ([]models.ChargingProfile, error)
	Create(ctx context.Context, p models.ChargingProfile) (int64, error)
	Replace(ctx context.Context, p models.ChargingProfile) error
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (*models.ChargingProfile, error)
	List(ctx context.Context, f models.ProfileFilter) ([]models.ChargingProfile, error)
}

// ActivationSource reports when a transaction started. Relative profiles
// bound to a transaction run from that instant.
type ActivationSource interface {
	TransactionStart(ctx context.Context, chargePointId string, transactionId int) (*time.Time, error)
}

// Engine validates profiles on the way in and resolves effective limits on
// the way out. It holds no state between calls: every query works on a fresh
// snapshot from the store.
type Engine struct {
	Store       ProfileStore
	Activations ActivationSource
	Metrics     metrics.Recorder
	Log         logger.Logger
	MaxWindow   time.Duration
}

func NewEngine(store ProfileStore, activations ActivationSource, rec metrics.Recorder, log logger.Logger, maxWindow time.Duration) *Engine {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Engine{Store: store, Activations: activations, Metrics: rec, Log: log, MaxWindow: maxWindow}
}

// Validate checks a draft without storing it.
func (e *Engine) Validate(d models.ProfileDraft) error {
	err := smartcharging.Validate(d)
	var verr *smartcharging.ValidationError
	if errors.As(err, &verr) {
		e.Metrics.ObserveValidation(metrics.ResultRejected, string(verr.Rule))
		return err
	}
	e.Metrics.ObserveValidation(metrics.ResultAccepted, "")
	return err
}

// Submit validates d and stores it as a new profile.
func (e *Engine) Submit(ctx context.Context, d models.ProfileDraft) (int64, error) {
	if err := e.Validate(d); err != nil {
		return 0, err
	}
	p, err := smartcharging.Build(0, d)
	if err != nil {
		return 0, err
	}
	id, err := e.Store.Create(ctx, p)
	if err != nil {
		e.Metrics.ObserveMutation("create", metrics.ResultError)
		return 0, fmt.Errorf("create profile: %w", err)
	}
	e.Metrics.ObserveMutation("create", metrics.ResultAccepted)
	e.Log.Infof("profile %d created for %s (%s, stack level %d)", id, p.ChargePointId, p.Purpose, p.StackLevel)
	return id, nil
}

// Replace swaps profile id for the validated draft in one step.
func (e *Engine) Replace(ctx context.Context, id int64, d models.ProfileDraft) error {
	if err := e.Validate(d); err != nil {
		return err
	}
	p, err := smartcharging.Build(id, d)
	if err != nil {
		return err
	}
	if err := e.Store.Replace(ctx, p); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			e.Metrics.ObserveMutation("replace", metrics.ResultRejected)
			return ErrProfileNotFound
		}
		e.Metrics.ObserveMutation("replace", metrics.ResultError)
		return fmt.Errorf("replace profile %d: %w", id, err)
	}
	e.Metrics.ObserveMutation("replace", metrics.ResultAccepted)
	e.Log.Infof("profile %d replaced", id)
	return nil
}

func (e *Engine) Remove(ctx context.Context, id int64) error {
	if err := e.Store.Delete(ctx, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			e.Metrics.ObserveMutation("delete", metrics.ResultRejected)
			return ErrProfileNotFound
		}
		e.Metrics.ObserveMutation("delete", metrics.ResultError)
		return fmt.Errorf("delete profile %d: %w", id, err)
	}
	e.Metrics.ObserveMutation("delete", metrics.ResultAccepted)
	e.Log.Infof("profile %d deleted", id)
	return nil
}

func (e *Engine) Get(ctx context.Context, id int64) (models.ChargingProfile, error) {
	p, err := e.Store.Get(ctx, id)
	if err != nil {
		return models.ChargingProfile{}, fmt.Errorf("get profile %d: %w", id, err)
	}
	if p == nil {
		return models.ChargingProfile{}, ErrProfileNotFound
	}
	return *p, nil
}

func (e *Engine) List(ctx context.Context, f models.ProfileFilter) ([]models.ChargingProfile, error) {
	out, err := e.Store.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return out, nil
}

// Query returns the effective limit for scope at now. ok is false when no
// profile applies, which means the charger runs unconstrained.
func (e *Engine) Query(ctx context.Context, scope models.Scope, now time.Time) (models.EffectiveLimit, bool, error) {
	started := time.Now()
	snapshot, scope, err := e.prepare(ctx, scope)
	if err != nil {
		e.Metrics.ObserveQuery(metrics.ResultError, time.Since(started))
		return models.EffectiveLimit{}, false, err
	}
	limit, ok := smartcharging.Resolve(snapshot, scope, now)
	result := metrics.ResultUnconstrained
	if ok {
		result = metrics.ResultLimited
	}
	e.Metrics.ObserveQuery(result, time.Since(started))
	e.Log.Debugw("limit resolved", map[string]any{
		"chargePointId": scope.ChargePointId,
		"candidates":    len(snapshot),
		"result":        result,
		"profileId":     limit.ProfileId,
	})
	return limit, ok, nil
}

// ConnectorLimit is the outcome of resolving one connector.
type ConnectorLimit struct {
	ConnectorId int
	Limit       *models.EffectiveLimit
}

// QueryConnectors resolves several connectors of one charge point against a
// single snapshot, in parallel.
func (e *Engine) QueryConnectors(ctx context.Context, chargePointId string, connectors []int, now time.Time) ([]ConnectorLimit, error) {
	started := time.Now()
	snapshot, err := e.Store.ProfilesFor(ctx, chargePointId)
	if err != nil {
		e.Metrics.ObserveQuery(metrics.ResultError, time.Since(started))
		return nil, fmt.Errorf("load profiles for %s: %w", chargePointId, err)
	}

	out := make([]ConnectorLimit, len(connectors))
	var g errgroup.Group
	for i, c := range connectors {
		g.Go(func() error {
			scope := models.Scope{ChargePointId: chargePointId, ConnectorId: &c}
			out[i] = ConnectorLimit{ConnectorId: c}
			if l, ok := smartcharging.Resolve(snapshot, scope, now); ok {
				out[i].Limit = &l
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, cl := range out {
		result := metrics.ResultUnconstrained
		if cl.Limit != nil {
			result = metrics.ResultLimited
		}
		e.Metrics.ObserveQuery(result, time.Since(started))
	}
	return out, nil
}

// CompositeSchedule returns the piecewise effective limit of scope over
// [from, from+window).
func (e *Engine) CompositeSchedule(ctx context.Context, scope models.Scope, from time.Time, window time.Duration) ([]smartcharging.CompositePeriod, error) {
	if window <= 0 {
		return nil, ErrInvalidWindow
	}
	if e.MaxWindow > 0 && window > e.MaxWindow {
		return nil, fmt.Errorf("%w: %s exceeds %s", ErrWindowTooLarge, window, e.MaxWindow)
	}
	snapshot, scope, err := e.prepare(ctx, scope)
	if err != nil {
		return nil, err
	}
	return smartcharging.Composite(snapshot, scope, from, window), nil
}

// prepare loads the snapshot for scope and fills in the activation instant
// from the transaction start when the caller did not provide one.
func (e *Engine) prepare(ctx context.Context, scope models.Scope) ([]models.ChargingProfile, models.Scope, error) {
	snapshot, err := e.Store.ProfilesFor(ctx, scope.ChargePointId)
	if err != nil {
		return nil, scope, fmt.Errorf("load profiles for %s: %w", scope.ChargePointId, err)
	}
	if scope.ActivatedAt == nil && scope.TransactionId != nil && e.Activations != nil {
		started, err := e.Activations.TransactionStart(ctx, scope.ChargePointId, *scope.TransactionId)
		if err != nil {
			return nil, scope, fmt.Errorf("transaction start for %s/%d: %w", scope.ChargePointId, *scope.TransactionId, err)
		}
		scope.ActivatedAt = started
	}
	return snapshot, scope, nil
}
