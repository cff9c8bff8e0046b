package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cpms/internal/models"
	"cpms/internal/repo"
)

type rawEvent struct {
	cp, typ string
	ts      time.Time
}

type eventSink struct{ events []rawEvent }

func (s *eventSink) Append(_ context.Context, e models.GatewayEvent) (int64, error) {
	s.events = append(s.events, rawEvent{cp: e.ChargePointId, typ: e.Type, ts: e.Ts})
	return int64(len(s.events)), nil
}

func newProcessor(skew time.Duration) (*EventsProcessor, *eventSink, *repo.MemoryChargers, *repo.MemorySessions) {
	sink := &eventSink{}
	chargers := repo.NewMemoryChargers()
	sessions := repo.NewMemorySessions()
	p := NewEventsProcessor(sink, chargers, sessions, skew, nil)
	p.now = func() time.Time { return t0 }
	return p, sink, chargers, sessions
}

func TestEventsProcessor_BootRegistersCharger(t *testing.T) {
	p, sink, chargers, _ := newProcessor(0)
	ctx := context.Background()

	typ, err := p.Ingest(ctx, []byte(`{"type":"ChargerBooted","chargePointId":"CP-1","vendor":"ABB","model":"Terra","ocppVersion":"1.6","ts":"2024-03-04T07:59:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, "ChargerBooted", typ)

	c, err := chargers.Get(ctx, "CP-1")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "ABB", c.Vendor)
	assert.Equal(t, "1.6", c.OcppVersion)
	require.NotNil(t, c.LastSeenAt)
	assert.Equal(t, t0.Add(-time.Minute), *c.LastSeenAt)

	require.Len(t, sink.events, 1)
	assert.Equal(t, "CP-1", sink.events[0].cp)
}

func TestEventsProcessor_TransactionLifecycle(t *testing.T) {
	p, _, _, sessions := newProcessor(0)
	ctx := context.Background()

	_, err := p.Ingest(ctx, []byte(`{"type":"TransactionStarted","chargePointId":"CP-1","connectorId":2,"transactionId":7,"idTag":"TAG","ts":"2024-03-04T08:00:00Z"}`))
	require.NoError(t, err)

	started, err := sessions.TransactionStart(ctx, "CP-1", 7)
	require.NoError(t, err)
	require.NotNil(t, started)
	assert.Equal(t, t0, *started)

	_, err = p.Ingest(ctx, []byte(`{"type":"TransactionEnded","chargePointId":"CP-1","transactionId":7,"reason":"EVDisconnected","ts":"2024-03-04T09:00:00Z"}`))
	require.NoError(t, err)

	s, err := sessions.FindByTx(ctx, "CP-1", 7)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 2, s.ConnectorId)
	require.NotNil(t, s.EndedAt)
	assert.Equal(t, t0.Add(time.Hour), *s.EndedAt)
	require.NotNil(t, s.Reason)
	assert.Equal(t, "EVDisconnected", *s.Reason)
}

func TestEventsProcessor_EndOfUnknownTransaction(t *testing.T) {
	p, _, _, _ := newProcessor(0)
	_, err := p.Ingest(context.Background(), []byte(`{"type":"TransactionEnded","chargePointId":"CP-1","transactionId":99}`))
	assert.NoError(t, err)
}

func TestEventsProcessor_SkewedTimestampUsesReceiveTime(t *testing.T) {
	p, sink, _, _ := newProcessor(5 * time.Minute)
	_, err := p.Ingest(context.Background(), []byte(`{"type":"ChargerHeartbeat","chargePointId":"CP-1","ts":"2020-01-01T00:00:00Z"}`))
	require.NoError(t, err)
	require.Len(t, sink.events, 1)
	assert.Equal(t, t0, sink.events[0].ts)
}

func TestEventsProcessor_RejectsMalformed(t *testing.T) {
	p, _, _, _ := newProcessor(0)
	ctx := context.Background()

	_, err := p.Ingest(ctx, []byte(`not json`))
	assert.Error(t, err)
	_, err = p.Ingest(ctx, []byte(`{"chargePointId":"CP-1"}`))
	assert.EqualError(t, err, "missing type")
	_, err = p.Ingest(ctx, []byte(`{"type":"ChargerBooted"}`))
	assert.EqualError(t, err, "missing chargePointId")
}

func TestEventsProcessor_NilEventLog(t *testing.T) {
	p := NewEventsProcessor(nil, repo.NewMemoryChargers(), repo.NewMemorySessions(), 0, nil)
	typ, err := p.Ingest(context.Background(), []byte(`{"type":"MeterValues","chargePointId":"CP-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "MeterValues", typ)
}

func TestEventsProcessor_TransactionEventsNeedIds(t *testing.T) {
	p, sink, _, sessions := newProcessor(0)
	ctx := context.Background()

	tests := []struct {
		name string
		body string
	}{
		{"start without transactionId", `{"type":"TransactionStarted","chargePointId":"CP-1","connectorId":1}`},
		{"start without connectorId", `{"type":"TransactionStarted","chargePointId":"CP-1","transactionId":3}`},
		{"start with fractional transactionId", `{"type":"TransactionStarted","chargePointId":"CP-1","connectorId":1,"transactionId":3.5}`},
		{"start with string transactionId", `{"type":"TransactionStarted","chargePointId":"CP-1","connectorId":1,"transactionId":"3"}`},
		{"end without transactionId", `{"type":"TransactionEnded","chargePointId":"CP-1"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Ingest(ctx, []byte(tc.body))
			assert.Error(t, err)
		})
	}

	assert.Empty(t, sink.events)
	started, err := sessions.TransactionStart(ctx, "CP-1", 0)
	require.NoError(t, err)
	assert.Nil(t, started)
}
