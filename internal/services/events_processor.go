package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"cpms/internal/logger"
	"cpms/internal/models"
)

// EventLog keeps every accepted gateway event. It is the audit trail for
// the transaction starts that anchor Relative profiles.
type EventLog interface {
	Append(ctx context.Context, e models.GatewayEvent) (int64, error)
}

type ChargerRegistry interface {
	Get(ctx context.Context, id string) (*models.Charger, error)
	Upsert(ctx context.Context, c models.Charger) error
	TouchLastSeen(ctx context.Context, id string, t time.Time) error
}

type SessionLog interface {
	Start(ctx context.Context, s models.Session) (string, error)
	FindByTx(ctx context.Context, cp string, tx int) (*models.Session, error)
	End(ctx context.Context, sessionId string, endedAt time.Time, reason *string) error
}

// EventsProcessor ingests gateway events. Transaction starts recorded here
// are the activation instants of Relative charging profiles.
type EventsProcessor struct {
	Events   EventLog
	Chargers ChargerRegistry
	Sessions SessionLog
	MaxSkew  time.Duration
	Log      logger.Logger
	now      func() time.Time
}

func NewEventsProcessor(e EventLog, c ChargerRegistry, s SessionLog, maxSkew time.Duration, log logger.Logger) *EventsProcessor {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &EventsProcessor{Events: e, Chargers: c, Sessions: s, MaxSkew: maxSkew, Log: log, now: time.Now}
}

type baseEvent struct {
	Type string `json:"type"`
}

func (p *EventsProcessor) Ingest(ctx context.Context, raw []byte) (string, error) {
	var b baseEvent
	if err := json.Unmarshal(raw, &b); err != nil {
		return "", err
	}
	if b.Type == "" {
		return "", errors.New("missing type")
	}

	var envelope map[string]any
	_ = json.Unmarshal(raw, &envelope)

	cp, _ := envelope["chargePointId"].(string)
	tsStr, _ := envelope["ts"].(string)
	if cp == "" {
		return "", errors.New("missing chargePointId")
	}

	ts := p.now().UTC()
	if tsStr != "" {
		if t, err := time.Parse(time.RFC3339, tsStr); err == nil {
			ts = t.UTC()
		}
	}
	if p.MaxSkew > 0 {
		now := p.now().UTC()
		if ts.Before(now.Add(-p.MaxSkew)) || ts.After(now.Add(p.MaxSkew)) {
			p.Log.Warnf("event %s from %s outside skew window, using receive time", b.Type, cp)
			ts = now
		}
	}

	if err := requireIds(b.Type, envelope); err != nil {
		return b.Type, err
	}

	if p.Events != nil {
		id, err := p.Events.Append(ctx, models.GatewayEvent{ChargePointId: cp, Type: b.Type, Ts: ts, Payload: raw})
		if err != nil {
			return b.Type, err
		}
		p.Log.Debugf("event %d (%s) logged for %s", id, b.Type, cp)
	}

	switch b.Type {
	case "ChargerBooted":
		vendor, _ := envelope["vendor"].(string)
		model, _ := envelope["model"].(string)
		ocpp, _ := envelope["ocppVersion"].(string)

		existing, err := p.Chargers.Get(ctx, cp)
		if err != nil {
			return b.Type, err
		}
		if existing != nil {
			_ = p.Chargers.TouchLastSeen(ctx, cp, ts)
		} else {
			if err := p.Chargers.Upsert(ctx, models.Charger{
				ChargePointId: cp,
				IsActive:      true,
				Vendor:        vendor,
				Model:         model,
				OcppVersion:   ocpp,
			}); err != nil {
				return b.Type, err
			}
			_ = p.Chargers.TouchLastSeen(ctx, cp, ts)
		}

	case "ChargerHeartbeat":
		_ = p.Chargers.TouchLastSeen(ctx, cp, ts)

	case "TransactionStarted":
		connId, _ := intFromAny(envelope["connectorId"])
		txId, _ := intFromAny(envelope["transactionId"])
		idTag, _ := envelope["idTag"].(string)

		if _, err := p.Sessions.Start(ctx, models.Session{
			ChargePointId: cp,
			ConnectorId:   connId,
			TransactionId: txId,
			IdTag:         idTag,
			StartedAt:     ts,
		}); err != nil {
			return b.Type, err
		}
		p.Log.Infof("transaction %d started on %s/%d", txId, cp, connId)
		_ = p.Chargers.TouchLastSeen(ctx, cp, ts)

	case "TransactionEnded":
		txId, _ := intFromAny(envelope["transactionId"])
		sess, err := p.Sessions.FindByTx(ctx, cp, txId)
		if err != nil {
			return b.Type, err
		}
		if sess == nil {
			p.Log.Warnf("end of unknown transaction %d on %s", txId, cp)
			return b.Type, nil
		}
		var reason *string
		if v, ok := envelope["reason"].(string); ok {
			reason = &v
		}
		if err := p.Sessions.End(ctx, sess.SessionId, ts, reason); err != nil {
			return b.Type, err
		}
		_ = p.Chargers.TouchLastSeen(ctx, cp, ts)

	default:
		p.Log.Debugf("ignoring event %s from %s", b.Type, cp)
	}

	return b.Type, nil
}

// requireIds rejects transaction events that do not name their ids. A
// missing transactionId would otherwise be recorded as transaction 0.
func requireIds(eventType string, envelope map[string]any) error {
	var keys []string
	switch eventType {
	case "TransactionStarted":
		keys = []string{"connectorId", "transactionId"}
	case "TransactionEnded":
		keys = []string{"transactionId"}
	}
	for _, k := range keys {
		if _, ok := intFromAny(envelope[k]); !ok {
			return fmt.Errorf("%s: missing or non-integer %s", eventType, k)
		}
	}
	return nil
}

func intFromAny(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		if t != math.Trunc(t) {
			return 0, false
		}
		return int(t), true
	case int:
		return t, true
	case int64:
		return int(t), true
	default:
		return 0, false
	}
}
