package models

import "time"

type Charger struct {
	ChargePointId string
	IsActive      bool
	Vendor        string
	Model         string
	OcppVersion   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastSeenAt    *time.Time
}

// Session is a charging transaction as reported by the gateway. Its
// StartedAt is the activation instant of Relative profiles bound to it.
type Session struct {
	SessionId     string
	ChargePointId string
	ConnectorId   int
	TransactionId int
	IdTag         string
	StartedAt     time.Time
	EndedAt       *time.Time
	Reason        *string
}

// GatewayEvent is a raw event as received from the OCPP gateway, with its
// timestamp already clamped to the accepted skew.
type GatewayEvent struct {
	ChargePointId string
	Type          string
	Ts            time.Time
	Payload       []byte
}
