package models

import "time"

// Purpose is the precedence class of a charging profile.
type Purpose string

const (
	PurposeChargePointMax Purpose = "ChargePointMaxProfile"
	PurposeTxDefault      Purpose = "TxDefaultProfile"
	PurposeTx             Purpose = "TxProfile"
)

func (p Purpose) Valid() bool {
	switch p {
	case PurposeChargePointMax, PurposeTxDefault, PurposeTx:
		return true
	}
	return false
}

// Kind decides how a profile's schedule is anchored in time.
type Kind string

const (
	KindAbsolute  Kind = "Absolute"
	KindRecurring Kind = "Recurring"
	KindRelative  Kind = "Relative"
)

func (k Kind) Valid() bool {
	switch k {
	case KindAbsolute, KindRecurring, KindRelative:
		return true
	}
	return false
}

type RecurrencyKind string

const (
	RecurrencyDaily  RecurrencyKind = "Daily"
	RecurrencyWeekly RecurrencyKind = "Weekly"
)

func (r RecurrencyKind) Valid() bool {
	switch r {
	case RecurrencyDaily, RecurrencyWeekly:
		return true
	}
	return false
}

// RateUnit tags limits as amperes or watts. Values are never converted.
type RateUnit string

const (
	RateUnitAmperes RateUnit = "A"
	RateUnitWatts   RateUnit = "W"
)

func (u RateUnit) Valid() bool {
	switch u {
	case RateUnitAmperes, RateUnitWatts:
		return true
	}
	return false
}

type SchedulePeriod struct {
	StartPeriodSeconds int     `json:"startPeriodInSeconds"`
	Limit              float64 `json:"powerLimit"`
	NumberPhases       *int    `json:"numberPhases,omitempty"`
}

// ChargingProfile is an accepted, immutable profile. Instances are only
// produced by smartcharging.Build; an update replaces the whole value.
type ChargingProfile struct {
	Id              int64
	ChargePointId   string
	ConnectorId     *int
	TransactionId   *int
	Purpose         Purpose
	Kind            Kind
	RecurrencyKind  *RecurrencyKind
	StackLevel      int
	ValidFrom       *time.Time
	ValidTo         *time.Time
	DurationSeconds *int
	StartSchedule   *time.Time
	RateUnit        RateUnit
	MinChargingRate *float64
	Periods         []SchedulePeriod
	Description     string
	Note            string
}

// Clone returns a deep copy so a snapshot never shares mutable state with
// the store that produced it.
func (p ChargingProfile) Clone() ChargingProfile {
	out := p
	out.ConnectorId = clonePtr(p.ConnectorId)
	out.TransactionId = clonePtr(p.TransactionId)
	out.RecurrencyKind = clonePtr(p.RecurrencyKind)
	out.ValidFrom = clonePtr(p.ValidFrom)
	out.ValidTo = clonePtr(p.ValidTo)
	out.DurationSeconds = clonePtr(p.DurationSeconds)
	out.StartSchedule = clonePtr(p.StartSchedule)
	out.MinChargingRate = clonePtr(p.MinChargingRate)
	out.Periods = make([]SchedulePeriod, len(p.Periods))
	for i, sp := range p.Periods {
		sp.NumberPhases = clonePtr(sp.NumberPhases)
		out.Periods[i] = sp
	}
	return out
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// ProfileDraft is the editable shape submitted by operators. Enum fields are
// plain strings so that unknown values reach the validator and are reported
// precisely instead of failing at decode time.
type ProfileDraft struct {
	ChargePointId   string           `json:"chargePointId"`
	ConnectorId     *int             `json:"connectorId,omitempty"`
	TransactionId   *int             `json:"transactionId,omitempty"`
	Purpose         string           `json:"chargingProfilePurpose"`
	Kind            string           `json:"chargingProfileKind"`
	RecurrencyKind  *string          `json:"recurrencyKind,omitempty"`
	StackLevel      int              `json:"stackLevel"`
	ValidFrom       *time.Time       `json:"validFrom,omitempty"`
	ValidTo         *time.Time       `json:"validTo,omitempty"`
	DurationSeconds *int             `json:"durationInSeconds,omitempty"`
	StartSchedule   *time.Time       `json:"startSchedule,omitempty"`
	RateUnit        string           `json:"chargingRateUnit"`
	MinChargingRate *float64         `json:"minChargingRate,omitempty"`
	Periods         []SchedulePeriod `json:"schedulePeriods"`
	Description     string           `json:"description,omitempty"`
	Note            string           `json:"note,omitempty"`
}

// Scope selects the charge point, and optionally the connector and
// transaction, a limit is resolved for.
type Scope struct {
	ChargePointId string
	ConnectorId   *int
	TransactionId *int
	// ActivatedAt anchors Relative profiles, typically the transaction start.
	ActivatedAt *time.Time
}

// EffectiveLimit is the single winning constraint for a scope at an instant.
type EffectiveLimit struct {
	ProfileId       int64
	Purpose         Purpose
	StackLevel      int
	Period          SchedulePeriod
	PeriodIndex     int
	OffsetSeconds   int64
	RateUnit        RateUnit
	MinChargingRate *float64
}

// ProfileFilter narrows the profile overview listing. Zero values match all.
type ProfileFilter struct {
	ChargePointId  string
	Purpose        Purpose
	Kind           Kind
	RecurrencyKind RecurrencyKind
	StackLevel     *int
	Description    string
	ValidFrom      *time.Time
	ValidTo        *time.Time
	Limit          int
}
