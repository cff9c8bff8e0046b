// Package smartcharging validates charging profiles and resolves the
// effective limit for a charge point at a given instant. Everything here is
// pure: no I/O, no shared state, safe for concurrent use.
package smartcharging

import (
	"fmt"
	"math"

	"cpms/internal/models"
)

// Rule identifies the validation rule a draft violated.
type Rule string

const (
	RulePeriods       Rule = "periods"
	RuleRecurrency    Rule = "recurrency"
	RuleValidity      Rule = "validity"
	RuleDuration      Rule = "duration"
	RuleLimits        Rule = "limits"
	RulePurpose       Rule = "purpose"
	RuleRateUnit      Rule = "rate_unit"
	RuleStackLevel    Rule = "stack_level"
	RuleStartSchedule Rule = "start_schedule"
	RuleChargePoint   Rule = "charge_point"
)

// ValidationError reports the first violated rule of a rejected draft.
type ValidationError struct {
	Rule    Rule
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid charging profile: %s: %s", e.Field, e.Message)
}

func reject(rule Rule, field, format string, args ...any) *ValidationError {
	return &ValidationError{Rule: rule, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate checks a draft and returns nil or a *ValidationError. Rules run
// in a fixed order and the first failure is reported.
func Validate(d models.ProfileDraft) error {
	if err := validate(d); err != nil {
		return err
	}
	return nil
}

func validate(d models.ProfileDraft) *ValidationError {
	if err := checkPeriods(d.Periods); err != nil {
		return err
	}
	if err := checkRecurrency(d); err != nil {
		return err
	}
	if d.ValidFrom != nil && d.ValidTo != nil && !d.ValidFrom.Before(*d.ValidTo) {
		return reject(RuleValidity, "validTo", "validFrom (%s) must be before validTo (%s)", d.ValidFrom.UTC(), d.ValidTo.UTC())
	}
	if models.Kind(d.Kind) == models.KindRelative {
		if d.DurationSeconds == nil {
			return reject(RuleDuration, "durationInSeconds", "required for Relative profiles")
		}
		if *d.DurationSeconds <= 0 {
			return reject(RuleDuration, "durationInSeconds", "must be positive, got %d", *d.DurationSeconds)
		}
	}
	for i, p := range d.Periods {
		if p.Limit < 0 || math.IsNaN(p.Limit) || math.IsInf(p.Limit, 0) {
			return reject(RuleLimits, fmt.Sprintf("schedulePeriods[%d].powerLimit", i), "must be a non-negative number, got %v", p.Limit)
		}
	}
	if d.MinChargingRate != nil && (*d.MinChargingRate < 0 || math.IsNaN(*d.MinChargingRate) || math.IsInf(*d.MinChargingRate, 0)) {
		return reject(RuleLimits, "minChargingRate", "must be a non-negative number, got %v", *d.MinChargingRate)
	}
	if !models.Purpose(d.Purpose).Valid() {
		return reject(RulePurpose, "chargingProfilePurpose", "unknown purpose %q", d.Purpose)
	}
	if !models.RateUnit(d.RateUnit).Valid() {
		return reject(RuleRateUnit, "chargingRateUnit", "unknown rate unit %q", d.RateUnit)
	}
	if d.StackLevel < 0 {
		return reject(RuleStackLevel, "stackLevel", "must be non-negative, got %d", d.StackLevel)
	}
	if models.Kind(d.Kind) != models.KindRelative && d.StartSchedule == nil {
		return reject(RuleStartSchedule, "startSchedule", "required for %s profiles", d.Kind)
	}
	if d.ChargePointId == "" {
		return reject(RuleChargePoint, "chargePointId", "must not be empty")
	}
	return nil
}

func checkPeriods(periods []models.SchedulePeriod) *ValidationError {
	if len(periods) == 0 {
		return reject(RulePeriods, "schedulePeriods", "at least one period is required")
	}
	if periods[0].StartPeriodSeconds != 0 {
		return reject(RulePeriods, "schedulePeriods[0].startPeriodInSeconds", "first period must start at 0, got %d", periods[0].StartPeriodSeconds)
	}
	for i := 1; i < len(periods); i++ {
		if periods[i].StartPeriodSeconds <= periods[i-1].StartPeriodSeconds {
			return reject(RulePeriods, fmt.Sprintf("schedulePeriods[%d].startPeriodInSeconds", i),
				"must be greater than %d, got %d", periods[i-1].StartPeriodSeconds, periods[i].StartPeriodSeconds)
		}
	}
	return nil
}

func checkRecurrency(d models.ProfileDraft) *ValidationError {
	kind := models.Kind(d.Kind)
	switch kind {
	case models.KindRecurring:
		if d.RecurrencyKind == nil {
			return reject(RuleRecurrency, "recurrencyKind", "required for Recurring profiles")
		}
		if !models.RecurrencyKind(*d.RecurrencyKind).Valid() {
			return reject(RuleRecurrency, "recurrencyKind", "unknown recurrency kind %q", *d.RecurrencyKind)
		}
	case models.KindAbsolute, models.KindRelative:
		if d.RecurrencyKind != nil {
			return reject(RuleRecurrency, "recurrencyKind", "not allowed for %s profiles", kind)
		}
	default:
		return reject(RuleRecurrency, "chargingProfileKind", "unknown profile kind %q", d.Kind)
	}
	return nil
}

// Build validates a draft and turns it into an immutable profile carrying
// the given identity. The draft's slices and pointers are copied.
func Build(id int64, d models.ProfileDraft) (models.ChargingProfile, error) {
	if err := Validate(d); err != nil {
		return models.ChargingProfile{}, err
	}
	p := models.ChargingProfile{
		Id:              id,
		ChargePointId:   d.ChargePointId,
		ConnectorId:     d.ConnectorId,
		TransactionId:   d.TransactionId,
		Purpose:         models.Purpose(d.Purpose),
		Kind:            models.Kind(d.Kind),
		StackLevel:      d.StackLevel,
		ValidFrom:       d.ValidFrom,
		ValidTo:         d.ValidTo,
		DurationSeconds: d.DurationSeconds,
		StartSchedule:   d.StartSchedule,
		RateUnit:        models.RateUnit(d.RateUnit),
		MinChargingRate: d.MinChargingRate,
		Periods:         d.Periods,
		Description:     d.Description,
		Note:            d.Note,
	}
	if d.RecurrencyKind != nil {
		rk := models.RecurrencyKind(*d.RecurrencyKind)
		p.RecurrencyKind = &rk
	}
	return p.Clone(), nil
}

// Draft converts an accepted profile back into its editable shape.
func Draft(p models.ChargingProfile) models.ProfileDraft {
	c := p.Clone()
	d := models.ProfileDraft{
		ChargePointId:   c.ChargePointId,
		ConnectorId:     c.ConnectorId,
		TransactionId:   c.TransactionId,
		Purpose:         string(c.Purpose),
		Kind:            string(c.Kind),
		StackLevel:      c.StackLevel,
		ValidFrom:       c.ValidFrom,
		ValidTo:         c.ValidTo,
		DurationSeconds: c.DurationSeconds,
		StartSchedule:   c.StartSchedule,
		RateUnit:        string(c.RateUnit),
		MinChargingRate: c.MinChargingRate,
		Periods:         c.Periods,
		Description:     c.Description,
		Note:            c.Note,
	}
	if c.RecurrencyKind != nil {
		rk := string(*c.RecurrencyKind)
		d.RecurrencyKind = &rk
	}
	return d
}
