package smartcharging

import (
	"time"

	"cpms/internal/models"
)

// precedence ranks purposes; the highest rank wins regardless of stack level.
func precedence(p models.Purpose) int {
	switch p {
	case models.PurposeTx:
		return 3
	case models.PurposeTxDefault:
		return 2
	case models.PurposeChargePointMax:
		return 1
	}
	return 0
}

// Matches reports whether p applies to scope. Profiles bound to a connector
// or transaction only apply to queries naming the same one; unbound profiles
// apply to the whole charge point.
func Matches(p models.ChargingProfile, scope models.Scope) bool {
	if p.ChargePointId != scope.ChargePointId {
		return false
	}
	if p.ConnectorId != nil && (scope.ConnectorId == nil || *scope.ConnectorId != *p.ConnectorId) {
		return false
	}
	if p.TransactionId != nil && (scope.TransactionId == nil || *scope.TransactionId != *p.TransactionId) {
		return false
	}
	return true
}

// Resolve picks the single effective limit for scope at now out of
// candidates. The winner is chosen by purpose precedence
// (TxProfile > TxDefaultProfile > ChargePointMaxProfile), then by the
// highest stack level. Remaining ties go to the highest profile id, i.e. the
// most recently created profile wins. The result does not depend on the
// order of candidates.
//
// ok is false when no candidate is active, meaning the charger is
// unconstrained.
func Resolve(candidates []models.ChargingProfile, scope models.Scope, now time.Time) (models.EffectiveLimit, bool) {
	var (
		best     models.ChargingProfile
		bestSlot ActivePeriod
		found    bool
	)
	for _, p := range candidates {
		if !Matches(p, scope) {
			continue
		}
		ap, ok := ActiveOffset(p, now, scope.ActivatedAt)
		if !ok {
			continue
		}
		if !found || outranks(p, best) {
			best, bestSlot, found = p, ap, true
		}
	}
	if !found {
		return models.EffectiveLimit{}, false
	}
	return models.EffectiveLimit{
		ProfileId:       best.Id,
		Purpose:         best.Purpose,
		StackLevel:      best.StackLevel,
		Period:          bestSlot.Period,
		PeriodIndex:     bestSlot.Index,
		OffsetSeconds:   bestSlot.Offset,
		RateUnit:        best.RateUnit,
		MinChargingRate: best.MinChargingRate,
	}, true
}

func outranks(a, b models.ChargingProfile) bool {
	if pa, pb := precedence(a.Purpose), precedence(b.Purpose); pa != pb {
		return pa > pb
	}
	if a.StackLevel != b.StackLevel {
		return a.StackLevel > b.StackLevel
	}
	return a.Id > b.Id
}
