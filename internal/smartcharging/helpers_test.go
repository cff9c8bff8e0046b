package smartcharging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cpms/internal/models"
)

var t0 = time.Date(2024, time.March, 4, 8, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func periods(limits ...float64) []models.SchedulePeriod {
	out := make([]models.SchedulePeriod, len(limits))
	for i, l := range limits {
		out[i] = models.SchedulePeriod{StartPeriodSeconds: i * 3600, Limit: l}
	}
	return out
}

func absoluteDraft(cp string) models.ProfileDraft {
	return models.ProfileDraft{
		ChargePointId: cp,
		Purpose:       string(models.PurposeTxDefault),
		Kind:          string(models.KindAbsolute),
		StartSchedule: ptr(t0),
		RateUnit:      string(models.RateUnitAmperes),
		Periods:       periods(16, 32),
	}
}

func recurringDraft(cp string, rk models.RecurrencyKind) models.ProfileDraft {
	d := absoluteDraft(cp)
	d.Kind = string(models.KindRecurring)
	d.RecurrencyKind = ptr(string(rk))
	return d
}

func mustBuild(t *testing.T, id int64, d models.ProfileDraft) models.ChargingProfile {
	t.Helper()
	p, err := Build(id, d)
	require.NoError(t, err)
	return p
}
