package status

import (
	"math/big"
	"testing"
	"time"

	"github.com/blues/agapay/internal/model"
	"github.com/stretchr/testify/assert"
)

var now = time.Unix(1_750_000_000, 0)

func fields(state model.LedgerState, deadline time.Time, balance, goal int64) model.CampaignFields {
	f := model.CampaignFields{}
	f, _ = f.With(model.StateValue(state))
	f, _ = f.With(model.DeadlineValue(deadline))
	f, _ = f.With(model.BalanceValue(big.NewInt(balance)))
	f, _ = f.With(model.GoalValue(big.NewInt(goal)))
	return f
}

func TestResolveScenarios(t *testing.T) {
	tests := []struct {
		name   string
		fields model.CampaignFields
		want   model.CampaignStatus
	}{
		{"open expired below goal", fields(model.LedgerStateOpen, now.Add(-time.Second), 50, 100), model.CampaignStatusFailed},
		{"open running goal met", fields(model.LedgerStateOpen, now.Add(1000*time.Second), 150, 100), model.CampaignStatusSuccessful},
		{"open running below goal", fields(model.LedgerStateOpen, now.Add(1000*time.Second), 50, 100), model.CampaignStatusActive},
		{"open deadline equals now", fields(model.LedgerStateOpen, now, 50, 100), model.CampaignStatusFailed},
		{"open expired goal met", fields(model.LedgerStateOpen, now.Add(-time.Hour), 100, 100), model.CampaignStatusSuccessful},
		{"goal met state wins", fields(model.LedgerStateGoalMet, now.Add(-time.Hour), 0, 100), model.CampaignStatusSuccessful},
		{"expired state wins", fields(model.LedgerStateExpired, now.Add(time.Hour), 500, 100), model.CampaignStatusFailed},
		{"unrecognised state", fields(model.LedgerState(7), now.Add(time.Hour), 50, 100), model.CampaignStatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.fields, now))
		})
	}
}

func TestResolveMissingFields(t *testing.T) {
	full := fields(model.LedgerStateOpen, now.Add(time.Hour), 50, 100)

	// 任意字段组合缺失都返回 unknown
	for mask := 0; mask < 15; mask++ {
		f := full
		if mask&1 == 0 {
			f.State = nil
		}
		if mask&2 == 0 {
			f.Deadline = nil
		}
		if mask&4 == 0 {
			f.Balance = nil
		}
		if mask&8 == 0 {
			f.Goal = nil
		}
		assert.Equal(t, model.CampaignStatusUnknown, Resolve(f, now), "mask %04b", mask)
	}
}

func TestResolveGoalMetIsStable(t *testing.T) {
	f := fields(model.LedgerStateGoalMet, now.Add(time.Hour), 150, 100)
	assert.Equal(t, model.CampaignStatusSuccessful, Resolve(f, now))

	// 之后到达的余额与目标值不影响结果
	f, _ = f.With(model.BalanceValue(big.NewInt(0)))
	f, _ = f.With(model.GoalValue(big.NewInt(1_000_000)))
	assert.Equal(t, model.CampaignStatusSuccessful, Resolve(f, now))
	assert.Equal(t, model.CampaignStatusSuccessful, Resolve(f, now.Add(48*time.Hour)))
}

func TestResolveIsDeterministic(t *testing.T) {
	f := fields(model.LedgerStateOpen, now.Add(time.Minute), 1, 2)
	first := Resolve(f, now)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Resolve(f, now))
	}
}
