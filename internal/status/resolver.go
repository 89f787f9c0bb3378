// Package status 根据链上字段推导众筹生命周期状态。
package status

import (
	"time"

	"github.com/blues/agapay/internal/model"
)

// Resolve 将众筹的链上字段映射为生命周期状态
//
// 任一字段缺失返回 unknown。优先级（先匹配先返回）：
//  1. 链上状态 GoalMet → successful
//  2. 链上状态 Expired → failed
//  3. Open 且已过截止时间且余额小于目标 → failed
//  4. Open 且余额不小于目标 → successful
//  5. Open 且未过截止时间且余额小于目标 → active
//  6. 其他 → unknown
func Resolve(fields model.CampaignFields, now time.Time) model.CampaignStatus {
	if !fields.Complete() {
		return model.CampaignStatusUnknown
	}

	switch *fields.State {
	case model.LedgerStateGoalMet:
		return model.CampaignStatusSuccessful
	case model.LedgerStateExpired:
		return model.CampaignStatusFailed
	case model.LedgerStateOpen:
	default:
		return model.CampaignStatusUnknown
	}

	expired := !now.Before(*fields.Deadline)
	goalMet := fields.Balance.Cmp(fields.Goal) >= 0

	switch {
	case expired && !goalMet:
		return model.CampaignStatusFailed
	case goalMet:
		return model.CampaignStatusSuccessful
	case !expired && !goalMet:
		return model.CampaignStatusActive
	default:
		return model.CampaignStatusUnknown
	}
}
