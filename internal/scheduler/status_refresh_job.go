package scheduler

import (
	"context"
	"time"

	"github.com/blues/agapay/internal/logger"
	"github.com/go-co-op/gocron/v2"
)

// Refresher 由 logic.CampaignLogic 实现
type Refresher interface {
	Refresh(ctx context.Context) error
}

// StatusRefreshJob 定期重新读取注册表与众筹字段，截止时间到期的众筹在这里变为 failed
type StatusRefreshJob struct {
	campaigns Refresher
	interval  time.Duration
}

// NewStatusRefreshJob 创建状态刷新任务，interval 为秒
func NewStatusRefreshJob(campaigns Refresher, interval int) *StatusRefreshJob {
	if interval <= 0 {
		interval = 60
	}
	return &StatusRefreshJob{
		campaigns: campaigns,
		interval:  time.Duration(interval) * time.Second,
	}
}

// GetName 获取任务名称
func (j *StatusRefreshJob) GetName() string {
	return "campaign_status_refresh"
}

// GetSchedule 获取调度配置
func (j *StatusRefreshJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(j.interval)
}

// Execute 执行任务，单次执行不超过一个周期
func (j *StatusRefreshJob) Execute() {
	ctx, cancel := context.WithTimeout(context.Background(), j.interval)
	defer cancel()

	start := time.Now()
	if err := j.campaigns.Refresh(ctx); err != nil {
		logger.Error("Campaign status refresh failed: %v", err)
		return
	}
	logger.Debug("Campaign status refresh completed in %s", time.Since(start))
}
