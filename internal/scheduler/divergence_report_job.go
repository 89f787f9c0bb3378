package scheduler

import (
	"context"
	"time"

	"github.com/blues/agapay/internal/logger"
	"github.com/blues/agapay/internal/metrics"
	"github.com/go-co-op/gocron/v2"
)

// DivergenceCounter 由 repository.DivergenceRepository 实现
type DivergenceCounter interface {
	CountOpen(ctx context.Context) (int64, error)
}

// DivergenceReportJob 统计对账队列中未处理的异常
type DivergenceReportJob struct {
	queue    DivergenceCounter
	monitor  *metrics.Monitor
	interval time.Duration
}

// NewDivergenceReportJob 创建对账检查任务，interval 为秒
func NewDivergenceReportJob(queue DivergenceCounter, monitor *metrics.Monitor, interval int) *DivergenceReportJob {
	if interval <= 0 {
		interval = 60
	}
	return &DivergenceReportJob{
		queue:    queue,
		monitor:  monitor,
		interval: time.Duration(interval) * time.Second,
	}
}

// GetName 获取任务名称
func (j *DivergenceReportJob) GetName() string {
	return "linkage_divergence_report"
}

// GetSchedule 获取调度配置
func (j *DivergenceReportJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(j.interval)
}

// Execute 执行任务
func (j *DivergenceReportJob) Execute() {
	ctx, cancel := context.WithTimeout(context.Background(), j.interval)
	defer cancel()

	open, err := j.queue.CountOpen(ctx)
	if err != nil {
		logger.Error("Failed to count open divergences: %v", err)
		return
	}
	if j.monitor != nil {
		j.monitor.Report.OpenDivergences.Store(open)
	}
	if open > 0 {
		logger.Warn("%d linkage divergences are waiting for reconciliation", open)
	}
}
