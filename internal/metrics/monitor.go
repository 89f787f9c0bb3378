// Package metrics 统计服务运行指标并以 Prometheus 格式导出。
package metrics

import (
	"net/http"

	"github.com/blues/agapay/internal/errs"
	"github.com/blues/agapay/internal/model"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

// Report 运行计数
type Report struct {
	FieldReads      atomic.Uint64 `json:"field_reads"`
	FieldReadErrors atomic.Uint64 `json:"field_read_errors"`

	TxConfirmed atomic.Uint64 `json:"tx_confirmed"`
	TxCancelled atomic.Uint64 `json:"tx_cancelled"`
	TxReverted  atomic.Uint64 `json:"tx_reverted"`
	TxFailed    atomic.Uint64 `json:"tx_failed"`

	ApprovalsLinked   atomic.Uint64 `json:"approvals_linked"`
	ApprovalsFailed   atomic.Uint64 `json:"approvals_failed"`
	ApprovalsDiverged atomic.Uint64 `json:"approvals_diverged"`
	Rejections        atomic.Uint64 `json:"rejections"`

	OpenDivergences    atomic.Int64 `json:"open_divergences"`
	CampaignsRequested atomic.Int64 `json:"campaigns_requested"`
	CampaignsResolved  atomic.Int64 `json:"campaigns_resolved"`

	RefreshRuns   atomic.Uint64 `json:"refresh_runs"`
	RefreshErrors atomic.Uint64 `json:"refresh_errors"`
}

// Monitor 保存计数并提供 Prometheus 采集器
type Monitor struct {
	Report    Report
	collector *Collector
}

// NewMonitor 创建监控
func NewMonitor() *Monitor {
	m := new(Monitor)
	m.collector = NewCollector(m)
	return m
}

// GetPrometheusCollector 返回采集器
func (m *Monitor) GetPrometheusCollector() prometheus.Collector {
	return m.collector
}

// ObserveFieldRead 记录一次字段读取
func (m *Monitor) ObserveFieldRead(field model.FieldName, err error) {
	m.Report.FieldReads.Inc()
	if err != nil {
		m.Report.FieldReadErrors.Inc()
	}
}

// ObserveTx 按错误类别记录一次交易结果
func (m *Monitor) ObserveTx(err error) {
	switch errs.KindOf(err) {
	case "":
		m.Report.TxConfirmed.Inc()
	case errs.KindUserCancelled:
		m.Report.TxCancelled.Inc()
	case errs.KindTransactionReverted:
		m.Report.TxReverted.Inc()
	default:
		m.Report.TxFailed.Inc()
	}
}

// ObserveRefresh 记录一次状态刷新
func (m *Monitor) ObserveRefresh(requested, resolved int, err error) {
	m.Report.RefreshRuns.Inc()
	if err != nil {
		m.Report.RefreshErrors.Inc()
		return
	}
	m.Report.CampaignsRequested.Store(int64(requested))
	m.Report.CampaignsResolved.Store(int64(resolved))
}

// OnGetState 以 JSON 返回当前计数
func (m *Monitor) OnGetState(c *gin.Context) {
	c.JSON(http.StatusOK, &m.Report)
}
