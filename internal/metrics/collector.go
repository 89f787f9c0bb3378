package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector 将 Report 中的计数转换为 Prometheus 指标
type Collector struct {
	monitor *Monitor

	FieldReads         *prometheus.Desc
	FieldReadErrors    *prometheus.Desc
	Transactions       *prometheus.Desc
	Approvals          *prometheus.Desc
	Rejections         *prometheus.Desc
	OpenDivergences    *prometheus.Desc
	CampaignsRequested *prometheus.Desc
	CampaignsResolved  *prometheus.Desc
	RefreshRuns        *prometheus.Desc
	RefreshErrors      *prometheus.Desc
}

// NewCollector 创建采集器
func NewCollector(m *Monitor) *Collector {
	labels := prometheus.Labels{
		"app": "agapay",
	}

	return &Collector{
		monitor:            m,
		FieldReads:         prometheus.NewDesc("agapay_field_reads_total", "Campaign field reads issued", nil, labels),
		FieldReadErrors:    prometheus.NewDesc("agapay_field_read_errors_total", "Campaign field reads that failed", nil, labels),
		Transactions:       prometheus.NewDesc("agapay_transactions_total", "Ledger transactions by result", []string{"result"}, labels),
		Approvals:          prometheus.NewDesc("agapay_approvals_total", "Approval attempts by outcome", []string{"outcome"}, labels),
		Rejections:         prometheus.NewDesc("agapay_rejections_total", "Moderation rejections", nil, labels),
		OpenDivergences:    prometheus.NewDesc("agapay_open_divergences", "Unresolved linkage divergences", nil, labels),
		CampaignsRequested: prometheus.NewDesc("agapay_campaigns_requested", "Campaigns in the last refresh", nil, labels),
		CampaignsResolved:  prometheus.NewDesc("agapay_campaigns_resolved", "Campaigns with a resolved status in the last refresh", nil, labels),
		RefreshRuns:        prometheus.NewDesc("agapay_refresh_runs_total", "Status refresh runs", nil, labels),
		RefreshErrors:      prometheus.NewDesc("agapay_refresh_errors_total", "Status refresh runs that failed", nil, labels),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.FieldReads
	ch <- c.FieldReadErrors
	ch <- c.Transactions
	ch <- c.Approvals
	ch <- c.Rejections
	ch <- c.OpenDivergences
	ch <- c.CampaignsRequested
	ch <- c.CampaignsResolved
	ch <- c.RefreshRuns
	ch <- c.RefreshErrors
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	r := &c.monitor.Report

	ch <- prometheus.MustNewConstMetric(c.FieldReads, prometheus.CounterValue, float64(r.FieldReads.Load()))
	ch <- prometheus.MustNewConstMetric(c.FieldReadErrors, prometheus.CounterValue, float64(r.FieldReadErrors.Load()))

	ch <- prometheus.MustNewConstMetric(c.Transactions, prometheus.CounterValue, float64(r.TxConfirmed.Load()), "confirmed")
	ch <- prometheus.MustNewConstMetric(c.Transactions, prometheus.CounterValue, float64(r.TxCancelled.Load()), "cancelled")
	ch <- prometheus.MustNewConstMetric(c.Transactions, prometheus.CounterValue, float64(r.TxReverted.Load()), "reverted")
	ch <- prometheus.MustNewConstMetric(c.Transactions, prometheus.CounterValue, float64(r.TxFailed.Load()), "failed")

	ch <- prometheus.MustNewConstMetric(c.Approvals, prometheus.CounterValue, float64(r.ApprovalsLinked.Load()), "linked")
	ch <- prometheus.MustNewConstMetric(c.Approvals, prometheus.CounterValue, float64(r.ApprovalsFailed.Load()), "failed")
	ch <- prometheus.MustNewConstMetric(c.Approvals, prometheus.CounterValue, float64(r.ApprovalsDiverged.Load()), "diverged")
	ch <- prometheus.MustNewConstMetric(c.Rejections, prometheus.CounterValue, float64(r.Rejections.Load()))

	ch <- prometheus.MustNewConstMetric(c.OpenDivergences, prometheus.GaugeValue, float64(r.OpenDivergences.Load()))
	ch <- prometheus.MustNewConstMetric(c.CampaignsRequested, prometheus.GaugeValue, float64(r.CampaignsRequested.Load()))
	ch <- prometheus.MustNewConstMetric(c.CampaignsResolved, prometheus.GaugeValue, float64(r.CampaignsResolved.Load()))
	ch <- prometheus.MustNewConstMetric(c.RefreshRuns, prometheus.CounterValue, float64(r.RefreshRuns.Load()))
	ch <- prometheus.MustNewConstMetric(c.RefreshErrors, prometheus.CounterValue, float64(r.RefreshErrors.Load()))
}
