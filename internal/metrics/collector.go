package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PipelineStats provides the metrics collector access to pipeline state.
type PipelineStats interface {
	QueuedJobCount() int64
	ActiveJobCount() int64
	LiveSessionCount() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	pool  *pgxpool.Pool
	stats PipelineStats

	// Descriptors for scrape-time gauges.
	queuedJobs      *prometheus.Desc
	activeJobs      *prometheus.Desc
	liveSessions    *prometheus.Desc
	dbTotalConns    *prometheus.Desc
	dbAcquiredConns *prometheus.Desc
	dbIdleConns     *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// pool may be nil (metrics will report 0). stats may be nil if no pipeline is running.
func NewCollector(pool *pgxpool.Pool, stats PipelineStats) *Collector {
	return &Collector{
		pool:  pool,
		stats: stats,
		queuedJobs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "jobs_queued"),
			"Jobs waiting for a worker.",
			nil, nil,
		),
		activeJobs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "jobs_running"),
			"Jobs currently held by a worker.",
			nil, nil,
		),
		liveSessions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "live_sessions"),
			"Open live sessions.",
			nil, nil,
		),
		dbTotalConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "total_conns"),
			"Total database pool connections.",
			nil, nil,
		),
		dbAcquiredConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "acquired_conns"),
			"Database pool connections currently in use.",
			nil, nil,
		),
		dbIdleConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "idle_conns"),
			"Database pool idle connections.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queuedJobs
	ch <- c.activeJobs
	ch <- c.liveSessions
	ch <- c.dbTotalConns
	ch <- c.dbAcquiredConns
	ch <- c.dbIdleConns
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.stats != nil {
		ch <- prometheus.MustNewConstMetric(c.queuedJobs, prometheus.GaugeValue, float64(c.stats.QueuedJobCount()))
		ch <- prometheus.MustNewConstMetric(c.activeJobs, prometheus.GaugeValue, float64(c.stats.ActiveJobCount()))
		ch <- prometheus.MustNewConstMetric(c.liveSessions, prometheus.GaugeValue, float64(c.stats.LiveSessionCount()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.queuedJobs, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.activeJobs, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.liveSessions, prometheus.GaugeValue, 0)
	}

	// Database pool stats
	if c.pool != nil {
		stat := c.pool.Stat()
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, float64(stat.TotalConns()))
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, float64(stat.AcquiredConns()))
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, float64(stat.IdleConns()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, 0)
	}
}
