package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/deepdriveio/botworker/pkg/registry"
	"github.com/deepdriveio/botworker/pkg/types"
)

// JobsByStatus gauges the current job queue depth by status,
// refreshed periodically by Collector rather than pushed inline —
// unlike JobsTotal, which the workerloop increments directly as jobs
// finish.
var JobsByStatus = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "botworker_jobs_by_status",
		Help: "Current number of jobs by status",
	},
	[]string{"status"},
)

func init() {
	prometheus.MustRegister(JobsByStatus)
}

// Collector periodically samples the job registry and publishes gauge
// metrics for the single JobStore this worker reads.
type Collector struct {
	jobs   registry.JobStore
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over jobs.
func NewCollector(jobs registry.JobStore) *Collector {
	return &Collector{jobs: jobs, stopCh: make(chan struct{})}
}

// Start begins collecting metrics every 15s until Stop is called.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, status := range []types.JobStatus{
		types.JobStatusAssigned,
		types.JobStatusRunning,
		types.JobStatusFinished,
	} {
		count, err := c.jobs.CountByStatus(ctx, status)
		if err != nil {
			continue
		}
		JobsByStatus.WithLabelValues(string(status)).Set(float64(count))
	}
}
