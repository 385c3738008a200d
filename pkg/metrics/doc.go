/*
Package metrics exposes the worker's Prometheus counters and
histograms (jobs, containers, loop iterations, job duration) and a
Collector that periodically samples the job registry into the
botworker_jobs_by_status gauge.
*/
package metrics
