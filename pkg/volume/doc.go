/*
Package volume manages the host-side results-mount directory a running
EVAL job's problem container writes results.json into: one directory
per eval id, created before the supervisor starts the job's containers.
Manager.Cleanup can remove one, but the executor never calls it, so
results directories remain after the job.
*/
package volume
