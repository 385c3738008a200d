/*
Package types defines the core data structures shared across botworker.

It has no dependencies on any other botworker package: every other
package imports types, types imports nothing project-local.

# Core types

Job is the unit of work claimed from the registry. JobType selects
which of Eval or Build is populated; JobStatus tracks the one-way
ASSIGNED -> RUNNING -> FINISHED progression. Results accumulates
per-container logs/errors plus whatever free-form keys a problem
container's results.json contributed, via its Extras field; stdout
JSON is kept as a raw string in JSONResultsFromLogs.

Instance is the coordinator-shared VM record the worker flips back to
AVAILABLE when a job completes.

ContainerSpec/Container describe a single sibling container as the
supervisor and runtime adapter see it; Container tracks the dedup
bookkeeping (last timestamp, last log line) the supervisor needs
across poll cycles.
*/
package types
