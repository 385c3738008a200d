/*
Package log wraps zerolog with the conventions botworker's components
share: a process-wide Logger initialized once via Init, component child
loggers via WithComponent/WithJobID/WithContainer, and a ContainerLevel
field for the supervisor's de-duplicated container log stream.

ScopedSink is the exception-capture mechanism run_job uses: a logger
backed by an in-memory buffer instead of the global sink, so an
exception escaping a job's executor can be recorded into
job.WorkerError without writing to the process log.
*/
package log
