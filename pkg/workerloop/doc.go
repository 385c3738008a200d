/*
Package workerloop runs the worker's main cycle: sweep for stray
containers, check for a pending binary update, poll the job registry
for a job assigned to this instance, run it through the executor, and
release the instance back to the pool before sleeping with jitter. It
is the single entry point cmd/botworker's run subcommand calls.
*/
package workerloop
