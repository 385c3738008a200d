/*
Package supervisor runs a job's sibling containers to completion:
start all detached, poll status and incremental logs every 100ms,
de-duplicate log lines across poll cycles, and stop any stragglers
once the set has settled.
*/
package supervisor
