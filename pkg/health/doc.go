/*
Package health serves the worker's /healthz liveness endpoint the
process supervisor polls: Server.Heartbeat marks each completed loop
iteration, and the handler returned by Server.Handler answers 503 once
that heartbeat goes stale.
*/
package health
