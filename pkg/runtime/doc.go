/*
Package runtime wraps containerd into the Pull/Login/RunDetached/
ListRunning/Get/Logs/Stop/Tag/Push surface the supervisor and executor
need. Containers are started with no attached IO; logs are captured
into an in-memory per-container sink that RunDetached wires into the
task at creation time, and Logs/Get poll that sink and the task's
status respectively.
*/
package runtime
