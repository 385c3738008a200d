/*
Package reconciler stops allow-listed problem/bot containers left
running by a prior worker process that crashed or was restarted
mid-job, so a fresh loop iteration doesn't compete with orphaned
simulators for GPU and disk.
*/
package reconciler
