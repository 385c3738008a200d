/*
Package registry is the job/instance/secret key-value registry: a
Store interface with two backends, MemoryStore and BoltStore, selected
by New the way the original's get_db() chose between DBLocal and
DBFirestore.

CompareAndSwap is the write primitive the worker loop uses to claim a
job (ASSIGNED -> RUNNING), so two workers racing the same job can never
both believe they claimed it. The later RUNNING -> FINISHED write is an
unconditional Set.
*/
package registry
