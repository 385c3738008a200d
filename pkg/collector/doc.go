/*
Package collector reads a job's results from its two optional output
channels: a results.json file in the shared results mount, and a
delimiter-marked raw JSON line in the concatenated container log.
*/
package collector
