/*
Package artifact uploads container log text to a fixed GCS
bucket/prefix and returns a public URL, one blob per container per
job.
*/
package artifact
