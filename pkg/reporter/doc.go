/*
Package reporter POSTs job results to the coordinator's liaison
endpoint, retrying up to 5 times on a fixed 1s backoff and treating
HTTP 200/400/500 as terminal outcomes. In test mode (identity.Config.IsTest)
the POST is skipped entirely.
*/
package reporter
