/*
Package executor turns a claimed Job into the container work its
JobType describes and folds the outcome back into Job.Results:
EVAL runs a problem/bot container pair under the supervisor, archives
both images, and reports to the botleague liaison; SIM_BUILD and
DEEPDRIVE_BUILD each run one credentialed build container against a
fixed base image.
*/
package executor
