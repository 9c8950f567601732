// Package jobs holds the recurring job implementations driven by the
// scheduler: the dynamic-config job that reconciles the job set against
// the management plane, the topic-stream job that forwards records from
// a remote producer into the local event log, and the file-exchange job
// that assembles streamed file chunks.
package jobs
