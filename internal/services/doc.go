// Package services contains the business layer between the HTTP
// transport and the license manager. Services shape responses, attach
// trace IDs, and keep per-process operation counters; they never talk
// to the remote licensing service directly.
package services
