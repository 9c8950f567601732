// Package server implements the producer-side federation service: the
// streaming RPC handlers that serve topic records and file chunks, the
// authentication and authorisation interceptors in front of them, and
// the per-request attribute filter applied to every served record.
package server
