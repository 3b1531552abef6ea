// Package server exposes the session manager over HTTP: live capture
// control, file uploads, transcript and minutes export, plus health,
// configuration, statistics and Prometheus endpoints.
package server
