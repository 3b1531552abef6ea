// Package summary turns a finalized transcript into meeting minutes through
// a language model backend, and serves the standalone summarize endpoint.
package summary
