// Package tui renders a live recording session in the terminal with
// bubbletea. Pressing q stops capture; a second ctrl+c abandons the
// remaining chunks.
package tui
