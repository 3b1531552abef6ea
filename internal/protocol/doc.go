// Package protocol implements the binary packet format used by remote
// capture agents to stream live PCM over UDP: a start packet announcing the
// sample format, sequenced audio packets, and a stop packet.
package protocol
