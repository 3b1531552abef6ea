// Package audio holds the PCM data model and the pure audio stages of the
// pipeline: time-boxed segmentation of live and decoded audio, float to
// 16-bit conversion and WAV chunk encoding, plus WAV decoding and the
// per-session recording archive.
package audio
