package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

const (
	wavHeaderSize = 44
	bitsPerSample = 16
)

// WAVHeader represents the canonical 44-byte header of a PCM WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// FloatToPCM16 maps a [-1,1] sample to int16, rounding half away from zero
// and clamping out-of-range input.
func FloatToPCM16(v float32) int16 {
	if v != v { // NaN
		return 0
	}
	scaled := math.Round(float64(v) * math.MaxInt16)
	if scaled > math.MaxInt16 {
		return math.MaxInt16
	}
	if scaled < math.MinInt16 {
		return math.MinInt16
	}
	return int16(scaled)
}

// PCM16ToFloat is the inverse of FloatToPCM16, clamped to [-1,1].
func PCM16ToFloat(v int16) float32 {
	f := float32(v) / math.MaxInt16
	if f < -1 {
		return -1
	}
	return f
}

// EncodeChunk serializes a segment into a WAV chunk. Output depends only on
// the segment, so encoding the same segment twice yields identical bytes.
func EncodeChunk(seg AudioSegment) (EncodedChunk, error) {
	if err := seg.Format.Validate(); err != nil {
		return EncodedChunk{}, fmt.Errorf("segment %d: %w", seg.Index, err)
	}
	if len(seg.Samples)%seg.Format.Channels != 0 {
		return EncodedChunk{}, fmt.Errorf("segment %d: %d samples is not a whole number of %d-channel frames",
			seg.Index, len(seg.Samples), seg.Format.Channels)
	}

	pcm := make([]int16, len(seg.Samples))
	for i, s := range seg.Samples {
		pcm[i] = FloatToPCM16(s)
	}

	data, err := EncodeWAV(pcm, seg.Format)
	if err != nil {
		return EncodedChunk{}, fmt.Errorf("segment %d: %w", seg.Index, err)
	}

	return EncodedChunk{
		Index:     seg.Index,
		MediaType: MediaTypeWAV,
		Format:    seg.Format,
		Start:     seg.Start(),
		End:       seg.End(),
		Data:      data,
	}, nil
}

// EncodeWAV encodes interleaved PCM-16 samples into WAV format
func EncodeWAV(samples []int16, format Format) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}

	numChannels := uint16(format.Channels)
	dataSize := uint32(len(samples) * 2)

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   numChannels,
		SampleRate:    uint32(format.SampleRate),
		ByteRate:      uint32(format.SampleRate) * uint32(numChannels) * bitsPerSample / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(samples)*2))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeWAV decodes a canonical PCM-16 WAV produced by EncodeWAV.
func DecodeWAV(data []byte) (*Clip, error) {
	if err := ValidateWAV(data); err != nil {
		return nil, err
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if header.AudioFormat != 1 {
		return nil, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	}
	if header.BitsPerSample != bitsPerSample {
		return nil, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", header.BitsPerSample)
	}
	if header.NumChannels == 0 {
		return nil, fmt.Errorf("invalid channel count: 0")
	}

	payload := data[wavHeaderSize:]
	if int(header.Subchunk2Size) < len(payload) {
		payload = payload[:header.Subchunk2Size]
	}

	pcm := make([]int16, len(payload)/2)
	if err := binary.Read(bytes.NewReader(payload), binary.LittleEndian, pcm); err != nil {
		return nil, fmt.Errorf("failed to read audio samples: %w", err)
	}

	samples := make([]float32, len(pcm))
	for i, v := range pcm {
		samples[i] = PCM16ToFloat(v)
	}

	return &Clip{
		Format:  Format{SampleRate: int(header.SampleRate), Channels: int(header.NumChannels)},
		Samples: samples,
	}, nil
}

// ValidateWAV checks the canonical header layout without decoding samples
func ValidateWAV(data []byte) error {
	if len(data) < wavHeaderSize {
		return fmt.Errorf("WAV data too short: need at least %d bytes, got %d", wavHeaderSize, len(data))
	}
	if string(data[0:4]) != "RIFF" {
		return fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(data[8:12]) != "WAVE" {
		return fmt.Errorf("invalid WAV file: missing WAVE format")
	}
	if string(data[12:16]) != "fmt " {
		return fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	if string(data[36:40]) != "data" {
		return fmt.Errorf("invalid WAV file: missing data chunk")
	}
	return nil
}

// WAVInfo holds basic information about a WAV file
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumFrames     uint32  `json:"num_frames"`
}

// GetWAVInfo extracts metadata from a canonical WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	if err := ValidateWAV(data); err != nil {
		return nil, err
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}
	if header.SampleRate == 0 || header.BlockAlign == 0 {
		return nil, fmt.Errorf("invalid WAV header: sample_rate=%d block_align=%d", header.SampleRate, header.BlockAlign)
	}

	numFrames := header.Subchunk2Size / uint32(header.BlockAlign)

	return &WAVInfo{
		SampleRate:    header.SampleRate,
		Channels:      header.NumChannels,
		BitsPerSample: header.BitsPerSample,
		Duration:      float64(numFrames) / float64(header.SampleRate),
		DataSize:      header.Subchunk2Size,
		NumFrames:     numFrames,
	}, nil
}
