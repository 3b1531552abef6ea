package protocol

import (
	"encoding/binary"
	"fmt"
)

// Protocol constants
const (
	// Packet types
	PacketTypeStart = 0x01
	PacketTypeAudio = 0x02
	PacketTypeStop  = 0x03

	// Version carried in every header
	Version = 0x01

	// Sample encodings
	EncodingPCM16LE = 0x01

	// Packet structure sizes
	HeaderSize             = 8 // 1 + 2 + 4 + 1 bytes
	StartPayloadSize       = 6 // 4 + 1 + 1 bytes
	AudioPayloadHeaderSize = 4 // Sequence number
	StopPayloadSize        = 4 // Final sequence number

	// MaxPacketSize is bounded by the 16-bit length field.
	MaxPacketSize = 0xFFFF
)

// Header represents the 8-byte packet header
// Layout: [PacketType:1][PacketLen:2][StreamID:4][Version:1]
type Header struct {
	PacketType uint8
	PacketLen  uint16 // Total packet size (header + payload)
	StreamID   uint32 // Capture stream identifier chosen by the sender
	Version    uint8
}

// StartPayload announces the PCM format of a capture stream
// Layout: [SampleRate:4][Channels:1][Encoding:1]
type StartPayload struct {
	SampleRate uint32
	Channels   uint8
	Encoding   uint8
}

// AudioPayload carries one block of interleaved PCM
// Layout: [Sequence:4][AudioData:N]
type AudioPayload struct {
	Sequence  uint32
	AudioData []byte
}

// StopPayload ends a capture stream
// Layout: [NextSequence:4], the sequence number after the last audio packet
type StopPayload struct {
	NextSequence uint32
}

// ParsedPacket represents a fully parsed packet
type ParsedPacket struct {
	Header *Header
	Start  *StartPayload // Only set for start packets
	Audio  *AudioPayload // Only set for audio packets
	Stop   *StopPayload  // Only set for stop packets
}

// ParseHeader parses the 8-byte packet header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	return &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		StreamID:   binary.BigEndian.Uint32(data[3:7]),
		Version:    data[7],
	}, nil
}

// ParseStartPayload parses the start packet payload
func ParseStartPayload(data []byte) (*StartPayload, error) {
	if len(data) < StartPayloadSize {
		return nil, fmt.Errorf("start payload too short: expected %d bytes, got %d", StartPayloadSize, len(data))
	}

	payload := &StartPayload{
		SampleRate: binary.BigEndian.Uint32(data[0:4]),
		Channels:   data[4],
		Encoding:   data[5],
	}

	if payload.SampleRate == 0 {
		return nil, fmt.Errorf("sample rate cannot be zero")
	}
	if payload.Channels == 0 {
		return nil, fmt.Errorf("channel count cannot be zero")
	}
	if payload.Encoding != EncodingPCM16LE {
		return nil, fmt.Errorf("unsupported encoding: 0x%02x", payload.Encoding)
	}

	return payload, nil
}

// ParseAudioPayload parses the audio packet payload (4-byte sequence + audio data)
func ParseAudioPayload(data []byte) (*AudioPayload, error) {
	if len(data) < AudioPayloadHeaderSize {
		return nil, fmt.Errorf("audio payload too short: expected at least %d bytes, got %d",
			AudioPayloadHeaderSize, len(data))
	}

	payload := &AudioPayload{
		Sequence: binary.BigEndian.Uint32(data[0:4]),
	}

	if len(data) > AudioPayloadHeaderSize {
		payload.AudioData = make([]byte, len(data)-AudioPayloadHeaderSize)
		copy(payload.AudioData, data[AudioPayloadHeaderSize:])
	}

	return payload, nil
}

// ParseStopPayload parses the stop packet payload
func ParseStopPayload(data []byte) (*StopPayload, error) {
	if len(data) < StopPayloadSize {
		return nil, fmt.Errorf("stop payload too short: expected %d bytes, got %d", StopPayloadSize, len(data))
	}
	return &StopPayload{NextSequence: binary.BigEndian.Uint32(data[0:4])}, nil
}

// ParsePacket parses a complete packet (header + payload)
func ParsePacket(data []byte) (*ParsedPacket, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	packet := &ParsedPacket{Header: header}
	payloadData := data[HeaderSize:]

	switch header.PacketType {
	case PacketTypeStart:
		payload, err := ParseStartPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse start payload: %w", err)
		}
		packet.Start = payload

	case PacketTypeAudio:
		payload, err := ParseAudioPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse audio payload: %w", err)
		}
		packet.Audio = payload

	case PacketTypeStop:
		payload, err := ParseStopPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse stop payload: %w", err)
		}
		packet.Stop = payload
	}

	return packet, nil
}

// ValidateHeader validates the packet header fields
func ValidateHeader(header *Header) error {
	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}

	if header.Version != Version {
		return fmt.Errorf("unsupported protocol version: %d", header.Version)
	}

	if header.PacketLen < HeaderSize {
		return fmt.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	payloadSize := int(header.PacketLen) - HeaderSize
	switch header.PacketType {
	case PacketTypeStart:
		if payloadSize != StartPayloadSize {
			return fmt.Errorf("start packet payload size mismatch: expected %d, got %d",
				StartPayloadSize, payloadSize)
		}
	case PacketTypeAudio:
		if payloadSize < AudioPayloadHeaderSize {
			return fmt.Errorf("audio packet payload too small: expected at least %d, got %d",
				AudioPayloadHeaderSize, payloadSize)
		}
		if (payloadSize-AudioPayloadHeaderSize)%2 != 0 {
			return fmt.Errorf("audio packet carries a partial 16-bit sample: %d bytes",
				payloadSize-AudioPayloadHeaderSize)
		}
	case PacketTypeStop:
		if payloadSize != StopPayloadSize {
			return fmt.Errorf("stop packet payload size mismatch: expected %d, got %d",
				StopPayloadSize, payloadSize)
		}
	}

	return nil
}

// IsValidPacketType checks if the packet type is valid
func IsValidPacketType(ptype uint8) bool {
	return ptype == PacketTypeStart || ptype == PacketTypeAudio || ptype == PacketTypeStop
}

func buildPacket(ptype uint8, streamID uint32, payload []byte) ([]byte, error) {
	total := HeaderSize + len(payload)
	if total > MaxPacketSize {
		return nil, fmt.Errorf("packet too large: %d bytes (maximum %d)", total, MaxPacketSize)
	}

	buf := make([]byte, total)
	buf[0] = ptype
	binary.BigEndian.PutUint16(buf[1:3], uint16(total))
	binary.BigEndian.PutUint32(buf[3:7], streamID)
	buf[7] = Version
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// BuildStartPacket encodes a start packet
func BuildStartPacket(streamID uint32, p StartPayload) ([]byte, error) {
	payload := make([]byte, StartPayloadSize)
	binary.BigEndian.PutUint32(payload[0:4], p.SampleRate)
	payload[4] = p.Channels
	payload[5] = p.Encoding
	return buildPacket(PacketTypeStart, streamID, payload)
}

// BuildAudioPacket encodes an audio packet
func BuildAudioPacket(streamID uint32, sequence uint32, pcm []byte) ([]byte, error) {
	payload := make([]byte, AudioPayloadHeaderSize+len(pcm))
	binary.BigEndian.PutUint32(payload[0:4], sequence)
	copy(payload[AudioPayloadHeaderSize:], pcm)
	return buildPacket(PacketTypeAudio, streamID, payload)
}

// BuildStopPacket encodes a stop packet
func BuildStopPacket(streamID uint32, nextSequence uint32) ([]byte, error) {
	payload := make([]byte, StopPayloadSize)
	binary.BigEndian.PutUint32(payload, nextSequence)
	return buildPacket(PacketTypeStop, streamID, payload)
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	var packetType string
	switch h.PacketType {
	case PacketTypeStart:
		packetType = "Start"
	case PacketTypeAudio:
		packetType = "Audio"
	case PacketTypeStop:
		packetType = "Stop"
	default:
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}

	return fmt.Sprintf("Header{Type:%s, Len:%d, StreamID:%d, Version:%d}",
		packetType, h.PacketLen, h.StreamID, h.Version)
}

// String returns a human-readable representation of the audio payload
func (a *AudioPayload) String() string {
	return fmt.Sprintf("AudioPayload{Sequence:%d, AudioDataLen:%d}", a.Sequence, len(a.AudioData))
}
