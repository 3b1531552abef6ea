package source

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/eponine0805/voice-app/internal/apperror"
	"github.com/eponine0805/voice-app/internal/protocol"
)

func listenLocal(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP failed: %v", err)
	}
	return conn
}

func sendPackets(t *testing.T, to net.Addr, packets ...[]byte) {
	t.Helper()
	conn, err := net.Dial("udp", to.String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	for _, p := range packets {
		if _, err := conn.Write(p); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
}

func mustPacket(t *testing.T) func([]byte, error) []byte {
	return func(b []byte, err error) []byte {
		t.Helper()
		if err != nil {
			t.Fatalf("Failed to build packet: %v", err)
		}
		return b
	}
}

func readAll(t *testing.T, s Stream) []float32 {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out []float32
	for {
		b, err := s.Read(ctx)
		out = append(out, b...)
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
	}
}

func TestNetworkOpenerReceivesStream(t *testing.T) {
	conn := listenLocal(t)
	must := mustPacket(t)

	const id = 77
	sendPackets(t, conn.LocalAddr(),
		// Audio for another stream and before the start packet is ignored.
		must(protocol.BuildAudioPacket(id, 0, pcmOf(9))),
		must(protocol.BuildStartPacket(id, protocol.StartPayload{SampleRate: 8000, Channels: 1, Encoding: protocol.EncodingPCM16LE})),
		must(protocol.BuildAudioPacket(id+1, 0, pcmOf(9, 9))),
		must(protocol.BuildAudioPacket(id, 1, pcmOf(3, 4))),
		must(protocol.BuildAudioPacket(id, 0, pcmOf(1, 2))),
		must(protocol.BuildAudioPacket(id, 2, pcmOf(5))),
		must(protocol.BuildStopPacket(id, 3)),
	)

	opener := &NetworkOpener{Conn: conn, StartTimeout: 2 * time.Second}
	s, err := opener.Open(context.Background())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if f := s.Format(); f.SampleRate != 8000 || f.Channels != 1 {
		t.Errorf("Unexpected format %+v", f)
	}

	samples := readAll(t, s)
	if len(samples) != 5 {
		t.Fatalf("Expected 5 samples, got %d", len(samples))
	}
	for i, v := range samples {
		want := float32(i+1) / 32767
		if v != want {
			t.Errorf("Sample %d: expected %v, got %v", i, want, v)
		}
	}

	stats, ok := Statistics(s)
	if !ok {
		t.Fatal("network stream should report statistics")
	}
	if stats.LastPacketAt.IsZero() {
		t.Error("Expected last packet time to be set")
	}
	if stats.ForeignPackets != 1 {
		t.Errorf("Expected 1 foreign packet, got %d", stats.ForeignPackets)
	}
	if stats.Reorder.LostPackets != 0 {
		t.Errorf("Expected no loss, got %d", stats.Reorder.LostPackets)
	}
}

func TestNetworkOpenerStartTimeout(t *testing.T) {
	opener := &NetworkOpener{Conn: listenLocal(t), StartTimeout: 50 * time.Millisecond}

	_, err := opener.Open(context.Background())
	if !errors.Is(err, apperror.ErrCaptureUnavailable) {
		t.Fatalf("Expected capture unavailable, got %v", err)
	}
}

func TestNetworkOpenerBadAddress(t *testing.T) {
	opener := &NetworkOpener{Address: "256.0.0.1:bad"}

	_, err := opener.Open(context.Background())
	if !errors.Is(err, apperror.ErrCaptureUnavailable) {
		t.Fatalf("Expected capture unavailable, got %v", err)
	}
}

func TestNetworkStreamCloseEndsReads(t *testing.T) {
	conn := listenLocal(t)
	must := mustPacket(t)
	sendPackets(t, conn.LocalAddr(),
		must(protocol.BuildStartPacket(1, protocol.StartPayload{SampleRate: 16000, Channels: 2, Encoding: protocol.EncodingPCM16LE})),
	)

	s, err := (&NetworkOpener{Conn: conn, StartTimeout: 2 * time.Second}).Open(context.Background())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}

	if _, err := s.Read(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF after Close, got %v", err)
	}
}

type countingStream struct{ Stream }

func (countingStream) GetStatistics() NetworkStatistics { return NetworkStatistics{StreamID: 5} }

type plainStream struct{ Stream }

func TestStatisticsLooksThroughGain(t *testing.T) {
	opener := WithGain(OpenerFunc(func(context.Context) (Stream, error) { return countingStream{}, nil }), 2)
	s, err := opener.Open(context.Background())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if stats, ok := Statistics(s); !ok || stats.StreamID != 5 {
		t.Errorf("Statistics() = %+v, %v", stats, ok)
	}
	if _, ok := Statistics(plainStream{}); ok {
		t.Error("Stream without counters should not report statistics")
	}
}
