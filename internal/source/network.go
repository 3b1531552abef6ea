package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/eponine0805/voice-app/internal/apperror"
	"github.com/eponine0805/voice-app/internal/audio"
	"github.com/eponine0805/voice-app/internal/protocol"
)

// DefaultStartTimeout bounds how long Open waits for a start packet.
const DefaultStartTimeout = 30 * time.Second

// NetworkOpener captures a PCM stream sent by a remote recorder over UDP
// using the packet format of the protocol package. Open binds the socket
// and blocks until a start packet announces the stream format.
type NetworkOpener struct {
	Address        string        // host:port to listen on
	Conn           *net.UDPConn  // pre-bound socket; Address is ignored when set
	ReadBufferSize int           // socket read buffer in bytes
	StartTimeout   time.Duration // 0 means DefaultStartTimeout
	MaxGap         uint32        // 0 means DefaultMaxGap
	Logger         *slog.Logger
}

// Open implements Opener.
func (o *NetworkOpener) Open(ctx context.Context) (Stream, error) {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn := o.Conn
	if conn == nil {
		addr, err := net.ResolveUDPAddr("udp", o.Address)
		if err != nil {
			return nil, apperror.CaptureUnavailable("failed to resolve UDP address", err)
		}
		conn, err = net.ListenUDP("udp", addr)
		if err != nil {
			return nil, apperror.CaptureUnavailable("failed to listen on UDP", err)
		}
	}

	if o.ReadBufferSize > 0 {
		if err := conn.SetReadBuffer(o.ReadBufferSize); err != nil {
			logger.Warn("Failed to set UDP read buffer size",
				slog.Int("buffer_size", o.ReadBufferSize),
				slog.String("error", err.Error()),
			)
		}
	}

	timeout := o.StartTimeout
	if timeout <= 0 {
		timeout = DefaultStartTimeout
	}

	logger.Info("Waiting for capture start packet",
		slog.String("address", conn.LocalAddr().String()),
		slog.Duration("timeout", timeout),
	)

	header, start, err := awaitStart(ctx, conn, time.Now().Add(timeout))
	if err != nil {
		conn.Close()
		return nil, apperror.CaptureUnavailable("no capture stream announced", err)
	}

	format := audio.Format{SampleRate: int(start.SampleRate), Channels: int(start.Channels)}
	if err := format.Validate(); err != nil {
		conn.Close()
		return nil, apperror.CaptureUnavailable("unsupported capture format", err)
	}

	s := &networkStream{
		conn:     conn,
		streamID: header.StreamID,
		format:   format,
		reorder:  NewReorderBuffer(o.MaxGap),
		logger:   logger.With(slog.Uint64("stream_id", uint64(header.StreamID))),
		blocks:   make(chan []float32, 64),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.receiveLoop()

	s.logger.Info("Network capture started",
		slog.String("remote_addr", conn.LocalAddr().String()),
		slog.Int("sample_rate", format.SampleRate),
		slog.Int("channels", format.Channels),
	)
	return s, nil
}

func awaitStart(ctx context.Context, conn *net.UDPConn, deadline time.Time) (*protocol.Header, *protocol.StartPayload, error) {
	buf := make([]byte, protocol.MaxPacketSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if time.Now().After(deadline) {
			return nil, nil, errors.New("timed out waiting for start packet")
		}

		// Short deadline so cancellation is observed promptly.
		readDeadline := time.Now().Add(time.Second)
		if readDeadline.After(deadline) {
			readDeadline = deadline
		}
		if err := conn.SetReadDeadline(readDeadline); err != nil {
			return nil, nil, err
		}

		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return nil, nil, err
		}

		packet, err := protocol.ParsePacket(buf[:n])
		if err != nil || packet.Start == nil {
			continue
		}
		return packet.Header, packet.Start, nil
	}
}

// networkStream is a capture bound to one StreamID.
type networkStream struct {
	conn     *net.UDPConn
	streamID uint32
	format   audio.Format
	reorder  *ReorderBuffer
	logger   *slog.Logger

	blocks  chan []float32
	done    chan struct{}
	readErr error
	wg      sync.WaitGroup

	packetsReceived uint64
	parseErrors     uint64
	foreignPackets  uint64
	mu              sync.RWMutex

	closeOnce sync.Once
}

func (s *networkStream) receiveLoop() {
	defer s.wg.Done()
	defer close(s.blocks)

	buf := make([]byte, protocol.MaxPacketSize)
	for {
		select {
		case <-s.done:
			s.readErr = io.EOF
			return
		default:
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			s.readErr = s.closedOr(err)
			return
		}

		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.readErr = s.closedOr(err)
			return
		}

		s.mu.Lock()
		s.packetsReceived++
		s.mu.Unlock()

		packet, err := protocol.ParsePacket(buf[:n])
		if err != nil {
			s.mu.Lock()
			s.parseErrors++
			s.mu.Unlock()
			s.logger.Debug("Failed to parse packet",
				slog.Int("packet_size", n),
				slog.String("error", err.Error()),
			)
			continue
		}
		if packet.Header.StreamID != s.streamID {
			s.mu.Lock()
			s.foreignPackets++
			s.mu.Unlock()
			continue
		}

		switch {
		case packet.Audio != nil:
			pcm, err := s.reorder.Add(packet.Audio.Sequence, packet.Audio.AudioData)
			if err != nil {
				s.logger.Debug("Audio packet rejected",
					slog.Uint64("sequence", uint64(packet.Audio.Sequence)),
					slog.String("error", err.Error()),
				)
				continue
			}
			if !s.deliver(pcm) {
				s.readErr = io.EOF
				return
			}
		case packet.Stop != nil:
			s.deliver(s.reorder.Drain(packet.Stop.NextSequence))
			stats := s.reorder.GetStats()
			s.logger.Info("Network capture ended by sender",
				slog.Uint64("packets", uint64(stats.TotalPackets)),
				slog.Uint64("lost", uint64(stats.LostPackets)),
			)
			s.readErr = io.EOF
			return
		}
	}
}

// closedOr maps errors caused by Close to io.EOF.
func (s *networkStream) closedOr(err error) error {
	select {
	case <-s.done:
		return io.EOF
	default:
	}
	if errors.Is(err, net.ErrClosed) {
		return io.EOF
	}
	return fmt.Errorf("network capture read failed: %w", err)
}

func (s *networkStream) deliver(pcm []byte) bool {
	if len(pcm) == 0 {
		return true
	}
	// Drop any partial trailing frame.
	frameBytes := 2 * s.format.Channels
	pcm = pcm[:len(pcm)-len(pcm)%frameBytes]
	if len(pcm) == 0 {
		return true
	}
	select {
	case s.blocks <- pcm16ToFloat(pcm):
		return true
	case <-s.done:
		return false
	}
}

func (s *networkStream) Format() audio.Format { return s.format }

func (s *networkStream) Read(ctx context.Context) ([]float32, error) {
	select {
	case b, ok := <-s.blocks:
		if !ok {
			return nil, s.readErr
		}
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *networkStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
		s.wg.Wait()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	})
	return err
}

// GetStatistics returns receive counters for the stream.
func (s *networkStream) GetStatistics() NetworkStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return NetworkStatistics{
		StreamID:        s.streamID,
		PacketsReceived: s.packetsReceived,
		ParseErrors:     s.parseErrors,
		ForeignPackets:  s.foreignPackets,
		LastPacketAt:    s.reorder.GetLastUpdate(),
		Reorder:         s.reorder.GetStats(),
	}
}

// NetworkStatistics represents network capture counters
type NetworkStatistics struct {
	StreamID        uint32       `json:"stream_id"`
	PacketsReceived uint64       `json:"packets_received"`
	ParseErrors     uint64       `json:"parse_errors"`
	ForeignPackets  uint64       `json:"foreign_packets"`
	LastPacketAt    time.Time    `json:"last_packet_at"`
	Reorder         ReorderStats `json:"reorder"`
}

// StatisticsReporter is implemented by streams that expose receive counters.
type StatisticsReporter interface {
	GetStatistics() NetworkStatistics
}

// Statistics returns the receive counters of s, looking through gain
// wrappers. ok is false for streams without counters.
func Statistics(s Stream) (stats NetworkStatistics, ok bool) {
	if g, wrapped := s.(*gainStream); wrapped {
		s = g.Stream
	}
	r, ok := s.(StatisticsReporter)
	if !ok {
		return NetworkStatistics{}, false
	}
	return r.GetStatistics(), true
}
