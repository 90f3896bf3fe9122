package mediagraph

import (
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
)

// RTPStreamerConfig configures the RTP network sink.
type RTPStreamerConfig struct {
	// RemoteAddr is the UDP host:port packets are sent to.
	RemoteAddr string

	// SSRC identifies the stream; zero picks a random value.
	SSRC uint32

	// PayloadType is the RTP payload type. Zero means 96 (dynamic H.264).
	PayloadType uint8

	// MTU caps packet size; NAL units above it are fragmented with FU-A.
	// Zero means 1200.
	MTU int

	Logger *slog.Logger
}

// DefaultRTPStreamerConfig returns a dynamic-payload H.264 configuration.
func DefaultRTPStreamerConfig() RTPStreamerConfig {
	return RTPStreamerConfig{
		PayloadType: 96,
		MTU:         1200,
	}
}

// RTPStreamerStats counts streamer activity.
type RTPStreamerStats struct {
	FramesSent  uint64
	PacketsSent uint64
	BytesSent   uint64
}

// RTPStreamer is a sink module sending H.264 Annex B frames as RTP over
// UDP, for consumption by an RTSP server or a raw RTP receiver.
type RTPStreamer struct {
	moduleBase
	cfg        RTPStreamerConfig
	packetizer *h264Packetizer

	mu   sync.Mutex
	conn *net.UDPConn

	framesSent  atomic.Uint64
	packetsSent atomic.Uint64
	bytesSent   atomic.Uint64
}

// NewRTPStreamer creates the RTP sink.
func NewRTPStreamer(cfg RTPStreamerConfig) *RTPStreamer {
	if cfg.SSRC == 0 {
		cfg.SSRC = rand.Uint32()
	}
	if cfg.PayloadType == 0 {
		cfg.PayloadType = 96
	}
	if cfg.MTU <= 0 {
		cfg.MTU = 1200
	}
	return &RTPStreamer{
		moduleBase: newModuleBase("RTPStreamer", KindSink, cfg.Logger),
		cfg:        cfg,
		packetizer: newH264Packetizer(cfg.SSRC, cfg.PayloadType, cfg.MTU),
	}
}

// Config returns the streamer configuration.
func (r *RTPStreamer) Config() RTPStreamerConfig { return r.cfg }

// Initialize resolves the remote address and opens the UDP socket.
func (r *RTPStreamer) Initialize() error {
	if r.State() != StateUninitialized {
		r.logger.Warn("already initialized")
		return nil
	}

	addr, err := net.ResolveUDPAddr("udp", r.cfg.RemoteAddr)
	if err != nil {
		r.setState(StateError)
		return fmt.Errorf("rtp streamer: resolve %q: %w", r.cfg.RemoteAddr, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		r.setState(StateError)
		return fmt.Errorf("rtp streamer: dial %q: %w", r.cfg.RemoteAddr, err)
	}

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	r.setState(StateInitialized)
	r.logger.Info("rtp streamer initialized", "remote", r.cfg.RemoteAddr, "ssrc", r.cfg.SSRC)
	return nil
}

// Start makes the sink accept frames.
func (r *RTPStreamer) Start() error {
	if s := r.State(); s != StateInitialized && s != StateStopped {
		return fmt.Errorf("rtp streamer start from %s: %w", s, ErrInvalidState)
	}
	r.setState(StateRunning)
	r.logger.Info("rtp streamer started")
	return nil
}

// Stop stops accepting frames. The socket stays open for restart.
func (r *RTPStreamer) Stop() {
	if r.State() != StateRunning {
		return
	}
	r.setState(StateStopped)
	r.logger.Info("rtp streamer stopped")
}

// PushFrame packetizes one encoded frame and sends it. The frame is
// borrowed for the duration of the call.
func (r *RTPStreamer) PushFrame(frame MediaFrame) error {
	if r.State() != StateRunning {
		return fmt.Errorf("rtp streamer push from %s: %w", r.State(), ErrInvalidState)
	}
	enc, ok := frame.Encoded()
	if !ok {
		return fmt.Errorf("rtp streamer push: raw input: %w", ErrNotSupported)
	}
	if !enc.IsValid() {
		return fmt.Errorf("rtp streamer push: invalid frame")
	}

	packets, err := r.packetizer.packetize(enc.Bytes(), rtpTimestamp(enc.PTS()))
	if err != nil {
		return fmt.Errorf("rtp streamer push: %w", err)
	}

	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("rtp streamer push: %w", ErrClosed)
	}

	for _, pkt := range packets {
		buf, err := pkt.Marshal()
		if err != nil {
			return fmt.Errorf("rtp streamer push: marshal: %w", err)
		}
		if _, err := conn.Write(buf); err != nil {
			return fmt.Errorf("rtp streamer push: send: %w", err)
		}
		r.packetsSent.Add(1)
		r.bytesSent.Add(uint64(len(buf)))
	}

	r.framesSent.Add(1)
	return nil
}

// Stats returns a snapshot of the streamer counters.
func (r *RTPStreamer) Stats() RTPStreamerStats {
	return RTPStreamerStats{
		FramesSent:  r.framesSent.Load(),
		PacketsSent: r.packetsSent.Load(),
		BytesSent:   r.bytesSent.Load(),
	}
}

// SetOutputCallback is not supported: the streamer is a terminal sink.
func (r *RTPStreamer) SetOutputCallback(FrameCallback) error { return ErrNotSupported }

// Close stops the streamer and closes the socket.
func (r *RTPStreamer) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	r.Stop()

	r.mu.Lock()
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
	r.mu.Unlock()

	r.logger.Info("rtp streamer closed",
		"frames", r.framesSent.Load(), "packets", r.packetsSent.Load())
	return nil
}
