package mediagraph

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/yutopp/go-rtmp"
	rtmpmsg "github.com/yutopp/go-rtmp/message"
)

// RTMPIngestConfig configures the RTMP ingest source.
type RTMPIngestConfig struct {
	// ListenAddr is the TCP host:port the server accepts publishers on.
	// Empty means ":1935".
	ListenAddr string

	Logger *slog.Logger
}

// DefaultRTMPIngestConfig returns the standard RTMP port configuration.
func DefaultRTMPIngestConfig() RTMPIngestConfig {
	return RTMPIngestConfig{ListenAddr: ":1935"}
}

// RTMPIngest is a source module accepting one RTMP H.264 publisher
// (ffmpeg, OBS) and emitting its access units as encoded frames. FLV
// AVCC payloads are rewritten to Annex B, with SPS/PPS from the
// sequence header prepended to every keyframe.
type RTMPIngest struct {
	moduleBase
	cfg RTMPIngestConfig

	mu  sync.Mutex
	ln  net.Listener
	srv *rtmp.Server
	wg  sync.WaitGroup

	accepting atomic.Bool

	framesIn atomic.Uint64
	dropped  atomic.Uint64
}

// NewRTMPIngest creates the ingest source.
func NewRTMPIngest(cfg RTMPIngestConfig) *RTMPIngest {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":1935"
	}
	return &RTMPIngest{
		moduleBase: newModuleBase("RTMPIngest", KindSource, cfg.Logger),
		cfg:        cfg,
	}
}

// Config returns the ingest configuration.
func (r *RTMPIngest) Config() RTMPIngestConfig { return r.cfg }

// Addr returns the bound listen address, nil before Initialize.
func (r *RTMPIngest) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ln == nil {
		return nil
	}
	return r.ln.Addr()
}

// Initialize binds the listen socket.
func (r *RTMPIngest) Initialize() error {
	if r.State() != StateUninitialized {
		r.logger.Warn("already initialized")
		return nil
	}

	ln, err := r.listen()
	if err != nil {
		r.setState(StateError)
		return err
	}

	r.setState(StateInitialized)
	r.logger.Info("rtmp ingest initialized", "addr", ln.Addr().String())
	return nil
}

func (r *RTMPIngest) listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", r.cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("rtmp ingest: listen %q: %w", r.cfg.ListenAddr, err)
	}
	r.mu.Lock()
	r.ln = ln
	r.mu.Unlock()
	return ln, nil
}

// Start begins serving publishers. Valid from Initialized or Stopped;
// Stop tears the listen socket down with the server, so a restart binds
// it anew.
func (r *RTMPIngest) Start() error {
	if s := r.State(); s != StateInitialized && s != StateStopped {
		return fmt.Errorf("rtmp ingest start from %s: %w", s, ErrInvalidState)
	}

	r.mu.Lock()
	ln := r.ln
	r.mu.Unlock()
	if ln == nil {
		var err error
		ln, err = r.listen()
		if err != nil {
			return err
		}
	}

	srv := rtmp.NewServer(&rtmp.ServerConfig{
		OnConnect: func(conn net.Conn) (io.ReadWriteCloser, *rtmp.ConnConfig) {
			return conn, &rtmp.ConnConfig{
				Handler: &rtmpIngestHandler{ingest: r},
				ControlState: rtmp.StreamControlStateConfig{
					DefaultBandwidthWindowSize: 6 * 1024 * 1024,
				},
			}
		},
	})

	r.mu.Lock()
	r.srv = srv
	r.mu.Unlock()

	r.accepting.Store(true)
	r.setState(StateRunning)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		// Serve returns only once the server is closed; by then the
		// error is just the shutdown reason.
		if err := srv.Serve(ln); err != nil && r.accepting.Load() {
			r.logger.Warn("rtmp serve ended", "err", err)
		}
	}()

	r.logger.Info("rtmp ingest started")
	return nil
}

// Stop shuts the server down and blocks until its serve loop exits. No
// frame is delivered after Stop returns.
func (r *RTMPIngest) Stop() {
	if r.State() != StateRunning {
		return
	}
	r.accepting.Store(false)

	r.closeServer()
	r.wg.Wait()

	r.setState(StateStopped)
	r.logger.Info("rtmp ingest stopped")
}

// closeServer closes the server and listener. Closing the listener
// alone is not enough: the serve loop keeps accepting until the server
// itself is closed.
func (r *RTMPIngest) closeServer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.srv != nil {
		r.srv.Close()
		r.srv = nil
	}
	if r.ln != nil {
		r.ln.Close()
		r.ln = nil
	}
}

// deliver hands one rewritten access unit to the output callback.
// Frames arriving while not accepting are dropped.
func (r *RTMPIngest) deliver(data []byte, ptsMicros int64, keyframe bool) {
	if !r.accepting.Load() {
		r.dropped.Add(1)
		return
	}
	cb := r.outputCallback()
	r.framesIn.Add(1)

	frame := NewEncodedFrameFromBytes(data, ptsMicros, keyframe)
	r.emit(cb, EncodedMediaFrame(&frame))
}

// PushFrame is not supported: the ingest is a source.
func (r *RTMPIngest) PushFrame(MediaFrame) error { return ErrNotSupported }

// FramesReceived returns the number of access units delivered.
func (r *RTMPIngest) FramesReceived() uint64 { return r.framesIn.Load() }

// Close stops the ingest and releases the socket.
func (r *RTMPIngest) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	r.Stop()
	r.closeServer()

	r.logger.Info("rtmp ingest closed",
		"frames", r.framesIn.Load(), "dropped", r.dropped.Load())
	return nil
}

// rtmpIngestHandler adapts one publisher connection to the ingest
// module. Only H.264 (FLV codec ID 7) video is forwarded.
type rtmpIngestHandler struct {
	rtmp.DefaultHandler
	ingest *RTMPIngest

	sps, pps []byte
}

func (h *rtmpIngestHandler) OnPublish(_ *rtmp.StreamContext, _ uint32, cmd *rtmpmsg.NetStreamPublish) error {
	h.ingest.logger.Info("rtmp publisher connected", "stream", cmd.PublishingName)
	return nil
}

func (h *rtmpIngestHandler) OnVideo(timestamp uint32, payload io.Reader) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, payload); err != nil {
		return nil
	}
	data := buf.Bytes()
	if len(data) < 5 {
		return nil
	}

	// FLV video tag header
	frameType := (data[0] >> 4) & 0x0F
	codecID := data[0] & 0x0F
	if codecID != 7 { // Not AVC/H.264
		return nil
	}

	avcType := data[1]
	avcData := data[5:]

	switch avcType {
	case 0: // Sequence header
		if h.sps == nil {
			h.sps, h.pps = extractSPSPPS(avcData)
			if h.sps != nil {
				h.ingest.logger.Info("rtmp sequence header received",
					"sps_bytes", len(h.sps), "pps_bytes", len(h.pps))
			}
		}

	case 1: // NALU
		if h.sps == nil {
			return nil
		}
		nalus := parseAVCCNALUs(avcData)
		if len(nalus) == 0 {
			return nil
		}

		isKey := frameType == 1
		annexB := buildAnnexB(nalus, h.sps, h.pps, isKey)

		// RTMP timestamps are milliseconds.
		h.ingest.deliver(annexB, int64(timestamp)*1000, isKey)
	}

	return nil
}

func (h *rtmpIngestHandler) OnClose() {
	h.ingest.logger.Info("rtmp publisher disconnected")
}
