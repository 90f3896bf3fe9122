package mediagraph

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// FileFormat selects the container-less output format of a FileSaver.
type FileFormat int

const (
	FileFormatAuto FileFormat = iota // Pick by frame content
	FileFormatH264                   // Raw H.264 Annex B stream
	FileFormatHEVC                   // Raw H.265 Annex B stream
	FileFormatJPEG                   // One JPEG file per frame
)

func (f FileFormat) String() string {
	switch f {
	case FileFormatAuto:
		return "auto"
	case FileFormatH264:
		return "h264"
	case FileFormatHEVC:
		return "hevc"
	case FileFormatJPEG:
		return "jpeg"
	default:
		return "unknown"
	}
}

func (f FileFormat) extension() string {
	switch f {
	case FileFormatHEVC:
		return ".h265"
	case FileFormatJPEG:
		return ".jpg"
	default:
		return ".h264"
	}
}

// SaveCallback is invoked after a file is finalized on disk.
type SaveCallback func(path string, size int64)

// FileSaverConfig configures the FileSaver sink.
type FileSaverConfig struct {
	OutputDir       string     // Destination directory, created on Initialize
	FilenamePrefix  string     // Prefix of generated file names
	Format          FileFormat // Output format
	AppendTimestamp bool       // Append a wall-clock timestamp to names

	// MaxFileSize rotates the recording file once it exceeds this many
	// bytes. Zero disables size rotation.
	MaxFileSize int64

	// MaxFrames stops the recording after this many frames. Zero means
	// unlimited.
	MaxFrames uint64

	// OnSave fires after each finalized file.
	OnSave SaveCallback

	Logger *slog.Logger
}

// DefaultFileSaverConfig returns an H.264 recording configuration
// writing into the current directory.
func DefaultFileSaverConfig() FileSaverConfig {
	return FileSaverConfig{
		OutputDir:       ".",
		FilenamePrefix:  "capture",
		Format:          FileFormatH264,
		AppendTimestamp: true,
	}
}

// FileSaver is a sink module writing encoded frames to disk. Stream
// formats append frames into one file per recording session; the JPEG
// format writes one file per frame.
type FileSaver struct {
	moduleBase
	cfg FileSaverConfig

	mu        sync.Mutex
	file      *os.File
	filePath  string
	fileBytes int64
	recording bool
	seq       int

	framesSaved atomic.Uint64
	bytesSaved  atomic.Uint64
}

// NewFileSaver creates the file sink.
func NewFileSaver(cfg FileSaverConfig) *FileSaver {
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	if cfg.FilenamePrefix == "" {
		cfg.FilenamePrefix = "capture"
	}
	return &FileSaver{
		moduleBase: newModuleBase("FileSaver", KindSink, cfg.Logger),
		cfg:        cfg,
	}
}

// Config returns the saver configuration.
func (s *FileSaver) Config() FileSaverConfig { return s.cfg }

// Initialize creates the output directory.
func (s *FileSaver) Initialize() error {
	if s.State() != StateUninitialized {
		s.logger.Warn("already initialized")
		return nil
	}
	if err := os.MkdirAll(s.cfg.OutputDir, 0o755); err != nil {
		s.setState(StateError)
		return fmt.Errorf("file saver: create output dir: %w", err)
	}
	s.setState(StateInitialized)
	s.logger.Info("file saver initialized", "dir", s.cfg.OutputDir, "format", s.cfg.Format.String())
	return nil
}

// Start makes the sink accept frames. For stream formats a recording
// session begins immediately.
func (s *FileSaver) Start() error {
	if st := s.State(); st != StateInitialized && st != StateStopped {
		return fmt.Errorf("file saver start from %s: %w", st, ErrInvalidState)
	}
	s.setState(StateRunning)
	if s.cfg.Format != FileFormatJPEG {
		if err := s.StartRecording(); err != nil {
			s.setState(StateStopped)
			return err
		}
	}
	s.logger.Info("file saver started")
	return nil
}

// Stop finalizes any open recording and stops accepting frames.
func (s *FileSaver) Stop() {
	if s.State() != StateRunning {
		return
	}
	s.StopRecording()
	s.setState(StateStopped)
	s.logger.Info("file saver stopped")
}

// StartRecording opens a new recording file. No-op while recording.
func (s *FileSaver) StartRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recording {
		return nil
	}
	if err := s.openFileLocked(); err != nil {
		return err
	}
	s.recording = true
	return nil
}

// StopRecording finalizes the current recording file, firing the save
// callback. No-op unless recording.
func (s *FileSaver) StopRecording() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recording {
		return
	}
	s.closeFileLocked()
	s.recording = false
}

// Recording reports whether a stream recording is in progress.
func (s *FileSaver) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// PushFrame writes an encoded frame to disk. The frame is borrowed for
// the duration of the call.
func (s *FileSaver) PushFrame(frame MediaFrame) error {
	if s.State() != StateRunning {
		return fmt.Errorf("file saver push from %s: %w", s.State(), ErrInvalidState)
	}
	enc, ok := frame.Encoded()
	if !ok {
		return fmt.Errorf("file saver push: raw input: %w", ErrNotSupported)
	}
	if !enc.IsValid() {
		return fmt.Errorf("file saver push: invalid frame")
	}

	if s.cfg.Format == FileFormatJPEG {
		_, err := s.saveSingle(enc)
		return err
	}
	return s.appendStream(enc)
}

// SaveJPEG writes one encoded frame as a standalone file and returns
// its path. Usable regardless of the configured stream format.
func (s *FileSaver) SaveJPEG(frame *EncodedFrame) (string, error) {
	if st := s.State(); st != StateInitialized && st != StateRunning {
		return "", fmt.Errorf("file saver save from %s: %w", st, ErrInvalidState)
	}
	if frame == nil || !frame.IsValid() {
		return "", fmt.Errorf("file saver save: invalid frame")
	}
	return s.saveSingle(frame)
}

func (s *FileSaver) saveSingle(frame *EncodedFrame) (string, error) {
	s.mu.Lock()
	path := s.nextPathLocked(FileFormatJPEG.extension())
	s.mu.Unlock()

	data := frame.Bytes()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("file saver: write %s: %w", path, err)
	}

	s.framesSaved.Add(1)
	s.bytesSaved.Add(uint64(len(data)))
	s.logger.Info("frame saved", "path", path, "bytes", len(data))
	if s.cfg.OnSave != nil {
		s.cfg.OnSave(path, int64(len(data)))
	}
	return path, nil
}

func (s *FileSaver) appendStream(frame *EncodedFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.recording || s.file == nil {
		return nil
	}
	if s.cfg.MaxFrames > 0 && s.framesSaved.Load() >= s.cfg.MaxFrames {
		s.closeFileLocked()
		s.recording = false
		s.logger.Info("frame limit reached, recording finalized", "frames", s.framesSaved.Load())
		return nil
	}

	n := 0
	for _, p := range frame.Stream().Packets {
		w, err := s.file.Write(p.Data)
		n += w
		if err != nil {
			return fmt.Errorf("file saver: write %s: %w", s.filePath, err)
		}
	}

	s.fileBytes += int64(n)
	s.framesSaved.Add(1)
	s.bytesSaved.Add(uint64(n))

	if s.cfg.MaxFileSize > 0 && s.fileBytes >= s.cfg.MaxFileSize {
		s.logger.Info("size limit reached, rotating", "path", s.filePath, "bytes", s.fileBytes)
		s.closeFileLocked()
		if err := s.openFileLocked(); err != nil {
			s.recording = false
			return err
		}
	}
	return nil
}

func (s *FileSaver) openFileLocked() error {
	path := s.nextPathLocked(s.cfg.Format.extension())
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("file saver: create %s: %w", path, err)
	}
	s.file = f
	s.filePath = path
	s.fileBytes = 0
	s.logger.Info("recording file opened", "path", path)
	return nil
}

func (s *FileSaver) closeFileLocked() {
	if s.file == nil {
		return
	}
	if err := s.file.Close(); err != nil {
		s.logger.Warn("file close failed", "path", s.filePath, "err", err)
	}
	s.logger.Info("recording file finalized", "path", s.filePath, "bytes", s.fileBytes)
	if s.cfg.OnSave != nil {
		s.cfg.OnSave(s.filePath, s.fileBytes)
	}
	s.file = nil
	s.filePath = ""
	s.fileBytes = 0
}

func (s *FileSaver) nextPathLocked(ext string) string {
	name := s.cfg.FilenamePrefix
	if s.cfg.AppendTimestamp {
		name += "_" + time.Now().Format("20060102_150405")
	}
	name = fmt.Sprintf("%s_%04d%s", name, s.seq, ext)
	s.seq++
	return filepath.Join(s.cfg.OutputDir, name)
}

// FramesSaved returns the number of frames written so far.
func (s *FileSaver) FramesSaved() uint64 { return s.framesSaved.Load() }

// BytesSaved returns the number of bytes written so far.
func (s *FileSaver) BytesSaved() uint64 { return s.bytesSaved.Load() }

// SetOutputCallback is not supported: the saver is a terminal sink.
func (s *FileSaver) SetOutputCallback(FrameCallback) error { return ErrNotSupported }

// Close stops the saver and finalizes any open file.
func (s *FileSaver) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.Stop()
	s.StopRecording()
	s.logger.Info("file saver closed",
		"frames", s.framesSaved.Load(), "bytes", s.bytesSaved.Load())
	return nil
}
