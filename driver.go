package mediagraph

import (
	"errors"
	"time"
)

// Common errors
var (
	// ErrTimeout indicates no data was available within the acquire
	// timeout. This is the routine "no frame yet" outcome, not a fault.
	ErrTimeout = errors.New("no data within timeout")

	// ErrInvalidState is returned when an operation is not legal in the
	// module's current lifecycle state.
	ErrInvalidState = errors.New("invalid module state")

	// ErrNotSupported is returned when an optional operation is not
	// supported by the module or driver.
	ErrNotSupported = errors.New("operation not supported")

	// ErrClosed is returned when pushing into a module that has been
	// closed.
	ErrClosed = errors.New("module closed")
)

// HDRMode selects the sensor HDR working mode.
type HDRMode int

const (
	HDRModeNone HDRMode = iota // Linear
	HDRMode2                   // 2-frame HDR
	HDRMode3                   // 3-frame HDR
)

func (m HDRMode) String() string {
	switch m {
	case HDRModeNone:
		return "None"
	case HDRMode2:
		return "HDR2"
	case HDRMode3:
		return "HDR3"
	default:
		return "Unknown"
	}
}

// CodecType identifies the hardware encoder codec.
type CodecType int

const (
	CodecH264  CodecType = iota // H.264/AVC
	CodecH265                   // H.265/HEVC
	CodecMJPEG                  // Motion JPEG
	CodecJPEG                   // JPEG single-shot
)

func (c CodecType) String() string {
	switch c {
	case CodecH264:
		return "H264"
	case CodecH265:
		return "H265"
	case CodecMJPEG:
		return "MJPEG"
	case CodecJPEG:
		return "JPEG"
	default:
		return "Unknown"
	}
}

// RateControlMode selects the encoder rate control mode.
type RateControlMode int

const (
	RateControlCBR  RateControlMode = iota // Constant bitrate
	RateControlVBR                         // Variable bitrate
	RateControlAVBR                        // Adaptive variable bitrate
)

func (r RateControlMode) String() string {
	switch r {
	case RateControlCBR:
		return "CBR"
	case RateControlVBR:
		return "VBR"
	case RateControlAVBR:
		return "AVBR"
	default:
		return "Unknown"
	}
}

// SystemDriver is the process-global subsystem of the vendor stack.
// Init and Exit are not assumed reentrant-safe; System serializes them.
type SystemDriver interface {
	Init() error
	Exit() error
}

// CaptureDriver is the ISP + capture-unit surface consumed by
// VideoCapture. Frame acquisition returns ErrTimeout when no frame is
// ready within the deadline.
type CaptureDriver interface {
	ISPInit(camID int, mode HDRMode, multiCam bool, iqPath string) error
	ISPRun(camID int) error
	ISPStop(camID int) error
	ISPSetFrameRate(camID, fps int) error
	ISPSetMirrorFlip(camID int, mirror, flip bool) error

	VIEnable(cfg CaptureConfig) error
	VIDisable(cfg CaptureConfig) error
	VIAcquireFrame(pipe, channel int, timeout time.Duration) (FrameInfo, error)
	VIReleaseFrame(pipe, channel int, info *FrameInfo) error
	VIQueryFPS(pipe, channel int) (int, error)
}

// EncoderDriver is the hardware encoder surface consumed by
// VideoEncoder. Stream acquisition returns ErrTimeout when no encoded
// data is ready within the deadline.
type EncoderDriver interface {
	VENCCreateChannel(cfg EncoderConfig) error
	VENCDestroyChannel(channel int) error
	VENCSendFrame(channel int, info *FrameInfo, timeout time.Duration) error
	VENCAcquireStream(channel int, timeout time.Duration) (StreamInfo, error)
	VENCReleaseStream(channel int, stream *StreamInfo) error
	VENCRequestIDR(channel int) error
	VENCSetBitrate(channel, bitrateKbps int) error
	VENCSetFrameRate(channel, fps int) error
	VENCSetJPEGQuality(channel, quality int) error
	VENCSetResolution(channel, width, height, virWidth, virHeight int) error
	VENCStartRecv(channel, count int) error
	VENCStopRecv(channel int) error
}

// BindDriver is the zero-copy hardware bind primitive. A successful Bind
// must be undone by exactly one Unbind with the same endpoint pair.
type BindDriver interface {
	Bind(src, dst Endpoint) error
	Unbind(src, dst Endpoint) error
}

// Driver aggregates the full vendor driver surface, as produced by the
// rockit binding.
type Driver interface {
	SystemDriver
	CaptureDriver
	EncoderDriver
	BindDriver
}
