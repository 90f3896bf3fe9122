//go:build linux && !norockit

// Rockchip rockit MPI driver binding via librockit_shim using purego.
// The shim flattens the MPI struct surface into a plain C ABI so no
// cgo is needed.

package mediagraph

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unsafe"

	"github.com/ebitengine/purego"
)

var (
	rockitOnce    sync.Once
	rockitHandle  uintptr
	rockitInitErr error
)

// librockit_shim function pointers
var (
	rockitSysInit func() int32
	rockitSysExit func() int32

	rockitISPInit        func(camID, hdrMode, multiCam int32, iqPath string) int32
	rockitISPRun         func(camID int32) int32
	rockitISPStop        func(camID int32) int32
	rockitISPSetFPS      func(camID, fps int32) int32
	rockitISPSetMirror   func(camID, mirror, flip int32) int32

	rockitVIEnable       func(pipe, channel, width, height, format, bufCount, depth int32, devName string) int32
	rockitVIDisable      func(pipe, channel int32) int32
	rockitVIAcquireFrame func(pipe, channel, timeoutMs int32, out uintptr) int32
	rockitVIReleaseFrame func(pipe, channel int32, handle uint64) int32
	rockitVIQueryFPS     func(pipe, channel int32) int32

	rockitVENCCreate     func(channel, width, height, virWidth, virHeight, format, codec, fps, gop, bitrateKbps, rcMode, profile, bufCount, quality int32) int32
	rockitVENCDestroy    func(channel int32) int32
	rockitVENCSendFrame  func(channel int32, handle uint64, timeoutMs int32) int32
	rockitVENCAcquire    func(channel, timeoutMs int32, out uintptr) int32
	rockitVENCRelease    func(channel int32, handle uint64) int32
	rockitVENCRequestIDR func(channel int32) int32
	rockitVENCSetBitrate func(channel, bitrateKbps int32) int32
	rockitVENCSetFPS     func(channel, fps int32) int32
	rockitVENCSetQuality func(channel, quality int32) int32
	rockitVENCSetRes     func(channel, width, height, virWidth, virHeight int32) int32
	rockitVENCStartRecv  func(channel, count int32) int32
	rockitVENCStopRecv   func(channel int32) int32

	rockitBind   func(srcMod, srcDev, srcChn, dstMod, dstDev, dstChn int32) int32
	rockitUnbind func(srcMod, srcDev, srcChn, dstMod, dstDev, dstChn int32) int32
)

// Return codes from rockit_shim.h
const (
	rockitOK           = 0
	rockitErr          = -1
	rockitErrTimeout   = -2
	rockitErrNotReady  = -3
	rockitErrBadParam  = -4
	rockitErrNoSupport = -5
)

// rockitFrameResult receives frame acquisition output parameters. It
// must be heap-allocated for purego to work correctly on arm64: local
// stack variables can fail because the GC may move the stack during
// the C call.
type rockitFrameResult struct {
	Handle    uint64
	DataPtr   uintptr
	DataLen   int32
	Width     int32
	Height    int32
	VirWidth  int32
	VirHeight int32
	Format    int32
	Keyframe  int32
	PTS       int64
}

func loadRockit() error {
	rockitOnce.Do(func() {
		rockitInitErr = loadRockitLib()
	})
	return rockitInitErr
}

func loadRockitLib() error {
	var lastErr error
	for _, path := range rockitLibPaths() {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			rockitHandle = handle
			loadRockitSymbols()
			return nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return fmt.Errorf("failed to load librockit_shim: %w", lastErr)
	}
	return errors.New("librockit_shim not found in any standard location")
}

func rockitLibPaths() []string {
	const libName = "librockit_shim.so"
	var paths []string

	if envPath := os.Getenv("ROCKIT_SHIM_LIB_PATH"); envPath != "" {
		paths = append(paths, envPath)
	}

	if exe, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(exe), libName))
	}

	// RV1106 firmware ships vendor libraries under /oem.
	paths = append(paths,
		filepath.Join("/oem/usr/lib", libName),
		filepath.Join("/usr/lib", libName),
		filepath.Join("/usr/local/lib", libName),
		libName,
	)
	return paths
}

func loadRockitSymbols() {
	purego.RegisterLibFunc(&rockitSysInit, rockitHandle, "rockit_sys_init")
	purego.RegisterLibFunc(&rockitSysExit, rockitHandle, "rockit_sys_exit")

	purego.RegisterLibFunc(&rockitISPInit, rockitHandle, "rockit_isp_init")
	purego.RegisterLibFunc(&rockitISPRun, rockitHandle, "rockit_isp_run")
	purego.RegisterLibFunc(&rockitISPStop, rockitHandle, "rockit_isp_stop")
	purego.RegisterLibFunc(&rockitISPSetFPS, rockitHandle, "rockit_isp_set_fps")
	purego.RegisterLibFunc(&rockitISPSetMirror, rockitHandle, "rockit_isp_set_mirror_flip")

	purego.RegisterLibFunc(&rockitVIEnable, rockitHandle, "rockit_vi_enable")
	purego.RegisterLibFunc(&rockitVIDisable, rockitHandle, "rockit_vi_disable")
	purego.RegisterLibFunc(&rockitVIAcquireFrame, rockitHandle, "rockit_vi_acquire_frame")
	purego.RegisterLibFunc(&rockitVIReleaseFrame, rockitHandle, "rockit_vi_release_frame")
	purego.RegisterLibFunc(&rockitVIQueryFPS, rockitHandle, "rockit_vi_query_fps")

	purego.RegisterLibFunc(&rockitVENCCreate, rockitHandle, "rockit_venc_create")
	purego.RegisterLibFunc(&rockitVENCDestroy, rockitHandle, "rockit_venc_destroy")
	purego.RegisterLibFunc(&rockitVENCSendFrame, rockitHandle, "rockit_venc_send_frame")
	purego.RegisterLibFunc(&rockitVENCAcquire, rockitHandle, "rockit_venc_acquire_stream")
	purego.RegisterLibFunc(&rockitVENCRelease, rockitHandle, "rockit_venc_release_stream")
	purego.RegisterLibFunc(&rockitVENCRequestIDR, rockitHandle, "rockit_venc_request_idr")
	purego.RegisterLibFunc(&rockitVENCSetBitrate, rockitHandle, "rockit_venc_set_bitrate")
	purego.RegisterLibFunc(&rockitVENCSetFPS, rockitHandle, "rockit_venc_set_fps")
	purego.RegisterLibFunc(&rockitVENCSetQuality, rockitHandle, "rockit_venc_set_jpeg_quality")
	purego.RegisterLibFunc(&rockitVENCSetRes, rockitHandle, "rockit_venc_set_resolution")
	purego.RegisterLibFunc(&rockitVENCStartRecv, rockitHandle, "rockit_venc_start_recv")
	purego.RegisterLibFunc(&rockitVENCStopRecv, rockitHandle, "rockit_venc_stop_recv")

	purego.RegisterLibFunc(&rockitBind, rockitHandle, "rockit_sys_bind")
	purego.RegisterLibFunc(&rockitUnbind, rockitHandle, "rockit_sys_unbind")
}

// IsRockitAvailable reports whether the vendor shim could be loaded.
func IsRockitAvailable() bool { return loadRockit() == nil }

func rockitError(op string, code int32) error {
	switch code {
	case rockitOK:
		return nil
	case rockitErrTimeout, rockitErrNotReady:
		return ErrTimeout
	case rockitErrNoSupport:
		return fmt.Errorf("%s: %w", op, ErrNotSupported)
	default:
		return fmt.Errorf("%s: driver error %d", op, code)
	}
}

// RockitDriver implements Driver on top of the rockit MPI shim.
type RockitDriver struct{}

// NewRockitDriver loads the vendor shim and returns the driver.
func NewRockitDriver() (*RockitDriver, error) {
	if err := loadRockit(); err != nil {
		return nil, err
	}
	return &RockitDriver{}, nil
}

func (d *RockitDriver) Init() error { return rockitError("sys init", rockitSysInit()) }
func (d *RockitDriver) Exit() error { return rockitError("sys exit", rockitSysExit()) }

func (d *RockitDriver) ISPInit(camID int, mode HDRMode, multiCam bool, iqPath string) error {
	multi := int32(0)
	if multiCam {
		multi = 1
	}
	return rockitError("isp init", rockitISPInit(int32(camID), int32(mode), multi, iqPath))
}

func (d *RockitDriver) ISPRun(camID int) error {
	return rockitError("isp run", rockitISPRun(int32(camID)))
}

func (d *RockitDriver) ISPStop(camID int) error {
	return rockitError("isp stop", rockitISPStop(int32(camID)))
}

func (d *RockitDriver) ISPSetFrameRate(camID, fps int) error {
	return rockitError("isp set fps", rockitISPSetFPS(int32(camID), int32(fps)))
}

func (d *RockitDriver) ISPSetMirrorFlip(camID int, mirror, flip bool) error {
	m, f := int32(0), int32(0)
	if mirror {
		m = 1
	}
	if flip {
		f = 1
	}
	return rockitError("isp set mirror/flip", rockitISPSetMirror(int32(camID), m, f))
}

func (d *RockitDriver) VIEnable(cfg CaptureConfig) error {
	return rockitError("vi enable", rockitVIEnable(
		int32(cfg.PipeID), int32(cfg.ChannelID),
		int32(cfg.Width), int32(cfg.Height), int32(cfg.Format),
		int32(cfg.BufCount), int32(cfg.Depth), cfg.DevName))
}

func (d *RockitDriver) VIDisable(cfg CaptureConfig) error {
	return rockitError("vi disable", rockitVIDisable(int32(cfg.PipeID), int32(cfg.ChannelID)))
}

func (d *RockitDriver) VIAcquireFrame(pipe, channel int, timeout time.Duration) (FrameInfo, error) {
	res := new(rockitFrameResult)
	code := rockitVIAcquireFrame(int32(pipe), int32(channel),
		int32(timeout.Milliseconds()), uintptr(unsafe.Pointer(res)))
	if err := rockitError("vi acquire", code); err != nil {
		return FrameInfo{}, err
	}

	var data []byte
	if res.DataPtr != 0 && res.DataLen > 0 {
		data = unsafe.Slice((*byte)(unsafe.Pointer(res.DataPtr)), int(res.DataLen))
	}
	return FrameInfo{
		Handle:    BufferHandle(res.Handle),
		Data:      data,
		Width:     int(res.Width),
		Height:    int(res.Height),
		VirWidth:  int(res.VirWidth),
		VirHeight: int(res.VirHeight),
		Format:    PixelFormat(res.Format),
		PTS:       res.PTS,
	}, nil
}

func (d *RockitDriver) VIReleaseFrame(pipe, channel int, info *FrameInfo) error {
	return rockitError("vi release", rockitVIReleaseFrame(int32(pipe), int32(channel), uint64(info.Handle)))
}

func (d *RockitDriver) VIQueryFPS(pipe, channel int) (int, error) {
	fps := rockitVIQueryFPS(int32(pipe), int32(channel))
	if fps < 0 {
		return 0, rockitError("vi query fps", fps)
	}
	return int(fps), nil
}

func (d *RockitDriver) VENCCreateChannel(cfg EncoderConfig) error {
	return rockitError("venc create", rockitVENCCreate(
		int32(cfg.ChannelID),
		int32(cfg.Width), int32(cfg.Height), int32(cfg.VirWidth), int32(cfg.VirHeight),
		int32(cfg.Format), int32(cfg.Codec),
		int32(cfg.FPS), int32(cfg.GOP), int32(cfg.BitrateKbps),
		int32(cfg.RateControl), int32(cfg.Profile),
		int32(cfg.BufCount), int32(cfg.JPEGQuality)))
}

func (d *RockitDriver) VENCDestroyChannel(channel int) error {
	return rockitError("venc destroy", rockitVENCDestroy(int32(channel)))
}

func (d *RockitDriver) VENCSendFrame(channel int, info *FrameInfo, timeout time.Duration) error {
	return rockitError("venc send", rockitVENCSendFrame(
		int32(channel), uint64(info.Handle), int32(timeout.Milliseconds())))
}

func (d *RockitDriver) VENCAcquireStream(channel int, timeout time.Duration) (StreamInfo, error) {
	res := new(rockitFrameResult)
	code := rockitVENCAcquire(int32(channel), int32(timeout.Milliseconds()),
		uintptr(unsafe.Pointer(res)))
	if err := rockitError("venc acquire", code); err != nil {
		return StreamInfo{}, err
	}

	var data []byte
	if res.DataPtr != 0 && res.DataLen > 0 {
		data = unsafe.Slice((*byte)(unsafe.Pointer(res.DataPtr)), int(res.DataLen))
	}
	return StreamInfo{
		Channel: channel,
		Packets: []Packet{{
			Handle:   BufferHandle(res.Handle),
			Data:     data,
			PTS:      res.PTS,
			Keyframe: res.Keyframe != 0,
		}},
	}, nil
}

func (d *RockitDriver) VENCReleaseStream(channel int, stream *StreamInfo) error {
	for _, p := range stream.Packets {
		if code := rockitVENCRelease(int32(channel), uint64(p.Handle)); code != rockitOK {
			return rockitError("venc release", code)
		}
	}
	return nil
}

func (d *RockitDriver) VENCRequestIDR(channel int) error {
	return rockitError("venc request idr", rockitVENCRequestIDR(int32(channel)))
}

func (d *RockitDriver) VENCSetBitrate(channel, bitrateKbps int) error {
	return rockitError("venc set bitrate", rockitVENCSetBitrate(int32(channel), int32(bitrateKbps)))
}

func (d *RockitDriver) VENCSetFrameRate(channel, fps int) error {
	return rockitError("venc set fps", rockitVENCSetFPS(int32(channel), int32(fps)))
}

func (d *RockitDriver) VENCSetJPEGQuality(channel, quality int) error {
	return rockitError("venc set quality", rockitVENCSetQuality(int32(channel), int32(quality)))
}

func (d *RockitDriver) VENCSetResolution(channel, width, height, virWidth, virHeight int) error {
	return rockitError("venc set resolution", rockitVENCSetRes(
		int32(channel), int32(width), int32(height), int32(virWidth), int32(virHeight)))
}

func (d *RockitDriver) VENCStartRecv(channel, count int) error {
	return rockitError("venc start recv", rockitVENCStartRecv(int32(channel), int32(count)))
}

func (d *RockitDriver) VENCStopRecv(channel int) error {
	return rockitError("venc stop recv", rockitVENCStopRecv(int32(channel)))
}

func (d *RockitDriver) Bind(src, dst Endpoint) error {
	return rockitError("sys bind", rockitBind(
		int32(src.Subsystem), int32(src.Device), int32(src.Channel),
		int32(dst.Subsystem), int32(dst.Device), int32(dst.Channel)))
}

func (d *RockitDriver) Unbind(src, dst Endpoint) error {
	return rockitError("sys unbind", rockitUnbind(
		int32(src.Subsystem), int32(src.Device), int32(src.Channel),
		int32(dst.Subsystem), int32(dst.Device), int32(dst.Channel)))
}
