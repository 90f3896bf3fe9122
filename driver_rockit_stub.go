//go:build !linux || norockit

package mediagraph

import "time"

// RockitDriver is only functional on Linux targets with the vendor
// shim present; this build satisfies the Driver interface so dependent
// code compiles everywhere.
type RockitDriver struct{}

// NewRockitDriver reports the driver as unavailable on this platform.
func NewRockitDriver() (*RockitDriver, error) {
	return nil, ErrNotSupported
}

// IsRockitAvailable reports whether the vendor shim could be loaded.
func IsRockitAvailable() bool { return false }

func (d *RockitDriver) Init() error { return ErrNotSupported }
func (d *RockitDriver) Exit() error { return ErrNotSupported }

func (d *RockitDriver) ISPInit(int, HDRMode, bool, string) error  { return ErrNotSupported }
func (d *RockitDriver) ISPRun(int) error                          { return ErrNotSupported }
func (d *RockitDriver) ISPStop(int) error                         { return ErrNotSupported }
func (d *RockitDriver) ISPSetFrameRate(int, int) error            { return ErrNotSupported }
func (d *RockitDriver) ISPSetMirrorFlip(int, bool, bool) error    { return ErrNotSupported }

func (d *RockitDriver) VIEnable(CaptureConfig) error  { return ErrNotSupported }
func (d *RockitDriver) VIDisable(CaptureConfig) error { return ErrNotSupported }
func (d *RockitDriver) VIAcquireFrame(int, int, time.Duration) (FrameInfo, error) {
	return FrameInfo{}, ErrNotSupported
}
func (d *RockitDriver) VIReleaseFrame(int, int, *FrameInfo) error { return ErrNotSupported }
func (d *RockitDriver) VIQueryFPS(int, int) (int, error)          { return 0, ErrNotSupported }

func (d *RockitDriver) VENCCreateChannel(EncoderConfig) error { return ErrNotSupported }
func (d *RockitDriver) VENCDestroyChannel(int) error          { return ErrNotSupported }
func (d *RockitDriver) VENCSendFrame(int, *FrameInfo, time.Duration) error {
	return ErrNotSupported
}
func (d *RockitDriver) VENCAcquireStream(int, time.Duration) (StreamInfo, error) {
	return StreamInfo{}, ErrNotSupported
}
func (d *RockitDriver) VENCReleaseStream(int, *StreamInfo) error       { return ErrNotSupported }
func (d *RockitDriver) VENCRequestIDR(int) error                       { return ErrNotSupported }
func (d *RockitDriver) VENCSetBitrate(int, int) error                  { return ErrNotSupported }
func (d *RockitDriver) VENCSetFrameRate(int, int) error                { return ErrNotSupported }
func (d *RockitDriver) VENCSetJPEGQuality(int, int) error              { return ErrNotSupported }
func (d *RockitDriver) VENCSetResolution(int, int, int, int, int) error { return ErrNotSupported }
func (d *RockitDriver) VENCStartRecv(int, int) error                   { return ErrNotSupported }
func (d *RockitDriver) VENCStopRecv(int) error                         { return ErrNotSupported }

func (d *RockitDriver) Bind(Endpoint, Endpoint) error   { return ErrNotSupported }
func (d *RockitDriver) Unbind(Endpoint, Endpoint) error { return ErrNotSupported }
