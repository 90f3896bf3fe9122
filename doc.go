// Package mediagraph provides a module/pipeline layer over the Rockchip
// rockit MPI stack for RV1106-class devices: camera capture through the
// ISP, hardware H.264/H.265/JPEG encoding, and file/network delivery.
//
// Key pieces include:
//   - RawFrame/EncodedFrame: single-owner wrappers over driver buffers
//   - VideoCapture and VideoEncoder modules over the vendor driver
//   - FileSaver, RTPStreamer, and WebRTCSink delivery modules
//   - RTMPIngest source accepting an RTMP H.264 publisher
//   - Pipeline: module registry plus hardware/software bindings
//   - System: refcounted guard around the process-global MPI subsystem
//
// # Architecture
//
//   Hardware path: VideoCapture ==(driver bind)==> VideoEncoder -> callback -> sink
//   Software path: VideoCapture -> callback -> VideoEncoder -> callback -> sink
//
// Frames own their driver buffers: whoever holds a frame must Close it
// or pass ownership onward. Output callbacks receive ownership;
// PushFrame only borrows.
//
// # Native Libraries
//
// The rockit binding loads librockit_shim.so via purego (CGO_ENABLED=0).
// Set ROCKIT_SHIM_LIB_PATH to override the search path; RV1106 firmware
// locations (/oem/usr/lib) are probed by default. Everything except the
// RockitDriver works against any Driver implementation, so the package
// is fully testable off-device.
//
// # Build Tags
//
//   - norockit: disable the vendor binding (stub driver only)
package mediagraph
