package mediagraph

// PixelFormat represents video pixel formats as produced by the capture unit.
type PixelFormat int

const (
	PixelFormatNV12  PixelFormat = iota // YUV 4:2:0 semi-planar (Y + interleaved UV)
	PixelFormatNV16                     // YUV 4:2:2 semi-planar
	PixelFormatI420                     // YUV 4:2:0 planar (Y + U + V)
	PixelFormatRGB24                    // Packed RGB, 3 bytes per pixel
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatNV12:
		return "NV12"
	case PixelFormatNV16:
		return "NV16"
	case PixelFormatI420:
		return "I420"
	case PixelFormatRGB24:
		return "RGB24"
	default:
		return "Unknown"
	}
}

// BufferHandle is an opaque buffer handle assigned by the vendor driver.
// Zero is never a valid handle.
type BufferHandle uintptr

// FrameInfo describes one raw frame as returned by the capture driver.
// Data points at driver-owned memory and is valid until the frame is
// released back to the driver.
type FrameInfo struct {
	Handle    BufferHandle // Vendor buffer handle
	Data      []byte       // Mapped frame data (driver-owned)
	Width     int          // Frame width in pixels
	Height    int          // Frame height in pixels
	VirWidth  int          // Aligned width
	VirHeight int          // Aligned height
	Format    PixelFormat  // Pixel format
	PTS       int64        // Capture timestamp in microseconds
}

// Packet is one encoded bitstream packet inside a StreamInfo.
type Packet struct {
	Handle   BufferHandle // Vendor buffer handle
	Data     []byte       // Mapped packet data (driver-owned)
	PTS      int64        // Encode timestamp in microseconds
	Keyframe bool         // IDR/I slice
}

// StreamInfo describes one encoded frame as returned by the encoder driver.
// A frame may span multiple packets.
type StreamInfo struct {
	Channel int      // Encoder channel the stream came from
	Packets []Packet // Packet list (driver-owned until released)
}

// RawFrame is a single-owner wrapper around a captured frame buffer.
//
// Exactly one RawFrame owns a given buffer handle at any time. The release
// function is invoked exactly once, on Close or when the frame is replaced
// through MoveFrom; after that the frame is invalid and all accessors
// return zero values. RawFrame values must not be copied; pass *RawFrame
// and transfer ownership with Move.
type RawFrame struct {
	info    FrameInfo
	release func(*FrameInfo)
	valid   bool
}

// NewRawFrame wraps a freshly acquired frame. A zero handle yields an
// invalid frame, which Close treats as a no-op.
func NewRawFrame(info FrameInfo, release func(*FrameInfo)) RawFrame {
	return RawFrame{
		info:    info,
		release: release,
		valid:   info.Handle != 0,
	}
}

// IsValid reports whether the frame still owns its buffer.
func (f *RawFrame) IsValid() bool { return f.valid }

// Data returns the mapped frame data, or nil if the frame is invalid.
func (f *RawFrame) Data() []byte {
	if !f.valid {
		return nil
	}
	return f.info.Data
}

// Size returns the frame data size in bytes.
func (f *RawFrame) Size() int {
	if !f.valid {
		return 0
	}
	return len(f.info.Data)
}

// PTS returns the capture timestamp in microseconds.
func (f *RawFrame) PTS() int64 {
	if !f.valid {
		return 0
	}
	return f.info.PTS
}

func (f *RawFrame) Width() int {
	if !f.valid {
		return 0
	}
	return f.info.Width
}

func (f *RawFrame) Height() int {
	if !f.valid {
		return 0
	}
	return f.info.Height
}

func (f *RawFrame) Format() PixelFormat {
	if !f.valid {
		return PixelFormat(-1)
	}
	return f.info.Format
}

// Info returns the underlying frame descriptor for driver submission.
// The descriptor stays owned by the frame; nil if invalid.
func (f *RawFrame) Info() *FrameInfo {
	if !f.valid {
		return nil
	}
	return &f.info
}

// Move transfers ownership out of f into the returned frame. f becomes
// invalid and will not release the buffer.
func (f *RawFrame) Move() RawFrame {
	out := *f
	f.valid = false
	f.release = nil
	f.info = FrameInfo{}
	return out
}

// MoveFrom releases f's current buffer (if any) and takes ownership of
// other's buffer. Self-moves are no-ops.
func (f *RawFrame) MoveFrom(other *RawFrame) {
	if f == other {
		return
	}
	f.Close()
	*f = other.Move()
}

// Close releases the buffer back to the driver. Safe to call more than
// once; only the first call releases.
func (f *RawFrame) Close() error {
	if !f.valid {
		return nil
	}
	f.valid = false
	if f.release != nil {
		f.release(&f.info)
		f.release = nil
	}
	return nil
}

// EncodedFrame is a single-owner wrapper around an encoded bitstream
// buffer, with the same ownership rules as RawFrame.
type EncodedFrame struct {
	stream  StreamInfo
	release func(*StreamInfo)
	valid   bool
}

// NewEncodedFrame wraps a freshly acquired encoded stream. A stream with
// no packets yields an invalid frame.
func NewEncodedFrame(stream StreamInfo, release func(*StreamInfo)) EncodedFrame {
	return EncodedFrame{
		stream:  stream,
		release: release,
		valid:   len(stream.Packets) > 0,
	}
}

// NewEncodedFrameFromBytes wraps Go-owned bitstream data as an encoded
// frame with no driver release obligation. Used by software sources.
func NewEncodedFrameFromBytes(data []byte, pts int64, keyframe bool) EncodedFrame {
	return NewEncodedFrame(StreamInfo{
		Packets: []Packet{{Handle: 1, Data: data, PTS: pts, Keyframe: keyframe}},
	}, nil)
}

// IsValid reports whether the frame still owns its buffers.
func (f *EncodedFrame) IsValid() bool { return f.valid }

// PacketCount returns the number of packets in the frame.
func (f *EncodedFrame) PacketCount() int {
	if !f.valid {
		return 0
	}
	return len(f.stream.Packets)
}

// Size returns the total bitstream size across all packets.
func (f *EncodedFrame) Size() int {
	if !f.valid {
		return 0
	}
	total := 0
	for _, p := range f.stream.Packets {
		total += len(p.Data)
	}
	return total
}

// PTS returns the timestamp of the first packet in microseconds.
func (f *EncodedFrame) PTS() int64 {
	if !f.valid {
		return 0
	}
	return f.stream.Packets[0].PTS
}

// IsKeyFrame reports whether any packet carries an I/IDR slice.
func (f *EncodedFrame) IsKeyFrame() bool {
	if !f.valid {
		return false
	}
	for _, p := range f.stream.Packets {
		if p.Keyframe {
			return true
		}
	}
	return false
}

// AppendTo appends the full bitstream to dst and returns the result.
// The copy is Go-owned and survives Close.
func (f *EncodedFrame) AppendTo(dst []byte) []byte {
	if !f.valid {
		return dst
	}
	for _, p := range f.stream.Packets {
		dst = append(dst, p.Data...)
	}
	return dst
}

// Bytes returns a Go-owned copy of the full bitstream, or nil if invalid.
func (f *EncodedFrame) Bytes() []byte {
	if !f.valid {
		return nil
	}
	return f.AppendTo(make([]byte, 0, f.Size()))
}

// Stream returns the underlying stream descriptor, nil if invalid.
func (f *EncodedFrame) Stream() *StreamInfo {
	if !f.valid {
		return nil
	}
	return &f.stream
}

// Move transfers ownership out of f into the returned frame.
func (f *EncodedFrame) Move() EncodedFrame {
	out := *f
	f.valid = false
	f.release = nil
	f.stream = StreamInfo{}
	return out
}

// MoveFrom releases f's current stream (if any) and takes ownership of
// other's stream. Self-moves are no-ops.
func (f *EncodedFrame) MoveFrom(other *EncodedFrame) {
	if f == other {
		return
	}
	f.Close()
	*f = other.Move()
}

// Close releases the stream back to the driver. Safe to call more than
// once.
func (f *EncodedFrame) Close() error {
	if !f.valid {
		return nil
	}
	f.valid = false
	if f.release != nil {
		f.release(&f.stream)
		f.release = nil
	}
	return nil
}

// FrameKind tags the variant held by a MediaFrame.
type FrameKind int

const (
	FrameKindRaw     FrameKind = iota // Raw captured frame
	FrameKindEncoded                  // Encoded bitstream frame
)

func (k FrameKind) String() string {
	switch k {
	case FrameKindRaw:
		return "Raw"
	case FrameKindEncoded:
		return "Encoded"
	default:
		return "Unknown"
	}
}

// MediaFrame is the tagged union of RawFrame and EncodedFrame used on
// module boundaries. It carries a pointer to the variant, so buffer
// ownership travels with the MediaFrame.
type MediaFrame struct {
	kind FrameKind
	raw  *RawFrame
	enc  *EncodedFrame
}

// RawMediaFrame wraps a raw frame for generic delivery.
func RawMediaFrame(f *RawFrame) MediaFrame {
	return MediaFrame{kind: FrameKindRaw, raw: f}
}

// EncodedMediaFrame wraps an encoded frame for generic delivery.
func EncodedMediaFrame(f *EncodedFrame) MediaFrame {
	return MediaFrame{kind: FrameKindEncoded, enc: f}
}

// Kind returns the frame variant tag.
func (m MediaFrame) Kind() FrameKind { return m.kind }

// Raw returns the raw variant, ok=false if the frame holds encoded data.
func (m MediaFrame) Raw() (*RawFrame, bool) {
	if m.kind != FrameKindRaw || m.raw == nil {
		return nil, false
	}
	return m.raw, true
}

// Encoded returns the encoded variant, ok=false for raw frames.
func (m MediaFrame) Encoded() (*EncodedFrame, bool) {
	if m.kind != FrameKindEncoded || m.enc == nil {
		return nil, false
	}
	return m.enc, true
}

// IsValid reports whether the held variant still owns its buffer.
func (m MediaFrame) IsValid() bool {
	switch m.kind {
	case FrameKindRaw:
		return m.raw != nil && m.raw.IsValid()
	case FrameKindEncoded:
		return m.enc != nil && m.enc.IsValid()
	default:
		return false
	}
}

// PTS returns the held variant's timestamp in microseconds.
func (m MediaFrame) PTS() int64 {
	switch m.kind {
	case FrameKindRaw:
		if m.raw != nil {
			return m.raw.PTS()
		}
	case FrameKindEncoded:
		if m.enc != nil {
			return m.enc.PTS()
		}
	}
	return 0
}

// Size returns the held variant's data size in bytes.
func (m MediaFrame) Size() int {
	switch m.kind {
	case FrameKindRaw:
		if m.raw != nil {
			return m.raw.Size()
		}
	case FrameKindEncoded:
		if m.enc != nil {
			return m.enc.Size()
		}
	}
	return 0
}

// Close releases the held variant's buffer.
func (m MediaFrame) Close() error {
	switch m.kind {
	case FrameKindRaw:
		if m.raw != nil {
			return m.raw.Close()
		}
	case FrameKindEncoded:
		if m.enc != nil {
			return m.enc.Close()
		}
	}
	return nil
}
