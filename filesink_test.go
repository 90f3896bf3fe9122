package mediagraph

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestSaver(t *testing.T, format FileFormat) *FileSaver {
	cfg := DefaultFileSaverConfig()
	cfg.OutputDir = t.TempDir()
	cfg.Format = format
	cfg.AppendTimestamp = false
	cfg.Logger = testLogger(t)
	return NewFileSaver(cfg)
}

func pushEncoded(t *testing.T, s *FileSaver, data []byte, pts int64) {
	t.Helper()
	frame := NewEncodedFrameFromBytes(data, pts, false)
	defer frame.Close()
	if err := s.PushFrame(EncodedMediaFrame(&frame)); err != nil {
		t.Fatal(err)
	}
}

func TestFileSaverStreamRecording(t *testing.T) {
	var savedPath string
	var savedSize int64

	saver := newTestSaver(t, FileFormatH264)
	saver.cfg.OnSave = func(path string, size int64) { savedPath, savedSize = path, size }

	if err := saver.Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := saver.Start(); err != nil {
		t.Fatal(err)
	}
	if !saver.Recording() {
		t.Fatal("stream format must start recording on Start")
	}

	pushEncoded(t, saver, []byte{0, 0, 0, 1, 0x65, 1, 2}, 1000)
	pushEncoded(t, saver, []byte{0, 0, 0, 1, 0x41, 3}, 2000)

	saver.Stop()

	if saver.FramesSaved() != 2 {
		t.Fatalf("frames saved = %d, want 2", saver.FramesSaved())
	}
	if savedPath == "" {
		t.Fatal("save callback did not fire")
	}
	if filepath.Ext(savedPath) != ".h264" {
		t.Fatalf("extension = %s, want .h264", filepath.Ext(savedPath))
	}

	data, err := os.ReadFile(savedPath)
	if err != nil {
		t.Fatal(err)
	}
	if int64(len(data)) != savedSize || savedSize != int64(saver.BytesSaved()) {
		t.Fatalf("sizes disagree: file=%d callback=%d counter=%d",
			len(data), savedSize, saver.BytesSaved())
	}
}

func TestFileSaverJPEGPerFrameFiles(t *testing.T) {
	var saves []string
	saver := newTestSaver(t, FileFormatJPEG)
	saver.cfg.OnSave = func(path string, _ int64) { saves = append(saves, path) }

	saver.Initialize()
	if err := saver.Start(); err != nil {
		t.Fatal(err)
	}
	if saver.Recording() {
		t.Fatal("jpeg format must not open a recording file")
	}

	pushEncoded(t, saver, []byte{0xFF, 0xD8, 0xFF}, 1)
	pushEncoded(t, saver, []byte{0xFF, 0xD8, 0xEE}, 2)
	saver.Stop()

	if len(saves) != 2 {
		t.Fatalf("saved %d files, want 2", len(saves))
	}
	if saves[0] == saves[1] {
		t.Fatal("file names must be unique")
	}
	for _, p := range saves {
		if filepath.Ext(p) != ".jpg" {
			t.Fatalf("extension = %s, want .jpg", filepath.Ext(p))
		}
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("saved file missing: %v", err)
		}
	}
}

func TestFileSaverSaveJPEGExplicit(t *testing.T) {
	saver := newTestSaver(t, FileFormatH264)
	saver.Initialize()

	frame := NewEncodedFrameFromBytes([]byte{0xFF, 0xD8}, 0, true)
	defer frame.Close()

	path, err := saver.SaveJPEG(&frame)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Ext(path) != ".jpg" {
		t.Fatalf("extension = %s, want .jpg", filepath.Ext(path))
	}
	if !frame.IsValid() {
		t.Fatal("save must borrow the frame")
	}
}

func TestFileSaverSizeRotation(t *testing.T) {
	var saves []string
	saver := newTestSaver(t, FileFormatH264)
	saver.cfg.MaxFileSize = 8
	saver.cfg.OnSave = func(path string, _ int64) { saves = append(saves, path) }

	saver.Initialize()
	saver.Start()

	pushEncoded(t, saver, make([]byte, 10), 1) // over the limit, rotates
	pushEncoded(t, saver, make([]byte, 2), 2)
	saver.Stop()

	if len(saves) != 2 {
		t.Fatalf("finalized %d files, want 2 (rotated + final)", len(saves))
	}
	if saves[0] == saves[1] {
		t.Fatal("rotation must open a new file")
	}
}

func TestFileSaverFrameLimit(t *testing.T) {
	saver := newTestSaver(t, FileFormatH264)
	saver.cfg.MaxFrames = 2

	saver.Initialize()
	saver.Start()

	pushEncoded(t, saver, []byte{1}, 1)
	pushEncoded(t, saver, []byte{2}, 2)
	pushEncoded(t, saver, []byte{3}, 3) // finalizes, not written
	pushEncoded(t, saver, []byte{4}, 4) // dropped

	if saver.Recording() {
		t.Fatal("recording must stop at the frame limit")
	}
	if saver.FramesSaved() != 2 {
		t.Fatalf("frames saved = %d, want 2", saver.FramesSaved())
	}
	saver.Stop()
}

func TestFileSaverRejectsRawFrames(t *testing.T) {
	saver := newTestSaver(t, FileFormatH264)
	saver.Initialize()
	saver.Start()
	defer saver.Stop()

	raw := NewRawFrame(FrameInfo{Handle: 1}, nil)
	if err := saver.PushFrame(RawMediaFrame(&raw)); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("push raw = %v, want ErrNotSupported", err)
	}
}

func TestFileSaverPushBeforeStart(t *testing.T) {
	saver := newTestSaver(t, FileFormatH264)
	saver.Initialize()

	frame := NewEncodedFrameFromBytes([]byte{1}, 0, false)
	defer frame.Close()
	if err := saver.PushFrame(EncodedMediaFrame(&frame)); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("push before start = %v, want ErrInvalidState", err)
	}
}
