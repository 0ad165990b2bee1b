package worker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/andresmejia3/facegate/internal/types"
	"github.com/vmihailenco/msgpack/v5"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

func newMockWorker(reply []byte) (*PythonWorker, *MockCloser) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}

	binary.Write(dataPipeMock, binary.BigEndian, uint32(len(reply)))
	dataPipeMock.Write(reply)

	// Cmd is nil because we aren't testing process management, just the protocol
	return &PythonWorker{ID: 1, Stdin: stdinMock, DataPipe: dataPipeMock}, stdinMock
}

func TestDetect(t *testing.T) {
	// Protocol: [Status:0] [msgpack reply]
	reply, err := msgpack.Marshal(detectorReply{
		Detections: []detectorFace{
			{X: 100, Y: 100, Width: 200, Height: 200, Confidence: 0.98},
			{X: -5, Y: 10.4, Width: 50, Height: 49.2, Confidence: 0.5},
		},
		InferenceMs: 3.5,
	})
	if err != nil {
		t.Fatalf("encode reply: %v", err)
	}
	payload := new(bytes.Buffer)
	payload.WriteByte(0)
	payload.Write(reply)

	pw, stdinMock := newMockWorker(payload.Bytes())
	w := &DetectorWorker{PythonWorker: pw}

	frame := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	dets, err := w.Detect(types.FrameTask{Index: 7, Data: frame}, 480, 640, 90)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	// Verify Go sent the correct data TO the detector: length + 3 header words + frame
	sent := stdinMock.Bytes()
	if len(sent) != 4+12+len(frame) {
		t.Errorf("Expected %d bytes sent, got %d", 4+12+len(frame), len(sent))
	}
	if got := binary.BigEndian.Uint32(sent[4:8]); got != 480 {
		t.Errorf("Expected width 480 in header, got %d", got)
	}

	if len(dets) != 2 {
		t.Fatalf("Expected 2 faces, got %d", len(dets))
	}
	want := types.BoundingBox{Left: 100, Top: 100, Width: 200, Height: 200}
	if dets[0].Box != want {
		t.Errorf("Expected box %v, got %v", want, dets[0].Box)
	}
	// Fractional boxes round outward: top 10.4 -> 10, bottom 59.6 -> 60.
	want = types.BoundingBox{Left: -5, Top: 10, Width: 50, Height: 50}
	if dets[1].Box != want {
		t.Errorf("Expected box %v, got %v", want, dets[1].Box)
	}
	if dets[0].Confidence < 0.97 {
		t.Errorf("Expected confidence ~0.98, got %v", dets[0].Confidence)
	}
}

func TestDetect_Error(t *testing.T) {
	// Protocol: [Status:1] [MsgLen] [Msg]
	payload := new(bytes.Buffer)
	payload.WriteByte(1)
	errMsg := "Python Exception: Import Error"
	binary.Write(payload, binary.BigEndian, uint32(len(errMsg)))
	payload.WriteString(errMsg)

	pw, _ := newMockWorker(payload.Bytes())
	w := &DetectorWorker{PythonWorker: pw}

	_, err := w.Detect(types.FrameTask{Data: []byte("frame")}, 2, 2, 0)
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !errors.Is(err, ErrWorker) {
		t.Errorf("Expected ErrWorker, got %v", err)
	}
	if err.Error() != "python worker error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "python worker error: "+errMsg, err)
	}
}

func TestDetect_Truncated(t *testing.T) {
	payload := new(bytes.Buffer)
	payload.WriteByte(0)
	payload.Write([]byte{0x81, 0xaa}) // map header, then a truncated key

	pw, _ := newMockWorker(payload.Bytes())
	w := &DetectorWorker{PythonWorker: pw}

	_, err := w.Detect(types.FrameTask{Data: []byte{1}}, 1, 1, 0)
	if err == nil {
		t.Fatal("Expected error for truncated reply")
	}
	// Garbled replies are per-frame failures, so the scan skips the frame instead of dying.
	if !errors.Is(err, ErrWorker) {
		t.Errorf("Expected ErrWorker, got %v", err)
	}
}

func TestCommunicate_UnknownStatus(t *testing.T) {
	pw, _ := newMockWorker([]byte{9})
	if _, err := pw.Communicate([]byte("x")); !errors.Is(err, ErrWorker) {
		t.Errorf("Expected ErrWorker, got %v", err)
	}
}
