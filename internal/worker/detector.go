package worker

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/andresmejia3/facegate/internal/types"
	"github.com/vmihailenco/msgpack/v5"
)

// DetectorWorker asks an external face detector for boxes on raw I420 frames.
type DetectorWorker struct {
	*PythonWorker
}

// detectorFace is one face in the detector's msgpack reply. Coordinates are in
// frame pixels, in the frame's sensor orientation.
type detectorFace struct {
	X          float32 `msgpack:"x"`
	Y          float32 `msgpack:"y"`
	Width      float32 `msgpack:"w"`
	Height     float32 `msgpack:"h"`
	Confidence float32 `msgpack:"c"`
}

type detectorReply struct {
	Detections  []detectorFace `msgpack:"detections"`
	InferenceMs float32        `msgpack:"inference_ms"`
}

func NewDetectorWorker(id int, script string, minConfidence float64) (*DetectorWorker, error) {
	pw, err := NewPythonWorker(id, script, "--min-confidence", fmt.Sprintf("%g", minConfidence))
	if err != nil {
		return nil, err
	}
	return &DetectorWorker{PythonWorker: pw}, nil
}

// Detect sends one frame and decodes the detections.
// Request: [width u32][height u32][rotation u32][I420 bytes]; reply payload is msgpack.
func (w *DetectorWorker) Detect(f types.FrameTask, width, height, rotation int) ([]types.Detection, error) {
	req := make([]byte, 0, 12+len(f.Data))
	req = binary.BigEndian.AppendUint32(req, uint32(width))
	req = binary.BigEndian.AppendUint32(req, uint32(height))
	req = binary.BigEndian.AppendUint32(req, uint32(rotation))
	req = append(req, f.Data...)

	resp, err := w.Communicate(req)
	if err != nil {
		return nil, err
	}
	return parseDetections(resp)
}

func parseDetections(payload []byte) ([]types.Detection, error) {
	var reply detectorReply
	if err := msgpack.Unmarshal(payload, &reply); err != nil {
		// A garbled reply costs one frame; the process itself is still healthy.
		return nil, fmt.Errorf("%w: detector reply: %v", ErrWorker, err)
	}

	dets := make([]types.Detection, 0, len(reply.Detections))
	for _, d := range reply.Detections {
		// Boxes snap outward to whole pixels, like Rect.roundOut.
		left, top := math.Floor(float64(d.X)), math.Floor(float64(d.Y))
		right, bottom := math.Ceil(float64(d.X+d.Width)), math.Ceil(float64(d.Y+d.Height))
		dets = append(dets, types.Detection{
			Box: types.BoundingBox{
				Left:   int(left),
				Top:    int(top),
				Width:  int(right - left),
				Height: int(bottom - top),
			},
			Confidence: float64(d.Confidence),
		})
	}
	return dets, nil
}
