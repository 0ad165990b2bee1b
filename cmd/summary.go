package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/andresmejia3/facegate/internal/pipeline"
)

type timeRange struct {
	Start float64
	End   float64
}

// presenceTracker turns per-keyframe match flags into time intervals. An interval
// stays open across gaps shorter than the grace period; intervals shorter than
// the blip duration are discarded.
type presenceTracker struct {
	fps       float64
	maxGap    int
	minLength float64

	open   bool
	start  int
	last   int
	ranges []timeRange
}

func newPresenceTracker(fps float64, grace, blip time.Duration) *presenceTracker {
	maxGap := int(grace.Seconds() * fps)
	if maxGap < 1 {
		maxGap = 1 // Ensure at least 1 frame gap to prevent instant closing
	}
	return &presenceTracker{fps: fps, maxGap: maxGap, minLength: blip.Seconds()}
}

// Observe must be called with increasing frame indices.
func (t *presenceTracker) Observe(frameIndex int, matched bool) {
	if matched {
		if !t.open {
			t.open = true
			t.start = frameIndex
		}
		t.last = frameIndex
		return
	}
	if t.open && frameIndex-t.last > t.maxGap {
		t.close()
	}
}

func (t *presenceTracker) close() {
	t.open = false
	startSec := float64(t.start) / t.fps
	endSec := float64(t.last) / t.fps

	// Filter short intervals (blips)
	if endSec-startSec < t.minLength {
		return
	}
	t.ranges = append(t.ranges, timeRange{Start: startSec, End: endSec})
}

// Flush closes any open interval and returns everything recorded.
func (t *presenceTracker) Flush() []timeRange {
	if t.open {
		t.close()
	}
	return t.ranges
}

// scanSummary accumulates per-face statistics over a scan.
type scanSummary struct {
	Detections     int
	Scored         int
	Matched        int
	BestSimilarity float64
	Intervals      []timeRange
}

func (s *scanSummary) add(faces []pipeline.FaceResult) {
	for _, f := range faces {
		s.Detections++
		if f.Score == nil {
			continue
		}
		if s.Scored == 0 || f.Score.Similarity > s.BestSimilarity {
			s.BestSimilarity = f.Score.Similarity
		}
		s.Scored++
		if f.Score.Match {
			s.Matched++
		}
	}
}

func (s scanSummary) print(w io.Writer, sess scanSession) {
	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "📊 SCAN SUMMARY\n")
	fmt.Fprintf(w, "---------------------------------------------------------\n")

	if sess.Active {
		fmt.Fprintf(w, "\n👤 Session %s\n", sess.ID)
		if len(s.Intervals) == 0 {
			fmt.Fprintf(w, "   not found in this video\n")
		}
		for _, r := range s.Intervals {
			fmt.Fprintf(w, "   %s -> %s\n", fmtTime(r.Start), fmtTime(r.End))
		}
		if s.Scored > 0 {
			fmt.Fprintf(w, "   best similarity: %.0f%%\n", s.BestSimilarity*100)
		}
	}

	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "👁️  Total Face Detections:   %d\n", s.Detections)
	if sess.Active {
		fmt.Fprintf(w, "✅ Matched Faces:           %d / %d\n", s.Matched, s.Scored)
	}
	fmt.Fprintf(w, "---------------------------------------------------------\n")
}

func fmtTime(seconds float64) string {
	duration := time.Duration(seconds * float64(time.Second))
	h := int(duration.Hours())
	m := int(duration.Minutes()) % 60
	s := int(duration.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
