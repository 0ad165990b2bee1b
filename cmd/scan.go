package cmd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/facegate/internal/frame"
	"github.com/andresmejia3/facegate/internal/geometry"
	"github.com/andresmejia3/facegate/internal/match"
	"github.com/andresmejia3/facegate/internal/pipeline"
	"github.com/andresmejia3/facegate/internal/publish"
	"github.com/andresmejia3/facegate/internal/store"
	"github.com/andresmejia3/facegate/internal/types"
	"github.com/andresmejia3/facegate/internal/utils"
	"github.com/andresmejia3/facegate/internal/worker"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

const megabyte = 1024 * 1024

const defaultDetectionThreshold = 0.5

var scanOpts Options

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run the face pipeline over every nth frame of a video",
	Long:  "Streams raw frames from ffmpeg, asks the detector workers for face boxes and scores each face against the session's reference. Results are published to MQTT when a broker is configured.",
	Run: func(cmd *cobra.Command, args []string) {
		runScan(cmd.Context(), scanOpts)
	},
}

func init() {
	scanCmd.Flags().StringVarP(&scanOpts.InputPath, "input", "i", "", "Path to video")
	scanCmd.Flags().StringVarP(&scanOpts.SessionID, "session", "s", "", "Score faces against this session's reference")
	scanCmd.Flags().IntVarP(&scanOpts.NthFrame, "nth-frame", "n", 10, "AI keyframe interval (e.g. scan every 10th frame)")
	scanCmd.Flags().IntVarP(&scanOpts.NumEngines, "engines", "e", 1, "Number of parallel detector workers")
	scanCmd.Flags().IntVarP(&scanOpts.Rotation, "rotation", "r", geometry.CanonicalRotation, "Rotation hint reported for every frame")
	scanCmd.Flags().StringVarP(&scanOpts.GracePeriod, "grace-period", "g", "2s", "The longest gap between matched frames before the person is considered gone")
	scanCmd.Flags().StringVarP(&scanOpts.BlipDuration, "blip-duration", "b", "100ms", "Minimum duration of a presence interval to report (filters blips)")
	scanCmd.Flags().Float64VarP(&scanOpts.DetectionThreshold, "detection-threshold", "c", -1, "Minimum detector confidence (default: $FACEGATE_DETECTION_THRESHOLD)")
	scanCmd.Flags().BoolVar(&scanOpts.NoPublish, "no-publish", false, "Do not publish frame results to MQTT")

	scanCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(scanCmd)
}

// Buffer pool to reduce GC pressure during scanning
var frameBufferPool = sync.Pool{
	New: func() interface{} { return make([]byte, 0, megabyte) },
}

func getFrameBuffer(size int) []byte {
	buf := frameBufferPool.Get().([]byte)
	if cap(buf) < size {
		buf = make([]byte, size)
	}
	return buf[:size]
}

// scanResult wraps the output from a detector to be sent to the aggregator
type scanResult struct {
	Index      int
	Data       []byte
	Detections []types.Detection
	Failed     bool
}

// scanSession is the reference the scan scores against, if any.
type scanSession struct {
	ID     uuid.UUID
	Active bool
	Source string
}

// runScan orchestrates the video scan: reference loading, detector pool, FFmpeg streaming, and progress tracking.
func runScan(ctx context.Context, opts Options) {
	if err := validateScanFlags(&opts); err != nil {
		utils.Die("Invalid scan options", err, nil)
	}

	info, err := utils.ProbeVideo(ctx, opts.InputPath)
	if err != nil {
		utils.Die("Failed to probe video", err, nil)
	}
	sourceID, err := utils.GenerateSourceID(opts.InputPath)
	if err != nil {
		utils.Die("Failed to generate source ID", err, nil)
	}

	engine := buildEngine(Cfg)
	defer engine.Close()
	if err := checkEmbeddingDim(engine.Dim(), DB.Dim()); err != nil {
		utils.Die("Embedding size mismatch", err, nil)
	}
	p := buildPipeline(Cfg, engine)

	sess := scanSession{Source: "scan:" + sourceID[:12]}
	if opts.SessionID != "" {
		sess.ID = parseSession(opts.SessionID, false)
		ref, err := DB.LoadReference(ctx, sess.ID)
		if err != nil {
			utils.Die("Failed to load session reference", err, nil)
		}
		if !p.State().CaptureReference(ref.Embedding) {
			utils.Die("Session reference is empty", fmt.Errorf("session %s has no embedding", sess.ID), nil)
		}
		sess.Active = true
	}

	var pub publish.Publisher = publish.Nop{}
	if Cfg.MQTTBroker != "" && !opts.NoPublish {
		mp, err := publish.NewMQTTPublisher(Cfg.MQTTBroker, Cfg.MQTTTopic)
		if err != nil {
			utils.Die("Failed to connect to MQTT broker", err, nil)
		}
		pub = mp
	}
	defer pub.Close()

	fmt.Fprintf(os.Stderr, "📼 Processing %s (%dx%d @ %.2f fps)\n", sess.Source, info.Width, info.Height, info.FPS)
	fmt.Fprintf(os.Stderr, "⚙️  Spawning %d Detector Workers...\n", opts.NumEngines)

	totalVideoFrames := utils.GetTotalFrames(ctx, opts.InputPath)
	if totalVideoFrames <= 0 {
		// Fallback to a spinner or unknown total if ffprobe fails
		totalVideoFrames = -1
	}

	bar := progressbar.NewOptions(totalVideoFrames,
		progressbar.OptionSetDescription("🔍 FaceGate Scanning"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	taskChan := make(chan types.FrameTask, opts.NumEngines)
	resultsChan := make(chan scanResult, opts.NumEngines*2)
	var wg sync.WaitGroup

	// Start Aggregator (Consumer)
	// Must run concurrently to prevent deadlock on resultsChan
	var summary scanSummary
	aggDone := make(chan struct{})
	go func() {
		summary = processResults(ctx, resultsChan, p, pub, sess, info, opts)
		close(aggDone)
	}()

	// Spawn the Detector Pool
	for i := 0; i < opts.NumEngines; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			startDetector(workerID, taskChan, resultsChan, info, opts)
		}(i)
	}

	// Start FFmpeg
	ffmpeg := utils.NewFFmpegRawCmd(ctx, opts.InputPath)

	var stderrBuf bytes.Buffer
	ffmpeg.Stderr = &stderrBuf

	ffmpegOut, err := ffmpeg.StdoutPipe()
	if err != nil {
		utils.Die("Failed to create FFmpeg stdout pipe", err, nil)
	}
	defer ffmpegOut.Close() // Ensure pipe is closed to prevent leaks/zombies

	if err := ffmpeg.Start(); err != nil {
		utils.Die("Failed to start FFmpeg", err, nil)
	}

	// Fixed-size frame reader & Nth-Frame Logic
	reader := bufio.NewReaderSize(ffmpegOut, megabyte)
	frameSize := frame.I420Size(info.Width, info.Height)

	totalFrames := 0
	sentFrames := 0
	for {
		buf := getFrameBuffer(frameSize)
		if _, err := io.ReadFull(reader, buf); err != nil {
			frameBufferPool.Put(buf[:0])
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				fmt.Fprintf(os.Stderr, "\n⚠️  Dropped a truncated trailing frame\n")
				break
			}
			utils.Die("Frame reader failed", err, nil)
		}
		totalFrames++
		bar.Add(1) // Update progress bar for every frame read

		if totalFrames%opts.NthFrame != 0 {
			frameBufferPool.Put(buf[:0])
			continue
		}
		taskChan <- types.FrameTask{Index: totalFrames, Data: buf}
		sentFrames++
	}

	// Cleanup & Completion Check
	if err := ffmpeg.Wait(); err != nil && ctx.Err() == nil {
		if stderrBuf.Len() > 0 {
			fmt.Fprintf(os.Stderr, "\nFFmpeg Logs:\n%s\n", stderrBuf.String())
		}
		utils.Die("FFmpeg execution failed", err, nil)
	}

	close(taskChan)
	wg.Wait()
	close(resultsChan)

	// Wait for aggregator to finish processing
	<-aggDone

	bar.Finish()
	fmt.Fprintf(os.Stderr, "\n🏁 Scan Complete. Processed %d keyframes out of %d total.\n", sentFrames, totalFrames)
	summary.print(os.Stderr, sess)
}

// startDetector manages the lifecycle of a single detector process.
// It reads tasks from the channel, sends them to Python and forwards the boxes in frame coordinates.
func startDetector(id int, tasks <-chan types.FrameTask, results chan<- scanResult, info utils.VideoInfo, opts Options) {
	det, err := worker.NewDetectorWorker(id, Cfg.DetectorScript, opts.DetectionThreshold)
	if err != nil {
		utils.Die("Detector startup failed", err, nil)
	}
	defer det.Close()

	for task := range tasks {
		dets, err := det.Detect(task, info.Width, info.Height, opts.Rotation)
		if err != nil {
			if errors.Is(err, worker.ErrWorker) {
				// Logic error in the detector: skip the frame but keep the order intact
				fmt.Fprintf(os.Stderr, "\n⚠️ Detector %d failed on frame %d: %v\n", id, task.Index, err)
				results <- scanResult{Index: task.Index, Data: task.Data, Failed: true}
				continue
			}
			// DRAIN: Wait for process to exit and capture final stderr logs
			det.Close()
			utils.Die("Detector crashed", err, det.Cmd)
		}
		results <- scanResult{Index: task.Index, Data: task.Data, Detections: dets}
	}
}

// processResults runs the pipeline over detector results in strict frame order.
// The pipeline is single-threaded here; detectors run in parallel ahead of it.
func processResults(ctx context.Context, results <-chan scanResult, p *pipeline.Pipeline, pub publish.Publisher, sess scanSession, info utils.VideoInfo, opts Options) scanSummary {
	// Buffer for re-ordering frames (Detector 2 might finish before Detector 1)
	buffer := make(map[int]scanResult)
	nextFrame := opts.NthFrame

	gracePeriod, _ := time.ParseDuration(opts.GracePeriod)
	blipDuration, _ := time.ParseDuration(opts.BlipDuration)
	tracker := newPresenceTracker(info.FPS, gracePeriod, blipDuration)
	summary := scanSummary{}

	for res := range results {
		buffer[res.Index] = res

		// Process frames in strict order
		for {
			next, ok := buffer[nextFrame]
			if !ok {
				break
			}
			delete(buffer, nextFrame)
			nextFrame += opts.NthFrame

			faces := analyzeFrame(ctx, p, next, info, opts)
			summary.add(faces)

			matched := false
			for _, face := range faces {
				if face.Score == nil {
					continue
				}
				matched = matched || face.Score.Match
				if sess.Active {
					recordScore(ctx, sess, next.Index, face.Score)
				}
			}
			tracker.Observe(next.Index, matched)

			if err := pub.Publish(ctx, publish.Event{
				SessionID:  sessionLabel(sess),
				FrameIndex: next.Index,
				Timestamp:  time.Now(),
				Surface:    p.SurfaceSize(),
				Faces:      faces,
			}); err != nil {
				Logger.Warn("Publish failed", "frame", next.Index, "err", err)
			}
		}
	}

	summary.Intervals = tracker.Flush()
	return summary
}

// analyzeFrame wraps the pooled buffer as a frame and runs the pipeline. The
// buffer goes back to the pool when the pipeline releases the frame.
func analyzeFrame(ctx context.Context, p *pipeline.Pipeline, res scanResult, info utils.VideoInfo, opts Options) []pipeline.FaceResult {
	release := func() { frameBufferPool.Put(res.Data[:0]) }
	if res.Failed {
		release()
		return nil
	}

	f, err := frame.FromI420(res.Data, info.Width, info.Height, opts.Rotation)
	if err != nil {
		release()
		Logger.Warn("Dropping frame", "frame", res.Index, "err", err)
		return nil
	}

	faces, err := p.ProcessFrame(ctx, f.WithRelease(release), res.Detections)
	if errors.Is(err, match.ErrDimensionMismatch) {
		utils.Die("Reference and model embedding sizes differ", err, nil)
	}
	if err != nil {
		Logger.Warn("Dropping frame", "frame", res.Index, "err", err)
	}
	return faces
}

func recordScore(ctx context.Context, sess scanSession, frameIndex int, score *match.Result) {
	if err := DB.RecordMatch(ctx, store.MatchEvent{
		SessionID:  sess.ID,
		Similarity: score.Similarity,
		Percent:    score.Percent,
		Matched:    score.Match,
		Source:     sess.Source,
		FrameIndex: frameIndex,
	}); err != nil {
		utils.Die("Failed to record match event", err, nil)
	}
}

func sessionLabel(sess scanSession) string {
	if !sess.Active {
		return ""
	}
	return sess.ID.String()
}

// validateScanFlags ensures all CLI arguments are valid before starting heavy processes.
func validateScanFlags(opts *Options) error {
	info, err := os.Stat(opts.InputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("input file does not exist: %w", err)
		}
		return fmt.Errorf("unable to access input file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("input path %s is a directory, expected a video file", opts.InputPath)
	}
	if opts.NthFrame < 1 {
		return fmt.Errorf("invalid nth-frame interval: must be >= 1, got %d", opts.NthFrame)
	}
	if opts.NumEngines < 1 {
		opts.NumEngines = 1
	}
	if opts.DetectionThreshold < 0 {
		opts.DetectionThreshold = defaultDetectionThreshold
		if Cfg != nil {
			opts.DetectionThreshold = Cfg.DetectionThreshold
		}
	}
	if opts.DetectionThreshold > 1.0 {
		return fmt.Errorf("invalid detection threshold: must be between 0.0 and 1.0, got %f", opts.DetectionThreshold)
	}
	if _, err := geometry.CorrectionDegrees(opts.Rotation); err != nil {
		return err
	}
	if _, err := time.ParseDuration(opts.GracePeriod); err != nil {
		return fmt.Errorf("invalid grace-period format (use '2s', '500ms'): %w", err)
	}
	if _, err := time.ParseDuration(opts.BlipDuration); err != nil {
		return fmt.Errorf("invalid blip-duration format (use '100ms', '1s'): %w", err)
	}
	return nil
}
