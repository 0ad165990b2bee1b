package cmd

import (
	"fmt"

	"github.com/andresmejia3/facegate/internal/geometry"
	"github.com/andresmejia3/facegate/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var enrollOpts Options

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Capture a reference face for a session",
	Long:  "Embeds the face inside --box and stores it as the session's reference. The first reference wins; run 'reset --session' to re-enroll.",
	Run: func(cmd *cobra.Command, args []string) {
		runEnroll(cmd, enrollOpts)
	},
}

func init() {
	addFrameFlags(enrollCmd, &enrollOpts)
	enrollCmd.Flags().StringVarP(&enrollOpts.SessionID, "session", "s", "", "Session ID (default: a new random UUID)")
	rootCmd.AddCommand(enrollCmd)
}

// addFrameFlags registers the flags shared by commands that read a single still frame.
func addFrameFlags(cmd *cobra.Command, opts *Options) {
	cmd.Flags().StringVarP(&opts.InputPath, "input", "i", "", "Path to an image or raw I420 (.yuv) frame")
	cmd.Flags().StringVarP(&opts.Box, "box", "b", "", "Face box as left,top,width,height in frame coordinates")
	cmd.Flags().IntVarP(&opts.Rotation, "rotation", "r", geometry.CanonicalRotation, "Sensor rotation hint in degrees (0, 90, 180, 270)")
	cmd.Flags().IntVar(&opts.Width, "width", 0, "Frame width (raw input only)")
	cmd.Flags().IntVar(&opts.Height, "height", 0, "Frame height (raw input only)")
	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("box")
}

func parseSession(s string, allowNew bool) uuid.UUID {
	if s == "" && allowNew {
		return uuid.New()
	}
	id, err := uuid.Parse(s)
	if err != nil {
		utils.Die("Invalid session ID", err, nil)
	}
	return id
}

func runEnroll(cmd *cobra.Command, opts Options) {
	ctx := cmd.Context()
	sessionID := parseSession(opts.SessionID, true)

	box, err := parseBox(opts.Box)
	if err != nil {
		utils.Die("Invalid --box", err, nil)
	}
	f, err := loadFrame(opts.InputPath, opts.Width, opts.Height, opts.Rotation)
	if err != nil {
		utils.Die("Failed to read frame", err, nil)
	}

	engine := buildEngine(Cfg)
	defer engine.Close()
	if err := checkEmbeddingDim(engine.Dim(), DB.Dim()); err != nil {
		utils.Die("Embedding size mismatch", err, nil)
	}
	p := buildPipeline(Cfg, engine)

	_, emb, err := p.Enroll(ctx, f, box)
	if err != nil {
		utils.Die("Failed to embed reference face", err, nil)
	}

	stored, err := DB.SaveReference(ctx, sessionID, emb, opts.InputPath)
	if err != nil {
		utils.Die("Failed to save reference", err, nil)
	}
	if !stored {
		fmt.Printf("ℹ️  Session %s already has a reference; kept the existing one.\n", sessionID)
		return
	}
	fmt.Printf("✅ Reference captured for session %s\n", sessionID)
}
