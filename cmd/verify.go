package cmd

import (
	"errors"
	"fmt"

	"github.com/andresmejia3/facegate/internal/store"
	"github.com/andresmejia3/facegate/internal/utils"
	"github.com/spf13/cobra"
)

var verifyOpts Options

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Compare a face against a session's reference",
	Run: func(cmd *cobra.Command, args []string) {
		runVerify(cmd, verifyOpts)
	},
}

func init() {
	addFrameFlags(verifyCmd, &verifyOpts)
	verifyCmd.Flags().StringVarP(&verifyOpts.SessionID, "session", "s", "", "Session ID printed by enroll")
	verifyCmd.MarkFlagRequired("session")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, opts Options) {
	ctx := cmd.Context()
	sessionID := parseSession(opts.SessionID, false)

	ref, err := DB.LoadReference(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		utils.Die("No reference captured for this session; run enroll first", err, nil)
	}
	if err != nil {
		utils.Die("Failed to load reference", err, nil)
	}

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
	if !p.State().CaptureReference(ref.Embedding) {
		utils.Die("Session reference is empty", fmt.Errorf("session %s has no embedding", sessionID), nil)
	}

	res, err := p.Verify(ctx, f, box)
	if err != nil {
		utils.Die("Verification failed", err, nil)
	}

	if err := DB.RecordMatch(ctx, store.MatchEvent{
		SessionID:  sessionID,
		Similarity: res.Similarity,
		Percent:    res.Percent,
		Matched:    res.Match,
		Source:     opts.InputPath,
	}); err != nil {
		utils.ShowError("Failed to record match event", err, nil)
	}

	verdict := "❌ NO MATCH"
	if res.Match {
		verdict = "✅ MATCH"
	}
	fmt.Printf("%s  similarity %d%% (threshold %.0f%%)\n", verdict, res.Percent, p.State().ThresholdPercent())
}
