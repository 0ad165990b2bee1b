package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/andresmejia3/facegate/internal/overlay"
	"github.com/andresmejia3/facegate/internal/types"
	"github.com/andresmejia3/facegate/internal/utils"
	"github.com/spf13/cobra"
)

var overlayFlags struct {
	box         string
	surface     string
	facing      string
	orientation string
}

var overlayCmd = &cobra.Command{
	Use:         "overlay",
	Short:       "Print the overlay rectangle and balance indicators for a face box",
	Annotations: map[string]string{noDB: ""},
	Run: func(cmd *cobra.Command, args []string) {
		runOverlay()
	},
}

func init() {
	overlayCmd.Flags().StringVarP(&overlayFlags.box, "box", "b", "", "Face box as left,top,width,height in preview coordinates")
	overlayCmd.Flags().StringVar(&overlayFlags.surface, "surface", "480x640", "Preview surface size as WxH")
	overlayCmd.Flags().StringVar(&overlayFlags.facing, "facing", "front", "Camera facing: front or back")
	overlayCmd.Flags().StringVar(&overlayFlags.orientation, "orientation", "portrait", "Device orientation: portrait or landscape")
	overlayCmd.MarkFlagRequired("box")
	rootCmd.AddCommand(overlayCmd)
}

func parseFacing(s string) (types.Facing, error) {
	switch strings.ToLower(s) {
	case "front":
		return types.FacingFront, nil
	case "back":
		return types.FacingBack, nil
	}
	return 0, fmt.Errorf("unknown facing %q (use front or back)", s)
}

func parseOrientation(s string) (types.Orientation, error) {
	switch strings.ToLower(s) {
	case "portrait":
		return types.Portrait, nil
	case "landscape":
		return types.Landscape, nil
	}
	return 0, fmt.Errorf("unknown orientation %q (use portrait or landscape)", s)
}

func runOverlay() {
	box, err := parseBox(overlayFlags.box)
	if err != nil {
		utils.Die("Invalid --box", err, nil)
	}
	surface, err := parseSize(overlayFlags.surface)
	if err != nil {
		utils.Die("Invalid --surface", err, nil)
	}
	facing, err := parseFacing(overlayFlags.facing)
	if err != nil {
		utils.Die("Invalid --facing", err, nil)
	}
	orientation, err := parseOrientation(overlayFlags.orientation)
	if err != nil {
		utils.Die("Invalid --orientation", err, nil)
	}

	g := overlay.Compute(box, surface, facing, orientation)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(g); err != nil {
		utils.Die("Failed to encode overlay", err, nil)
	}
}
