package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	var sessionID string
	var captureUID string
	var orientation string

	cmd := &cobra.Command{
		Use:   "enqueue <image-path>",
		Short: "Submit a card capture for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			imagePath, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve image path: %w", err)
			}
			if _, err := os.Stat(imagePath); err != nil {
				return fmt.Errorf("image not found: %w", err)
			}

			req := map[string]string{
				"image_path":  imagePath,
				"session_id":  sessionID,
				"capture_uid": captureUID,
				"orientation": orientation,
			}
			var job jobPayload
			if err := ctx.post("/api/jobs", req, &job); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %s (%s)\n", job.ID, filepath.Base(imagePath))
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Scan session identifier")
	cmd.Flags().StringVar(&captureUID, "capture-uid", "", "Capture device identifier")
	cmd.Flags().StringVar(&orientation, "orientation", "front", "Card side captured (front or back)")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show full detail for one scan job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var job jobPayload
			if err := ctx.get("/api/jobs/"+args[0], &job); err != nil {
				return err
			}
			if asJSON {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(job)
			}
			renderJobDetail(cmd.OutOrStdout(), job)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit raw JSON")
	return cmd
}

func newAcceptCommand(ctx *commandContext) *cobra.Command {
	var cardName string
	var hpValue int
	var collectorNumber string
	var setName string
	var language string
	var condition string
	var baseline bool

	cmd := &cobra.Command{
		Use:   "accept <job-id>",
		Short: "Confirm a pending scan and mint inventory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(cardName) == "" {
				return fmt.Errorf("--name is required")
			}
			req := map[string]any{
				"truth_core": map[string]any{
					"card_name":        cardName,
					"hp_value":         hpValue,
					"collector_number": collectorNumber,
					"set_name":         setName,
					"language":         language,
				},
				"condition": condition,
				"baseline":  baseline,
			}
			var result acceptPayload
			if err := ctx.post("/api/jobs/"+args[0]+"/accept", req, &result); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Accepted %s\n", result.Job.ID)
			if result.Action != "" {
				fmt.Fprintf(out, "  action:      %s\n", result.Action)
				fmt.Fprintf(out, "  item:        %s\n", result.ItemUID)
				fmt.Fprintf(out, "  product sku: %s\n", result.ProductSKU)
				fmt.Fprintf(out, "  listing sku: %s\n", result.ListingSKU)
				if result.FingerprintCollision {
					fmt.Fprintln(out, "  note:        capture matched an earlier submission")
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cardName, "name", "", "Confirmed card name")
	cmd.Flags().IntVar(&hpValue, "hp", 0, "Confirmed HP value")
	cmd.Flags().StringVar(&collectorNumber, "number", "", "Confirmed collector number")
	cmd.Flags().StringVar(&setName, "set", "", "Confirmed set name")
	cmd.Flags().StringVar(&language, "lang", "", "Card language")
	cmd.Flags().StringVar(&condition, "condition", "", "Condition bucket (e.g. NM, LP)")
	cmd.Flags().BoolVar(&baseline, "baseline", false, "Persist truth without minting inventory")
	return cmd
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Requeue a failed or unmatched scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var job jobPayload
			if err := ctx.post("/api/jobs/"+args[0]+"/retry", struct{}{}, &job); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requeued %s\n", job.ID)
			return nil
		},
	}
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check daemon health",
		RunE: func(cmd *cobra.Command, args []string) error {
			var health struct {
				Status     string `json:"status"`
				QueueDepth int    `json:"queue_depth"`
			}
			if err := ctx.get("/healthz", &health); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "daemon %s, %d jobs queued\n", health.Status, health.QueueDepth)
			return nil
		},
	}
}
