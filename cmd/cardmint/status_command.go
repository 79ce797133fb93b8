package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// statusOrder fixes the display order of pipeline states.
var statusOrder = []string{
	"queued",
	"back_image",
	"operator_pending",
	"unmatched_no_reasonable_candidate",
	"accepted",
	"failed",
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var showPending bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue depth by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var stats map[string]int
			if err := ctx.get("/api/stats", &stats); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			rows := make([][]string, 0, len(stats))
			seen := make(map[string]bool, len(statusOrder))
			for _, status := range statusOrder {
				seen[status] = true
				rows = append(rows, []string{status, strconv.Itoa(stats[status])})
			}
			var extra []string
			for status := range stats {
				if !seen[status] {
					extra = append(extra, status)
				}
			}
			sort.Strings(extra)
			for _, status := range extra {
				rows = append(rows, []string{status, strconv.Itoa(stats[status])})
			}

			if isTerminal(os.Stdout) {
				fmt.Fprintln(out, renderTable([]string{"STATUS", "JOBS"}, rows, []columnAlignment{alignLeft, alignRight}))
			} else {
				for _, row := range rows {
					fmt.Fprintf(out, "%s\t%s\n", row[0], row[1])
				}
			}

			if showPending {
				return renderPendingJobs(ctx, out)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showPending, "pending", false, "Also list jobs awaiting operator review")
	return cmd
}

func renderPendingJobs(ctx *commandContext, out io.Writer) error {
	var jobs []jobPayload
	if err := ctx.get("/api/jobs?status=operator_pending", &jobs); err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs awaiting review.")
		return nil
	}

	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		name := ""
		confidence := ""
		if job.Extracted != nil {
			name = job.Extracted.CardName
		}
		if len(job.TopCandidates) > 0 {
			confidence = fmt.Sprintf("%.2f", job.TopCandidates[0].Confidence)
		}
		rows = append(rows, []string{shortID(job.ID), name, confidence, job.InferencePath})
	}
	fmt.Fprintln(out, renderTable([]string{"JOB", "CARD", "CONF", "PATH"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft}))
	return nil
}

func renderJobDetail(out io.Writer, job jobPayload) {
	fmt.Fprintf(out, "Job %s\n", job.ID)
	fmt.Fprintf(out, "  status:    %s\n", job.Status)
	fmt.Fprintf(out, "  image:     %s\n", job.ImagePath)
	if job.Extracted != nil {
		fmt.Fprintf(out, "  extracted: %s", job.Extracted.CardName)
		if job.Extracted.HPValue > 0 {
			fmt.Fprintf(out, " (HP %d)", job.Extracted.HPValue)
		}
		if job.Extracted.SetName != "" {
			fmt.Fprintf(out, " [%s]", job.Extracted.SetName)
		}
		fmt.Fprintln(out)
	}
	for _, cand := range job.TopCandidates {
		fmt.Fprintf(out, "  candidate: %-24s %.2f (%s)\n", cand.CMCardID, cand.Confidence, cand.Source)
	}
	if job.ListingSKU != "" {
		fmt.Fprintf(out, "  listing:   %s\n", job.ListingSKU)
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(out, "  error:     [%s] %s\n", job.ErrorCode, job.ErrorMessage)
	}
}

func shortID(id string) string {
	if idx := strings.IndexByte(id, '-'); idx > 0 {
		return id[:idx]
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
