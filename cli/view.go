package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/russross/gradewatch/types"
)

var (
	good    = color.New(color.FgGreen)
	bad     = color.New(color.FgRed)
	pending = color.New(color.FgYellow)
	heading = color.New(color.Bold)
)

// progress prints watcher updates, skipping repeats. Updates arrive on the
// poller's goroutine.
type progress struct {
	mu   sync.Mutex
	out  io.Writer
	last string
}

func (p *progress) print(line string, c *color.Color) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if line == p.last {
		return
	}
	p.last = line
	c.Fprintln(p.out, line)
}

func submissionColor(s types.SubmissionStatus) *color.Color {
	switch s {
	case types.SubmissionCompleted:
		return good
	case types.SubmissionFailed:
		return bad
	default:
		return pending
	}
}

func campaignColor(s types.CampaignStatus) *color.Color {
	switch s {
	case types.CampaignCompleted:
		return good
	case types.CampaignFailed, types.CampaignPartialFailure:
		return bad
	default:
		return pending
	}
}

func deliveryColor(s types.DeliveryStatus) *color.Color {
	switch s {
	case types.DeliverySent:
		return good
	case types.DeliveryFailed:
		return bad
	default:
		return pending
	}
}

func score(s *float64) string {
	if s == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *s)
}

func printSubmissionDetail(w io.Writer, d *types.SubmissionDetail) {
	sub := d.Submission
	heading.Fprintf(w, "submission %d for exercise %d: ", sub.ID, sub.ExerciseID)
	submissionColor(sub.Status).Fprintln(w, sub.Status)
	if sub.FileName != "" {
		fmt.Fprintf(w, "  file: %s (%d bytes)\n", sub.FileName, sub.FileSize)
	}
	if sub.Status == types.SubmissionFailed {
		bad.Fprintf(w, "  grading failed: %s\n", sub.ErrorMessage)
	}

	if passed, total := d.Passed(); total > 0 {
		fmt.Fprintf(w, "  tests: %d/%d passed\n", passed, total)
		for _, test := range d.TestResults {
			if test.Passed {
				good.Fprintf(w, "    PASS %s\n", test.TestName)
				continue
			}
			bad.Fprintf(w, "    FAIL %s", test.TestName)
			if test.Message != "" {
				fmt.Fprintf(w, ": %s", test.Message)
			}
			fmt.Fprintln(w)
			if test.Stderr != "" {
				bad.Fprintf(w, "%s\n", strings.TrimRight(test.Stderr, "\n"))
			}
		}
	}
	if llm := d.LLMEvaluation; llm != nil {
		cached := ""
		if llm.Cached {
			cached = ", cached"
		}
		fmt.Fprintf(w, "  review (score %.1f%s): %s\n", llm.Score, cached, llm.Feedback)
	}
	if len(d.RubricScores) > 0 {
		fmt.Fprintln(w, "  rubric:")
		for _, r := range d.RubricScores {
			fmt.Fprintf(w, "    %-16s weight %.2f  score %.1f", r.DimensionName, r.DimensionWeight, r.Score)
			if r.Feedback != "" {
				fmt.Fprintf(w, "  %s", r.Feedback)
			}
			fmt.Fprintln(w)
		}
	}
	if g := d.Grade; g != nil {
		state := "unpublished"
		if g.Published {
			state = "published"
		}
		fmt.Fprintf(w, "  grade %d: %.1f (tests %s, review %s", g.ID, g.FinalScore, score(g.TestScore), score(g.LLMScore))
		if g.LatePenaltyApplied > 0 {
			fmt.Fprintf(w, ", late penalty %.1f", g.LatePenaltyApplied)
		}
		fmt.Fprintf(w, ") [%s]\n", state)
	}
	if d.OverallFeedback != "" {
		fmt.Fprintf(w, "  %s\n", d.OverallFeedback)
	}
}

func campaignLine(c *types.Campaign) string {
	return fmt.Sprintf("campaign %d: %s, %d/%d sent, %d failed (%d%%)",
		c.ID, c.Status, c.SentCount, c.TotalRecipients, c.FailedCount, c.Progress())
}

func printCampaignDetail(w io.Writer, d *types.CampaignDetail) {
	campaignColor(d.Status).Fprintln(w, campaignLine(&d.Campaign))
	if d.CourseName != "" {
		fmt.Fprintf(w, "  course: %s\n", d.CourseName)
	}
	fmt.Fprintf(w, "  message: %s\n", d.MessageTemplate)
	for _, r := range d.Recipients {
		fmt.Fprintf(w, "  %-24s %-16s ", r.Name, r.Phone)
		deliveryColor(r.Status).Fprintf(w, "%-8s", r.Status)
		if r.ErrorMessage != "" {
			fmt.Fprintf(w, " %s", r.ErrorMessage)
		}
		fmt.Fprintln(w)
	}
}
