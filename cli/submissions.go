package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/russross/gradewatch/client"
	"github.com/russross/gradewatch/types"
)

func parseID(name, value string) (int64, error) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id < 1 {
		return 0, errors.Errorf("invalid %s %q: must be a positive number", name, value)
	}
	return id, nil
}

func (a *app) addSubmissionCommands(root *cobra.Command) {
	var code string
	var noWait, push bool
	cmdSubmit := &cobra.Command{
		Use:   "submit <exercise id> [file]",
		Short: "submit code for grading and wait for the results",
		Long: fmt.Sprintf("Give the exercise ID and either a file to upload or --code.\n\n"+
			"   Example: '%s submit 42 solution.py'\n\n"+
			"   Example: '%s submit 42 --code \"print(1 + 2)\"'\n\n"+
			"Grading runs on the server; the status is checked every few seconds\n"+
			"until it finishes. Use --no-wait to return right away.", root.Name(), root.Name()),
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			exerciseID, err := parseID("exercise id", args[0])
			if err != nil {
				return err
			}
			api, err := a.client(cmd.Context())
			if err != nil {
				return err
			}

			var sub *types.Submission
			switch {
			case len(args) == 2 && code != "":
				return errors.New("give either a file or --code, not both")
			case len(args) == 2:
				f, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer f.Close()
				sub, err = api.SubmitFile(cmd.Context(), exerciseID, filepath.Base(args[1]), f)
				if err != nil {
					return err
				}
			case code != "":
				sub, err = api.SubmitCode(cmd.Context(), exerciseID, code)
				if err != nil {
					return err
				}
			default:
				return errors.New("nothing to submit: give a file or --code")
			}

			fmt.Fprintf(a.out, "submitted %d for exercise %d: %s\n", sub.ID, sub.ExerciseID, sub.Status)
			if noWait {
				fmt.Fprintf(a.out, "Check progress: %s status %d\n", root.Name(), sub.ID)
				return nil
			}
			return a.watchSubmission(cmd.Context(), sub.ID, push || a.config.Watch.Push)
		},
	}
	cmdSubmit.Flags().StringVar(&code, "code", "", "source code to submit instead of a file")
	cmdSubmit.Flags().BoolVar(&noWait, "no-wait", false, "do not wait for grading to finish")
	cmdSubmit.Flags().BoolVar(&push, "push", false, "receive status updates over a websocket")
	root.AddCommand(cmdSubmit)

	cmdStatus := &cobra.Command{
		Use:   "status <submission id>",
		Short: "show the grading status of a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("submission id", args[0])
			if err != nil {
				return err
			}
			api, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			reply, err := api.GetSubmissionStatus(cmd.Context(), id)
			if err != nil {
				return err
			}
			submissionColor(reply.Status).Fprintf(a.out, "submission %d: %s\n", reply.ID, reply.Status)
			if reply.ErrorMessage != "" {
				fmt.Fprintf(a.out, "  %s\n", reply.ErrorMessage)
			}
			return nil
		},
	}
	root.AddCommand(cmdStatus)

	cmdResults := &cobra.Command{
		Use:   "results <submission id>",
		Short: "show test results, review, and grade for a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("submission id", args[0])
			if err != nil {
				return err
			}
			api, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			detail, err := api.GetSubmissionResults(cmd.Context(), id)
			if err != nil {
				return err
			}
			printSubmissionDetail(a.out, detail)
			return nil
		},
	}
	root.AddCommand(cmdResults)

	var filter client.SubmissionFilter
	cmdSubmissions := &cobra.Command{
		Use:   "submissions",
		Short: "list submissions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			list, err := api.ListSubmissions(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(a.out, "no submissions found")
				return nil
			}
			for _, elt := range list {
				fmt.Fprintf(a.out, "%6d  exercise %-5d student %-5d %s  ", elt.ID, elt.ExerciseID, elt.StudentID,
					elt.SubmittedAt.Local().Format("2006-01-02 15:04"))
				submissionColor(elt.Status).Fprintf(a.out, "%-9s", elt.Status)
				if elt.FileName != "" {
					fmt.Fprintf(a.out, " %s", elt.FileName)
				}
				fmt.Fprintln(a.out)
			}
			return nil
		},
	}
	cmdSubmissions.Flags().Int64Var(&filter.ExerciseID, "exercise", 0, "only submissions for this exercise")
	cmdSubmissions.Flags().Int64Var(&filter.StudentID, "student", 0, "only submissions by this student")
	root.AddCommand(cmdSubmissions)

	var watchPush bool
	cmdWatch := &cobra.Command{
		Use:   "watch <submission id>",
		Short: "wait for a submission to finish grading",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("submission id", args[0])
			if err != nil {
				return err
			}
			if _, err := a.client(cmd.Context()); err != nil {
				return err
			}
			return a.watchSubmission(cmd.Context(), id, watchPush || a.config.Watch.Push)
		},
	}
	cmdWatch.Flags().BoolVar(&watchPush, "push", false, "receive status updates over a websocket")
	root.AddCommand(cmdWatch)

	cmdDiff := &cobra.Command{
		Use:   "diff <submission id> <earlier submission id>",
		Short: "show how a submission's code changed from an earlier one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("submission id", args[0])
			if err != nil {
				return err
			}
			other, err := parseID("submission id", args[1])
			if err != nil {
				return err
			}
			api, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			diff, err := api.GetSubmissionDiff(cmd.Context(), id, other)
			if err != nil {
				return err
			}
			if diff == "" {
				fmt.Fprintln(a.out, "(no differences)")
				return nil
			}
			for _, line := range strings.SplitAfter(diff, "\n") {
				switch {
				case strings.HasPrefix(line, "+"):
					good.Fprint(a.out, line)
				case strings.HasPrefix(line, "-"):
					bad.Fprint(a.out, line)
				default:
					fmt.Fprint(a.out, line)
				}
			}
			return nil
		},
	}
	root.AddCommand(cmdDiff)
}

// watchSubmission polls until grading finishes and prints the results.
func (a *app) watchSubmission(ctx context.Context, id int64, push bool) error {
	p := &progress{out: a.out}
	w, err := a.api.SubmissionWatcher(client.WatchOptions[*types.SubmissionStatusReply]{
		Interval: a.submissionInterval(),
		Push:     push,
		Update: func(s *types.SubmissionStatusReply) {
			p.print(fmt.Sprintf("submission %d: %s", s.ID, s.Status), submissionColor(s.Status))
		},
		Error: func(err error) {
			if !client.IsRejection(err) {
				a.log.Debugf("status check failed, will retry: %v", err)
			}
		},
	})
	if err != nil {
		return err
	}
	defer w.Stop()

	if err := w.Start(ctx, id); err != nil {
		return err
	}
	detail, err := w.Results(ctx)
	if err != nil {
		return errors.Wrapf(err, "watching submission %d", id)
	}
	printSubmissionDetail(a.out, detail)
	fmt.Fprintf(a.out, "View results: grade results %d\n", id)
	return nil
}
