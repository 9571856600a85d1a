package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/russross/gradewatch/client"
)

func (a *app) addGradeCommands(root *cobra.Command) {
	var filter client.GradeFilter
	cmdGrades := &cobra.Command{
		Use:   "grades",
		Short: "list grades (instructors)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			list, err := api.ListGrades(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(a.out, "no grades found")
				return nil
			}
			for _, g := range list {
				fmt.Fprintf(a.out, "%6d  submission %-6d student %-5d exercise %-5d final %5.1f  tests %5s  review %5s  ",
					g.GradeID, g.SubmissionID, g.StudentID, g.ExerciseID, g.FinalScore, score(g.TestScore), score(g.LLMScore))
				if g.Published {
					good.Fprintln(a.out, "published")
				} else {
					pending.Fprintln(a.out, "unpublished")
				}
			}
			return nil
		},
	}
	cmdGrades.Flags().Int64Var(&filter.ClassID, "class", 0, "only grades for this class")
	cmdGrades.Flags().Int64Var(&filter.ExerciseID, "exercise", 0, "only grades for this exercise")
	cmdGrades.Flags().Int64Var(&filter.StudentID, "student", 0, "only grades for this student")
	cmdGrades.Flags().BoolVar(&filter.PublishedOnly, "published", false, "only published grades")
	root.AddCommand(cmdGrades)

	cmdMe := &cobra.Command{
		Use:   "me",
		Short: "list your own published grades",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			list, err := api.MyGrades(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(a.out, "no grades published yet")
				return nil
			}
			for _, g := range list {
				fmt.Fprintf(a.out, "%-32s %5.1f  (tests %s, review %s", g.ExerciseTitle, g.FinalScore, score(g.TestScore), score(g.LLMScore))
				if g.LatePenaltyApplied > 0 {
					fmt.Fprintf(a.out, ", late penalty %.1f", g.LatePenaltyApplied)
				}
				fmt.Fprintf(a.out, ")  submission %d\n", g.SubmissionID)
			}
			return nil
		},
	}
	cmdGrades.AddCommand(cmdMe)

	cmdPublish := &cobra.Command{
		Use:   "publish <grade id>",
		Short: "make a grade visible to its student",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("grade id", args[0])
			if err != nil {
				return err
			}
			api, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			if err := api.PublishGrade(cmd.Context(), id); err != nil {
				return err
			}
			good.Fprintf(a.out, "grade %d published\n", id)
			return nil
		},
	}
	cmdGrades.AddCommand(cmdPublish)
}
