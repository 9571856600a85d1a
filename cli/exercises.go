package main

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/russross/gradewatch/client"
	"github.com/russross/gradewatch/types"
)

func (a *app) addExerciseCommands(root *cobra.Command) {
	var filter client.ExerciseFilter
	var published, drafts bool
	cmdExercises := &cobra.Command{
		Use:   "exercises",
		Short: "list exercises",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case published && drafts:
				return errors.New("--published and --drafts cannot be combined")
			case published || drafts:
				filter.Published = &published
			}
			api, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			list, err := api.ListExercises(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(a.out, "no exercises found")
				return nil
			}
			for _, e := range list {
				fmt.Fprintf(a.out, "%6d  %-32s %-10s ", e.ID, e.Title, e.Language)
				if e.Published {
					good.Fprint(a.out, "published")
				} else {
					pending.Fprint(a.out, "draft")
				}
				if e.Tags != "" {
					fmt.Fprintf(a.out, "  [%s]", e.Tags)
				}
				fmt.Fprintln(a.out)
			}
			return nil
		},
	}
	cmdExercises.Flags().BoolVar(&published, "published", false, "only published exercises")
	cmdExercises.Flags().BoolVar(&drafts, "drafts", false, "only unpublished exercises")
	cmdExercises.Flags().StringVar(&filter.Tags, "tags", "", "only exercises whose tags contain this text")
	root.AddCommand(cmdExercises)

	var withTests bool
	cmdShow := &cobra.Command{
		Use:   "show <exercise id>",
		Short: "show an exercise",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("exercise id", args[0])
			if err != nil {
				return err
			}
			api, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			e, err := api.GetExercise(cmd.Context(), id, withTests)
			if err != nil {
				return err
			}
			printExercise(a, e)
			return nil
		},
	}
	cmdShow.Flags().BoolVar(&withTests, "tests", false, "include test cases")
	cmdExercises.AddCommand(cmdShow)

	var create types.ExerciseCreate
	var descriptionFile, templateFile string
	var testWeight, llmWeight float64
	var noLLM bool
	cmdCreate := &cobra.Command{
		Use:   "create <title>",
		Short: "author a new exercise",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := create
			req.Title = args[0]
			if descriptionFile != "" {
				raw, err := os.ReadFile(descriptionFile)
				if err != nil {
					return errors.Wrap(err, "reading description")
				}
				req.Description = string(raw)
			}
			if templateFile != "" {
				raw, err := os.ReadFile(templateFile)
				if err != nil {
					return errors.Wrap(err, "reading template")
				}
				req.TemplateCode = string(raw)
			}
			if cmd.Flags().Changed("test-weight") {
				req.TestWeight = &testWeight
			}
			if cmd.Flags().Changed("llm-weight") {
				req.LLMWeight = &llmWeight
			}
			if noLLM {
				enabled := false
				req.LLMGradingEnabled = &enabled
			}
			api, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			e, err := api.CreateExercise(cmd.Context(), &req)
			if err != nil {
				return err
			}
			good.Fprintf(a.out, "exercise %d created (tests %.2f, review %.2f)\n", e.ID, e.TestWeight, e.LLMWeight)
			return nil
		},
	}
	cmdCreate.Flags().StringVar(&create.Description, "description", "", "exercise statement")
	cmdCreate.Flags().StringVar(&descriptionFile, "description-file", "", "read the statement from this file")
	cmdCreate.Flags().StringVar(&templateFile, "template", "", "starter code file")
	cmdCreate.Flags().StringVar(&create.Language, "language", "", "programming language (default python)")
	cmdCreate.Flags().IntVar(&create.MaxSubmissions, "max-submissions", 0, "submission limit per student (0 for none)")
	cmdCreate.Flags().IntVar(&create.TimeoutSeconds, "timeout", 0, "seconds allowed per run (default 30)")
	cmdCreate.Flags().IntVar(&create.MemoryLimitMB, "memory", 0, "memory limit in MB (default 256)")
	cmdCreate.Flags().Float64Var(&testWeight, "test-weight", types.DefaultTestWeight, "share of the final score from tests")
	cmdCreate.Flags().Float64Var(&llmWeight, "llm-weight", types.DefaultLLMWeight, "share of the final score from review")
	cmdCreate.Flags().BoolVar(&noLLM, "no-llm", false, "disable automated review")
	cmdCreate.Flags().StringVar(&create.LLMGradingCriteria, "criteria", "", "review criteria")
	cmdCreate.Flags().StringVar(&create.Tags, "tags", "", "comma-separated tags")
	cmdCreate.Flags().BoolVar(&create.Published, "publish", false, "publish immediately")
	cmdExercises.AddCommand(cmdCreate)

	var unpublish bool
	cmdPublish := &cobra.Command{
		Use:   "publish <exercise id>",
		Short: "make an exercise visible to students",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("exercise id", args[0])
			if err != nil {
				return err
			}
			api, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			e, err := api.PublishExercise(cmd.Context(), id, !unpublish)
			if err != nil {
				return err
			}
			if e.Published {
				good.Fprintf(a.out, "exercise %d published\n", e.ID)
			} else {
				pending.Fprintf(a.out, "exercise %d unpublished\n", e.ID)
			}
			return nil
		},
	}
	cmdPublish.Flags().BoolVar(&unpublish, "undo", false, "unpublish instead")
	cmdExercises.AddCommand(cmdPublish)

	var tc types.TestCaseCreate
	var inputFile, expectedFile string
	cmdAddTest := &cobra.Command{
		Use:   "add-test <exercise id> <name>",
		Short: "add a test case to an exercise",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("exercise id", args[0])
			if err != nil {
				return err
			}
			req := tc
			req.Name = args[1]
			if inputFile != "" {
				raw, err := os.ReadFile(inputFile)
				if err != nil {
					return errors.Wrap(err, "reading input")
				}
				req.InputData = string(raw)
			}
			if expectedFile != "" {
				raw, err := os.ReadFile(expectedFile)
				if err != nil {
					return errors.Wrap(err, "reading expected output")
				}
				req.ExpectedOutput = string(raw)
			}
			api, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			created, err := api.AddTestCase(cmd.Context(), id, &req)
			if err != nil {
				return err
			}
			good.Fprintf(a.out, "test case %d added to exercise %d\n", created.ID, id)
			return nil
		},
	}
	cmdAddTest.Flags().StringVar(&tc.InputData, "input", "", "standard input for the test")
	cmdAddTest.Flags().StringVar(&tc.ExpectedOutput, "expected", "", "expected standard output")
	cmdAddTest.Flags().StringVar(&inputFile, "input-file", "", "read the input from this file")
	cmdAddTest.Flags().StringVar(&expectedFile, "expected-file", "", "read the expected output from this file")
	cmdAddTest.Flags().BoolVar(&tc.Hidden, "hidden", false, "hide the test from students")
	cmdExercises.AddCommand(cmdAddTest)

	a.addListCommands(root)
}

func printExercise(a *app, e *types.Exercise) {
	heading.Fprintf(a.out, "exercise %d: %s\n", e.ID, e.Title)
	state := "draft"
	if e.Published {
		state = "published"
	}
	fmt.Fprintf(a.out, "  %s, %s, %ds, %dMB\n", state, e.Language, e.TimeoutSeconds, e.MemoryLimitMB)
	if e.MaxSubmissions > 0 {
		fmt.Fprintf(a.out, "  at most %d submission%s\n", e.MaxSubmissions, plural(e.MaxSubmissions))
	}
	review := "off"
	if e.LLMGradingEnabled {
		review = fmt.Sprintf("%.2f", e.LLMWeight)
	}
	fmt.Fprintf(a.out, "  weights: tests %.2f, review %s\n", e.TestWeight, review)
	if e.Tags != "" {
		fmt.Fprintf(a.out, "  tags: %s\n", e.Tags)
	}
	if e.Description != "" {
		fmt.Fprintf(a.out, "\n%s\n", e.Description)
	}
	for _, tc := range e.TestCases {
		hidden := ""
		if tc.Hidden {
			hidden = " (hidden)"
		}
		fmt.Fprintf(a.out, "  test %d %s%s\n", tc.ID, tc.Name, hidden)
	}
}

// parseWhen reads a local "YYYY-MM-DD HH:MM" time as unix seconds; "" is 0.
func parseWhen(value string) (int64, error) {
	if value == "" {
		return 0, nil
	}
	when, err := time.ParseInLocation("2006-01-02 15:04", value, time.Local)
	if err != nil {
		return 0, errors.Errorf("invalid time %q: want YYYY-MM-DD HH:MM", value)
	}
	return when.Unix(), nil
}

func (a *app) addListCommands(root *cobra.Command) {
	cmdLists := &cobra.Command{
		Use:   "lists <class id>",
		Short: "show the exercise lists of a class",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			classID, err := parseID("class id", args[0])
			if err != nil {
				return err
			}
			api, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			lists, err := api.ListExerciseLists(cmd.Context(), classID)
			if err != nil {
				return err
			}
			if len(lists) == 0 {
				fmt.Fprintln(a.out, "no exercise lists found")
				return nil
			}
			for _, l := range lists {
				heading.Fprintf(a.out, "list %d: %s", l.ID, l.Title)
				if l.GroupID != 0 {
					fmt.Fprintf(a.out, " (group %d)", l.GroupID)
				}
				fmt.Fprintln(a.out)
				if l.ClosesAt != 0 {
					fmt.Fprintf(a.out, "  closes %s", time.Unix(l.ClosesAt, 0).Format("2006-01-02 15:04"))
					if l.LatePenaltyPercentPerDay > 0 {
						fmt.Fprintf(a.out, ", late penalty %.1f%%/day", l.LatePenaltyPercentPerDay)
					}
					fmt.Fprintln(a.out)
				}
				for _, e := range l.Exercises {
					fmt.Fprintf(a.out, "  %3d. %-32s exercise %-5d weight %.1f\n", e.Position, e.ExerciseTitle, e.ExerciseID, e.Weight)
				}
			}
			return nil
		},
	}
	root.AddCommand(cmdLists)

	var create types.ExerciseListCreate
	var opens, closes string
	cmdCreate := &cobra.Command{
		Use:   "create <class id> <title>",
		Short: "create an exercise list",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			classID, err := parseID("class id", args[0])
			if err != nil {
				return err
			}
			req := create
			req.ClassID = classID
			req.Title = args[1]
			if req.OpensAt, err = parseWhen(opens); err != nil {
				return err
			}
			if req.ClosesAt, err = parseWhen(closes); err != nil {
				return err
			}
			api, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			l, err := api.CreateExerciseList(cmd.Context(), &req)
			if err != nil {
				return err
			}
			good.Fprintf(a.out, "exercise list %d created\n", l.ID)
			return nil
		},
	}
	cmdCreate.Flags().Int64Var(&create.GroupID, "group", 0, "restrict the list to this group")
	cmdCreate.Flags().StringVar(&opens, "opens", "", "opening time, YYYY-MM-DD HH:MM")
	cmdCreate.Flags().StringVar(&closes, "closes", "", "closing time, YYYY-MM-DD HH:MM")
	cmdCreate.Flags().Float64Var(&create.LatePenaltyPercentPerDay, "late-penalty", 0, "percent taken off per day late")
	cmdCreate.Flags().BoolVar(&create.AutoPublishGrades, "auto-publish", false, "publish grades as soon as they are ready")
	cmdCreate.Flags().BoolVar(&create.RandomizeOrder, "randomize", false, "shuffle exercise order per student")
	cmdLists.AddCommand(cmdCreate)

	var add types.ListExerciseAdd
	cmdAdd := &cobra.Command{
		Use:   "add <list id> <exercise id>",
		Short: "add an exercise to a list",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			listID, err := parseID("list id", args[0])
			if err != nil {
				return err
			}
			exerciseID, err := parseID("exercise id", args[1])
			if err != nil {
				return err
			}
			req := add
			req.ExerciseID = exerciseID
			api, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			l, err := api.AddListExercise(cmd.Context(), listID, &req)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "list %d now has %d exercise%s\n", l.ID, len(l.Exercises), plural(len(l.Exercises)))
			return nil
		},
	}
	cmdAdd.Flags().IntVar(&add.Position, "position", 0, "position in the list")
	cmdAdd.Flags().Float64Var(&add.Weight, "weight", 1, "weight of the exercise in the list grade")
	cmdLists.AddCommand(cmdAdd)

	var confirm bool
	cmdRemove := &cobra.Command{
		Use:   "remove <list id> <exercise id>",
		Short: "take an exercise out of a list",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			listID, err := parseID("list id", args[0])
			if err != nil {
				return err
			}
			exerciseID, err := parseID("exercise id", args[1])
			if err != nil {
				return err
			}
			api, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			if err := api.RemoveListExercise(cmd.Context(), listID, exerciseID, confirm); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "exercise %d removed from list %d\n", exerciseID, listID)
			return nil
		},
	}
	cmdRemove.Flags().BoolVar(&confirm, "confirm", false, "remove even if the exercise has submissions")
	cmdLists.AddCommand(cmdRemove)
}
