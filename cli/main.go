package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/russross/gradewatch/client"
	"github.com/russross/gradewatch/types"
)

const defaultConfigFile = ".graderc"

// app carries what every command needs once flags are parsed.
type app struct {
	out io.Writer
	log *logrus.Logger

	configPath string
	envFile    string
	verbose    bool
	apiReport  bool
	apiDump    bool

	config *Config
	api    *client.Client
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := logrus.New()
	logger.Out = os.Stderr
	logger.Formatter = &logrus.TextFormatter{DisableTimestamp: true}

	a := &app{out: os.Stdout, log: logger, envFile: ".env"}
	if err := newRootCommand(a).ExecuteContext(ctx); err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}

func newRootCommand(a *app) *cobra.Command {
	cmdGrade := &cobra.Command{
		Use:   "grade",
		Short: "Command-line interface to the grading platform",
		Long: "A command-line tool to submit exercises, review grades,\n" +
			"manage classes and exercises, and run bulk messaging\n" +
			"campaigns on the grading platform.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	cmdGrade.SetOut(a.out)
	cmdGrade.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default ~/"+defaultConfigFile+")")
	cmdGrade.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log polling activity")
	cmdGrade.PersistentFlags().BoolVarP(&a.apiReport, "api", "", false, "report all API requests")
	cmdGrade.PersistentFlags().BoolVarP(&a.apiDump, "api-dump", "", false, "dump API request and response data")

	cmdVersion := &cobra.Command{
		Use:   "version",
		Short: "print the version number of grade",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(a.out, "grade %s\n", types.CurrentVersion.Version)
			if a.config.Server.URL == "" {
				return nil
			}
			api, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			server, err := api.GetVersion(cmd.Context())
			if client.IsNotFound(err) {
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "server %s at %s\n", server.Version, api.BaseURL())
			return nil
		},
	}
	cmdGrade.AddCommand(cmdVersion)

	a.addSubmissionCommands(cmdGrade)
	a.addMessagingCommands(cmdGrade)
	a.addGradeCommands(cmdGrade)
	a.addClassCommands(cmdGrade)
	a.addExerciseCommands(cmdGrade)
	return cmdGrade
}

func (a *app) setup() error {
	if a.verbose {
		a.log.SetLevel(logrus.DebugLevel)
	}
	cfg, err := loadConfig(a.configPath, a.envFile)
	if err != nil {
		return err
	}
	a.config = cfg
	return nil
}

// client connects on first use and checks that this version is still welcome.
func (a *app) client(ctx context.Context) (*client.Client, error) {
	if a.api != nil {
		return a.api, nil
	}
	api, err := client.New(a.config.Server.URL,
		client.WithToken(a.config.Server.Token),
		client.WithLogger(a.log),
		client.WithAPIReport(a.apiReport, a.apiDump))
	if err != nil {
		return nil, err
	}
	if err := api.CheckVersion(ctx, types.CurrentVersion.Version); err != nil {
		return nil, err
	}
	a.api = api
	return api, nil
}

func (a *app) submissionInterval() time.Duration {
	return orDefault(a.config.submissionEvery, client.SubmissionInterval)
}

func (a *app) campaignInterval() time.Duration {
	return orDefault(a.config.campaignEvery, client.CampaignInterval)
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
