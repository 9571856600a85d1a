package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/gcfg.v1"
)

// Config is read from an INI-style file:
//
//	[server]
//	url = https://grader.example.com
//	token = ...
//
//	[watch]
//	push = true
//	submissionInterval = 2s
//	campaignInterval = 5s
//
// GRADER_URL and GRADER_TOKEN override the file, and may come from ./.env.
type Config struct {
	Server struct {
		URL   string
		Token string
	}
	Watch struct {
		Push               bool
		SubmissionInterval string
		CampaignInterval   string
	}

	submissionEvery time.Duration
	campaignEvery   time.Duration
}

var userHomeDir = os.UserHomeDir // mockable

func loadConfig(path, envFile string) (*Config, error) {
	cfg := new(Config)

	explicit := path != ""
	if !explicit {
		home, err := userHomeDir()
		if err != nil {
			return nil, errors.Wrap(err, "unable to find home directory")
		}
		path = filepath.Join(home, defaultConfigFile)
	}
	if err := gcfg.ReadFileInto(cfg, path); err != nil {
		if explicit || !os.IsNotExist(errors.Cause(err)) {
			return nil, errors.Wrapf(err, "failed to parse %s", path)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "failed to load %s", envFile)
		}
	}
	if url := os.Getenv("GRADER_URL"); url != "" {
		cfg.Server.URL = url
	}
	if token := os.Getenv("GRADER_TOKEN"); token != "" {
		cfg.Server.Token = token
	}

	for _, elt := range []struct {
		value string
		dst   *time.Duration
	}{
		{cfg.Watch.SubmissionInterval, &cfg.submissionEvery},
		{cfg.Watch.CampaignInterval, &cfg.campaignEvery},
	} {
		if elt.value == "" {
			continue
		}
		d, err := time.ParseDuration(elt.value)
		if err != nil || d <= 0 {
			return nil, errors.Errorf("%s: invalid watch interval %q", path, elt.value)
		}
		*elt.dst = d
	}
	return cfg, nil
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
