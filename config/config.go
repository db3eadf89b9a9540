// Package config loads and validates the controller's YAML configuration
// file into a typed Config value.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bbockelm/lsfspool/errs"
)

// Suite holds the suite selection block of the configuration.
type Suite struct {
	Name       string `yaml:"name"`
	Parameters string `yaml:"parameters"`
}

// rawConfig mirrors the YAML document shape. Required fields are plain
// pointer-free scalars, so presence is not checked here: Load checks it
// with a separate decode into a generic map, since a bare int/string
// cannot distinguish "absent" from "zero".
type rawConfig struct {
	Queue        string `yaml:"queue"`
	SleepVal     int    `yaml:"sleepval"`
	QueueCeiling int    `yaml:"queueceiling"`
	QueueFloor   int    `yaml:"queuefloor"`
	ChurnRate    int    `yaml:"churnrate"`
	LSFTries     int    `yaml:"lsf_tries"`
	DBTries      int    `yaml:"db_tries"`
	Suite        Suite  `yaml:"suite"`

	User     string `yaml:"user"`
	Email    string `yaml:"email"`
	BsubArgs string `yaml:"bsubargs"`
	StopFlag string `yaml:"stopflag"`
	LogFile  string `yaml:"logfile"`
}

// Config is the fully validated, typed controller configuration.
type Config struct {
	Queue        string
	SleepVal     int
	QueueCeiling int
	QueueFloor   int
	ChurnRate    int
	LSFTries     int
	DBTries      int
	Suite        Suite

	User     string
	Email    string
	BsubArgs string
	StopFlag string
	LogFile  string
}

// requiredKeys lists the keys §6 of the spec declares required, in the
// order they should be reported missing.
var requiredKeys = []string{
	"queue", "sleepval", "queueceiling", "queuefloor",
	"churnrate", "lsf_tries", "db_tries", "suite.name", "suite.parameters",
}

// Load reads and validates the YAML configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.New(errs.KindConfiguration, fmt.Sprintf("read config file %q", path), err)
	}

	// Decode twice: once into a generic map to detect which required keys
	// are genuinely present in the document (rather than merely defaulted
	// to their Go zero value), and once into the typed struct above.
	var present map[string]interface{}
	if err := yaml.Unmarshal(data, &present); err != nil {
		return nil, errs.New(errs.KindConfiguration, fmt.Sprintf("parse config file %q", path), err)
	}

	if missing := missingRequired(present); missing != "" {
		return nil, errs.New(errs.KindConfiguration, fmt.Sprintf("missing required config key %q", missing), nil)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errs.New(errs.KindConfiguration, fmt.Sprintf("parse config file %q", path), err)
	}

	return &Config{
		Queue:        raw.Queue,
		SleepVal:     raw.SleepVal,
		QueueCeiling: raw.QueueCeiling,
		QueueFloor:   raw.QueueFloor,
		ChurnRate:    raw.ChurnRate,
		LSFTries:     raw.LSFTries,
		DBTries:      raw.DBTries,
		Suite:        raw.Suite,
		User:         raw.User,
		Email:        raw.Email,
		BsubArgs:     raw.BsubArgs,
		StopFlag:     raw.StopFlag,
		LogFile:      raw.LogFile,
	}, nil
}

// missingRequired returns the first required key (dotted-path notation)
// absent from the decoded document, or "" if all are present.
func missingRequired(doc map[string]interface{}) string {
	for _, key := range requiredKeys {
		parts := strings.SplitN(key, ".", 2)
		top, ok := doc[parts[0]]
		if !ok {
			return key
		}
		if len(parts) == 1 {
			continue
		}
		nested, ok := top.(map[string]interface{})
		if !ok {
			return key
		}
		if _, ok := nested[parts[1]]; !ok {
			return key
		}
	}
	return ""
}
