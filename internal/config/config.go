// Package config loads TestSpec and ScheduleConfig documents from YAML
// files for the CLI wiring in cmd/loadtestd. It does not participate in the
// core engine/orchestrator/scheduler path; the core depends only on the
// specmodel types it produces.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/example/loadtest/internal/specmodel"
)

// Errors returned by the config package.
var (
	// ErrConfigNotFound is returned when the requested file does not exist.
	ErrConfigNotFound = errors.New("config: configuration file not found")
	// ErrInvalidConfig is returned when a loaded document fails validation.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// LoadSpecFile reads a TestSpec from a YAML file and validates it.
func LoadSpecFile(path string) (*specmodel.TestSpec, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return LoadSpecBytes(data)
}

// LoadSpecBytes parses a TestSpec from YAML bytes and validates it.
func LoadSpecBytes(data []byte) (*specmodel.TestSpec, error) {
	var spec specmodel.TestSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("%w: parsing test spec: %v", ErrInvalidConfig, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// schedulesDocument is the on-disk shape of a schedule file: a bare list of
// ScheduleConfig entries under a "schedules" key, matching the teacher's
// root-document convention of one named top-level key per config concern.
type schedulesDocument struct {
	Schedules []specmodel.ScheduleConfig `yaml:"schedules"`
}

// LoadSchedulesFile reads a list of ScheduleConfig entries from a YAML file
// and validates each one.
func LoadSchedulesFile(path string) ([]specmodel.ScheduleConfig, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}

	var doc schedulesDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parsing schedules: %v", ErrInvalidConfig, err)
	}
	for i := range doc.Schedules {
		if err := doc.Schedules[i].Validate(); err != nil {
			return nil, fmt.Errorf("schedule[%d]: %w", i, err)
		}
	}
	return doc.Schedules, nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return data, nil
}
