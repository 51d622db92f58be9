// Package config loads run configurations from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Method names accepted in a run configuration.
const (
	MethodRandom   = "random"
	MethodMFRandom = "mf-random"
	MethodMayfly   = "mayfly"
)

// configValidate checks the struct tags of RunConfig. Fields are reported by
// their YAML names.
var configValidate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// MayflyConfig tunes the mayfly-backed method.
type MayflyConfig struct {
	Kappa    float64 `yaml:"kappa" json:"kappa"`
	MaxIters int     `yaml:"max_iters" json:"maxIters"`
	PopSize  int     `yaml:"pop_size" json:"popSize"`
}

// RunConfig describes one optimisation run. It is stored verbatim in the run
// checkpoint so that resumed runs can be checked for compatibility.
//
// Noise is the standard deviation of Gaussian observation noise on
// single-fidelity objectives. Minimise runs maximise the negated objective;
// stored optima and traces stay in the objective's own sign.
type RunConfig struct {
	Objective      string       `yaml:"objective" json:"objective" validate:"required"`
	Method         string       `yaml:"method" json:"method" validate:"oneof=random mf-random mayfly"`
	Budget         int          `yaml:"budget" json:"budget" validate:"gte=0"`
	Workers        int          `yaml:"workers" json:"workers" validate:"gt=0"`
	Async          bool         `yaml:"async" json:"async"`
	InitEvals      int          `yaml:"init_evals" json:"initEvals" validate:"gte=0"`
	ReportEvery    int          `yaml:"report_every" json:"reportEvery,omitempty" validate:"gte=0"`
	Seed           int64        `yaml:"seed" json:"seed"`
	StrictFidelity bool         `yaml:"strict_fidelity" json:"strictFidelity,omitempty"`
	TargetProb     float64      `yaml:"target_prob" json:"targetProb,omitempty"`
	Noise          float64      `yaml:"noise" json:"noise,omitempty" validate:"gte=0"`
	Minimise       bool         `yaml:"minimise" json:"minimise,omitempty"`
	Mayfly         MayflyConfig `yaml:"mayfly" json:"mayfly"`
}

// Default returns the configuration used when no file is given.
func Default() RunConfig {
	return RunConfig{
		Objective:   "branin",
		Method:      MethodRandom,
		Budget:      50,
		Workers:     1,
		Async:       true,
		InitEvals:   5,
		ReportEvery: 10,
		Seed:        1,
		TargetProb:  0.3,
		Mayfly: MayflyConfig{
			Kappa:    1.0,
			MaxIters: 30,
			PopSize:  20,
		},
	}
}

// Load reads a YAML run configuration. Fields absent from the file keep their
// Default values. Unknown keys are rejected.
func Load(path string) (RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RunConfig{}, fmt.Errorf("reading run config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes over the defaults and validates the result.
func Parse(data []byte) (RunConfig, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return RunConfig{}, fmt.Errorf("parsing run config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return RunConfig{}, err
	}
	return cfg, nil
}

// Validate checks that all fields hold usable values. Method-specific
// settings are only checked for the selected method.
func (c RunConfig) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			return fieldError(fieldErrs[0])
		}
		return err
	}
	if c.Method == MethodMFRandom && (c.TargetProb <= 0 || c.TargetProb > 1) {
		return fmt.Errorf("target_prob must be in (0, 1], got %g", c.TargetProb)
	}
	if c.Method == MethodMayfly {
		if c.Mayfly.Kappa < 0 {
			return fmt.Errorf("mayfly.kappa cannot be negative, got %g", c.Mayfly.Kappa)
		}
		if c.Mayfly.MaxIters <= 0 {
			return fmt.Errorf("mayfly.max_iters must be positive, got %d", c.Mayfly.MaxIters)
		}
		if c.Mayfly.PopSize <= 0 {
			return fmt.Errorf("mayfly.pop_size must be positive, got %d", c.Mayfly.PopSize)
		}
	}
	return nil
}

func fieldError(fe validator.FieldError) error {
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s must be set", fe.Field())
	case "oneof":
		return fmt.Errorf("unknown %s %q; valid: %s", fe.Field(), fe.Value(), fe.Param())
	case "gte":
		return fmt.Errorf("%s cannot be less than %s, got %v", fe.Field(), fe.Param(), fe.Value())
	case "gt":
		return fmt.Errorf("%s must be greater than %s, got %v", fe.Field(), fe.Param(), fe.Value())
	default:
		return fmt.Errorf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
