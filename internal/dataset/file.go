// Package dataset re-imports a curated project history in overwrite mode.
// Re-running an import converges on the file's contents and never
// double-counts rule statistics.
package dataset

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"hlskb/pkg/domain"
)

// File is a dataset document.
type File struct {
	Project    Project     `yaml:"project"`
	Iterations []Iteration `yaml:"iterations" validate:"dive"`
}

// Project carries a stable ID so repeated imports address the same row.
type Project struct {
	ID           string `yaml:"id" validate:"required"`
	Name         string `yaml:"name" validate:"required"`
	Type         string `yaml:"type" validate:"required"`
	Description  string `yaml:"description"`
	TargetDevice string `yaml:"target_device"`
}

// Iteration is addressed by (project, number).
type Iteration struct {
	Number              int                       `yaml:"iteration_number" validate:"gt=0"`
	ApproachDescription string                    `yaml:"approach_description"`
	CodeSnapshot        string                    `yaml:"code_snapshot"`
	PragmasUsed         []string                  `yaml:"pragmas_used"`
	PromptUsed          string                    `yaml:"prompt_used"`
	Reasoning           string                    `yaml:"reasoning"`
	UserReferenceCode   string                    `yaml:"user_reference_code"`
	UserSpecification   string                    `yaml:"user_specification"`
	ReferenceMetadata   *domain.ReferenceMetadata `yaml:"reference_metadata"`
	Synthesis           *Synthesis                `yaml:"synthesis_result"`
	Rules               []RuleApplication         `yaml:"rules_applied" validate:"dive"`
}

// Synthesis is the measured result of one iteration.
type Synthesis struct {
	IIAchieved    int                  `yaml:"ii_achieved" validate:"gte=0"`
	IITarget      int                  `yaml:"ii_target" validate:"gte=0"`
	LatencyCycles *int                 `yaml:"latency_cycles"`
	TimingMet     *bool                `yaml:"timing_met"`
	ResourceUsage domain.ResourceUsage `yaml:"resource_usage"`
	ClockPeriodNS *float64             `yaml:"clock_period_ns"`
}

// RuleApplication is matched by code first, then by the exact rule text in
// Description.
type RuleApplication struct {
	Code            string   `yaml:"rule_code" validate:"required_without=Description"`
	Keywords        []string `yaml:"rule_keywords"`
	Description     string   `yaml:"rule_description"`
	ExpectedBenefit string   `yaml:"expected_benefit"`
	PreviousII      float64  `yaml:"previous_ii"`
	CurrentII       float64  `yaml:"current_ii"`
	Success         bool     `yaml:"success"`
}

var validate = validator.New()

// Parse decodes and validates a dataset. Unknown keys are rejected.
func Parse(r io.Reader) (File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		return File{}, fmt.Errorf("decode dataset: %w", err)
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

// Load parses the dataset at path.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read dataset %s: %w", path, err)
	}
	f, err := Parse(bytes.NewReader(data))
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Validate checks field constraints and that iteration numbers are unique.
func (f File) Validate() error {
	var problems []string
	if err := validate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate dataset: %w", err)
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
		}
	}
	seen := make(map[int]bool, len(f.Iterations))
	for _, it := range f.Iterations {
		if it.Number > 0 && seen[it.Number] {
			problems = append(problems, fmt.Sprintf("iteration_number %d appears twice", it.Number))
		}
		seen[it.Number] = true
	}
	if len(problems) > 0 {
		return errors.New("invalid dataset: " + strings.Join(problems, "; "))
	}
	return nil
}
