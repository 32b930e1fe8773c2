package engine

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-entropy/pkg/attribute"
	"github.com/ekaya-inc/ekaya-entropy/pkg/bins"
	"github.com/ekaya-inc/ekaya-entropy/pkg/models"
)

// Job is a YAML document describing one analysis: the spec, the values of
// its conditionals, bin strategies and the outputs to produce.
type Job struct {
	Spec       models.Spec    `yaml:"spec"`
	Conditions []ConditionJob `yaml:"conditions"`
	Strategies []StrategyJob  `yaml:"strategies"`

	// Optional overrides of the engine configuration.
	Mode       string `yaml:"mode"`
	HashScheme string `yaml:"hash_scheme"`
	Limit      *int   `yaml:"limit"`

	TopN           int       `yaml:"top_n"`
	IncludeColumns bool      `yaml:"include_columns"`
	Surprisals     bool      `yaml:"surprisals"`
	Predicate      string    `yaml:"predicate"`
	Stats          bool      `yaml:"stats"`
	NGram          *NGramJob `yaml:"ngram"`
}

// ConditionJob fixes one conditional.
type ConditionJob struct {
	Field    string   `yaml:"field"`
	Operator string   `yaml:"operator"`
	Values   []string `yaml:"values"`
}

// StrategyJob sizes bins. An empty Field sets the engine-wide strategy.
type StrategyJob struct {
	Field     string  `yaml:"field"`
	Kind      string  `yaml:"kind"` // exact | divide | divide_if_more
	Value     float64 `yaml:"value"`
	By        float64 `yaml:"by"`
	Threshold float64 `yaml:"threshold"`
	Override  bool    `yaml:"override"`
}

// NGramJob describes an n-gram run.
type NGramJob struct {
	Independent string   `yaml:"independent"`
	Dependent   []string `yaml:"dependent"`
	Encoding    string   `yaml:"encoding"`
	N           int      `yaml:"n"`
}

// LoadJob reads and parses a job file.
func LoadJob(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job %s: %w", path, err)
	}
	return ParseJob(data)
}

// ParseJob decodes a job document and validates its operators and strategies.
func ParseJob(data []byte) (*Job, error) {
	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to parse job: %w", err)
	}
	job.Spec.Normalize()

	for _, c := range job.Conditions {
		if c.Field == "" {
			return nil, fmt.Errorf("condition without field")
		}
		if _, err := attribute.ParseOperator(c.Operator); err != nil {
			return nil, fmt.Errorf("condition on %s: %w", c.Field, err)
		}
	}
	for _, s := range job.Strategies {
		if _, err := s.Strategy(); err != nil {
			return nil, err
		}
	}
	if job.Mode != "" {
		if _, err := ParseMode(job.Mode); err != nil {
			return nil, err
		}
	}
	if job.HashScheme != "" {
		if _, err := ParseHashScheme(job.HashScheme); err != nil {
			return nil, err
		}
	}
	return &job, nil
}

// Strategy builds the bin strategy the job entry describes.
func (s StrategyJob) Strategy() (bins.Strategy, error) {
	switch s.Kind {
	case "exact":
		return bins.Exact{Value: s.Value}, nil
	case "divide":
		if s.By <= 0 {
			return nil, fmt.Errorf("divide strategy needs by > 0")
		}
		return bins.Divide{By: s.By}, nil
	case "divide_if_more":
		if s.By <= 0 {
			return nil, fmt.Errorf("divide_if_more strategy needs by > 0")
		}
		return bins.DivideIfMore{By: s.By, Threshold: s.Threshold}, nil
	}
	return nil, fmt.Errorf("unknown bin strategy %q", s.Kind)
}

// Options returns the engine options the job overrides.
func (j *Job) Options() []Option {
	var opts []Option
	if j.Mode != "" {
		if m, err := ParseMode(j.Mode); err == nil {
			opts = append(opts, WithMode(m))
		}
	}
	if j.HashScheme != "" {
		if h, err := ParseHashScheme(j.HashScheme); err == nil {
			opts = append(opts, WithHashScheme(h))
		}
	}
	if j.Limit != nil {
		opts = append(opts, WithLimit(*j.Limit))
	}
	return opts
}

// Apply fixes the job's conditions and applies its bin strategies to e.
func (j *Job) Apply(ctx context.Context, e *Engine) error {
	for _, c := range j.Conditions {
		op, err := attribute.ParseOperator(c.Operator)
		if err != nil {
			return err
		}
		e.SetCondition(ctx, c.Field, op, c.Values...)
	}
	for _, s := range j.Strategies {
		st, err := s.Strategy()
		if err != nil {
			return err
		}
		if s.Field == "" {
			err = e.SetBinStrategy(ctx, st, s.Override)
		} else {
			err = e.SetAttributeBinStrategy(ctx, s.Field, st)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
