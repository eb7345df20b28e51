package rewriter

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed examples.yaml
var defaultExamples []byte

// Example is one worked question/query pair.
type Example struct {
	Question string `yaml:"question"`
	SQL      string `yaml:"sql"`
}

// ExampleSet is the few-shot material given to the model.
type ExampleSet struct {
	Dialect  string    `yaml:"dialect"`
	Examples []Example `yaml:"examples"`
}

// DefaultExamples returns the embedded example set.
func DefaultExamples() ExampleSet {
	set, err := LoadExamples(defaultExamples)
	if err != nil {
		panic(fmt.Sprintf("embedded examples.yaml is invalid: %v", err))
	}
	return set
}

// LoadExamples parses an example set. Every example needs both a question
// and a query.
func LoadExamples(data []byte) (ExampleSet, error) {
	var set ExampleSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return ExampleSet{}, fmt.Errorf("failed to parse examples: %w", err)
	}
	if set.Dialect == "" {
		set.Dialect = "SQLite"
	}
	for i, ex := range set.Examples {
		if strings.TrimSpace(ex.Question) == "" || strings.TrimSpace(ex.SQL) == "" {
			return ExampleSet{}, fmt.Errorf("example %d: question and sql are required", i+1)
		}
	}
	return set, nil
}

func (s ExampleSet) render(b *strings.Builder) {
	for _, ex := range s.Examples {
		fmt.Fprintf(b, "Question: %s\nSQL: %s\n\n", strings.TrimSpace(ex.Question), strings.TrimSpace(ex.SQL))
	}
}
