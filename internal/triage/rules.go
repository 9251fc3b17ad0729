package triage

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

type rulesFile struct {
	Default string `yaml:"default"`
	Rules   []struct {
		Level    string   `yaml:"level"`
		Keywords []string `yaml:"keywords"`
	} `yaml:"rules"`
}

type keywordRule struct {
	level    Level
	keywords []string
}

// RuleClassifier maps symptom text to a level by keyword matching. It is
// pure and safe for concurrent use.
type RuleClassifier struct {
	rules    []keywordRule
	fallback Level
}

// NewRuleClassifier returns a classifier for the built-in keyword table.
func NewRuleClassifier() *RuleClassifier {
	c, err := ParseRules(defaultRulesYAML)
	if err != nil {
		panic(fmt.Sprintf("load rules.yaml: %v", err))
	}
	return c
}

// ParseRules builds a classifier from a YAML keyword table. Rules are
// ordered by level rank so the most urgent matching level always wins.
func ParseRules(data []byte) (*RuleClassifier, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	fallback := LevelModerate
	if f.Default != "" {
		l, err := ParseLevel(f.Default)
		if err != nil {
			return nil, fmt.Errorf("default: %w", err)
		}
		fallback = l
	}

	seen := make(map[Level]bool, len(f.Rules))
	rules := make([]keywordRule, 0, len(f.Rules))
	for i, r := range f.Rules {
		l, err := ParseLevel(r.Level)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		if seen[l] {
			return nil, fmt.Errorf("rule %d: duplicate level %s", i, l)
		}
		seen[l] = true
		if len(r.Keywords) == 0 {
			return nil, fmt.Errorf("rule %d (%s): no keywords", i, l)
		}
		kws := make([]string, 0, len(r.Keywords))
		for _, kw := range r.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				return nil, fmt.Errorf("rule %d (%s): empty keyword", i, l)
			}
			kws = append(kws, kw)
		}
		rules = append(rules, keywordRule{level: l, keywords: kws})
	}

	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].level.Rank() > rules[j].level.Rank()
	})

	return &RuleClassifier{rules: rules, fallback: fallback}, nil
}

// Classify returns the most urgent level with any keyword present in the
// text, or the default level when nothing matches.
func (c *RuleClassifier) Classify(symptoms string) Level {
	text := strings.ToLower(symptoms)
	for _, r := range c.rules {
		for _, kw := range r.keywords {
			if strings.Contains(text, kw) {
				return r.level
			}
		}
	}
	return c.fallback
}
