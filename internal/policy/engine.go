package policy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type RuleMatch struct {
	Backend  string `yaml:"backend"`
	TaskType string `yaml:"task_type"`
	Model    string `yaml:"model"`
	Priority string `yaml:"priority"`
}

type Rule struct {
	Name   string    `yaml:"name"`
	Effect string    `yaml:"effect"` // allow|deny
	Reason string    `yaml:"reason"`
	Match  RuleMatch `yaml:"match"`
}

type Config struct {
	DefaultAction string `yaml:"default_action"` // allow|deny
	Rules         []Rule `yaml:"rules"`
}

type Decision struct {
	Allowed    bool
	ReasonCode string
	Rule       string
	Message    string
}

// Input describes one candidate (backend, task) pairing under evaluation.
type Input struct {
	Backend  string
	TaskType string
	Model    string
	Priority string
}

// Engine evaluates operator-authored selection rules. First matching rule
// wins; no match falls through to the default action.
type Engine struct {
	defaultAction string
	rules         []Rule
	noop          bool
}

func NewAllowAll() *Engine {
	return &Engine{defaultAction: "allow", noop: true}
}

// LoadFromEnv reads PHOTOSEARCH_SELECTION_POLICY_FILE. An unset variable
// yields the allow-all engine.
func LoadFromEnv() (*Engine, error) {
	path := strings.TrimSpace(os.Getenv("PHOTOSEARCH_SELECTION_POLICY_FILE"))
	if path == "" {
		return NewAllowAll(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	return NewFromConfig(cfg), nil
}

func NewFromConfig(cfg Config) *Engine {
	e := &Engine{
		defaultAction: normalizeAction(cfg.DefaultAction),
		rules:         make([]Rule, 0, len(cfg.Rules)),
	}
	for _, r := range cfg.Rules {
		r.Effect = normalizeAction(r.Effect)
		if r.Effect == "" {
			r.Effect = "deny"
		}
		e.rules = append(e.rules, r)
	}
	if e.defaultAction == "" {
		e.defaultAction = "allow"
	}
	if e.defaultAction == "allow" && len(e.rules) == 0 {
		e.noop = true
	}
	return e
}

// IsNoop lets hot paths skip rule evaluation entirely.
func (e *Engine) IsNoop() bool { return e != nil && e.noop }

func (e *Engine) Evaluate(in Input) Decision {
	for _, r := range e.rules {
		if !matches(r.Match, in) {
			continue
		}
		allowed := r.Effect == "allow"
		reason := "policy_rule_" + r.Effect
		if r.Reason != "" {
			reason = strings.TrimSpace(r.Reason)
		}
		msg := reason
		if r.Name != "" {
			msg = r.Name + ": " + reason
		}
		return Decision{
			Allowed:    allowed,
			ReasonCode: reason,
			Rule:       r.Name,
			Message:    msg,
		}
	}
	if e.defaultAction == "deny" {
		return Decision{
			Allowed:    false,
			ReasonCode: "default_deny",
			Rule:       "default_action",
			Message:    "backend denied by default_action=deny",
		}
	}
	return Decision{
		Allowed:    true,
		ReasonCode: "default_allow",
		Rule:       "default_action",
		Message:    "backend allowed by default_action=allow",
	}
}

func matches(rule RuleMatch, in Input) bool {
	if rule.Backend != "" && rule.Backend != in.Backend {
		return false
	}
	if rule.TaskType != "" && rule.TaskType != in.TaskType {
		return false
	}
	if rule.Model != "" && rule.Model != in.Model {
		return false
	}
	if rule.Priority != "" && rule.Priority != in.Priority {
		return false
	}
	return true
}

func normalizeAction(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "allow", "deny":
		return s
	}
	return ""
}
