package labeler

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed action_rules.yml
var defaultRulesYAML []byte

// Rule is one ordered labeling rule. Conditions in When are ANDed; keys may
// carry a `_gt` suffix for integer greater-than or a `_contains` suffix for
// list membership. Exactly one of Result and ResultTemplate should be set;
// templates substitute `{key}` with the context value.
type Rule struct {
	Name           string                 `yaml:"name"`
	Priority       int                    `yaml:"priority"`
	Scope          string                 `yaml:"scope"`
	When           map[string]interface{} `yaml:"when"`
	Result         string                 `yaml:"result"`
	ResultTemplate string                 `yaml:"result_template"`
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// RuleSet evaluates rules in priority order against an action context.
type RuleSet struct {
	rules []Rule
}

// DefaultRules parses the embedded rule file.
func DefaultRules() (*RuleSet, error) {
	return ParseRules(defaultRulesYAML)
}

// ParseRules loads a rule set from YAML.
func ParseRules(data []byte) (*RuleSet, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse action rules: %w", err)
	}
	rules := f.Rules
	for i := range rules {
		if rules[i].Priority == 0 {
			rules[i].Priority = 9999
		}
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })
	return &RuleSet{rules: rules}, nil
}

// Apply returns the label of the first matching rule, or "" when none match.
func (rs *RuleSet) Apply(street string, ctx map[string]interface{}) string {
	scope := strings.ToUpper(street)
	postflop := scope == "FLOP" || scope == "TURN" || scope == "RIVER"

	for _, r := range rs.rules {
		switch strings.ToUpper(r.Scope) {
		case "", "ANY", scope:
		case "POSTFLOP":
			if !postflop {
				continue
			}
		default:
			continue
		}
		if !conditionsHold(r.When, ctx) {
			continue
		}
		if r.Result != "" {
			return r.Result
		}
		if r.ResultTemplate != "" {
			return expandTemplate(r.ResultTemplate, ctx)
		}
	}
	return ""
}

func conditionsHold(when map[string]interface{}, ctx map[string]interface{}) bool {
	for key, expected := range when {
		switch {
		case strings.HasSuffix(key, "_gt"):
			base := strings.TrimSuffix(key, "_gt")
			if asInt(ctx[base]) <= asInt(expected) {
				return false
			}
		case strings.HasSuffix(key, "_contains"):
			base := strings.TrimSuffix(key, "_contains")
			list, _ := ctx[base].([]string)
			want := fmt.Sprintf("%v", expected)
			found := false
			for _, v := range list {
				if v == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			if fmt.Sprintf("%v", ctx[key]) != fmt.Sprintf("%v", expected) {
				return false
			}
		}
	}
	return true
}

func expandTemplate(tmpl string, ctx map[string]interface{}) string {
	out := tmpl
	for key, val := range ctx {
		out = strings.ReplaceAll(out, "{"+key+"}", fmt.Sprintf("%v", val))
	}
	return out
}

func asInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
