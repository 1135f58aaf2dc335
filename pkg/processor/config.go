package processor

import (
	"fmt"
	"strings"
)

// Type identifies the processor flavour a Config declares.
type Type string

const (
	// TypeAttribute transforms record attributes in place.
	TypeAttribute Type = "attribute"
	// TypeSpanRename rewrites span names from attributes and extraction rules.
	TypeSpanRename Type = "span_rename"
	// TypeLogRename rewrites log bodies from attributes and extraction rules.
	TypeLogRename Type = "log_rename"
)

// MatchType selects how include/exclude names and attribute values are
// compared.
type MatchType string

const (
	// MatchStrict compares names and values for exact equality.
	MatchStrict MatchType = "strict"
	// MatchRegexp treats names and values as fully-anchored regular
	// expressions.
	MatchRegexp MatchType = "regexp"
)

// ActionType identifies a single attribute transformation.
type ActionType string

const (
	// ActionInsert sets a key only when it is absent.
	ActionInsert ActionType = "insert"
	// ActionUpdate overwrites a key only when it is present.
	ActionUpdate ActionType = "update"
	// ActionDelete removes a key unconditionally.
	ActionDelete ActionType = "delete"
	// ActionHash replaces a value with a stable hash of its string form.
	ActionHash ActionType = "hash"
	// ActionExtract lifts named regex groups out of a value into new
	// attributes, leaving the original value unchanged.
	ActionExtract ActionType = "extract"
	// ActionMask rewrites a value through a template of named regex groups.
	ActionMask ActionType = "mask"
)

// AttributeCondition is a single {key, optional value} constraint inside a
// Match block. All conditions must hold for the block to match.
type AttributeCondition struct {
	Key   string `yaml:"key" json:"key"`
	Value any    `yaml:"value,omitempty" json:"value,omitempty"`
}

// Match describes include/exclude selection criteria. A block naming
// span_names applies only to span-shaped records, one naming log_bodies only
// to log-shaped records; naming both matches either shape against its own
// list.
type Match struct {
	MatchType  MatchType            `yaml:"match_type" json:"match_type"`
	SpanNames  []string             `yaml:"span_names,omitempty" json:"span_names,omitempty"`
	LogBodies  []string             `yaml:"log_bodies,omitempty" json:"log_bodies,omitempty"`
	Attributes []AttributeCondition `yaml:"attributes,omitempty" json:"attributes,omitempty"`
}

// Action is one declared transformation step. Steps run in listed order.
type Action struct {
	Key           string     `yaml:"key" json:"key"`
	Action        ActionType `yaml:"action" json:"action"`
	Value         any        `yaml:"value,omitempty" json:"value,omitempty"`
	FromAttribute string     `yaml:"from_attribute,omitempty" json:"from_attribute,omitempty"`
	Pattern       string     `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Replacement   string     `yaml:"replacement,omitempty" json:"replacement,omitempty"`
}

// Rename configures span_rename/log_rename processors.
type Rename struct {
	FromAttributes []string `yaml:"from_attributes,omitempty" json:"from_attributes,omitempty"`
	Separator      string   `yaml:"separator,omitempty" json:"separator,omitempty"`
	ToAttributes   []string `yaml:"to_attributes,omitempty" json:"to_attributes,omitempty"`
}

// Config is one named, ordered processor rule as consumed from the external
// configuration loader.
type Config struct {
	Name    string   `yaml:"name" json:"name"`
	Type    Type     `yaml:"type" json:"type"`
	Include *Match   `yaml:"include,omitempty" json:"include,omitempty"`
	Exclude *Match   `yaml:"exclude,omitempty" json:"exclude,omitempty"`
	Actions []Action `yaml:"actions,omitempty" json:"actions,omitempty"`
	Rename  *Rename  `yaml:"rename,omitempty" json:"rename,omitempty"`
}

// validate performs the structural checks that do not require regex
// compilation. Compilation errors surface from New.
func (c *Config) validate() error {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return fmt.Errorf("processor: name is required")
	}
	switch c.Type {
	case TypeAttribute:
		if len(c.Actions) == 0 {
			return fmt.Errorf("processor %s: at least one action is required", name)
		}
		if c.Rename != nil {
			return fmt.Errorf("processor %s: rename is not valid for attribute processors", name)
		}
	case TypeSpanRename, TypeLogRename:
		if c.Rename == nil || (len(c.Rename.FromAttributes) == 0 && len(c.Rename.ToAttributes) == 0) {
			return fmt.Errorf("processor %s: a rename rule is required", name)
		}
		if len(c.Actions) > 0 {
			return fmt.Errorf("processor %s: actions are not valid for rename processors", name)
		}
	default:
		return fmt.Errorf("processor %s: unknown type %q", name, c.Type)
	}
	for _, m := range []*Match{c.Include, c.Exclude} {
		if m == nil {
			continue
		}
		if err := m.validate(name); err != nil {
			return err
		}
	}
	return nil
}

func (m *Match) validate(processor string) error {
	switch m.MatchType {
	case MatchStrict, MatchRegexp:
	case "":
		return fmt.Errorf("processor %s: match_type is required on include/exclude", processor)
	default:
		return fmt.Errorf("processor %s: unknown match_type %q", processor, m.MatchType)
	}
	if len(m.SpanNames) == 0 && len(m.LogBodies) == 0 && len(m.Attributes) == 0 {
		return fmt.Errorf("processor %s: include/exclude must list span_names, log_bodies or attributes", processor)
	}
	for _, cond := range m.Attributes {
		if strings.TrimSpace(cond.Key) == "" {
			return fmt.Errorf("processor %s: attribute condition key is required", processor)
		}
	}
	return nil
}
