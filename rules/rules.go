// Package rules evaluates prioritized processing rules against
// classified messages.
//
// Rules live in an email_rules JSON document. Each rule tests
// conditions against a nested message document addressed by dot paths
// (features.subject, classification.category1_type) and, when it
// matches, contributes its actions as effects in ascending priority
// order.
package rules

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/hupe1980/mailclass/codec"
)

// ErrInvalidRule is returned when a rule fails validation.
var ErrInvalidRule = errors.New("rules: invalid rule")

// ErrInvalidRuleset is returned when a ruleset document fails
// validation.
var ErrInvalidRuleset = errors.New("rules: invalid ruleset")

var (
	validate       = validator.New()
	ruleIDPattern  = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	versionPattern = regexp.MustCompile(`^v\d+$`)
)

// Condition logic modes.
const (
	LogicAnd = "AND"
	LogicOr  = "OR"
)

// Condition operators.
const (
	OpExists = "exists"
	OpEq     = "eq"
	OpIn     = "in"
	OpLt     = "lt"
	OpLte    = "lte"
	OpGt     = "gt"
	OpGte    = "gte"
	OpRegex  = "regex"
)

// Action types.
const (
	ActionSetClassification = "set_classification"
	ActionMarkRead          = "mark_read"
	ActionSaveToFolder      = "save_to_folder"
	ActionFlagForReview     = "flag_for_review"
	ActionForwardTo         = "forward_to"
	ActionAutoReply         = "auto_reply"
	ActionAddTag            = "add_tag"
)

// Condition tests one field of a message document.
type Condition struct {
	Field    string `json:"field" validate:"required"`
	Operator string `json:"operator" validate:"required,oneof=exists eq in lt lte gt gte regex"`
	Value    any    `json:"value,omitempty"`
}

// Action is a side effect a matched rule requests. Params carry
// action-specific settings (folder, recipient, tag, ...).
type Action struct {
	Type   string         `json:"type" validate:"required,oneof=set_classification mark_read save_to_folder flag_for_review forward_to auto_reply add_tag"`
	Params map[string]any `json:"parameters,omitempty"`
}

// Rule is one prioritized processing rule. Lower priority numbers
// evaluate first.
type Rule struct {
	ID          string      `json:"id" validate:"required"`
	Name        string      `json:"name" validate:"required"`
	Description string      `json:"description,omitempty"`
	Priority    int         `json:"priority" validate:"required,min=1"`
	Enabled     bool        `json:"enabled"`
	Logic       string      `json:"logic,omitempty" validate:"omitempty,oneof=AND OR"`
	Conditions  []Condition `json:"conditions" validate:"dive"`
	Actions     []Action    `json:"actions" validate:"dive"`
}

// UnmarshalJSON defaults Enabled to true when the field is absent.
func (r *Rule) UnmarshalJSON(data []byte) error {
	type alias Rule

	aux := alias{Enabled: true}
	if err := codec.Default.Unmarshal(data, &aux); err != nil {
		return err
	}

	*r = Rule(aux)

	return nil
}

// Validate checks the structural constraints of a rule.
func (r *Rule) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}

	if !ruleIDPattern.MatchString(r.ID) {
		return fmt.Errorf("%w: id %q", ErrInvalidRule, r.ID)
	}

	return nil
}

// Ruleset is a persisted email_rules document.
type Ruleset struct {
	Type     string         `json:"type" validate:"required,eq=email_rules"`
	Version  string         `json:"version" validate:"required"`
	Rules    []Rule         `json:"rules"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Validate checks the document header and every rule.
func (rs *Ruleset) Validate() error {
	if err := validate.Struct(rs); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRuleset, err)
	}

	if !versionPattern.MatchString(rs.Version) {
		return fmt.Errorf("%w: version %q", ErrInvalidRuleset, rs.Version)
	}

	for i := range rs.Rules {
		if err := rs.Rules[i].Validate(); err != nil {
			return err
		}
	}

	return nil
}

// Load decodes and validates an email_rules document.
func Load(r io.Reader) (*Ruleset, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("rules: read: %w", err)
	}

	var rs Ruleset
	if err := codec.Default.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("rules: decode: %w", err)
	}

	if err := rs.Validate(); err != nil {
		return nil, err
	}

	return &rs, nil
}

// LoadFile reads an email_rules document from path.
func LoadFile(path string) (*Ruleset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Load(f)
}
