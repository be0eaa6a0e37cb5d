package rules

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage() map[string]any {
	return map[string]any{
		"features": map[string]any{
			"subject":         "Invoice 4711 payment due",
			"sender":          "billing@acme.example",
			"has_attachments": true,
			"size_kb":         float64(340),
		},
		"classification": map[string]any{
			"category1_type": "invoice",
			"category4_handler": map[string]any{
				"label": "archive",
			},
		},
	}
}

func TestEvalCondition(t *testing.T) {
	e, err := New(nil)
	require.NoError(t, err)

	msg := testMessage()

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"EqString", Condition{Field: "classification.category1_type", Operator: OpEq, Value: "invoice"}, true},
		{"EqStringMiss", Condition{Field: "classification.category1_type", Operator: OpEq, Value: "personal"}, false},
		{"EqNumber", Condition{Field: "features.size_kb", Operator: OpEq, Value: 340}, true},
		{"EqBool", Condition{Field: "features.has_attachments", Operator: OpEq, Value: true}, true},
		{"In", Condition{Field: "classification.category1_type", Operator: OpIn, Value: []any{"invoice", "receipt"}}, true},
		{"InMiss", Condition{Field: "classification.category1_type", Operator: OpIn, Value: []any{"personal"}}, false},
		{"InNotAList", Condition{Field: "classification.category1_type", Operator: OpIn, Value: "invoice"}, false},
		{"Lt", Condition{Field: "features.size_kb", Operator: OpLt, Value: 500}, true},
		{"LtMiss", Condition{Field: "features.size_kb", Operator: OpLt, Value: 100}, false},
		{"Lte", Condition{Field: "features.size_kb", Operator: OpLte, Value: 340}, true},
		{"Gt", Condition{Field: "features.size_kb", Operator: OpGt, Value: 100}, true},
		{"Gte", Condition{Field: "features.size_kb", Operator: OpGte, Value: 340.0}, true},
		{"GtString", Condition{Field: "features.sender", Operator: OpGt, Value: "a"}, true},
		{"Regex", Condition{Field: "features.subject", Operator: OpRegex, Value: "invoice \\d+"}, true},
		{"RegexUnanchored", Condition{Field: "features.subject", Operator: OpRegex, Value: "payment"}, true},
		{"RegexMiss", Condition{Field: "features.subject", Operator: OpRegex, Value: "^payment"}, false},
		{"RegexInvalid", Condition{Field: "features.subject", Operator: OpRegex, Value: "("}, false},
		{"Exists", Condition{Field: "features.subject", Operator: OpExists}, true},
		{"ExistsMissing", Condition{Field: "features.cc", Operator: OpExists}, false},
		{"DotPathNested", Condition{Field: "classification.category4_handler.label", Operator: OpEq, Value: "archive"}, true},
		{"DotPathThroughScalar", Condition{Field: "features.subject.x", Operator: OpExists}, false},
		{"MissingFieldEq", Condition{Field: "features.cc", Operator: OpEq, Value: "x"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, present := lookup(msg, tt.cond.Field)
			assert.Equal(t, tt.want, e.evalCondition(tt.cond, value, present))
		})
	}
}

func TestEngineEval(t *testing.T) {
	ctx := context.Background()

	t.Run("ANDRequiresAll", func(t *testing.T) {
		e, err := New([]Rule{{
			ID:       "archive-invoices",
			Name:     "Archive invoices",
			Priority: 1,
			Enabled:  true,
			Conditions: []Condition{
				{Field: "classification.category1_type", Operator: OpEq, Value: "invoice"},
				{Field: "features.has_attachments", Operator: OpEq, Value: false},
			},
			Actions: []Action{{Type: ActionMarkRead}},
		}})
		require.NoError(t, err)

		effects, err := e.Eval(ctx, testMessage())
		require.NoError(t, err)
		assert.Empty(t, effects)
	})

	t.Run("ORNeedsOne", func(t *testing.T) {
		e, err := New([]Rule{{
			ID:       "flag-odd",
			Name:     "Flag odd messages",
			Priority: 1,
			Enabled:  true,
			Logic:    LogicOr,
			Conditions: []Condition{
				{Field: "classification.category1_type", Operator: OpEq, Value: "personal"},
				{Field: "features.size_kb", Operator: OpGt, Value: 100},
			},
			Actions: []Action{{Type: ActionFlagForReview}},
		}})
		require.NoError(t, err)

		effects, err := e.Eval(ctx, testMessage())
		require.NoError(t, err)
		require.Len(t, effects, 1)
		assert.Equal(t, []string{"features.size_kb gt 100"}, effects[0].Matched)
	})

	t.Run("ORAllMiss", func(t *testing.T) {
		e, err := New([]Rule{{
			ID:       "never",
			Name:     "Never matches",
			Priority: 1,
			Enabled:  true,
			Logic:    LogicOr,
			Conditions: []Condition{
				{Field: "classification.category1_type", Operator: OpEq, Value: "personal"},
				{Field: "features.size_kb", Operator: OpGt, Value: 10000},
			},
			Actions: []Action{{Type: ActionFlagForReview}},
		}})
		require.NoError(t, err)

		effects, err := e.Eval(ctx, testMessage())
		require.NoError(t, err)
		assert.Empty(t, effects)
	})

	t.Run("EmptyConditionsMatch", func(t *testing.T) {
		e, err := New([]Rule{{
			ID:       "catch-all",
			Name:     "Catch all",
			Priority: 1,
			Enabled:  true,
			Actions:  []Action{{Type: ActionAddTag, Params: map[string]any{"tag": "seen"}}},
		}})
		require.NoError(t, err)

		effects, err := e.Eval(ctx, testMessage())
		require.NoError(t, err)
		require.Len(t, effects, 1)
		assert.Equal(t, "catch-all", effects[0].RuleID)
		assert.Empty(t, effects[0].Matched)
	})

	t.Run("PriorityOrder", func(t *testing.T) {
		e, err := New([]Rule{
			{
				ID:       "late",
				Name:     "Late rule",
				Priority: 20,
				Enabled:  true,
				Actions:  []Action{{Type: ActionMarkRead}},
			},
			{
				ID:       "early",
				Name:     "Early rule",
				Priority: 5,
				Enabled:  true,
				Actions:  []Action{{Type: ActionFlagForReview}},
			},
		})
		require.NoError(t, err)

		effects, err := e.Eval(ctx, testMessage())
		require.NoError(t, err)
		require.Len(t, effects, 2)
		assert.Equal(t, "early", effects[0].RuleID)
		assert.Equal(t, "late", effects[1].RuleID)
	})

	t.Run("DisabledSkipped", func(t *testing.T) {
		e, err := New([]Rule{{
			ID:       "off",
			Name:     "Disabled rule",
			Priority: 1,
			Enabled:  false,
			Actions:  []Action{{Type: ActionMarkRead}},
		}})
		require.NoError(t, err)

		assert.Empty(t, e.Rules())

		effects, err := e.Eval(ctx, testMessage())
		require.NoError(t, err)
		assert.Empty(t, effects)
	})

	t.Run("MultipleActions", func(t *testing.T) {
		e, err := New([]Rule{{
			ID:       "invoice-routine",
			Name:     "Invoice routine",
			Priority: 1,
			Enabled:  true,
			Conditions: []Condition{
				{Field: "classification.category1_type", Operator: OpEq, Value: "invoice"},
			},
			Actions: []Action{
				{Type: ActionSaveToFolder, Params: map[string]any{"folder": "Finance"}},
				{Type: ActionMarkRead},
			},
		}})
		require.NoError(t, err)

		effects, err := e.Eval(ctx, testMessage())
		require.NoError(t, err)
		require.Len(t, effects, 2)
		assert.Equal(t, ActionSaveToFolder, effects[0].Action.Type)
		assert.Equal(t, "Finance", effects[0].Action.Params["folder"])
		assert.Equal(t, ActionMarkRead, effects[1].Action.Type)
		assert.Equal(t, []string{"classification.category1_type eq invoice"}, effects[0].Matched)
	})

	t.Run("InvalidRule", func(t *testing.T) {
		_, err := New([]Rule{{
			ID:       "bad id",
			Name:     "Spaces in ID",
			Priority: 1,
			Enabled:  true,
		}})
		assert.ErrorIs(t, err, ErrInvalidRule)
	})

	t.Run("ContextCanceled", func(t *testing.T) {
		e, err := New(nil)
		require.NoError(t, err)

		canceled, cancel := context.WithCancel(ctx)
		cancel()

		_, err = e.Eval(canceled, testMessage())
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRuleValidate(t *testing.T) {
	valid := Rule{
		ID:       "newsletter-archive",
		Name:     "Archive newsletters",
		Priority: 10,
		Enabled:  true,
		Conditions: []Condition{
			{Field: "classification.category1_type", Operator: OpEq, Value: "newsletter"},
		},
		Actions: []Action{{Type: ActionMarkRead}},
	}

	tests := []struct {
		name    string
		mutate  func(r *Rule)
		wantErr bool
	}{
		{"Valid", func(r *Rule) {}, false},
		{"MissingID", func(r *Rule) { r.ID = "" }, true},
		{"BadIDChars", func(r *Rule) { r.ID = "has space" }, true},
		{"MissingName", func(r *Rule) { r.Name = "" }, true},
		{"ZeroPriority", func(r *Rule) { r.Priority = 0 }, true},
		{"NegativePriority", func(r *Rule) { r.Priority = -3 }, true},
		{"BadLogic", func(r *Rule) { r.Logic = "XOR" }, true},
		{"BadOperator", func(r *Rule) { r.Conditions[0].Operator = "like" }, true},
		{"BadActionType", func(r *Rule) { r.Actions[0].Type = "explode" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			r.Conditions = []Condition{valid.Conditions[0]}
			r.Actions = []Action{valid.Actions[0]}
			tt.mutate(&r)

			err := r.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRule)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRulesetLoad(t *testing.T) {
	t.Run("ValidDocument", func(t *testing.T) {
		doc := `{
			"type": "email_rules",
			"version": "v1",
			"rules": [
				{
					"id": "archive-newsletters",
					"name": "Archive newsletters",
					"priority": 10,
					"conditions": [
						{"field": "classification.category1_type", "operator": "eq", "value": "newsletter"}
					],
					"actions": [
						{"type": "mark_read"},
						{"type": "save_to_folder", "parameters": {"folder": "Newsletters"}}
					]
				},
				{
					"id": "quiet-rule",
					"name": "Disabled rule",
					"priority": 20,
					"enabled": false,
					"actions": [{"type": "flag_for_review"}]
				}
			],
			"metadata": {"owner": "inbox-bot"}
		}`

		rs, err := Load(strings.NewReader(doc))
		require.NoError(t, err)

		require.Len(t, rs.Rules, 2)
		assert.True(t, rs.Rules[0].Enabled, "enabled should default to true")
		assert.False(t, rs.Rules[1].Enabled)
		assert.Equal(t, "email_rules", rs.Type)
		assert.Equal(t, "inbox-bot", rs.Metadata["owner"])
		assert.Equal(t, "Newsletters", rs.Rules[0].Actions[1].Params["folder"])
	})

	t.Run("WrongType", func(t *testing.T) {
		doc := `{"type": "calendar_rules", "version": "v1", "rules": []}`

		_, err := Load(strings.NewReader(doc))
		assert.ErrorIs(t, err, ErrInvalidRuleset)
	})

	t.Run("BadVersion", func(t *testing.T) {
		doc := `{"type": "email_rules", "version": "1.0", "rules": []}`

		_, err := Load(strings.NewReader(doc))
		assert.ErrorIs(t, err, ErrInvalidRuleset)
	})

	t.Run("InvalidRuleInside", func(t *testing.T) {
		doc := `{
			"type": "email_rules",
			"version": "v2",
			"rules": [{"id": "x", "name": "No priority"}]
		}`

		_, err := Load(strings.NewReader(doc))
		assert.ErrorIs(t, err, ErrInvalidRule)
	})

	t.Run("MalformedJSON", func(t *testing.T) {
		_, err := Load(strings.NewReader("{not json"))
		assert.Error(t, err)
	})
}
