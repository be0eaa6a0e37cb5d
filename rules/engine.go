package rules

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"
)

// Effect is one action contributed by a matched rule.
type Effect struct {
	RuleID   string
	RuleName string
	Priority int

	// Matched describes the conditions that held, as
	// "field operator value" strings.
	Matched []string

	Action Action
}

// Options contains configuration options for the engine.
type Options struct {
	// Logger receives a Debug line per matched rule and a Warn line per
	// invalid regex pattern. Nil disables logging.
	Logger *slog.Logger
}

// Engine evaluates a fixed set of rules. It is safe for concurrent
// use; compiled regex patterns are cached across evaluations.
type Engine struct {
	rules  []Rule
	logger *slog.Logger

	mu      sync.Mutex
	regexps map[string]*regexp.Regexp
}

// New creates an engine. Rules are validated, disabled rules are
// dropped, and the rest evaluate in ascending priority order.
func New(rules []Rule, optFns ...func(o *Options)) (*Engine, error) {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}

	for i := range rules {
		if err := rules[i].Validate(); err != nil {
			return nil, err
		}
	}

	enabled := lo.Filter(rules, func(r Rule, _ int) bool {
		return r.Enabled
	})

	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].Priority < enabled[j].Priority
	})

	return &Engine{
		rules:   enabled,
		logger:  opts.Logger,
		regexps: make(map[string]*regexp.Regexp),
	}, nil
}

// Rules returns the enabled rules in evaluation order.
func (e *Engine) Rules() []Rule {
	return e.rules
}

// Eval evaluates msg against the ruleset and returns the effects of
// every matching rule, ascending by rule priority. Rules without
// conditions always match.
func (e *Engine) Eval(ctx context.Context, msg map[string]any) ([]Effect, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var effects []Effect

	for i := range e.rules {
		rule := &e.rules[i]

		matched, ok := e.evalConditions(rule, msg)
		if !ok {
			continue
		}

		if e.logger != nil {
			e.logger.DebugContext(ctx, "rule matched",
				"id", rule.ID,
				"priority", rule.Priority,
				"conditions", len(matched),
			)
		}

		effects = append(effects, lo.Map(rule.Actions, func(a Action, _ int) Effect {
			return Effect{
				RuleID:   rule.ID,
				RuleName: rule.Name,
				Priority: rule.Priority,
				Matched:  matched,
				Action:   a,
			}
		})...)
	}

	return effects, nil
}

// evalConditions reports whether the rule's conditions hold and which
// ones matched. AND requires every condition, OR at least one.
func (e *Engine) evalConditions(rule *Rule, msg map[string]any) ([]string, bool) {
	logic := rule.Logic
	if logic == "" {
		logic = LogicAnd
	}

	matched := make([]string, 0, len(rule.Conditions))

	for _, cond := range rule.Conditions {
		value, present := lookup(msg, cond.Field)

		if e.evalCondition(cond, value, present) {
			matched = append(matched, fmt.Sprintf("%s %s %v", cond.Field, cond.Operator, cond.Value))
		} else if logic == LogicAnd {
			return nil, false
		}
	}

	if logic == LogicOr && len(rule.Conditions) > 0 && len(matched) == 0 {
		return nil, false
	}

	return matched, true
}

func (e *Engine) evalCondition(cond Condition, value any, present bool) bool {
	if cond.Operator == OpExists {
		return present && value != nil
	}

	if !present || value == nil {
		return false
	}

	switch cond.Operator {
	case OpEq:
		return equal(value, cond.Value)
	case OpIn:
		list, ok := cond.Value.([]any)
		if !ok {
			return false
		}

		return lo.ContainsBy(list, func(item any) bool {
			return equal(value, item)
		})
	case OpLt:
		return compare(value, cond.Value, func(c int) bool { return c < 0 })
	case OpLte:
		return compare(value, cond.Value, func(c int) bool { return c <= 0 })
	case OpGt:
		return compare(value, cond.Value, func(c int) bool { return c > 0 })
	case OpGte:
		return compare(value, cond.Value, func(c int) bool { return c >= 0 })
	case OpRegex:
		re := e.compile(fmt.Sprint(cond.Value))
		if re == nil {
			return false
		}

		return re.MatchString(fmt.Sprint(value))
	}

	return false
}

// compile returns the cached case-insensitive pattern. Patterns that do
// not compile are cached as nil so the failure is logged once.
func (e *Engine) compile(pattern string) *regexp.Regexp {
	e.mu.Lock()
	defer e.mu.Unlock()

	if re, ok := e.regexps[pattern]; ok {
		return re
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		re = nil

		if e.logger != nil {
			e.logger.Warn("invalid regex pattern in rule condition",
				"pattern", pattern,
				"error", err,
			)
		}
	}

	e.regexps[pattern] = re

	return re
}

// lookup resolves a dot path in a nested document.
func lookup(doc map[string]any, path string) (any, bool) {
	var cur any = doc

	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}

		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return cur, true
}

// equal compares two JSON scalars, numerically when both are numbers.
func equal(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}

	return fmt.Sprint(a) == fmt.Sprint(b)
}

// compare orders two values numerically when both are numbers and
// lexically otherwise.
func compare(a, b any, pred func(int) bool) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return pred(-1)
			case af > bf:
				return pred(1)
			default:
				return pred(0)
			}
		}
	}

	return pred(strings.Compare(fmt.Sprint(a), fmt.Sprint(b)))
}

// toFloat accepts the numeric types JSON decoding produces.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}

	return 0, false
}
