// Package rules provides the CEL-Go based escalation rule engine. Rules map a
// classification to a review priority and recommended analyst actions.
package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// priorityRank orders priorities from lowest to highest.
var priorityRank = map[string]int{
	domain.PriorityStandard: 0,
	domain.PriorityElevated: 1,
	domain.PriorityHigh:     2,
	domain.PriorityCritical: 3,
}

// Engine is the CEL-based escalation engine. Rules evaluate in load order.
type Engine struct {
	mu             sync.RWMutex
	env            *cel.Env
	rules          []*CompiledRule
	defaultActions []string
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  domain.EscalationRule
	Program cel.Program
}

// NewEngine creates an escalation engine. defaultActions are recommended when no rule fires.
func NewEngine(defaultActions []string) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("risk_score", cel.IntType),
		cel.Variable("typology", cel.StringType),
		cel.Variable("high_hits", cel.IntType),
		cel.Variable("medium_hits", cel.IntType),
		cel.Variable("low_hits", cel.IntType),
		cel.Variable("prior_cases", cel.IntType),
		cel.Variable("transaction_length", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:            env,
		defaultActions: append([]string(nil), defaultActions...),
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(cfg domain.EscalationRule) error {
	_, err := e.compileRule(cfg)
	return err
}

// LoadRules replaces the loaded rules. Disabled rules are skipped. On error the
// previously loaded rules stay in place.
func (e *Engine) LoadRules(configs []domain.EscalationRule) error {
	compiled := make([]*CompiledRule, 0, len(configs))
	seen := make(map[string]bool, len(configs))

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		if seen[cfg.ID] {
			return fmt.Errorf("duplicate rule id %s", cfg.ID)
		}
		seen[cfg.ID] = true

		c, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		compiled = append(compiled, c)
	}

	e.mu.Lock()
	e.rules = compiled
	e.mu.Unlock()
	return nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// GetLoadedRules returns the loaded rule configurations in evaluation order.
func (e *Engine) GetLoadedRules() []domain.EscalationRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]domain.EscalationRule, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.Config
	}
	return out
}

// Evaluate runs every rule against the facts. The result priority is the
// highest fired priority; actions are deduplicated in firing order. Rule
// errors are reported in Errors and never abort evaluation.
func (e *Engine) Evaluate(ctx context.Context, facts domain.EscalationFacts) domain.Escalation {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	activation := map[string]any{
		"risk_score":         int64(facts.RiskScore),
		"typology":           facts.Typology,
		"high_hits":          int64(facts.HighHits),
		"medium_hits":        int64(facts.MediumHits),
		"low_hits":           int64(facts.LowHits),
		"prior_cases":        int64(facts.PriorCases),
		"transaction_length": int64(facts.TransactionLength),
	}

	result := domain.Escalation{
		Priority: domain.PriorityStandard,
		Rules:    []string{},
	}
	seen := make(map[string]bool)

	for _, rule := range rules {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, ctx.Err().Error())
			break
		}

		out, _, err := rule.Program.Eval(activation)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: evaluation error: %v", rule.Config.ID, err))
			continue
		}
		if out != types.True {
			continue
		}

		result.Rules = append(result.Rules, rule.Config.ID)
		if priorityRank[rule.Config.Priority] > priorityRank[result.Priority] {
			result.Priority = rule.Config.Priority
		}
		for _, a := range rule.Config.Actions {
			if !seen[a] {
				seen[a] = true
				result.Actions = append(result.Actions, a)
			}
		}
	}

	if len(result.Actions) == 0 {
		result.Actions = append([]string(nil), e.defaultActions...)
	}
	return result
}

// Close unloads all rules.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = nil
	return nil
}

func (e *Engine) compileRule(cfg domain.EscalationRule) (*CompiledRule, error) {
	if _, ok := priorityRank[cfg.Priority]; !ok {
		return nil, fmt.Errorf("rule %s: unknown priority %q", cfg.ID, cfg.Priority)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{Config: cfg, Program: program}, nil
}
