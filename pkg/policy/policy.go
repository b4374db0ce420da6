// Package policy guards destructive cleanup tasks with Rego rules.
// Built-in policies protect device classes that must never be removed
// and keep the last network path to the machine alive; site-specific
// rules can be loaded from .rego files next to the configuration.
package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/ghostsweep/ghostsweep/pkg/config"
	"github.com/ghostsweep/ghostsweep/pkg/engine"
)

// Rule is one named Rego policy. Violations come from the rule's
// deny set.
type Rule struct {
	// Name identifies the rule in logs and violation messages.
	Name string

	// Rego is the policy source. The package must define a deny set of
	// violation strings.
	Rego string
}

// Guard evaluates tasks against all loaded rules. It implements the
// engine's policy hook.
type Guard struct {
	rules    config.Rules
	prepared []preparedRule
	logger   zerolog.Logger
}

type preparedRule struct {
	name  string
	query rego.PreparedEvalQuery
}

// NewGuard compiles the built-in rules plus any site rules and
// returns a ready guard.
func NewGuard(ctx context.Context, rules config.Rules, extra []Rule, logger zerolog.Logger) (*Guard, error) {
	g := &Guard{
		rules:  rules,
		logger: logger.With().Str("component", "policy").Logger(),
	}

	all := append(builtinRules(), extra...)
	for _, rule := range all {
		pkg := packageName(rule.Rego)
		query, err := rego.New(
			rego.Module(rule.Name, rule.Rego),
			rego.Query(fmt.Sprintf("data.%s.deny", pkg)),
		).PrepareForEval(ctx)
		if err != nil {
			return nil, fmt.Errorf("compiling policy %s: %w", rule.Name, err)
		}
		g.prepared = append(g.prepared, preparedRule{name: rule.Name, query: query})
	}
	g.logger.Debug().Int("rules", len(all)).Msg("policies compiled")
	return g, nil
}

// LoadDir reads every .rego file under dir as a site rule. A missing
// directory yields no rules.
func LoadDir(dir string) ([]Rule, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading policy dir: %w", err)
	}

	var rules []Rule
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".rego" {
			continue
		}
		src, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading policy %s: %w", entry.Name(), err)
		}
		rules = append(rules, Rule{
			Name: strings.TrimSuffix(entry.Name(), ".rego"),
			Rego: string(src),
		})
	}
	return rules, nil
}

// Check evaluates every rule against the task and returns the
// collected violation messages.
func (g *Guard) Check(ctx context.Context, task engine.Task, snap *engine.SystemSnapshot) ([]string, error) {
	input := g.buildInput(task, snap)

	var violations []string
	for _, rule := range g.prepared {
		results, err := rule.query.Eval(ctx, rego.EvalInput(input))
		if err != nil {
			return nil, fmt.Errorf("evaluating policy %s: %w", rule.name, err)
		}
		for _, result := range results {
			for _, expr := range result.Expressions {
				denySet, ok := expr.Value.([]interface{})
				if !ok {
					continue
				}
				for _, d := range denySet {
					violations = append(violations, fmt.Sprintf("%s: %v", rule.name, d))
				}
			}
		}
	}
	return violations, nil
}

// buildInput flattens the task and the relevant snapshot facts into
// the policy input document.
func (g *Guard) buildInput(task engine.Task, snap *engine.SystemSnapshot) map[string]interface{} {
	presentNICs := 0
	for _, iface := range snap.Interfaces {
		if iface.Up {
			presentNICs++
		}
	}
	return map[string]interface{}{
		"task": map[string]interface{}{
			"kind":   task.Kind,
			"target": task.Target,
			"class":  strings.ToLower(task.Class),
		},
		"snapshot": map[string]interface{}{
			"interface_count": len(snap.Interfaces),
			"up_interfaces":   presentNICs,
		},
		"protected_classes": lowerAll(g.rules.ProtectedClasses),
	}
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

// packageName extracts the package path from Rego source.
func packageName(src string) string {
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			return strings.Fields(trimmed)[1]
		}
	}
	return "ghostsweep.policies"
}
