package invalidation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Sternrassler/tradecache/pkg/cache"
)

var (
	// ErrRuleNotFound indicates an unknown rule id
	ErrRuleNotFound = errors.New("invalidation rule not found")

	// ErrInvalidRule indicates a rule that failed validation
	ErrInvalidRule = errors.New("invalid invalidation rule")
)

// Strategy selects how a matched rule removes keys.
type Strategy string

const (
	// StrategyImmediate deletes matching keys synchronously and calls hooks.
	StrategyImmediate Strategy = "immediate"

	// StrategyLazy queues the rule for the background drainer.
	StrategyLazy Strategy = "lazy"

	// StrategyTimeBased runs the immediate path once after the rule's TTL.
	StrategyTimeBased Strategy = "time-based"

	// StrategyDependency runs the immediate path only when a dependency is absent.
	StrategyDependency Strategy = "dependency-based"

	// StrategyPattern enumerates live keys and deletes regex matches one by one.
	StrategyPattern Strategy = "pattern-based"
)

// Strategies lists every supported strategy.
var Strategies = []Strategy{StrategyImmediate, StrategyLazy, StrategyTimeBased, StrategyDependency, StrategyPattern}

func (s Strategy) valid() bool {
	for _, v := range Strategies {
		if s == v {
			return true
		}
	}
	return false
}

// Rule selects cache keys for deletion.
type Rule struct {
	ID       string   `json:"id"`
	Pattern  string   `json:"pattern"`
	Strategy Strategy `json:"strategy"`

	// TTLSeconds is the delay of time-based rules.
	TTLSeconds int `json:"ttlSeconds,omitempty"`

	// Dependencies are data-type names checked by dependency-based rules.
	Dependencies []string `json:"dependencies,omitempty"`

	// Priority orders matched rules; higher runs first.
	Priority int  `json:"priority"`
	Enabled  bool `json:"enabled"`
}

// Validate checks the rule for consistency.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.Pattern) == "" {
		return fmt.Errorf("%w: pattern is required", ErrInvalidRule)
	}
	if !r.Strategy.valid() {
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidRule, r.Strategy)
	}
	if r.Strategy == StrategyTimeBased && r.TTLSeconds <= 0 {
		return fmt.Errorf("%w: time-based rule needs ttlSeconds > 0", ErrInvalidRule)
	}
	if r.Strategy == StrategyDependency && len(r.Dependencies) == 0 {
		return fmt.Errorf("%w: dependency-based rule needs dependencies", ErrInvalidRule)
	}
	if _, err := cache.PatternToRegexp(r.Pattern); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return nil
}

// Delay returns the time-based delay.
func (r Rule) Delay() time.Duration {
	return time.Duration(r.TTLSeconds) * time.Second
}

// Matches reports whether the rule's pattern matches trigger.
func (r Rule) Matches(trigger string) bool {
	return cache.MatchPattern(r.Pattern, trigger)
}

// RuleUpdate is a partial update; nil fields are left unchanged.
type RuleUpdate struct {
	Pattern      *string   `json:"pattern,omitempty"`
	Strategy     *Strategy `json:"strategy,omitempty"`
	TTLSeconds   *int      `json:"ttlSeconds,omitempty"`
	Dependencies *[]string `json:"dependencies,omitempty"`
	Priority     *int      `json:"priority,omitempty"`
	Enabled      *bool     `json:"enabled,omitempty"`
}

func (u RuleUpdate) apply(r Rule) Rule {
	if u.Pattern != nil {
		r.Pattern = *u.Pattern
	}
	if u.Strategy != nil {
		r.Strategy = *u.Strategy
	}
	if u.TTLSeconds != nil {
		r.TTLSeconds = *u.TTLSeconds
	}
	if u.Dependencies != nil {
		r.Dependencies = append([]string(nil), (*u.Dependencies)...)
	}
	if u.Priority != nil {
		r.Priority = *u.Priority
	}
	if u.Enabled != nil {
		r.Enabled = *u.Enabled
	}
	return r
}

func newRuleID() string {
	return "rule-" + uuid.NewString()
}

// sortByPriority orders rules by descending priority, then id for stability.
func sortByPriority(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}

// RulesFromRegistry derives the default rule set from the data types'
// invalidation metadata: an immediate rule per pattern and, for types with
// dependencies, a dependency-based rule on the same pattern.
func RulesFromRegistry(registry *cache.Registry) []Rule {
	var rules []Rule
	for _, cfg := range registry.Configs() {
		meta := cfg.Invalidation
		if meta == nil || meta.Pattern == "" {
			continue
		}
		rules = append(rules, Rule{
			ID:       cfg.Name + "-immediate",
			Pattern:  meta.Pattern,
			Strategy: StrategyImmediate,
			Priority: 10,
			Enabled:  true,
		})
		if len(meta.Dependencies) > 0 {
			rules = append(rules, Rule{
				ID:           cfg.Name + "-dependencies",
				Pattern:      meta.Pattern,
				Strategy:     StrategyDependency,
				Dependencies: append([]string(nil), meta.Dependencies...),
				Priority:     5,
				Enabled:      true,
			})
		}
	}
	return rules
}
