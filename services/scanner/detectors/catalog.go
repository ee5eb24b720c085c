// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package detectors

import (
	"errors"
	"fmt"
	"sort"

	"github.com/AleutianAI/runtimescan/services/scanner/findings"
)

// ErrUnknownRule indicates an override names a rule that is not registered.
var ErrUnknownRule = errors.New("unknown rule")

// Override adjusts one registered rule.
type Override struct {
	// Disabled removes the rule from the catalog.
	Disabled bool

	// Severity replaces the default severity when set. Environment risks
	// take the likelihood derived from it.
	Severity *findings.Severity
}

// Catalog is an ordered, immutable set of rules.
//
// Thread Safety:
//
//	Safe for concurrent use. Rules must not be modified after registration.
type Catalog struct {
	rules []*Rule
	byID  map[string]*Rule
}

// New creates a catalog from rules in the given order.
//
// Outputs:
//
//	*Catalog - The catalog.
//	error - Non-nil when a rule is malformed or an ID repeats.
func New(rules ...*Rule) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]*Rule, len(rules))}
	for _, r := range rules {
		if err := c.register(r); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) register(r *Rule) error {
	if r == nil || r.ID == "" {
		return fmt.Errorf("register rule: %w: missing id", findings.ErrInvalidInput)
	}
	if (r.Line == nil) == (r.Scan == nil) {
		return fmt.Errorf("register rule %s: %w: exactly one of Line and Scan must be set", r.ID, findings.ErrInvalidInput)
	}
	if r.Line != nil && r.Phase != PhaseStaticReview {
		return fmt.Errorf("register rule %s: %w: line rules belong to %s", r.ID, findings.ErrInvalidInput, PhaseStaticReview)
	}
	if _, dup := c.byID[r.ID]; dup {
		return fmt.Errorf("register rule %s: %w: duplicate id", r.ID, findings.ErrInvalidInput)
	}
	c.rules = append(c.rules, r)
	c.byID[r.ID] = r
	return nil
}

// Default returns the built-in catalog.
func Default() *Catalog {
	var rules []*Rule
	rules = append(rules, staticRules()...)
	rules = append(rules, runtimeRules()...)
	rules = append(rules, environmentRules()...)
	rules = append(rules, edgeCaseRules()...)
	rules = append(rules, propagationRules()...)

	c, err := New(rules...)
	if err != nil {
		panic(fmt.Sprintf("detectors: built-in catalog: %v", err))
	}
	return c
}

// Rules returns every rule in registration order.
func (c *Catalog) Rules() []*Rule {
	out := make([]*Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Phase returns the rules of one phase in registration order.
func (c *Catalog) Phase(p Phase) []*Rule {
	var out []*Rule
	for _, r := range c.rules {
		if r.Phase == p {
			out = append(out, r)
		}
	}
	return out
}

// Lookup returns the rule with the given ID.
func (c *Catalog) Lookup(id string) (*Rule, bool) {
	r, ok := c.byID[id]
	return r, ok
}

// Len returns the number of rules.
func (c *Catalog) Len() int {
	return len(c.rules)
}

// WithOverrides returns a catalog with overrides applied.
//
// Description:
//
//	Disabled rules are dropped. Rules with a severity override are
//	copied so the receiver is left unchanged. Unknown IDs are rejected so
//	a typo in configuration does not silently keep a rule active.
//
// Outputs:
//
//	*Catalog - The adjusted catalog.
//	error - Wraps ErrUnknownRule when an override names no rule.
func (c *Catalog) WithOverrides(overrides map[string]Override) (*Catalog, error) {
	var unknown []string
	for id := range overrides {
		if _, ok := c.byID[id]; !ok {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("apply overrides: %w: %v", ErrUnknownRule, unknown)
	}

	out := &Catalog{byID: make(map[string]*Rule, len(c.rules))}
	for _, r := range c.rules {
		o, ok := overrides[r.ID]
		if ok && o.Disabled {
			continue
		}
		if ok && o.Severity != nil {
			adjusted := *r
			adjusted.Severity = *o.Severity
			r = &adjusted
		}
		out.rules = append(out.rules, r)
		out.byID[r.ID] = r
	}
	return out, nil
}
