// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package config

import (
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Section is one [name] block. Option names are case insensitive.
type Section struct {
	name string
	opts map[string]string

	mu   sync.Mutex
	used map[string]bool
}

func newSection(name string) *Section {
	return &Section{name: name, opts: make(map[string]string), used: make(map[string]bool)}
}

// GetName returns the section name as written in the header, lower cased
func (s *Section) GetName() string { return s.name }

// HasOption reports whether the option is set, without marking it used
func (s *Section) HasOption(option string) bool {
	_, ok := s.opts[strings.ToLower(option)]
	return ok
}

// UnusedOptions lists the options no getter has read, sorted
func (s *Section) UnusedOptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k := range s.opts {
		if !s.used[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Section) lookup(option string) (string, bool) {
	key := strings.ToLower(option)
	s.mu.Lock()
	s.used[key] = true
	s.mu.Unlock()
	v, ok := s.opts[key]
	return v, ok
}

// getValue reads and parses an option. A missing option takes the first
// fallback, or is an error when none is given.
func getValue[T any](s *Section, option string, parse func(string) (T, bool), want string, fallback []T) (T, error) {
	var zero T
	raw, ok := s.lookup(option)
	if !ok {
		if len(fallback) > 0 {
			return fallback[0], nil
		}
		return zero, errMissingOption(s.name, option)
	}
	v, ok := parse(strings.TrimSpace(raw))
	if !ok {
		return zero, errInvalidValue(s.name, option, raw, want)
	}
	return v, nil
}

func parseString(v string) (string, bool) { return v, true }

func parseInt(v string) (int, bool) {
	i, err := strconv.Atoi(v)
	return i, err == nil
}

func parseFloat(v string) (float64, bool) {
	f, err := strconv.ParseFloat(v, 64)
	return f, err == nil
}

func parseBool(v string) (bool, bool) {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}

// listOf splits a separated value, skipping empty items
func listOf[T any](sep string, item func(string) (T, bool)) func(string) ([]T, bool) {
	return func(v string) ([]T, bool) {
		out := []T{}
		for _, p := range strings.Split(v, sep) {
			if p = strings.TrimSpace(p); p == "" {
				continue
			}
			x, ok := item(p)
			if !ok {
				return nil, false
			}
			out = append(out, x)
		}
		return out, true
	}
}

// Get returns a string option
func (s *Section) Get(option string, fallback ...string) (string, error) {
	return getValue(s, option, parseString, "string", fallback)
}

// GetInt returns an integer option
func (s *Section) GetInt(option string, fallback ...int) (int, error) {
	return getValue(s, option, parseInt, "integer", fallback)
}

// GetIntWithBounds returns an integer option within [minVal, maxVal]; a nil
// bound is open.
func (s *Section) GetIntWithBounds(option string, minVal, maxVal *int, fallback ...int) (int, error) {
	v, err := s.GetInt(option, fallback...)
	if err != nil {
		return 0, err
	}
	if minVal != nil && v < *minVal {
		return 0, errOutOfRange(s.name, option, float64(v), "is below the minimum of "+strconv.Itoa(*minVal))
	}
	if maxVal != nil && v > *maxVal {
		return 0, errOutOfRange(s.name, option, float64(v), "is above the maximum of "+strconv.Itoa(*maxVal))
	}
	return v, nil
}

// GetFloat returns a float option
func (s *Section) GetFloat(option string, fallback ...float64) (float64, error) {
	return getValue(s, option, parseFloat, "number", fallback)
}

// FloatBounds limits GetFloatWithBounds. MinVal and MaxVal are inclusive,
// Above and Below exclusive. Nil fields do not apply.
type FloatBounds struct {
	MinVal *float64
	MaxVal *float64
	Above  *float64
	Below  *float64
}

func (b FloatBounds) check(v float64) (string, bool) {
	g := func(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }
	switch {
	case b.MinVal != nil && v < *b.MinVal:
		return "is below the minimum of " + g(*b.MinVal), false
	case b.MaxVal != nil && v > *b.MaxVal:
		return "is above the maximum of " + g(*b.MaxVal), false
	case b.Above != nil && v <= *b.Above:
		return "must be above " + g(*b.Above), false
	case b.Below != nil && v >= *b.Below:
		return "must be below " + g(*b.Below), false
	}
	return "", true
}

// GetFloatWithBounds returns a float option that satisfies bounds. The
// fallback is checked too.
func (s *Section) GetFloatWithBounds(option string, bounds FloatBounds, fallback ...float64) (float64, error) {
	v, err := s.GetFloat(option, fallback...)
	if err != nil {
		return 0, err
	}
	if msg, ok := bounds.check(v); !ok {
		return 0, errOutOfRange(s.name, option, v, msg)
	}
	return v, nil
}

// GetBool accepts 1/0, true/false, yes/no and on/off
func (s *Section) GetBool(option string, fallback ...bool) (bool, error) {
	return getValue(s, option, parseBool, "boolean", fallback)
}

// GetChoice returns the entry of choices matching the option, ignoring case
func (s *Section) GetChoice(option string, choices []string, fallback ...string) (string, error) {
	v, err := s.Get(option, fallback...)
	if err != nil {
		return "", err
	}
	for _, c := range choices {
		if strings.EqualFold(v, c) {
			return c, nil
		}
	}
	return "", errInvalidValue(s.name, option, v, "choice of "+strings.Join(choices, ", "))
}

// GetIntList returns a sep separated list of integers
func (s *Section) GetIntList(option, sep string, fallback ...[]int) ([]int, error) {
	return getValue(s, option, listOf(sep, parseInt), "integer list", fallback)
}

// GetFloatList returns a sep separated list of numbers
func (s *Section) GetFloatList(option, sep string, fallback ...[]float64) ([]float64, error) {
	return getValue(s, option, listOf(sep, parseFloat), "number list", fallback)
}
