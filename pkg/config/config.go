// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Config is a parsed configuration. Sections are looked up by their lower
// cased header with runs of blanks collapsed, so "[Axis  X]" is "axis x".
type Config struct {
	mu       sync.Mutex
	sections map[string]*Section
	order    []string
	accessed map[string]bool
}

func newConfig() *Config {
	return &Config{sections: make(map[string]*Section), accessed: make(map[string]bool)}
}

// Load reads a configuration file. [include <glob>] sections pull in other
// files relative to the including file.
func Load(path string) (*Config, error) {
	c := newConfig()
	p := parser{cfg: c, visited: make(map[string]bool)}
	if err := p.parseFile(path); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadString parses a configuration held in memory. Includes are not
// allowed.
func LoadString(data string) (*Config, error) {
	c := newConfig()
	p := parser{cfg: c}
	if err := p.parse(strings.NewReader(data), "", ""); err != nil {
		return nil, err
	}
	return c, nil
}

type parser struct {
	cfg     *Config
	visited map[string]bool // files on the include stack
}

func (p *parser) parseFile(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	if p.visited[abs] {
		return fmt.Errorf("config: %s includes itself", path)
	}
	p.visited[abs] = true
	defer delete(p.visited, abs)

	f, err := os.Open(abs)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer f.Close()
	return p.parse(f, path, filepath.Dir(abs))
}

// parse reads one source. dir is where includes are resolved; empty
// disables them.
func (p *parser) parse(r io.Reader, source, dir string) error {
	var sec *Section
	sc := bufio.NewScanner(r)
	for line := 1; sc.Scan(); line++ {
		text := stripComment(sc.Text())
		if text == "" {
			continue
		}

		if strings.HasPrefix(text, "[") {
			if !strings.HasSuffix(text, "]") {
				return errSyntax(source, line, "unterminated section header")
			}
			header := strings.TrimSpace(text[1 : len(text)-1])
			name := normalizeName(header)
			if name == "" {
				return errSyntax(source, line, "empty section header")
			}
			if f := strings.Fields(header); len(f) > 1 && strings.EqualFold(f[0], "include") {
				spec := strings.TrimSpace(header[len(f[0]):])
				if err := p.include(spec, source, dir, line); err != nil {
					return err
				}
				sec = nil
				continue
			}
			sec = p.cfg.section(name)
			continue
		}

		key, value, ok := splitOption(text)
		if !ok {
			return errSyntax(source, line, fmt.Sprintf("expected 'option: value', got %q", text))
		}
		if sec == nil {
			return errSyntax(source, line, fmt.Sprintf("option %q outside a section", key))
		}
		sec.opts[strings.ToLower(key)] = value
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("config: reading %s: %w", source, err)
	}
	return nil
}

func (p *parser) include(spec, source, dir string, line int) error {
	if dir == "" {
		return errSyntax(source, line, "include is only allowed in files")
	}
	pattern := filepath.Join(dir, spec)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return errSyntax(source, line, fmt.Sprintf("bad include pattern %q", spec))
	}
	if len(matches) == 0 && !strings.ContainsAny(spec, "*?[") {
		return errSyntax(source, line, fmt.Sprintf("include %s does not exist", spec))
	}
	sort.Strings(matches)
	for _, m := range matches {
		if err := p.parseFile(m); err != nil {
			return err
		}
	}
	return nil
}

func stripComment(s string) string {
	if i := strings.IndexAny(s, "#;"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func normalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// splitOption accepts "key: value" and "key = value", whichever separator
// comes first
func splitOption(s string) (string, string, bool) {
	i := strings.IndexAny(s, ":=")
	if i <= 0 {
		return "", "", false
	}
	key := strings.TrimSpace(s[:i])
	if key == "" || strings.ContainsAny(key, " \t") {
		return "", "", false
	}
	return key, strings.TrimSpace(s[i+1:]), true
}

// section returns the named section, creating it on first sight. A repeated
// header adds to the earlier section.
func (c *Config) section(name string) *Section {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sections[name]; ok {
		return s
	}
	s := newSection(name)
	c.sections[name] = s
	c.order = append(c.order, name)
	return s
}

// GetSection returns a required section
func (c *Config) GetSection(name string) (*Section, error) {
	if s := c.GetSectionOptional(name); s != nil {
		return s, nil
	}
	return nil, ErrMissingSection(normalizeName(name))
}

// GetSectionOptional returns the section or nil
func (c *Config) GetSectionOptional(name string) *Section {
	name = normalizeName(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sections[name]
	if ok {
		c.accessed[name] = true
	}
	return s
}

// HasSection reports whether a section exists, without marking it used
func (c *Config) HasSection(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sections[normalizeName(name)]
	return ok
}

// SectionNames lists the sections in file order
func (c *Config) SectionNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

// CheckUnusedSections fails if a section was never looked up
func (c *Config) CheckUnusedSections() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var unused []string
	for _, name := range c.order {
		if !c.accessed[name] {
			unused = append(unused, "["+name+"]")
		}
	}
	if len(unused) > 0 {
		return NewConfigError("", "", "unknown sections "+strings.Join(unused, ", "))
	}
	return nil
}

// CheckUnusedOptions fails if a looked up section has options no getter
// read. Sections never looked up are left to CheckUnusedSections.
func (c *Config) CheckUnusedOptions() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range c.order {
		if !c.accessed[name] {
			continue
		}
		if unused := c.sections[name].UnusedOptions(); len(unused) > 0 {
			return NewConfigError(name, unused[0], fmt.Sprintf("unknown option (unused: %s)", strings.Join(unused, ", ")))
		}
	}
	return nil
}
