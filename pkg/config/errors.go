// Package config reads INI style machine configuration files. Every option
// read is recorded so that misspelt or stale options can be reported once
// the consumers have taken what they need.
package config

import (
	"fmt"
	"strings"
)

// ConfigError locates a configuration problem. Section and Option are empty
// when the problem is not tied to one.
type ConfigError struct {
	Section string
	Option  string
	Line    int
	Message string
}

func (e *ConfigError) Error() string {
	var sb strings.Builder
	if e.Section != "" {
		fmt.Fprintf(&sb, "[%s]", e.Section)
		if e.Option != "" {
			fmt.Fprintf(&sb, " %s", e.Option)
		}
		sb.WriteString(": ")
	} else if e.Line > 0 {
		fmt.Fprintf(&sb, "line %d: ", e.Line)
	}
	sb.WriteString(e.Message)
	return sb.String()
}

// NewConfigError creates a ConfigError
func NewConfigError(section, option, message string) *ConfigError {
	return &ConfigError{Section: section, Option: option, Message: message}
}

// ErrMissingSection reports a required section that is absent
func ErrMissingSection(section string) *ConfigError {
	return NewConfigError(section, "", "section is required")
}

func errMissingOption(section, option string) *ConfigError {
	return NewConfigError(section, option, "option is required")
}

func errInvalidValue(section, option, value, want string) *ConfigError {
	return NewConfigError(section, option, fmt.Sprintf("%q is not a valid %s", value, want))
}

func errOutOfRange(section, option string, value float64, constraint string) *ConfigError {
	return NewConfigError(section, option, fmt.Sprintf("%g %s", value, constraint))
}

func errSyntax(source string, line int, message string) *ConfigError {
	if source != "" {
		message = source + ": " + message
	}
	return &ConfigError{Line: line, Message: message}
}
