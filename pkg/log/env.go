// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"os"
	"strings"
	"sync"
)

var (
	rootMu sync.Mutex
	root   *Logger
)

// Root returns the process-wide logger, configured from the environment on first use
func Root() *Logger {
	rootMu.Lock()
	defer rootMu.Unlock()
	if root == nil {
		root = New("motion")
		ConfigureFromEnv(root)
	}
	return root
}

// SetRoot replaces the process-wide logger
func SetRoot(l *Logger) {
	rootMu.Lock()
	root = l
	rootMu.Unlock()
}

// GetLogger returns a component logger sharing the root sink
func GetLogger(prefix string) *Logger {
	return Root().Named(prefix)
}

// ConfigureFromEnv applies environment-based configuration to the logger.
// Environment variables:
//   - MOTION_LOG_LEVEL: DEBUG, INFO, WARN, ERROR
//   - MOTION_LOG_FORMAT: text, json
//   - MOTION_LOG_CALLER: any non-empty value enables caller info
//   - NO_COLOR: any non-empty value disables colors
func ConfigureFromEnv(l *Logger) {
	if levelStr := os.Getenv("MOTION_LOG_LEVEL"); levelStr != "" {
		l.SetLevel(ParseLevel(levelStr))
	}
	switch strings.ToLower(os.Getenv("MOTION_LOG_FORMAT")) {
	case "json":
		l.SetFormat(FormatJSON)
	case "text":
		l.SetFormat(FormatText)
	}
	if os.Getenv("MOTION_LOG_CALLER") != "" {
		l.SetCaller(true)
	}
	if os.Getenv("NO_COLOR") != "" {
		l.SetColorize(false)
	}
}
