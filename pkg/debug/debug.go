// Package debug provides category-based debug logging for gatehouse.
//
// Categories select WHAT is logged (GATEHOUSE_DEBUG or logging.debug);
// the level selects HOW MUCH (GATEHOUSE_LOG_LEVEL or logging.level):
//
//	debug.Log(debug.Auth, "verdict", "decision", v.Decision, "path", r.URL.Path)
//	if debug.Enabled(debug.Secrets) { /* expensive formatting */ }
//
// Levels: ERROR, WARN, INFO, DEBUG, TRACE.
package debug

import (
	"cmp"
	"context"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
)

// Known categories.
const (
	All       = "all"
	Auth      = "auth"
	Config    = "config"
	Secrets   = "secrets"
	Storage   = "storage"
	Transport = "transport"
)

var known = map[string]bool{All: true, Auth: true, Config: true, Secrets: true, Storage: true, Transport: true}

// LevelTrace is below slog.LevelDebug for maximum verbosity.
const LevelTrace = slog.LevelDebug - 4

// categories is read-only after Init.
var categories = parseCategories(os.Getenv("GATEHOUSE_DEBUG"))

// Init selects categories and installs the default slog logger.
// GATEHOUSE_DEBUG and GATEHOUSE_LOG_LEVEL win over the configured values.
// It returns the requested categories that are not known.
func Init(configCategories, configLevel, format string) []string {
	cats := cmp.Or(os.Getenv("GATEHOUSE_DEBUG"), configCategories)
	categories = parseCategories(cats)

	level := cmp.Or(os.Getenv("GATEHOUSE_LOG_LEVEL"), configLevel)
	slog.SetDefault(NewLogger(os.Stderr, ParseLevel(level), format))

	return unknown(categories)
}

// NewLogger builds a slog.Logger writing to w as text, or JSON when format
// is "json".
func NewLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Enabled reports whether category is switched on.
func Enabled(category string) bool {
	return categories[All] || categories[category]
}

// Log emits a debug record tagged with category, if enabled.
func Log(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Debug(msg, append([]any{"debug", category}, args...)...)
}

// Trace emits a trace record tagged with category, if enabled.
// Visible only at GATEHOUSE_LOG_LEVEL=TRACE.
func Trace(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Log(context.Background(), LevelTrace, msg, append([]any{"debug", category}, args...)...)
}

// ParseLevel converts a level name to a slog.Level. Unknown names are INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Categories returns the enabled categories in sorted order.
func Categories() []string {
	return slices.Sorted(maps.Keys(categories))
}

// parseCategories accepts comma or whitespace separated names.
func parseCategories(s string) map[string]bool {
	m := make(map[string]bool)
	for _, cat := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' }) {
		m[strings.ToLower(cat)] = true
	}
	return m
}

func unknown(cats map[string]bool) []string {
	var out []string
	for _, c := range slices.Sorted(maps.Keys(cats)) {
		if !known[c] {
			out = append(out, c)
		}
	}
	return out
}
