// Package observability provides structured logging for the orchestrator
// core, grounded on the teacher's slog-based Logger: configurable level and
// format, context-carried correlation ids (conversationId, generationId,
// messageId per §7), and redaction of sensitive data before it reaches the
// sink.
package observability

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// ContextKey is the type for context keys carrying correlation ids.
type ContextKey string

const (
	ConversationIDKey ContextKey = "conversation_id"
	GenerationIDKey   ContextKey = "generation_id"
	MessageIDKey      ContextKey = "message_id"
)

// DefaultRedactPatterns covers common secret shapes so they never reach a
// log sink, independent of the per-field tool-event truncation in §4.2.
var DefaultRedactPatterns = []string{
	`(?i)(api[_-]?key|apikey)[\s:=]+["\']?([a-zA-Z0-9_\-]{16,})["\']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["\']?([^\s"']{8,})["\']?`,
	`sk-ant-[a-zA-Z0-9_-]{95,}`,
	`sk-[a-zA-Z0-9]{48,}`,
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
}

// LogConfig configures a Logger.
type LogConfig struct {
	Level          string // debug | info | warn | error
	Format         string // json | text
	Output         io.Writer
	AddSource      bool
	RedactPatterns []string
}

// Logger wraps *slog.Logger with redaction and per-turn correlation ids.
type Logger struct {
	logger  *slog.Logger
	redacts []*regexp.Regexp
}

// NewLogger builds a Logger from config, defaulting to info/json/stdout.
func NewLogger(cfg LogConfig) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}

	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}

	redacts := make([]*regexp.Regexp, 0, len(DefaultRedactPatterns)+len(cfg.RedactPatterns))
	for _, pattern := range append(append([]string{}, DefaultRedactPatterns...), cfg.RedactPatterns...) {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}

	return &Logger{logger: slog.New(handler), redacts: redacts}
}

// WithTurn attaches conversationId/generationId/messageId to ctx for
// automatic inclusion in every subsequent log call on this Logger.
func WithTurn(ctx context.Context, conversationID, generationID, messageID string) context.Context {
	if conversationID != "" {
		ctx = context.WithValue(ctx, ConversationIDKey, conversationID)
	}
	if generationID != "" {
		ctx = context.WithValue(ctx, GenerationIDKey, generationID)
	}
	if messageID != "" {
		ctx = context.WithValue(ctx, MessageIDKey, messageID)
	}
	return ctx
}

func (l *Logger) Debug(ctx context.Context, msg string, args ...any) { l.log(ctx, slog.LevelDebug, msg, args...) }
func (l *Logger) Info(ctx context.Context, msg string, args ...any)  { l.log(ctx, slog.LevelInfo, msg, args...) }
func (l *Logger) Warn(ctx context.Context, msg string, args ...any)  { l.log(ctx, slog.LevelWarn, msg, args...) }
func (l *Logger) Error(ctx context.Context, msg string, args ...any) { l.log(ctx, slog.LevelError, msg, args...) }

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	msg = l.redactString(msg)

	redactedArgs := make([]any, len(args))
	for i, arg := range args {
		redactedArgs[i] = l.redactValue(arg)
	}

	attrs := make([]any, 0, len(redactedArgs)+6)
	if v, ok := ctx.Value(ConversationIDKey).(string); ok && v != "" {
		attrs = append(attrs, "conversation_id", v)
	}
	if v, ok := ctx.Value(GenerationIDKey).(string); ok && v != "" {
		attrs = append(attrs, "generation_id", v)
	}
	if v, ok := ctx.Value(MessageIDKey).(string); ok && v != "" {
		attrs = append(attrs, "message_id", v)
	}
	attrs = append(attrs, redactedArgs...)

	l.logger.Log(ctx, level, msg, attrs...)
}

func (l *Logger) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return l.redactString(val)
	case error:
		return l.redactString(val.Error())
	case []byte:
		return l.redactString(string(val))
	default:
		if b, err := json.Marshal(v); err == nil {
			return l.redactString(string(b))
		}
		return v
	}
}

func (l *Logger) redactString(s string) string {
	for _, re := range l.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}
