package telemetry

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zapcore"
)

// Core implements zapcore.Core to forward error logs to OpenTelemetry as spans.
type Core struct {
	zapcore.LevelEnabler
	tracer trace.Tracer
	fields []zapcore.Field
}

// NewCore creates a new core that forwards logs to OpenTelemetry.
func NewCore(enab zapcore.LevelEnabler) zapcore.Core {
	return &Core{
		LevelEnabler: enab,
		tracer:       otel.Tracer("github.com/robalyx/arbiter/logs"),
	}
}

func (c *Core) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(append([]zapcore.Field(nil), c.fields...), fields...)
	return &clone
}

func (c *Core) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *Core) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	_, span := c.tracer.Start(context.Background(), "error."+errorCategory(ent))
	defer span.End()

	attrs := []attribute.KeyValue{
		attribute.String("log.message", ent.Message),
		attribute.String("log.level", ent.Level.String()),
		attribute.String("log.caller", ent.Caller.String()),
		attribute.String("log.logger", ent.LoggerName),
	}

	enc := zapcore.NewMapObjectEncoder()
	for _, field := range append(c.fields, fields...) {
		field.AddTo(enc)
	}
	for key, value := range enc.Fields {
		if err, ok := value.(string); ok && key == "error" {
			span.SetStatus(codes.Error, err)
		}
		attrs = append(attrs, attribute.String("log."+key, toString(value)))
	}

	span.SetAttributes(attrs...)
	return nil
}

func (c *Core) Sync() error {
	return nil
}

// errorCategory groups errors by the package that logged them.
func errorCategory(ent zapcore.Entry) string {
	fn := ent.Caller.Function
	switch {
	case strings.Contains(fn, "/database"):
		return "database"
	case strings.Contains(fn, "/redis"), strings.Contains(fn, "/queue"):
		return "redis"
	case strings.Contains(fn, "/discord"):
		return "discord"
	case strings.Contains(fn, "/appeal"):
		return "appeal"
	case strings.Contains(fn, "/setup"):
		return "setup"
	default:
		return "application"
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
