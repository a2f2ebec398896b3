package clog

import (
	"context"
	"log/slog"

	oteltrace "go.opentelemetry.io/otel/trace"
)

type fieldsKey struct{}

// ContextWithFields 将请求级字段附加到 Context，后续 *Context 日志方法会自动输出
func ContextWithFields(ctx context.Context, fields ...Field) context.Context {
	if len(fields) == 0 {
		return ctx
	}
	existing, _ := ctx.Value(fieldsKey{}).([]Field)
	merged := make([]Field, 0, len(existing)+len(fields))
	merged = append(merged, existing...)
	merged = append(merged, fields...)
	return context.WithValue(ctx, fieldsKey{}, merged)
}

// FieldsFromContext 返回 ContextWithFields 写入的字段
func FieldsFromContext(ctx context.Context) []Field {
	if ctx == nil {
		return nil
	}
	fields, _ := ctx.Value(fieldsKey{}).([]Field)
	return fields
}

// extractContextFields 依次追加请求级字段、ContextField 规则字段与 Trace 字段
func extractContextFields(ctx context.Context, opts *options, attrs []slog.Attr) []slog.Attr {
	attrs = append(attrs, FieldsFromContext(ctx)...)

	for _, cf := range opts.contextFields {
		if val := ctx.Value(cf.Key); val != nil {
			attrs = append(attrs, slog.Any(cf.FieldName, val))
		}
	}

	if opts.enableTraceExtraction {
		if sc := oteltrace.SpanContextFromContext(ctx); sc.IsValid() {
			attrs = append(attrs,
				slog.String("trace_id", sc.TraceID().String()),
				slog.String("span_id", sc.SpanID().String()),
			)
		}
	}
	return attrs
}
