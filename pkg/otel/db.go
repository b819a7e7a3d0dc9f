package otel

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// DBSpan 为一次数据库事务创建 client span
func DBSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemKey.String("postgresql"),
			semconv.DBOperationKey.String(operation),
		),
	)
}

// EndDBSpan 记录数据库错误后结束 span；无记录不算错误
func EndDBSpan(span trace.Span, err error) {
	if errors.Is(err, pgx.ErrNoRows) {
		span.SetStatus(codes.Ok, "no rows")
		span.End()
		return
	}
	EndSpan(span, err)
}
