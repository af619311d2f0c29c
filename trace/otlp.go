package trace

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/fabric/xerrors"
)

// otlpExporter 将 SpanData 转换为 OTLP 格式并通过 gRPC 上报
//
// ID 生成保持 OTLP 兼容（16/8 字节），因此转换是无损的：
// 后端看到的 TraceID/SpanID 与传播头中的完全一致。
type otlpExporter struct {
	exporter sdktrace.SpanExporter
}

// NewOTLPExporter 创建 OTLP gRPC 导出器
func NewOTLPExporter(ctx context.Context, endpoint string) (Exporter, error) {
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, xerrors.Wrap(err, "create otlp exporter")
	}
	return &otlpExporter{exporter: exp}, nil
}

func (e *otlpExporter) Export(ctx context.Context, spans []SpanData) error {
	stubs := make(tracetest.SpanStubs, 0, len(spans))
	for _, span := range spans {
		stub, err := toSpanStub(span)
		if err != nil {
			continue
		}
		stubs = append(stubs, stub)
	}
	if len(stubs) == 0 {
		return nil
	}
	return e.exporter.ExportSpans(ctx, stubs.Snapshots())
}

func (e *otlpExporter) Shutdown(ctx context.Context) error {
	return e.exporter.Shutdown(ctx)
}

// toSpanStub 将 SpanData 转换为 OTel 的只读 Span 快照
func toSpanStub(span SpanData) (tracetest.SpanStub, error) {
	traceID, err := oteltrace.TraceIDFromHex(span.TraceID)
	if err != nil {
		return tracetest.SpanStub{}, err
	}
	spanID, err := oteltrace.SpanIDFromHex(span.SpanID)
	if err != nil {
		return tracetest.SpanStub{}, err
	}

	stub := tracetest.SpanStub{
		Name: span.Name,
		SpanContext: oteltrace.NewSpanContext(oteltrace.SpanContextConfig{
			TraceID:    traceID,
			SpanID:     spanID,
			TraceFlags: oteltrace.FlagsSampled,
		}),
		SpanKind:  oteltrace.SpanKindInternal,
		StartTime: span.StartTime,
		EndTime:   span.EndTime,
	}

	if span.ParentSpanID != "" {
		if parentID, err := oteltrace.SpanIDFromHex(span.ParentSpanID); err == nil {
			stub.Parent = oteltrace.NewSpanContext(oteltrace.SpanContextConfig{
				TraceID:    traceID,
				SpanID:     parentID,
				TraceFlags: oteltrace.FlagsSampled,
			})
		}
	}

	attrs := make([]attribute.KeyValue, 0, len(span.Attributes)+1)
	attrs = append(attrs, attribute.String("service.name", span.Service))
	for key, value := range span.Attributes {
		attrs = append(attrs, attribute.String(key, value))
	}
	stub.Attributes = attrs

	for _, event := range span.Events {
		stub.Events = append(stub.Events, sdktrace.Event{
			Name: event.Name,
			Time: event.Time,
		})
	}

	if span.Error != "" {
		stub.Status = sdktrace.Status{Code: codes.Error, Description: span.Error}
	} else {
		stub.Status = sdktrace.Status{Code: codes.Ok}
	}

	return stub, nil
}
