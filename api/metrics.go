package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName       = "taskboard/api"
	dragSpanName     = "board.drag"
	dragEventName    = "taskboard.api.drag.request"
	dragEventDomain  = "app"
	observationEvent = "observability.event"

	attrHTTPRoute      = "http.route"
	attrHTTPStatusCode = "http.status_code"
	attrTotalMillis    = "taskboard.drag.total_ms"
	attrAuthMillis     = "taskboard.drag.auth_ms"
	attrDecodeMillis   = "taskboard.drag.decode_ms"
	attrApplyMillis    = "taskboard.drag.apply_ms"
	attrTaskID         = "taskboard.drag.task_id"
	attrFromLane       = "taskboard.drag.from"
	attrToLane         = "taskboard.drag.to"
	attrOutcome        = "taskboard.drag.outcome"
	attrErrorStage     = "taskboard.drag.error_stage"
	attrErrorMessage   = "error.message"
)

// dragRequestMetrics times one drag request, records it on a span and emits
// an observability.event log entry when the request completes.
type dragRequestMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time

	authDuration   time.Duration
	decodeDuration time.Duration
	applyDuration  time.Duration
	taskID         string
	from, to       string
	outcome        string
	errorStage     string
}

func newDragRequestMetrics(ctx context.Context, logger *log.Logger) (*dragRequestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, dragSpanName, trace.WithSpanKind(trace.SpanKindServer))
	return &dragRequestMetrics{logger: logger, span: span, start: time.Now()}, spanCtx
}

func (m *dragRequestMetrics) ObserveAuth(d time.Duration) {
	if d > 0 {
		m.authDuration = d
	}
}

func (m *dragRequestMetrics) ObserveDecode(d time.Duration) {
	if d > 0 {
		m.decodeDuration = d
	}
}

func (m *dragRequestMetrics) ObserveApply(d time.Duration) {
	if d > 0 {
		m.applyDuration = d
	}
}

func (m *dragRequestMetrics) SetDrag(taskID, from, to string) {
	m.taskID, m.from, m.to = taskID, from, to
}

func (m *dragRequestMetrics) SetOutcome(outcome string) {
	m.outcome = outcome
}

func (m *dragRequestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

// Log ends the span and writes the request summary.
func (m *dragRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	severityText, severityNumber := severityForStatus(status, err)

	attrs := map[string]any{
		attrHTTPRoute:      "/api/board/drag",
		attrHTTPStatusCode: status,
		attrTotalMillis:    durationToMillis(time.Since(m.start)),
	}
	if m.authDuration > 0 {
		attrs[attrAuthMillis] = durationToMillis(m.authDuration)
	}
	if m.decodeDuration > 0 {
		attrs[attrDecodeMillis] = durationToMillis(m.decodeDuration)
	}
	if m.applyDuration > 0 {
		attrs[attrApplyMillis] = durationToMillis(m.applyDuration)
	}
	if m.taskID != "" {
		attrs[attrTaskID] = m.taskID
		attrs[attrFromLane] = m.from
		attrs[attrToLane] = m.to
	}
	if m.outcome != "" {
		attrs[attrOutcome] = m.outcome
	}
	if m.errorStage != "" {
		attrs[attrErrorStage] = m.errorStage
	}
	if err != nil {
		attrs[attrErrorMessage] = err.Error()
	}

	if m.span != nil {
		kvs := toKeyValues(attrs)
		m.span.SetAttributes(kvs...)
		eventAttrs := append([]attribute.KeyValue{
			attribute.String("event.name", dragEventName),
			attribute.String("event.domain", dragEventDomain),
			attribute.String("severity_text", severityText),
			attribute.Int("severity_number", severityNumber),
		}, kvs...)
		m.span.AddEvent(observationEvent, trace.WithAttributes(eventAttrs...))
		if severityNumber >= 17 {
			desc := http.StatusText(status)
			if err != nil {
				desc = err.Error()
			}
			m.span.SetStatus(codes.Error, desc)
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      dragEventName,
		"event.domain":    dragEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attrs,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}
	entry := m.logger.WithFields(fields)
	switch severityText {
	case "ERROR":
		entry.Error(observationEvent)
	case "WARN":
		entry.Warn(observationEvent)
	default:
		entry.Info(observationEvent)
	}
}

// severityForStatus maps a response to OpenTelemetry severity text and number.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= 500 || (status == 0 && err != nil):
		return "ERROR", 17
	case status >= 400:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func toKeyValues(attrs map[string]any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			out = append(out, attribute.String(k, val))
		case int:
			out = append(out, attribute.Int(k, val))
		case float64:
			out = append(out, attribute.Float64(k, val))
		case bool:
			out = append(out, attribute.Bool(k, val))
		}
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
