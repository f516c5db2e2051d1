package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"graphkb-backend/domain/core/entities"
	"graphkb-backend/domain/events"
)

// withSpanRecorder installs an in-memory span recorder as the global
// provider for the duration of the test
func withSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })
	return recorder
}

func TestMutationsEmitSpans(t *testing.T) {
	recorder := withSpanRecorder(t)
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.AddNodes(ctx, []entities.NodeInput{{Type: "Actor", Name: "Tax Agency"}}, nil, events.Origin{})
	require.NoError(t, err)
	_, err = svc.UpdateNode(ctx, res.NodeIDs[0], map[string]interface{}{"summary": "collects revenue"}, events.Origin{})
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, span := range recorder.Ended() {
		names[span.Name()] = true
	}
	assert.True(t, names["GraphService.AddNodes"])
	assert.True(t, names["GraphService.UpdateNode"])
	assert.True(t, names["Store.Load"])
	assert.True(t, names["Store.Save"])
}

func TestFailedMutationMarksSpanError(t *testing.T) {
	recorder := withSpanRecorder(t)
	svc, _ := newTestService(t)

	_, err := svc.UpdateNode(context.Background(), "no-such-id", map[string]interface{}{"name": "x"}, events.Origin{})
	require.Error(t, err)

	var found bool
	for _, span := range recorder.Ended() {
		if span.Name() == "GraphService.UpdateNode" {
			found = true
			assert.Equal(t, codes.Error, span.Status().Code)
		}
	}
	assert.True(t, found)
}
