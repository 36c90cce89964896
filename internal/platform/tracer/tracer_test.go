package tracer_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/thupa-pro/lipo-sub001/internal/platform/tracer"
)

func TestNoopTracer(t *testing.T) {
	tr := tracer.NewNoop()
	ctx := context.Background()

	newCtx, span := tr.Start(ctx, tracer.SpanConsentSave, tracer.String(tracer.AttrSubject, "abc"))

	assert.Equal(t, ctx, newCtx)
	require.NotNil(t, span)
	span.SetAttributes(tracer.Bool(tracer.AttrPersisted, true))
	span.AddEvent(tracer.EventPublished, tracer.Int64("subscribers", 2))
	span.End(errors.New("boom"))
}

func TestOTelTracer_WithInjectedTracer(t *testing.T) {
	tr := tracer.NewOTel(tracer.WithOTelTracer(noop.NewTracerProvider().Tracer("test")))

	ctx, span := tr.Start(context.Background(), tracer.SpanConsentStatus,
		tracer.String(tracer.AttrStatus, "pending"),
		tracer.Duration("elapsed", 0),
	)
	require.NotNil(t, ctx)
	require.NotNil(t, span)
	span.End(nil)
}

func TestHashSubject(t *testing.T) {
	assert.Empty(t, tracer.HashSubject(""))
	a := tracer.HashSubject("visitor-1")
	assert.Len(t, a, 16)
	assert.Equal(t, a, tracer.HashSubject("visitor-1"))
	assert.NotEqual(t, a, tracer.HashSubject("visitor-2"))
}
