package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/unicom/engagement/pkg/config"
)

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(&config.TelemetryConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	shutdown()
}

func TestStartSpanWithoutInit(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "engagement.test")
	if ctx == nil || span == nil {
		t.Fatal("StartSpan returned nil")
	}
	EndSpan(span, errors.New("boom"))

	counter, err := Meter().Int64Counter("engagement.test.counter")
	if err != nil {
		t.Fatalf("Int64Counter() error = %v", err)
	}
	counter.Add(context.Background(), 1)
}
