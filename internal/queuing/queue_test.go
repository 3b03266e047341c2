package queuing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func mustEnvelope(t *testing.T, deliveries int, payload string) []byte {
	t.Helper()
	raw, err := json.Marshal(envelope{Deliveries: deliveries, Payload: json.RawMessage(payload)})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return raw
}

func TestConsumeSuccessAcks(t *testing.T) {
	var got string
	_, d := consume(context.Background(), mustEnvelope(t, 1, `{"reportId":"abc12345"}`), func(_ context.Context, payload []byte) error {
		got = string(payload)
		return nil
	}, 3)
	if d != decisionDone {
		t.Fatalf("decision = %v, want done", d)
	}
	if got != `{"reportId":"abc12345"}` {
		t.Fatalf("payload = %q", got)
	}
}

func TestConsumeFailureRequeuesWithIncrementedCounter(t *testing.T) {
	raw, d := consume(context.Background(), mustEnvelope(t, 1, `{}`), func(context.Context, []byte) error {
		return errors.New("boom")
	}, 3)
	if d != decisionRequeue {
		t.Fatalf("decision = %v, want requeue", d)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal requeued envelope: %v", err)
	}
	if env.Deliveries != 2 {
		t.Fatalf("deliveries = %d, want 2", env.Deliveries)
	}
}

func TestConsumeDropsAfterBudget(t *testing.T) {
	_, d := consume(context.Background(), mustEnvelope(t, 3, `{}`), func(context.Context, []byte) error {
		return errors.New("boom")
	}, 3)
	if d != decisionDrop {
		t.Fatalf("decision = %v, want drop", d)
	}
}

func TestConsumeMalformedEnvelope(t *testing.T) {
	called := false
	_, d := consume(context.Background(), []byte("not json"), func(context.Context, []byte) error {
		called = true
		return nil
	}, 3)
	if d != decisionMalformed {
		t.Fatalf("decision = %v, want malformed", d)
	}
	if called {
		t.Fatalf("handler must not run for malformed envelopes")
	}
}
