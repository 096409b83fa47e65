package control

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meit-swami/jewellery/internal/config"
	"github.com/meit-swami/jewellery/internal/mqtttest"
)

var testMQTT = config.MQTTConfig{
	Topics: config.MQTTTopics{
		Control: "tryon/control/kiosk",
		Status:  "tryon/status/kiosk",
	},
}

func startHandler(t *testing.T, cb CommandCallbacks) *mqtttest.Client {
	t.Helper()
	client := mqtttest.NewClient()
	h := NewHandler(testMQTT, client, cb)
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	t.Cleanup(func() { h.Stop() })
	if !client.Subscribed(testMQTT.Topics.Control) {
		t.Fatal("control topic not subscribed")
	}
	return client
}

func send(t *testing.T, client *mqtttest.Client, payload string) Response {
	t.Helper()
	before := len(client.Published())
	client.Deliver(testMQTT.Topics.Control, []byte(payload))
	got := client.WaitPublished(before+1, time.Second)
	if len(got) <= before {
		t.Fatalf("no response to %s", payload)
	}
	last := got[len(got)-1]
	if last.Topic != testMQTT.Topics.Status {
		t.Errorf("response topic = %s", last.Topic)
	}
	var resp Response
	if err := json.Unmarshal(last.Payload, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Timestamp == "" {
		t.Error("response without timestamp")
	}
	return resp
}

func TestCommands(t *testing.T) {
	var opened Params
	var closed, retried atomic.Value

	client := startHandler(t, CommandCallbacks{
		OnOpen: func(_ context.Context, p Params) (any, error) {
			opened = p
			return map[string]any{"session_id": "s-1"}, nil
		},
		OnClose: func(viewerID string) error {
			closed.Store(viewerID)
			return nil
		},
		OnRetry: func(_ context.Context, viewerID string) error {
			retried.Store(viewerID)
			return errors.New("session is not in error state")
		},
		OnGetStatus: func() any { return []string{"v1"} },
	})

	tests := []struct {
		name       string
		payload    string
		wantAck    string
		wantStatus string
		wantError  string
	}{
		{"open", `{"command":"open","params":{"viewer_id":"v1","category":"Rings","origin":"https://shop"}}`, "open", "success", ""},
		{"open without viewer", `{"command":"open","params":{"category":"Rings"}}`, "open", "error", "missing 'viewer_id' parameter"},
		{"close", `{"command":"close","params":{"viewer_id":"v1"}}`, "close", "success", ""},
		{"retry error surfaces", `{"command":"retry","params":{"viewer_id":"v1"}}`, "retry", "error", "session is not in error state"},
		{"status", `{"command":"get_status"}`, "get_status", "success", ""},
		{"snapshot unimplemented", `{"command":"snapshot","params":{"viewer_id":"v1"}}`, "snapshot", "error", "snapshot not implemented"},
		{"unknown", `{"command":"dance"}`, "dance", "error", "unknown command: dance"},
		{"invalid json", `{nope`, "unknown", "error", "invalid JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := send(t, client, tt.payload)
			if resp.CommandAck != tt.wantAck || resp.Status != tt.wantStatus || resp.Error != tt.wantError {
				t.Errorf("response = %+v, want ack=%s status=%s error=%q", resp, tt.wantAck, tt.wantStatus, tt.wantError)
			}
		})
	}

	if opened.ViewerID != "v1" || opened.Category != "Rings" || opened.Origin != "https://shop" {
		t.Errorf("OnOpen params = %+v", opened)
	}
	if closed.Load() != "v1" || retried.Load() != "v1" {
		t.Errorf("closed=%v retried=%v", closed.Load(), retried.Load())
	}
	t.Logf("✅ %d control commands acknowledged", len(tests))
}

func TestShutdownAcksBeforeCallback(t *testing.T) {
	called := make(chan struct{})
	client := startHandler(t, CommandCallbacks{
		OnShutdown: func() error {
			close(called)
			return nil
		},
	})

	resp := send(t, client, `{"command":"shutdown"}`)
	if resp.Status != "success" {
		t.Fatalf("response = %+v", resp)
	}
	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown callback never ran")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	client := mqtttest.NewClient()
	h := NewHandler(testMQTT, client, CommandCallbacks{})
	if err := h.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := h.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
	h.Stop()
	h.Stop()
	if client.Subscribed(testMQTT.Topics.Control) {
		t.Error("still subscribed after Stop")
	}
}
