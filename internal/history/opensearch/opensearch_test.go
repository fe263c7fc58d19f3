package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loykin/idlewatch/internal/history"
	"github.com/loykin/idlewatch/internal/store"
)

func TestOpenSearchSink_Send(t *testing.T) {
	var receivedBody []byte
	var receivedPath string
	var receivedMethod string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		receivedBody = body

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"_id":"test","_index":"worker-history","result":"created"}`))
	}))
	defer server.Close()

	sink := New(server.URL, "worker-history")

	event := history.Event{
		Type:       history.EventStart,
		OccurredAt: time.Now().UTC(),
		Reason:     "idle",
		Record: store.Record{
			Name:      "gpuowl",
			PID:       12345,
			StartedAt: time.Now().Add(-time.Minute).UTC(),
			Running:   true,
			Uniq:      "test-unique-key",
		},
	}

	if err := sink.Send(context.Background(), event); err != nil {
		t.Fatalf("send: %v", err)
	}

	if receivedMethod != http.MethodPost {
		t.Errorf("expected POST, got %s", receivedMethod)
	}
	if receivedPath != "/worker-history/_doc" {
		t.Errorf("unexpected path: %s", receivedPath)
	}

	var parsed map[string]any
	if err := json.Unmarshal(receivedBody, &parsed); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if parsed["type"] != "start" {
		t.Errorf("expected type start, got %v", parsed["type"])
	}
	if parsed["reason"] != "idle" {
		t.Errorf("expected reason idle, got %v", parsed["reason"])
	}
	rec, ok := parsed["record"].(map[string]any)
	if !ok {
		t.Fatalf("record missing from body: %s", receivedBody)
	}
	if rec["Name"] != "gpuowl" {
		t.Errorf("unexpected record name: %v", rec["Name"])
	}
}

func TestOpenSearchSink_SendErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	sink := New(server.URL, "worker-history")
	err := sink.Send(context.Background(), history.Event{Type: history.EventStop})
	if err == nil {
		t.Fatalf("expected error for 4xx response")
	}
}

func TestOpenSearchSink_ServerDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	sink := New(url, "worker-history")
	if err := sink.Send(context.Background(), history.Event{Type: history.EventStart}); err == nil {
		t.Fatalf("expected error when server is unreachable")
	}
}

func TestOpenSearchSink_TrimsTrailingSlash(t *testing.T) {
	sink := New("http://localhost:9200///", "idx")
	if sink.baseURL != "http://localhost:9200" {
		t.Fatalf("unexpected base url: %s", sink.baseURL)
	}
}
