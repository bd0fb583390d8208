package meeting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/echoear/voicegate/pkg/store"
)

func TestWebhookPush(t *testing.T) {
	var got webhookDoc
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, "secret")
	rec := &store.Record{
		ID:         "m1",
		DeviceID:   "dev-1",
		Title:      "standup",
		Duration:   90 * time.Second,
		Transcript: "we talked",
		Summary:    "Topic: standup",
		Status:     store.StatusDone,
	}
	if err := w.Push(context.Background(), rec); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if auth != "Bearer secret" {
		t.Errorf("Authorization = %q", auth)
	}
	if got.MeetingID != "m1" || got.DurationMS != 90000 || got.Transcript != "we talked" {
		t.Errorf("payload = %+v", got)
	}
}

func TestWebhookPushReportsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, "")
	if err := w.Push(context.Background(), &store.Record{ID: "m2"}); err == nil {
		t.Fatal("Push accepted a 502 response")
	}
}
