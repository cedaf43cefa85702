package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWebhookNotify(t *testing.T) {
	var (
		gotMethod, gotType string
		gotBody            Payload
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL)
	p := Payload{JobID: "job-1", Status: "published", Summary: "The Brave Little Fox"}
	if err := w.Notify(context.Background(), p); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("method = %q", gotMethod)
	}
	if gotType != "application/json" {
		t.Errorf("content type = %q", gotType)
	}
	if gotBody != p {
		t.Errorf("body = %+v, want %+v", gotBody, p)
	}
}

func TestWebhookNotifyErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL).Notify(context.Background(), Payload{JobID: "job-1"})
	if err == nil || !strings.Contains(err.Error(), "webhook endpoint returned status 500") {
		t.Errorf("err = %v", err)
	}
}

func TestWebhookNotifyDeliveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	err := NewWebhook(srv.URL).Notify(context.Background(), Payload{JobID: "job-1"})
	if err == nil || !strings.Contains(err.Error(), "deliver webhook") {
		t.Errorf("err = %v", err)
	}
}

func TestWebhookNoOps(t *testing.T) {
	var w *Webhook
	if err := w.Notify(context.Background(), Payload{JobID: "job-1"}); err != nil {
		t.Errorf("nil webhook: %v", err)
	}
	if err := NewWebhook("").Notify(context.Background(), Payload{JobID: "job-1"}); err != nil {
		t.Errorf("empty url: %v", err)
	}
}
