package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loykin/fleetmon/internal/record"
)

func TestWebhookSendPostsJSON(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w, err := NewWebhook(srv.URL, time.Second, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := w.Send(context.Background(), "hello fleet"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got["text"] != "hello fleet" {
		t.Fatalf("expected text field, got %v", got)
	}
}

func TestWebhookSendNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such channel", http.StatusNotFound)
	}))
	defer srv.Close()

	w, err := NewWebhook(srv.URL, time.Second, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := w.Send(context.Background(), "x"); err == nil {
		t.Fatalf("expected error for 404 response")
	}
}

func TestNewWebhookEmptyURL(t *testing.T) {
	if _, err := NewWebhook("  ", time.Second, nil); err == nil {
		t.Fatalf("expected error for empty url")
	}
}

func TestRecorder(t *testing.T) {
	var r Recorder
	_ = r.Send(context.Background(), "one")
	_ = r.Send(context.Background(), "two")
	msgs := r.Messages()
	if len(msgs) != 2 || msgs[0] != "one" || msgs[1] != "two" {
		t.Fatalf("unexpected messages %v", msgs)
	}
}

func TestFormatDisconnects(t *testing.T) {
	got := FormatDisconnects([]record.Record{
		{AccountID: "Knight42", Channel: "3", ProcessID: "100"},
		{AccountID: "Hero", Channel: "7", ProcessID: "200"},
	})
	if !strings.HasPrefix(got, "Disconnects detected:") {
		t.Fatalf("missing header: %q", got)
	}
	if !strings.Contains(got, "Knight42 - Channel: 3 (pid 100)") {
		t.Fatalf("missing first line: %q", got)
	}
	if !strings.Contains(got, "Hero - Channel: 7 (pid 200)") {
		t.Fatalf("missing second line: %q", got)
	}
}

func TestFormatCountDrop(t *testing.T) {
	got := FormatCountDrop("main.exe", 5, 3)
	if got != "Process count for main.exe dropped: before 5, now 3" {
		t.Fatalf("unexpected message %q", got)
	}
}
