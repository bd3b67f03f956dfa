package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBrevoSend(t *testing.T) {
	var gotKey string
	var got brevoPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("api-key")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"messageId":"<1@brevo>"}`))
	}))
	defer srv.Close()

	m := NewBrevo("key-123", "noreply@satprep.test", "SAT Prep")
	m.Endpoint = srv.URL

	err := m.Send(context.Background(), Message{ToEmail: "ada@example.com", Subject: "Verify", HTML: "<p>hi</p>"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotKey != "key-123" {
		t.Errorf("api-key header = %q", gotKey)
	}
	if got.Subject != "Verify" || got.HTMLContent != "<p>hi</p>" {
		t.Errorf("unexpected payload: %+v", got)
	}
	if len(got.To) != 1 || got.To[0]["name"] != "ada" {
		t.Errorf("recipient name should default to the local part, got %v", got.To)
	}
	if got.Sender["email"] != "noreply@satprep.test" {
		t.Errorf("unexpected sender: %v", got.Sender)
	}
}

func TestBrevoErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":"unauthorized"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := NewBrevo("bad", "noreply@satprep.test", "SAT Prep")
	m.Endpoint = srv.URL

	tests := []struct {
		name    string
		to      string
		wantErr error
	}{
		{"api rejects", "ada@example.com", nil},
		{"no at sign", "ada.example.com", ErrInvalidRecipient},
		{"empty", "", ErrInvalidRecipient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.Send(context.Background(), Message{ToEmail: tt.to})
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNewFallsBackToLog(t *testing.T) {
	if _, ok := New("", "", "").(LogMailer); !ok {
		t.Error("expected LogMailer when unconfigured")
	}
	if _, ok := New("k", "a@b.c", "n").(*BrevoMailer); !ok {
		t.Error("expected BrevoMailer when configured")
	}
	if err := (LogMailer{}).Send(context.Background(), Message{ToEmail: "x@y.z"}); err != nil {
		t.Errorf("LogMailer.Send: %v", err)
	}
}
