//go:build !integration

package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"whatsapp-dispatch/internal/domain"
)

// --- Job Model Tests ---

func TestParseJob(t *testing.T) {
	t.Run("should parse a valid job", func(t *testing.T) {
		raw := []byte(`{"id":"a1","recipient":{"phone":"+54 9 11 2233-4455","name":"Ana"},"message":{"type":"text","text":"  hola  "}}`)

		job, err := ParseJob(raw)

		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if job.ID != "a1" || job.Recipient.Name != "Ana" {
			t.Errorf("unexpected job %+v", job)
		}
		chat, err := job.ChatID()
		if err != nil || chat != "5491122334455@c.us" {
			t.Errorf("expected chat id 5491122334455@c.us, got %q (%v)", chat, err)
		}
		if job.Text() != "hola" {
			t.Errorf("expected trimmed text, got %q", job.Text())
		}
	})

	t.Run("should accept a missing message type", func(t *testing.T) {
		if _, err := ParseJob([]byte(`{"recipient":{"phone":"1"},"message":{"text":"x"}}`)); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})

	invalid := map[string]string{
		"empty payload":     ``,
		"not json":          `{"recipient":`,
		"missing phone":     `{"recipient":{},"message":{"text":"x"}}`,
		"phone w/o digits":  `{"recipient":{"phone":"abc"},"message":{"text":"x"}}`,
		"blank text":        `{"recipient":{"phone":"1"},"message":{"text":"   "}}`,
		"unsupported type":  `{"recipient":{"phone":"1"},"message":{"type":"image","text":"x"}}`,
		"negative retries":  `{"recipient":{"phone":"1"},"message":{"text":"x"},"metadata":{"retries":-1}}`,
		"wrong field types": `{"recipient":{"phone":1},"message":{"text":"x"}}`,
	}
	for name, raw := range invalid {
		t.Run("should reject "+name, func(t *testing.T) {
			job, err := ParseJob([]byte(raw))
			if err == nil {
				t.Fatalf("expected an error, got job %+v", job)
			}
			if !errors.Is(err, domain.ErrInvalidJob) {
				t.Errorf("expected ErrInvalidJob, got %v", err)
			}
		})
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"5491122334455", "5491122334455@c.us"},
		{"+54 (911) 2233-4455", "5491122334455@c.us"},
		{"5491122334455@c.us", "5491122334455@c.us"},
	}
	for _, tt := range tests {
		got, err := NormalizePhone(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("NormalizePhone(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
	if _, err := NormalizePhone("+-()"); !errors.Is(err, domain.ErrInvalidJob) {
		t.Errorf("expected ErrInvalidJob for a phone without digits, got %v", err)
	}
}

func TestJob_RecordFailure(t *testing.T) {
	job := &Job{Recipient: Recipient{Phone: "1"}, Message: Message{Text: "x"}}
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("ART", -3*3600))

	n := job.RecordFailure(errors.New("timeout"), at)

	if n != 1 || job.Metadata.Retries != 1 {
		t.Fatalf("expected retries 1, got %d", job.Metadata.Retries)
	}
	if job.Metadata.LastError != "timeout" {
		t.Errorf("expected lastError to be recorded, got %q", job.Metadata.LastError)
	}
	if job.Metadata.LastTriedAt == nil || job.Metadata.LastTriedAt.Location() != time.UTC || !job.Metadata.LastTriedAt.Equal(at) {
		t.Errorf("expected lastTriedAt in UTC, got %v", job.Metadata.LastTriedAt)
	}

	if job.Exhausted(1) {
		t.Error("one failure must not exhaust maxRetries=1")
	}
	job.RecordFailure(errors.New("timeout"), at)
	if !job.Exhausted(1) {
		t.Error("retries > maxRetries must be exhausted")
	}
	if !(&Job{}).Exhausted(-1) {
		t.Error("maxRetries -1 should exhaust immediately")
	}
}

func TestMetadata_KeepsUnknownKeys(t *testing.T) {
	raw := []byte(`{"recipient":{"phone":"1"},"message":{"text":"x"},"metadata":{"retries":2,"priority":"high","trace":{"id":7}}}`)
	job, err := ParseJob(raw)
	if err != nil {
		t.Fatal(err)
	}

	job.RecordFailure(errors.New("boom"), time.Now())
	out, err := json.Marshal(job)
	if err != nil {
		t.Fatal(err)
	}

	var back struct {
		Metadata map[string]json.RawMessage `json:"metadata"`
	}
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatal(err)
	}
	if string(back.Metadata["priority"]) != `"high"` || string(back.Metadata["trace"]) != `{"id":7}` {
		t.Errorf("unknown metadata lost: %s", out)
	}
	if string(back.Metadata["retries"]) != "3" {
		t.Errorf("expected retries 3, got %s", back.Metadata["retries"])
	}
	if _, ok := back.Metadata["lastError"]; !ok {
		t.Errorf("expected lastError in %s", out)
	}
}

func TestJob_LogID(t *testing.T) {
	if got := (&Job{}).LogID(); got != "unknown" {
		t.Errorf("expected unknown, got %q", got)
	}
	if got := (&Job{ID: "x"}).LogID(); got != "x" {
		t.Errorf("expected x, got %q", got)
	}
}

// --- Session Model Tests ---

func TestTransition(t *testing.T) {
	tests := []struct {
		from SessionState
		kind LifecycleEventKind
		to   SessionState
		ok   bool
	}{
		{SessionUninitialized, EventQR, SessionAwaitingScan, true},
		{SessionAwaitingScan, EventQR, SessionAwaitingScan, true},
		{SessionAwaitingScan, EventAuthenticated, SessionAuthenticated, true},
		{SessionUninitialized, EventAuthenticated, SessionAuthenticated, true},
		{SessionAuthenticated, EventReady, SessionReady, true},
		{SessionReady, EventReady, SessionReady, false},
		{SessionReady, EventQR, SessionReady, false},
		{SessionReady, EventDisconnected, SessionDisconnected, true},
		{SessionReady, EventAuthFailure, SessionAuthFailed, true},
		{SessionReady, EventLoadingScreen, SessionReady, false},
		{SessionReady, EventError, SessionReady, false},
		{SessionExhausted, EventDisconnected, SessionExhausted, false},
		{SessionExhausted, EventAuthFailure, SessionExhausted, false},
		{SessionExhausted, EventReady, SessionExhausted, false},
	}
	for _, tt := range tests {
		to, ok := Transition(tt.from, tt.kind)
		if to != tt.to || ok != tt.ok {
			t.Errorf("Transition(%s, %s) = %s, %v; want %s, %v", tt.from, tt.kind, to, ok, tt.to, tt.ok)
		}
	}
}
