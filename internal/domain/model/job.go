package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"whatsapp-dispatch/internal/domain"
)

const (
	// MessageTypeText is the only supported payload type.
	MessageTypeText = "text"

	// ChatSuffix marks a normalized individual-chat handle.
	ChatSuffix = "@c.us"
)

// Job is a single outbound message request as it travels through the queues.
type Job struct {
	ID        string    `json:"id,omitempty"`
	Recipient Recipient `json:"recipient"`
	Message   Message   `json:"message"`
	Metadata  Metadata  `json:"metadata"`
}

type Recipient struct {
	Phone string `json:"phone"`
	Name  string `json:"name,omitempty"`
}

type Message struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text"`
}

// Metadata holds delivery bookkeeping. Keys the service does not know about
// (priority, trace ids set by the producer) are kept in Extra and written back
// unchanged on every requeue.
type Metadata struct {
	Retries     int        `json:"retries"`
	LastError   string     `json:"lastError,omitempty"`
	LastTriedAt *time.Time `json:"lastTriedAt,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
	InitiatedBy string     `json:"initiatedBy,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var knownMetadataKeys = []string{"retries", "lastError", "lastTriedAt", "createdAt", "initiatedBy"}

func (m *Metadata) UnmarshalJSON(b []byte) error {
	type plain Metadata
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	for _, k := range knownMetadataKeys {
		delete(all, k)
	}
	if len(all) > 0 {
		p.Extra = all
	}
	*m = Metadata(p)
	return nil
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	type plain Metadata
	b, err := json.Marshal(plain(m))
	if err != nil || len(m.Extra) == 0 {
		return b, err
	}
	merged := make(map[string]json.RawMessage, len(m.Extra)+len(knownMetadataKeys))
	for k, v := range m.Extra {
		merged[k] = v
	}
	var known map[string]json.RawMessage
	if err := json.Unmarshal(b, &known); err != nil {
		return nil, err
	}
	for k, v := range known {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// ParseJob decodes and validates a raw queue payload. Any error it returns
// wraps domain.ErrInvalidJob.
func ParseJob(raw []byte) (*Job, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", domain.ErrInvalidJob)
	}
	var j Job
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidJob, err)
	}
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return &j, nil
}

// Validate checks the fields a delivery attempt needs.
func (j *Job) Validate() error {
	if _, err := NormalizePhone(j.Recipient.Phone); err != nil {
		return err
	}
	if t := j.Message.Type; t != "" && t != MessageTypeText {
		return fmt.Errorf("%w: unsupported message type: %s", domain.ErrInvalidJob, t)
	}
	if strings.TrimSpace(j.Message.Text) == "" {
		return fmt.Errorf("%w: missing message.text", domain.ErrInvalidJob)
	}
	if j.Metadata.Retries < 0 {
		return fmt.Errorf("%w: negative metadata.retries", domain.ErrInvalidJob)
	}
	return nil
}

// ChatID returns the normalized recipient handle.
func (j *Job) ChatID() (string, error) {
	return NormalizePhone(j.Recipient.Phone)
}

// Text returns the trimmed message body.
func (j *Job) Text() string {
	return strings.TrimSpace(j.Message.Text)
}

// RecordFailure bumps the retry counter and stamps the failure.
func (j *Job) RecordFailure(err error, at time.Time) int {
	j.Metadata.Retries++
	if err != nil {
		j.Metadata.LastError = err.Error()
	}
	t := at.UTC()
	j.Metadata.LastTriedAt = &t
	return j.Metadata.Retries
}

// Exhausted reports whether the job has used up its delivery budget.
func (j *Job) Exhausted(maxRetries int) bool {
	return j.Metadata.Retries > maxRetries
}

// LogID is the id used in log lines; producers may omit it.
func (j *Job) LogID() string {
	if j.ID == "" {
		return "unknown"
	}
	return j.ID
}

// NormalizePhone strips everything but digits and appends ChatSuffix.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSuffix(raw, ChatSuffix) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: missing recipient.phone", domain.ErrInvalidJob)
	}
	return b.String() + ChatSuffix, nil
}
