package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrEmptyBody is returned when a successful response carries no body.
var ErrEmptyBody = errors.New("response body is null")

// APIError describes a non-2xx response.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API call failed with code %d: %s", e.StatusCode, e.Status)
}

// SimpleMessageRequest is the body of POST simple-message.
type SimpleMessageRequest struct {
	Message string            `json:"message"`
	Context map[string]string `json:"context,omitempty"`
}

// NewSimpleMessageRequest builds a request carrying the sender and send time.
func NewSimpleMessageRequest(text, userID string, timestamp int64) SimpleMessageRequest {
	ctx := map[string]string{"timestamp": strconv.FormatInt(timestamp, 10)}
	if userID != "" {
		ctx["user_id"] = userID
	}
	return SimpleMessageRequest{Message: text, Context: ctx}
}

// SimpleMessageResponse is the body returned by POST simple-message.
type SimpleMessageResponse struct {
	Response  string    `json:"response"`
	Timestamp Timestamp `json:"timestamp"`
}

// Timestamp decodes the several time formats the backend emits.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// UnmarshalJSON accepts RFC3339, naive ISO, "yyyy-MM-dd HH:mm:ss" or epoch millis.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		t.Time = time.Time{}
		return nil
	}

	if data[0] != '"' {
		ms, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("failed to parse timestamp %s: %w", data, err)
		}
		t.Time = time.UnixMilli(ms)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		t.Time = time.UnixMilli(ms)
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unsupported timestamp format: %q", s)
}

// MarshalJSON writes RFC3339.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

// Millis returns the timestamp in epoch milliseconds, or fallback when unset.
func (t Timestamp) Millis(fallback int64) int64 {
	if t.IsZero() {
		return fallback
	}
	return t.UnixMilli()
}
