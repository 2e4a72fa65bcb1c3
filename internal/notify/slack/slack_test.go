package slack

import (
	"context"
	"errors"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/missionctl/internal/models"
)

// mockClient records PostMessage calls and returns scripted errors.
type mockClient struct {
	calls    int
	channels []string
	errs     []error
}

func (m *mockClient) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.calls++
	m.channels = append(m.channels, channelID)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return "", "", err
	}
	return "C123", "169.1", nil
}

func testAlert() models.Alert {
	return models.Alert{
		ID:        1,
		LoopID:    7,
		Type:      models.AlertReplyOverdue,
		Severity:  models.SeverityWarning,
		SentAt:    time.Now().Add(-45 * time.Minute),
		FromAgent: "sam",
		ToAgent:   "leo",
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Opts{ChannelID: "C1"}); err == nil {
		t.Error("expected error for missing token")
	}
	if _, err := New(Opts{Token: "xoxb-1"}); err == nil {
		t.Error("expected error for missing channel")
	}
	if _, err := New(Opts{Client: &mockClient{}, ChannelID: "C1"}); err != nil {
		t.Errorf("injected client should not need a token: %v", err)
	}
}

func TestNotify_Posts(t *testing.T) {
	m := &mockClient{}
	n, err := New(Opts{Client: m, ChannelID: "C-alerts"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := n.Notify(context.Background(), testAlert()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if m.calls != 1 {
		t.Errorf("calls = %d, want 1", m.calls)
	}
	if m.channels[0] != "C-alerts" {
		t.Errorf("channel = %q", m.channels[0])
	}
}

func TestNotify_RetriesOnRateLimit(t *testing.T) {
	m := &mockClient{errs: []error{
		&slackapi.RateLimitedError{RetryAfter: time.Millisecond},
	}}
	n, _ := New(Opts{Client: m, ChannelID: "C1"})
	if err := n.Notify(context.Background(), testAlert()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if m.calls != 2 {
		t.Errorf("calls = %d, want 2 (one retry)", m.calls)
	}
}

func TestNotify_GivesUpAfterMaxRetries(t *testing.T) {
	m := &mockClient{errs: []error{
		&slackapi.RateLimitedError{RetryAfter: time.Millisecond},
		&slackapi.RateLimitedError{RetryAfter: time.Millisecond},
		&slackapi.RateLimitedError{RetryAfter: time.Millisecond},
	}}
	n, _ := New(Opts{Client: m, ChannelID: "C1"})
	if err := n.Notify(context.Background(), testAlert()); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if m.calls != maxRetries {
		t.Errorf("calls = %d, want %d", m.calls, maxRetries)
	}
}

func TestNotify_NonRateLimitErrorIsFatal(t *testing.T) {
	m := &mockClient{errs: []error{errors.New("channel_not_found")}}
	n, _ := New(Opts{Client: m, ChannelID: "C1"})
	if err := n.Notify(context.Background(), testAlert()); err == nil {
		t.Fatal("expected error")
	}
	if m.calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry)", m.calls)
	}
}

func TestPost_Digest(t *testing.T) {
	m := &mockClient{}
	n, _ := New(Opts{Client: m, ChannelID: "C1"})
	if err := n.Post(context.Background(), "Daily loop digest", "Active: 3"); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if m.calls != 1 {
		t.Errorf("calls = %d, want 1", m.calls)
	}
}
