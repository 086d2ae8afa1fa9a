package alerting

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	xerrors "XGov-Mesh/internal/errors"
)

type recordingEmailSender struct {
	subject string
	content string
	to      []string
	err     error
}

func (s *recordingEmailSender) Send(_ context.Context, subject, content string, to []string) error {
	s.subject = subject
	s.content = content
	s.to = to
	return s.err
}

type recordingDingTalkSender struct {
	content string
}

func (s *recordingDingTalkSender) Send(_ context.Context, content string) error {
	s.content = content
	return nil
}

func sampleEvent() Event {
	return Event{
		Code:       xerrors.Code("JOB_RETRIES_EXHAUSTED"),
		Message:    "orchestration kept failing",
		Severity:   xerrors.SeverityCritical,
		JobID:      "job-1",
		AgentID:    "scraper-001",
		Attempts:   3,
		MaxRetries: 3,
		Metadata:   map[string]string{"category": "data_scraper"},
		OccurredAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEmailNotifierFormatsEvent(t *testing.T) {
	sender := &recordingEmailSender{}
	notifier := &EmailNotifier{Sender: sender, To: []string{"ops@example.com"}, SubjectPrefix: "[xgov]"}

	if err := notifier.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if !strings.Contains(sender.subject, "JOB_RETRIES_EXHAUSTED") {
		t.Fatalf("subject missing code: %s", sender.subject)
	}
	if !strings.Contains(sender.content, "job-1") || !strings.Contains(sender.content, "scraper-001") {
		t.Fatalf("content missing identifiers: %s", sender.content)
	}
	if !strings.Contains(sender.content, "category: data_scraper") {
		t.Fatalf("content missing metadata: %s", sender.content)
	}
}

func TestEmailNotifierSkipsWhenUnconfigured(t *testing.T) {
	notifier := &EmailNotifier{}
	if err := notifier.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("unconfigured notifier should be a no-op, got %v", err)
	}
}

func TestFanoutDispatcherAggregatesFailures(t *testing.T) {
	failing := &recordingEmailSender{err: errors.New("smtp down")}
	ding := &recordingDingTalkSender{}
	dispatcher := NewFanout(
		&EmailNotifier{Sender: failing, To: []string{"ops@example.com"}},
		&DingTalkNotifier{Sender: ding},
	)

	err := dispatcher.Notify(context.Background(), sampleEvent())
	if err == nil {
		t.Fatal("expected aggregated error from failing channel")
	}
	if !strings.Contains(err.Error(), "smtp down") {
		t.Fatalf("error should mention the failing sender: %v", err)
	}
	if ding.content == "" {
		t.Fatal("healthy channel should still receive the event")
	}
}

func TestNilDispatcherIsSafe(t *testing.T) {
	var dispatcher *FanoutDispatcher
	if err := dispatcher.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("nil dispatcher should be a no-op, got %v", err)
	}
}
