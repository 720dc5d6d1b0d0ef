package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	sent []EmailMessage
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg EmailMessage) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func TestAlerterSyncFailed(t *testing.T) {
	sender := &recordingSender{}
	a := NewAlerter(sender, "admin@ashgrovepsych.example", nil)

	a.SyncFailed(context.Background(), "prac-1", "Dr Adaeze Okafor", errors.New("remote unreachable"))

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, "admin@ashgrovepsych.example", msg.To)
	assert.Contains(t, msg.Subject, "Dr Adaeze Okafor")
	assert.Contains(t, msg.Body, "remote unreachable")
}

func TestAlerterThrottlesRepeats(t *testing.T) {
	sender := &recordingSender{}
	a := NewAlerter(sender, "admin@ashgrovepsych.example", nil)

	now := time.Now()
	a.clock = func() time.Time { return now }

	a.SyncFailed(context.Background(), "prac-1", "", errors.New("boom"))
	a.SyncFailed(context.Background(), "prac-1", "", errors.New("boom again"))
	assert.Len(t, sender.sent, 1, "repeat failures inside the window are suppressed")

	// A different practitioner alerts independently.
	a.SyncFailed(context.Background(), "prac-2", "", errors.New("boom"))
	assert.Len(t, sender.sent, 2)

	now = now.Add(5 * time.Hour)
	a.SyncFailed(context.Background(), "prac-1", "", errors.New("still broken"))
	assert.Len(t, sender.sent, 3, "alerts resume after the throttle window")
}

func TestAlerterDisabledWithoutSender(t *testing.T) {
	a := NewAlerter(nil, "admin@ashgrovepsych.example", nil)
	a.SyncFailed(context.Background(), "prac-1", "", errors.New("boom"))
	// No panic is the assertion.
}

func TestAlerterSendFailureIsSwallowed(t *testing.T) {
	sender := &recordingSender{err: errors.New("sendgrid down")}
	a := NewAlerter(sender, "admin@ashgrovepsych.example", nil)
	a.SyncFailed(context.Background(), "prac-1", "", errors.New("boom"))
	assert.Empty(t, sender.sent)
}
