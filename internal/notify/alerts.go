package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ashgrovepsych/practice-sync/pkg/logging"
)

// Alerter emails the practice admin when scheduled syncs fail. Alerts are
// throttled per practitioner so a flapping remote API does not flood the
// inbox.
type Alerter struct {
	email      EmailSender
	adminEmail string
	logger     *logging.Logger

	throttle  time.Duration
	lastAlert map[string]time.Time
	clock     func() time.Time
}

// NewAlerter wires a sync-failure alerter. A nil email sender disables it.
func NewAlerter(email EmailSender, adminEmail string, logger *logging.Logger) *Alerter {
	if logger == nil {
		logger = logging.Default()
	}
	return &Alerter{
		email:      email,
		adminEmail: adminEmail,
		logger:     logger,
		throttle:   4 * time.Hour,
		lastAlert:  make(map[string]time.Time),
		clock:      time.Now,
	}
}

// SyncFailed reports a failed sync run for one practitioner. Send failures
// are logged, never returned: alerting is best-effort.
func (a *Alerter) SyncFailed(ctx context.Context, practitionerRemoteID, displayName string, cause error) {
	if a.email == nil || a.adminEmail == "" {
		return
	}

	now := a.clock()
	if last, ok := a.lastAlert[practitionerRemoteID]; ok && now.Sub(last) < a.throttle {
		a.logger.Debug("sync alert throttled", "practitioner", practitionerRemoteID)
		return
	}
	a.lastAlert[practitionerRemoteID] = now

	if displayName == "" {
		displayName = practitionerRemoteID
	}

	var body strings.Builder
	fmt.Fprintf(&body, "The scheduled sync for %s failed at %s.\n\n", displayName, now.Format(time.RFC1123))
	fmt.Fprintf(&body, "Error: %v\n\n", cause)
	body.WriteString("Appointment and client data for this practitioner may be out of date until the next successful sync.\n")

	msg := EmailMessage{
		To:      a.adminEmail,
		Subject: fmt.Sprintf("Sync failed for %s", displayName),
		Body:    body.String(),
	}
	if err := a.email.Send(ctx, msg); err != nil {
		a.logger.Error("sync failure alert not sent", "practitioner", practitionerRemoteID, "error", err)
	}
}
