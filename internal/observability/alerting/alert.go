// Package alerting broadcasts runtime failure events to notification
// channels. Delivery is best effort; the lifecycle path never blocks on a
// notifier.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "orchestrall/internal/errors"
	"orchestrall/pkg/logger"
)

// Channel identifies a notification channel.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelSlack   Channel = "slack"
	ChannelWebhook Channel = "webhook"
)

// Event describes one incident worth alerting on, always tied to a
// (tenant, plugin) pair.
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	TenantID   string
	PluginID   string
	Metadata   map[string]string
	OccurredAt time.Time
}

// Notifier delivers an event to a single channel.
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher broadcasts events to the configured notifiers.
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher delivers each event to every registered notifier and
// joins the failures.
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout builds a dispatcher over the given notifiers. Nil notifiers are
// skipped; a later notifier on the same channel replaces the earlier one.
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify broadcasts the event to all registered channels.
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EmailSender is the transport an EmailNotifier delivers through.
type EmailSender interface {
	Send(ctx context.Context, subject, content string, to []string) error
}

// EmailNotifier formats events as plain-text mail.
type EmailNotifier struct {
	Sender        EmailSender
	To            []string
	SubjectPrefix string
}

func (n *EmailNotifier) Channel() Channel { return ChannelEmail }

func (n *EmailNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil || len(n.To) == 0 {
		logger.L().Warn("email notifier not configured, skipping",
			slog.String("tenant", event.TenantID), slog.String("plugin", event.PluginID))
		return nil
	}
	subject := fmt.Sprintf("%s[%s] %s", n.SubjectPrefix, event.Severity, event.Code)
	content := fmt.Sprintf("time: %s\ntenant: %s\nplugin: %s\ncode: %s\nmessage: %s",
		event.OccurredAt.Format(time.RFC3339), event.TenantID, event.PluginID, event.Code, event.Message)
	if len(event.Metadata) > 0 {
		content += "\ndetails:\n"
		for k, v := range event.Metadata {
			content += fmt.Sprintf("- %s: %s\n", k, v)
		}
	}
	return n.Sender.Send(ctx, subject, content, n.To)
}

// SlackSender is the transport a SlackNotifier delivers through.
type SlackSender interface {
	Send(ctx context.Context, channel, content string) error
}

// SlackNotifier posts events into a Slack channel.
type SlackNotifier struct {
	Sender    SlackSender
	ChannelID string
}

func (n *SlackNotifier) Channel() Channel { return ChannelSlack }

func (n *SlackNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil || n.ChannelID == "" {
		logger.L().Warn("slack notifier not configured, skipping",
			slog.String("tenant", event.TenantID), slog.String("plugin", event.PluginID))
		return nil
	}
	content := fmt.Sprintf("*[%s]* %s - tenant %s, plugin %s: %s",
		event.Severity, event.Code, event.TenantID, event.PluginID, event.Message)
	return n.Sender.Send(ctx, n.ChannelID, content)
}

// WebhookSender posts a JSON payload to an operator-supplied endpoint.
type WebhookSender interface {
	Send(ctx context.Context, payload any) error
}

// WebhookNotifier forwards the raw event to a generic webhook.
type WebhookNotifier struct {
	Sender WebhookSender
}

func (n *WebhookNotifier) Channel() Channel { return ChannelWebhook }

func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil {
		logger.L().Warn("webhook notifier not configured, skipping",
			slog.String("tenant", event.TenantID), slog.String("plugin", event.PluginID))
		return nil
	}
	return n.Sender.Send(ctx, event)
}
