package alerting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notification 封装告警上下文。
type Notification struct {
	Bucket        time.Time       `json:"bucket"`
	Metric        string          `json:"metric"`
	Source        string          `json:"source,omitempty"`
	Value         decimal.Decimal `json:"value"`
	Unit          string          `json:"unit,omitempty"`
	Label         string          `json:"label"`
	Severity      string          `json:"severity"`
	Channels      []string        `json:"channels,omitempty"`
	AdditionalMsg string          `json:"message,omitempty"`
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// Named pairs a notifier with the channel name used in configuration.
type Named struct {
	Channel  string
	Notifier Notifier
}

// Fanout delivers to every channel listed on the notification. A failing
// channel does not stop the others.
type Fanout struct {
	targets []Named
	logger  zerolog.Logger
}

// NewFanout builds a notifier over the given channels. It returns nil when
// no channel is configured so callers can treat alerting as disabled.
func NewFanout(targets []Named, logger zerolog.Logger) *Fanout {
	if len(targets) == 0 {
		return nil
	}
	return &Fanout{targets: targets, logger: logger.With().Str("component", "alert_fanout").Logger()}
}

// Notify sends to the channels named in note.Channels, or to all of them
// when the list is empty.
func (f *Fanout) Notify(ctx context.Context, note Notification) error {
	var errs []error
	sent := 0
	for _, t := range f.targets {
		if !wants(note.Channels, t.Channel) {
			continue
		}
		if err := t.Notifier.Notify(ctx, note); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Channel, err))
			continue
		}
		sent++
	}
	if sent == 0 && len(errs) == 0 {
		f.logger.Warn().Strs("channels", note.Channels).Msg("no configured channel matched alert")
	}
	return errors.Join(errs...)
}

// Channels lists configured channel names.
func (f *Fanout) Channels() []string {
	out := make([]string, len(f.targets))
	for i, t := range f.targets {
		out[i] = t.Channel
	}
	return out
}

func wants(channels []string, name string) bool {
	if len(channels) == 0 {
		return true
	}
	for _, c := range channels {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// RenderMessage formats a notification as plain text.
func RenderMessage(note Notification) string {
	lines := []string{
		fmt.Sprintf("[AI Watch %s] %s", strings.ToUpper(note.Severity), note.Label),
		"Metric: " + note.Metric,
	}
	if note.Source != "" {
		lines = append(lines, "Source: "+note.Source)
	}
	value := note.Value.StringFixed(2)
	if note.Unit != "" {
		value += " " + note.Unit
	}
	lines = append(lines,
		"Value: "+value,
		"Status: "+note.Label,
		"Bucket: "+note.Bucket.UTC().Format(time.RFC3339)+" UTC",
	)
	if note.AdditionalMsg != "" {
		lines = append(lines, note.AdditionalMsg)
	}
	return strings.Join(lines, "\n") + "\n"
}

var _ Notifier = (*Fanout)(nil)
