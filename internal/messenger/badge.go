package messenger

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/netflix-shuffle/internal/observability"
)

// Badge is a write-only indicator of the enabled state.
type Badge interface {
	SetText(text string)
}

// BadgeText is the label shown for an enabled state.
func BadgeText(enabled bool) string {
	if enabled {
		return "On"
	}
	return "Off"
}

// LogBadge reports badge changes in the log.
type LogBadge struct {
	Logger *zap.Logger
}

func (b LogBadge) SetText(text string) {
	b.Logger.Info("Badge updated.", zap.String("text", text))
}

// MetricsBadge mirrors the badge onto the enabled gauge.
type MetricsBadge struct {
	Metrics *observability.Metrics
}

func (b MetricsBadge) SetText(text string) {
	b.Metrics.SetEnabled(text == BadgeText(true))
}

// Badges fans SetText out to several badges.
type Badges []Badge

func (bs Badges) SetText(text string) {
	for _, b := range bs {
		b.SetText(text)
	}
}
