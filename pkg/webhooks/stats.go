package webhooks

import (
	"context"
	"strconv"
	"time"
)

// DeliveryStats summarizes delivery attempts over a trailing window
type DeliveryStats struct {
	WindowDays            int            `json:"window_days"`
	TotalDeliveries       int            `json:"total_deliveries"`
	SuccessfulDeliveries  int            `json:"successful_deliveries"`
	FailedDeliveries      int            `json:"failed_deliveries"`
	SuccessRate           float64        `json:"success_rate"`
	AverageResponseTimeMS float64        `json:"average_response_time_ms"`
	ByEvent               map[string]int `json:"by_event"`
	ByStatusCode          map[string]int `json:"by_status_code"`
}

// ClampWindowDays bounds a requested stats window to [1, 365] days.
// Zero or negative requests get the 30-day default.
func ClampWindowDays(days int) int {
	switch {
	case days <= 0:
		return 30
	case days > 365:
		return 365
	default:
		return days
	}
}

// ComputeDeliveryStats aggregates a set of attempts. Ratios divide by
// max(total, 1) so an empty window yields zeros, not NaN. Attempts that
// never got a response are counted under the "error" status bucket.
func ComputeDeliveryStats(deliveries []*Delivery, windowDays int) *DeliveryStats {
	stats := &DeliveryStats{
		WindowDays:   windowDays,
		ByEvent:      make(map[string]int),
		ByStatusCode: make(map[string]int),
	}

	var totalDuration int64
	for _, d := range deliveries {
		stats.TotalDeliveries++
		if d.Success {
			stats.SuccessfulDeliveries++
		} else {
			stats.FailedDeliveries++
		}
		totalDuration += d.DurationMS
		stats.ByEvent[d.EventType]++
		if d.StatusCode != nil {
			stats.ByStatusCode[strconv.Itoa(*d.StatusCode)]++
		} else {
			stats.ByStatusCode["error"]++
		}
	}

	divisor := stats.TotalDeliveries
	if divisor < 1 {
		divisor = 1
	}
	stats.SuccessRate = float64(stats.SuccessfulDeliveries) / float64(divisor)
	stats.AverageResponseTimeMS = float64(totalDuration) / float64(divisor)
	return stats
}

// Stats computes delivery statistics over the trailing window for one
// webhook, or for all webhooks when webhookID is empty
func (e *Engine) Stats(ctx context.Context, webhookID string, days int) (*DeliveryStats, error) {
	days = ClampWindowDays(days)
	since := time.Now().UTC().AddDate(0, 0, -days)

	deliveries, err := e.store.ListDeliveriesSince(ctx, webhookID, since)
	if err != nil {
		return nil, err
	}
	return ComputeDeliveryStats(deliveries, days), nil
}
