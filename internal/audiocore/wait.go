package audiocore

import (
	"context"
	"time"
)

// waitForAck polls for a signal on ack every interval, at most attempts times.
// It returns the number of polls spent and whether the signal arrived.
// A signal that lands between the last tick and the deadline still counts.
func waitForAck(ctx context.Context, ack <-chan struct{}, interval time.Duration, attempts int) (polls int, acked bool) {
	select {
	case <-ack:
		return 0, true
	default:
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for polls < attempts {
		select {
		case <-ack:
			return polls, true
		case <-ctx.Done():
			return polls, false
		case <-ticker.C:
			polls++
		}
	}

	select {
	case <-ack:
		return polls, true
	default:
		return polls, false
	}
}
