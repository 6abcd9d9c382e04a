package docker

import (
	"context"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

// Watch subscribes to the daemon's event stream, filtered to evaluation
// containers, translating container lifecycle events into domain.JobEvent
// The returned channel closes when ctx is cancelled or the
// stream ends.
func (c *Client) Watch(ctx context.Context) (<-chan domain.JobEvent, error) {
	opts := events.ListOptions{
		Filters: filters.NewArgs(
			filters.Arg("type", "container"),
			filters.Arg("label", evaluationLabel),
			filters.Arg("event", "start"),
			filters.Arg("event", "die"),
			filters.Arg("event", "destroy"),
		),
	}
	msgs, errs := c.cli.Events(ctx, opts)

	out := make(chan domain.JobEvent, 64)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-errs:
				if !ok || err == nil {
					continue
				}
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				evt, ok := translateEvent(msg)
				if !ok {
					continue
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func translateEvent(msg events.Message) (domain.JobEvent, bool) {
	evalID := msg.Actor.Attributes["eval-id"]
	if evalID == "" {
		return domain.JobEvent{}, false
	}
	name := msg.Actor.Attributes["name"]
	if name == "" {
		name = msg.Actor.ID
	}

	var counters domain.JobCounters
	eventType := "MODIFIED"
	switch msg.Action {
	case "start":
		counters = domain.JobCounters{Active: 1}
	case "die":
		exitCode := msg.Actor.Attributes["exitCode"]
		if n, err := strconv.Atoi(exitCode); err == nil && n == 0 {
			counters = domain.JobCounters{Succeeded: 1}
		} else {
			counters = domain.JobCounters{Failed: 1}
		}
	case "destroy":
		eventType = "DELETED"
	default:
		return domain.JobEvent{}, false
	}

	return domain.JobEvent{
		Name:      name,
		EvalID:    evalID,
		Type:      eventType,
		Counters:  counters,
		Timestamp: time.Unix(0, msg.TimeNano),
	}, true
}
