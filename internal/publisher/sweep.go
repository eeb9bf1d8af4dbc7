package publisher

import (
	"time"

	"pubflow/internal/eventbus"
	"pubflow/pkg/logx"
)

// stuckGrace is how long past its target time a still-scheduled publication
// may sit before the sweep flags it.
const stuckGrace = time.Minute

// Sweep evicts terminal publications older than the retention window and
// surfaces scheduled publications whose trigger never fired. Called
// periodically by the owner.
func (s *Service) Sweep(now time.Time) int {
	s.mu.Lock()
	retention := s.cfg.Retention
	cutoff := now.Add(-retention)

	var evicted []PublicationEvent
	var stuck []string
	for id, p := range s.pubs {
		if p.Status.Terminal() {
			ref := p.PublishedAt
			if ref.IsZero() {
				ref = p.CreatedAt
			}
			if ref.Before(cutoff) {
				delete(s.pubs, id)
				evicted = append(evicted, PublicationEvent{
					PublicationID: id,
					ContentID:     p.ContentID,
					Status:        p.Status,
					Total:         len(p.Channels),
				})
			}
			continue
		}
		if p.Status == StatusScheduled && now.Sub(p.ScheduledAt) > stuckGrace {
			stuck = append(stuck, id)
		}
	}
	s.mu.Unlock()

	for _, ev := range evicted {
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.PublicationEvicted, Data: ev})
		}
	}
	if len(evicted) > 0 {
		s.log.Info("evicted publications past retention",
			logx.Int("count", len(evicted)),
			logx.Duration("retention", retention))
	}

	// Overdue scheduled publications are only reported. Re-firing them here
	// would race a cancel that landed between the miss and the sweep; the
	// operator decides whether to cancel or reschedule.
	for _, id := range stuck {
		s.log.Warn("scheduled publication overdue",
			logx.String("publication", id))
	}

	return len(evicted)
}
