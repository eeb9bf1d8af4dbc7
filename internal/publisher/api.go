package publisher

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"pubflow/internal/eventbus"
	"pubflow/pkg/logx"
)

// SchedulePublication registers a one-shot publication for the target
// instant and returns immediately with the generated id and the resolved
// channel list. A target time in the past fires as soon as a worker is
// free.
func (s *Service) SchedulePublication(content Content, channels []Channel, at time.Time) ScheduleResult {
	resolved, err := s.resolveChannels(channels)
	if err != nil {
		return ScheduleResult{Success: false, Error: err.Error()}
	}
	if at.IsZero() {
		return ScheduleResult{Success: false, Error: "scheduled time is required"}
	}

	now := time.Now()
	p := &Publication{
		ID:          uuid.NewString(),
		ContentID:   content.ID,
		WorkspaceID: content.WorkspaceID,
		Channels:    resolved,
		ScheduledAt: at,
		Status:      StatusScheduled,
		CreatedAt:   now,
		content:     content,
	}

	s.mu.Lock()
	s.pubs[p.ID] = p
	s.mu.Unlock()

	s.armTimer(p.ID)

	ids := make([]string, len(resolved))
	for i, ch := range resolved {
		ids[i] = ch.ID
	}

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.PublicationScheduled, Data: PublicationEvent{
			PublicationID: p.ID,
			ContentID:     content.ID,
			Status:        StatusScheduled,
			Total:         len(resolved),
		}})
	}
	s.log.Info("publication scheduled",
		logx.String("publication", p.ID),
		logx.String("content", content.ID),
		logx.Int("channels", len(resolved)),
		logx.Time("at", at))

	return ScheduleResult{
		Success:       true,
		PublicationID: p.ID,
		Channels:      ids,
		ScheduledAt:   at,
		Message:       fmt.Sprintf("publication scheduled for %s on %d channel(s)", at.Format(time.RFC3339), len(resolved)),
	}
}

// PublishNow performs the fan-out synchronously, without the trigger path.
// The publication is still recorded so Status and TrackEngagement work.
func (s *Service) PublishNow(ctx context.Context, content Content, channels []Channel) (Summary, error) {
	resolved, err := s.resolveChannels(channels)
	if err != nil {
		return Summary{}, err
	}

	now := time.Now()
	p := &Publication{
		ID:          uuid.NewString(),
		ContentID:   content.ID,
		WorkspaceID: content.WorkspaceID,
		Channels:    resolved,
		ScheduledAt: now,
		Status:      StatusPublishing,
		CreatedAt:   now,
		content:     content,
	}
	s.mu.Lock()
	s.pubs[p.ID] = p
	s.mu.Unlock()

	sum := s.fanOut(ctx, p.ID, content, resolved)

	s.mu.Lock()
	p.Results = sum.Results
	p.PublishedAt = time.Now()
	if sum.SuccessfulChannels > 0 {
		p.Status = StatusPublished
	} else {
		p.Status = StatusFailed
		p.LastError = firstError(sum)
	}
	ev := PublicationEvent{
		PublicationID: p.ID,
		ContentID:     content.ID,
		Status:        p.Status,
		Total:         sum.TotalChannels,
		Successful:    sum.SuccessfulChannels,
		Failed:        sum.FailedChannels,
		Error:         p.LastError,
	}
	s.mu.Unlock()

	typ := eventbus.PublicationPublished
	if ev.Status == StatusFailed {
		typ = eventbus.PublicationFailed
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
	}
	return sum, nil
}

// Cancel stops a pending publication. Valid only while the status is still
// scheduled; cancelling anything later is rejected.
func (s *Service) Cancel(id string) error {
	s.mu.Lock()
	p := s.pubs[id]
	if p == nil {
		s.mu.Unlock()
		return fmt.Errorf("cancel %s: %w", id, ErrNotFound)
	}
	if !p.Status.validNext(StatusCancelled) {
		st := p.Status
		s.mu.Unlock()
		return fmt.Errorf("cancel %s: %w: status is %s", id, ErrInvalidState, st)
	}
	p.Status = StatusCancelled
	ev := PublicationEvent{
		PublicationID: id,
		ContentID:     p.ContentID,
		Status:        StatusCancelled,
		Total:         len(p.Channels),
	}
	s.mu.Unlock()

	s.disarmTimer(id)

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.PublicationCancelled, Data: ev})
	}
	s.log.Info("publication cancelled", logx.String("publication", id))
	return nil
}

// Status returns a copy of one publication.
func (s *Service) Status(id string) (Publication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pubs[id]
	if p == nil {
		return Publication{}, fmt.Errorf("publication %s: %w", id, ErrNotFound)
	}
	return copyPublication(p), nil
}

// List returns copies of all publications, newest first.
func (s *Service) List() []Publication {
	s.mu.Lock()
	out := make([]Publication, 0, len(s.pubs))
	for _, p := range s.pubs {
		out = append(out, copyPublication(p))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// resolveChannels filters the requested channels down to active ones on
// enabled platforms.
func (s *Service) resolveChannels(channels []Channel) ([]Channel, error) {
	if len(channels) == 0 {
		return nil, ErrNoChannels
	}

	s.mu.Lock()
	enabled := s.cfg.EnabledPlatforms
	s.mu.Unlock()

	allowed := func(platform string) bool {
		if len(enabled) == 0 {
			return true
		}
		for _, p := range enabled {
			if strings.EqualFold(p, platform) {
				return true
			}
		}
		return false
	}

	out := make([]Channel, 0, len(channels))
	for _, ch := range channels {
		if ch.ID == "" || !ch.Active || !allowed(ch.Platform) {
			continue
		}
		out = append(out, ch)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no active channels on enabled platforms", ErrNoChannels)
	}
	return out, nil
}

func copyPublication(p *Publication) Publication {
	cp := *p
	cp.Channels = append([]Channel(nil), p.Channels...)
	if len(p.Results) > 0 {
		cp.Results = make(map[string]ChannelResult, len(p.Results))
		for k, v := range p.Results {
			cp.Results[k] = v
		}
	}
	if len(p.Metadata) > 0 {
		cp.Metadata = make(map[string]any, len(p.Metadata))
		for k, v := range p.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}
