package publisher

import (
	"context"
	"fmt"
	"time"

	"pubflow/pkg/logx"
)

// TrackEngagement fetches engagement for every successfully published
// channel of a publication and returns the aggregate. Only published
// publications can be tracked.
func (s *Service) TrackEngagement(ctx context.Context, id string) (EngagementMetrics, error) {
	s.mu.Lock()
	p := s.pubs[id]
	if p == nil {
		s.mu.Unlock()
		return EngagementMetrics{}, fmt.Errorf("track %s: %w", id, ErrNotFound)
	}
	if p.Status != StatusPublished {
		st := p.Status
		s.mu.Unlock()
		return EngagementMetrics{}, fmt.Errorf("track %s: %w: status is %s", id, ErrNotPublished, st)
	}
	channels := append([]Channel(nil), p.Channels...)
	results := make(map[string]ChannelResult, len(p.Results))
	for k, v := range p.Results {
		results[k] = v
	}
	s.mu.Unlock()

	m := EngagementMetrics{
		PlatformMetrics: map[string]ChannelEngagement{},
		FetchedAt:       time.Now(),
	}

	for _, ch := range channels {
		res, ok := results[ch.ID]
		if !ok || !res.Success {
			continue
		}
		pub, found := s.publisherFor(ch.Platform)
		if !found {
			s.log.Warn("no publisher for engagement fetch",
				logx.String("channel", ch.ID),
				logx.String("platform", ch.Platform))
			continue
		}
		eng, err := pub.FetchEngagement(ctx, ch, res.PostID)
		if err != nil {
			s.log.Warn("engagement fetch failed",
				logx.String("publication", id),
				logx.String("channel", ch.ID),
				logx.String("platform", ch.Platform),
				logx.Err(err))
			continue
		}
		if eng.Platform == "" {
			eng.Platform = ch.Platform
		}
		m.PlatformMetrics[ch.ID] = eng
		m.Impressions += eng.Impressions
		m.Clicks += eng.Clicks
		m.Shares += eng.Shares
		m.Comments += eng.Comments
		m.Likes += eng.Likes
	}

	m.Reach = m.Impressions
	m.Engagements = m.Likes + m.Comments + m.Shares + m.Clicks
	if m.Impressions > 0 {
		m.EngagementRate = float64(m.Engagements) / float64(m.Impressions)
	}

	s.log.Debug("engagement tracked",
		logx.String("publication", id),
		logx.Int("channels", len(m.PlatformMetrics)),
		logx.Int64("impressions", m.Impressions),
		logx.Int64("engagements", m.Engagements))
	return m, nil
}
