package publisher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"pubflow/internal/eventbus"
	"pubflow/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan string, idx int) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case id := <-queue:
			s.execPublication(ctx, id)
		}
	}
}

// execPublication runs the fan-out for one fired publication.
func (s *Service) execPublication(ctx context.Context, id string) {
	start := time.Now()

	s.mu.Lock()
	p := s.pubs[id]
	if p == nil || !p.Status.validNext(StatusPublishing) {
		// Cancelled (or already handled) between fire and dequeue.
		s.mu.Unlock()
		return
	}
	p.Status = StatusPublishing
	content := p.content
	channels := append([]Channel(nil), p.Channels...)
	s.mu.Unlock()

	s.log.Info("publication started",
		logx.String("publication", id),
		logx.String("content", content.ID),
		logx.Int("channels", len(channels)))

	sum := s.fanOut(ctx, id, content, channels)

	now := time.Now()
	s.mu.Lock()
	p = s.pubs[id]
	if p == nil {
		s.mu.Unlock()
		return
	}
	p.Results = sum.Results
	p.PublishedAt = now
	var next Status
	if sum.SuccessfulChannels > 0 {
		next = StatusPublished
		p.LastError = ""
	} else {
		next = StatusFailed
		p.LastError = firstError(sum)
	}
	if p.Status.validNext(next) {
		p.Status = next
	}
	ev := PublicationEvent{
		PublicationID: id,
		ContentID:     content.ID,
		Status:        p.Status,
		Total:         sum.TotalChannels,
		Successful:    sum.SuccessfulChannels,
		Failed:        sum.FailedChannels,
		Error:         p.LastError,
	}
	s.mu.Unlock()

	s.disarmTimer(id)

	typ := eventbus.PublicationPublished
	if ev.Status == StatusFailed {
		typ = eventbus.PublicationFailed
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
	}

	fields := []logx.Field{
		logx.String("publication", id),
		logx.Int("total", sum.TotalChannels),
		logx.Int("ok", sum.SuccessfulChannels),
		logx.Int("failed", sum.FailedChannels),
		logx.Duration("dur", time.Since(start)),
	}
	if ev.Status == StatusFailed {
		s.log.Warn("publication failed on all channels", fields...)
	} else if sum.FailedChannels > 0 {
		s.log.Warn("publication finished with channel failures", fields...)
	} else {
		s.log.Info("publication finished", fields...)
	}
}

// fanOut publishes to every channel independently and aggregates the
// per-channel results. Results are keyed strictly by the publication's own
// channel ids.
func (s *Service) fanOut(ctx context.Context, pubID string, content Content, channels []Channel) Summary {
	sum := Summary{
		PublicationID: pubID,
		TotalChannels: len(channels),
		Results:       make(map[string]ChannelResult, len(channels)),
	}

	var wg sync.WaitGroup
	var resMu sync.Mutex
	wg.Add(len(channels))
	for _, ch := range channels {
		ch := ch
		go func() {
			defer wg.Done()
			res := s.publishChannel(ctx, content, ch)
			resMu.Lock()
			sum.Results[ch.ID] = res
			if res.Success {
				sum.SuccessfulChannels++
			} else {
				sum.FailedChannels++
			}
			resMu.Unlock()
		}()
	}
	wg.Wait()

	if s.bus != nil {
		for _, res := range sum.Results {
			s.bus.Publish(eventbus.Event{Type: eventbus.PublicationChannel, Data: res})
		}
	}
	return sum
}

// publishChannel performs one channel publish with rate limiting and
// retries. It never returns an error: failures become an unsuccessful
// ChannelResult so one channel cannot abort the fan-out.
func (s *Service) publishChannel(ctx context.Context, content Content, ch Channel) ChannelResult {
	fail := func(err error) ChannelResult {
		return ChannelResult{
			Success:   false,
			Platform:  ch.Platform,
			ChannelID: ch.ID,
			Error:     err.Error(),
			Timestamp: time.Now(),
		}
	}

	pub, ok := s.publisherFor(ch.Platform)
	if !ok {
		return fail(fmt.Errorf("%w: %s", ErrNoPublisher, ch.Platform))
	}

	if err := s.waitRateLimit(ctx, ch.Platform); err != nil {
		return fail(err)
	}

	s.mu.Lock()
	retries := s.cfg.RetryAttempts
	delay := s.cfg.RetryDelay
	s.mu.Unlock()

	var res ChannelResult
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		res, err = pub.Publish(ctx, content, ch)
		if err == nil && res.Success {
			break
		}
		if attempt == retries {
			break
		}
		d := delay * time.Duration(attempt+1)
		s.log.Debug("channel publish retry scheduled",
			logx.String("channel", ch.ID),
			logx.String("platform", ch.Platform),
			logx.Int("attempt", attempt+2),
			logx.Duration("delay", d),
			logx.Err(err))
		tmr := time.NewTimer(d)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return fail(ctx.Err())
		case <-tmr.C:
		}
	}
	if err != nil {
		s.log.Warn("channel publish failed",
			logx.String("channel", ch.ID),
			logx.String("platform", ch.Platform),
			logx.Err(err))
		return fail(err)
	}

	// Normalize adapter results.
	res.Platform = ch.Platform
	res.ChannelID = ch.ID
	if res.Timestamp.IsZero() {
		res.Timestamp = time.Now()
	}
	if res.Success {
		s.noteDailyPost(ch.Platform)
	}
	return res
}

// waitRateLimit enforces the per-platform posting limits: the daily counter
// rejects outright, the hourly limiter paces.
func (s *Service) waitRateLimit(ctx context.Context, platform string) error {
	platform = strings.ToLower(platform)

	s.mu.Lock()
	rl, hasLimits := s.cfg.RateLimits[platform]
	s.mu.Unlock()

	if hasLimits && rl.PostsPerDay > 0 {
		s.rlMu.Lock()
		dc := s.daily[platform]
		today := time.Now().Format("2006-01-02")
		if dc == nil || dc.day != today {
			dc = &dailyCounter{day: today}
			s.daily[platform] = dc
		}
		over := dc.count >= rl.PostsPerDay
		s.rlMu.Unlock()
		if over {
			return fmt.Errorf("%w: %s (%d/day)", ErrDailyLimit, platform, rl.PostsPerDay)
		}
	}

	s.rlMu.Lock()
	lim := s.limiters[platform]
	s.rlMu.Unlock()
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) noteDailyPost(platform string) {
	platform = strings.ToLower(platform)
	s.rlMu.Lock()
	dc := s.daily[platform]
	today := time.Now().Format("2006-01-02")
	if dc == nil || dc.day != today {
		dc = &dailyCounter{day: today}
		s.daily[platform] = dc
	}
	dc.count++
	s.rlMu.Unlock()
}

func firstError(sum Summary) string {
	for _, r := range sum.Results {
		if !r.Success && r.Error != "" {
			return r.Error
		}
	}
	return "all channels failed"
}
