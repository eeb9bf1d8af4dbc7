package publisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"pubflow/pkg/logx"
)

func TestTrackEngagementAggregates(t *testing.T) {
	t.Parallel()
	fp := newFakePublisher()
	fp.failIDs["ch-3"] = true
	fp.engagement["ch-1"] = ChannelEngagement{Impressions: 100, Likes: 10, Comments: 5, Shares: 3, Clicks: 2}
	fp.engagement["ch-2"] = ChannelEngagement{Impressions: 50, Likes: 4, Comments: 1}
	s := newTestService(Config{Enabled: true, RetryAttempts: 0}, fp)

	sum, err := s.PublishNow(context.Background(), Content{ID: "c"},
		[]Channel{testChannel("ch-1"), testChannel("ch-2"), testChannel("ch-3")})
	if err != nil {
		t.Fatalf("PublishNow: %v", err)
	}

	m, err := s.TrackEngagement(context.Background(), sum.PublicationID)
	if err != nil {
		t.Fatalf("TrackEngagement: %v", err)
	}
	if m.Impressions != 150 || m.Likes != 14 || m.Comments != 6 || m.Shares != 3 || m.Clicks != 2 {
		t.Fatalf("metrics = %+v", m)
	}
	if m.Engagements != 25 || m.Reach != 150 {
		t.Fatalf("metrics = %+v", m)
	}
	if got := m.EngagementRate; got < 0.166 || got > 0.167 {
		t.Fatalf("EngagementRate = %v", got)
	}
	// Only publishing channels are represented; the failed one is skipped.
	if len(m.PlatformMetrics) != 2 {
		t.Fatalf("PlatformMetrics = %+v", m.PlatformMetrics)
	}
	if _, ok := m.PlatformMetrics["ch-3"]; ok {
		t.Fatal("failed channel present in metrics")
	}
	if m.PlatformMetrics["ch-1"].Platform != "telegram" {
		t.Fatalf("platform not filled in: %+v", m.PlatformMetrics["ch-1"])
	}
	if m.FetchedAt.IsZero() {
		t.Fatal("FetchedAt not set")
	}
}

func TestTrackEngagementSkipsFetchErrors(t *testing.T) {
	t.Parallel()
	fp := newFakePublisher()
	fp.engagement["ch-1"] = ChannelEngagement{Impressions: 10}
	fp.engErr["ch-2"] = errors.New("api quota exceeded")
	s := newTestService(Config{Enabled: true, RetryAttempts: 0}, fp)

	sum, err := s.PublishNow(context.Background(), Content{ID: "c"},
		[]Channel{testChannel("ch-1"), testChannel("ch-2")})
	if err != nil {
		t.Fatalf("PublishNow: %v", err)
	}

	m, err := s.TrackEngagement(context.Background(), sum.PublicationID)
	if err != nil {
		t.Fatalf("TrackEngagement: %v", err)
	}
	if m.Impressions != 10 || len(m.PlatformMetrics) != 1 {
		t.Fatalf("metrics = %+v", m)
	}
}

func TestTrackEngagementRequiresPublished(t *testing.T) {
	t.Parallel()
	s := newTestService(Config{Enabled: true}, newFakePublisher())

	if _, err := s.TrackEngagement(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	res := s.SchedulePublication(Content{ID: "c"}, []Channel{testChannel("ch-1")}, time.Now().Add(time.Hour))
	if _, err := s.TrackEngagement(context.Background(), res.PublicationID); !errors.Is(err, ErrNotPublished) {
		t.Fatalf("err = %v, want ErrNotPublished", err)
	}
}

func TestSweepEvictsOldTerminal(t *testing.T) {
	t.Parallel()
	fp := newFakePublisher()
	s := newTestService(Config{Enabled: true, RetryAttempts: 0, Retention: 24 * time.Hour}, fp)

	old, err := s.PublishNow(context.Background(), Content{ID: "old"}, []Channel{testChannel("ch-1")})
	if err != nil {
		t.Fatalf("PublishNow old: %v", err)
	}
	fresh, err := s.PublishNow(context.Background(), Content{ID: "fresh"}, []Channel{testChannel("ch-1")})
	if err != nil {
		t.Fatalf("PublishNow fresh: %v", err)
	}
	pending := s.SchedulePublication(Content{ID: "pending"}, []Channel{testChannel("ch-1")}, time.Now().Add(time.Hour))

	s.mu.Lock()
	s.pubs[old.PublicationID].PublishedAt = time.Now().Add(-25 * time.Hour)
	s.mu.Unlock()

	if n := s.Sweep(time.Now()); n != 1 {
		t.Fatalf("Sweep evicted %d, want 1", n)
	}
	if _, err := s.Status(old.PublicationID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old survived sweep: %v", err)
	}
	if _, err := s.Status(fresh.PublicationID); err != nil {
		t.Fatalf("fresh evicted: %v", err)
	}
	if _, err := s.Status(pending.PublicationID); err != nil {
		t.Fatalf("scheduled evicted: %v", err)
	}
}

func TestSweepLeavesScheduledAlone(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Retention: time.Hour}, logx.Nop(), nil)

	res := s.SchedulePublication(Content{ID: "c"}, []Channel{testChannel("ch-1")}, time.Now().Add(time.Hour))
	if n := s.Sweep(time.Now().Add(48 * time.Hour)); n != 0 {
		t.Fatalf("Sweep evicted %d scheduled publications", n)
	}
	if _, err := s.Status(res.PublicationID); err != nil {
		t.Fatalf("scheduled publication gone: %v", err)
	}
}

func TestSweepDoesNotRefireStuckPublication(t *testing.T) {
	t.Parallel()
	fp := newFakePublisher()
	s := newTestService(Config{Enabled: true, Retention: 24 * time.Hour}, fp)

	// The service is never started, so the overdue trigger fires into a
	// stopped queue and the record stays scheduled.
	res := s.SchedulePublication(Content{ID: "c"}, []Channel{testChannel("ch-1")}, time.Now().Add(-2*time.Minute))
	if !res.Success {
		t.Fatalf("SchedulePublication failed: %s", res.Error)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		s.tmu.Lock()
		armed := len(s.timers)
		s.tmu.Unlock()
		if armed == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("trigger never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if n := s.Sweep(time.Now()); n != 0 {
		t.Fatalf("Sweep evicted %d, want 0", n)
	}
	p, err := s.Status(res.PublicationID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if p.Status != StatusScheduled {
		t.Fatalf("status = %s, want %s", p.Status, StatusScheduled)
	}
	// The sweep reports the miss; it must not arm a fresh trigger.
	s.tmu.Lock()
	rearmed := len(s.timers)
	s.tmu.Unlock()
	if rearmed != 0 {
		t.Fatalf("sweep armed %d triggers", rearmed)
	}
	if fp.callCount("ch-1") != 0 {
		t.Fatalf("channel published %d times, want 0", fp.callCount("ch-1"))
	}
}
