package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"pubflow/internal/eventbus"
	"pubflow/pkg/logx"
)

// fakeChannelPublisher fails channels listed in failIDs and serves canned
// engagement numbers per channel id.
type fakeChannelPublisher struct {
	mu         sync.Mutex
	failIDs    map[string]bool
	calls      map[string]int
	engagement map[string]ChannelEngagement
	engErr     map[string]error
}

func newFakePublisher() *fakeChannelPublisher {
	return &fakeChannelPublisher{
		failIDs:    map[string]bool{},
		calls:      map[string]int{},
		engagement: map[string]ChannelEngagement{},
		engErr:     map[string]error{},
	}
}

func (f *fakeChannelPublisher) Publish(_ context.Context, _ Content, ch Channel) (ChannelResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[ch.ID]++
	if f.failIDs[ch.ID] {
		return ChannelResult{}, fmt.Errorf("channel %s rejected the post", ch.ID)
	}
	return ChannelResult{
		Success: true,
		PostID:  "post-" + ch.ID,
		PostURL: "https://example.test/" + ch.ID,
	}, nil
}

func (f *fakeChannelPublisher) FetchEngagement(_ context.Context, ch Channel, _ string) (ChannelEngagement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.engErr[ch.ID]; err != nil {
		return ChannelEngagement{}, err
	}
	return f.engagement[ch.ID], nil
}

func (f *fakeChannelPublisher) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func testChannel(id string) Channel {
	return Channel{ID: id, Platform: "telegram", AccountID: "@" + id, Active: true}
}

func newTestService(cfg Config, fp ChannelPublisher) *Service {
	s := New(cfg, logx.Nop(), nil)
	if fp != nil {
		s.RegisterPublisher("telegram", fp)
	}
	return s
}

func TestPublishNowPartialSuccess(t *testing.T) {
	t.Parallel()
	fp := newFakePublisher()
	fp.failIDs["ch-2"] = true
	s := newTestService(Config{Enabled: true, RetryAttempts: 0}, fp)

	content := Content{ID: "c-1", Body: "hello"}
	channels := []Channel{testChannel("ch-1"), testChannel("ch-2"), testChannel("ch-3")}

	sum, err := s.PublishNow(context.Background(), content, channels)
	if err != nil {
		t.Fatalf("PublishNow: %v", err)
	}
	if sum.TotalChannels != 3 || sum.SuccessfulChannels != 2 || sum.FailedChannels != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	for _, id := range []string{"ch-1", "ch-2", "ch-3"} {
		if _, ok := sum.Results[id]; !ok {
			t.Fatalf("no result for %s", id)
		}
	}
	if sum.Results["ch-2"].Success || sum.Results["ch-2"].Error == "" {
		t.Fatalf("ch-2 result = %+v", sum.Results["ch-2"])
	}
	if !sum.Results["ch-1"].Success || sum.Results["ch-1"].PostID != "post-ch-1" {
		t.Fatalf("ch-1 result = %+v", sum.Results["ch-1"])
	}

	p, err := s.Status(sum.PublicationID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if p.Status != StatusPublished || p.PublishedAt.IsZero() {
		t.Fatalf("publication = %+v", p)
	}
}

func TestPublishNowAllChannelsFail(t *testing.T) {
	t.Parallel()
	fp := newFakePublisher()
	fp.failIDs["ch-1"] = true
	s := newTestService(Config{Enabled: true, RetryAttempts: 0}, fp)

	sum, err := s.PublishNow(context.Background(), Content{ID: "c-1"}, []Channel{testChannel("ch-1")})
	if err != nil {
		t.Fatalf("PublishNow: %v", err)
	}
	if sum.SuccessfulChannels != 0 || sum.FailedChannels != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	p, _ := s.Status(sum.PublicationID)
	if p.Status != StatusFailed || p.LastError == "" {
		t.Fatalf("publication = %+v", p)
	}
}

func TestPublishNowEmitsChannelEvents(t *testing.T) {
	t.Parallel()
	fp := newFakePublisher()
	fp.failIDs["ch-2"] = true
	bus := eventbus.New()
	s := New(Config{Enabled: true}, logx.Nop(), bus)
	s.RegisterPublisher("telegram", fp)

	events, unsubscribe := bus.Subscribe(32)
	defer unsubscribe()

	if _, err := s.PublishNow(context.Background(), Content{ID: "c-1"}, []Channel{testChannel("ch-1"), testChannel("ch-2")}); err != nil {
		t.Fatalf("PublishNow: %v", err)
	}

	// One event per channel, success mirroring the per-channel outcome.
	got := map[string]bool{}
	deadline := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-events:
			if ev.Type != eventbus.PublicationChannel {
				continue
			}
			res, ok := ev.Data.(ChannelResult)
			if !ok {
				t.Fatalf("event data = %T", ev.Data)
			}
			if res.Platform != "telegram" {
				t.Fatalf("platform = %q", res.Platform)
			}
			got[res.ChannelID] = res.Success
		case <-deadline:
			t.Fatalf("saw %d channel events, want 2", len(got))
		}
	}
	if !got["ch-1"] || got["ch-2"] {
		t.Fatalf("channel outcomes = %v", got)
	}
}

func TestPublishNowRetriesChannel(t *testing.T) {
	t.Parallel()
	fp := newFakePublisher()
	fp.failIDs["ch-1"] = true
	s := newTestService(Config{Enabled: true, RetryAttempts: 2, RetryDelay: time.Millisecond}, fp)

	if _, err := s.PublishNow(context.Background(), Content{ID: "c-1"}, []Channel{testChannel("ch-1")}); err != nil {
		t.Fatalf("PublishNow: %v", err)
	}
	if got := fp.callCount("ch-1"); got != 3 {
		t.Fatalf("publish attempts = %d, want 3", got)
	}
}

func TestPublishNowUnregisteredPlatform(t *testing.T) {
	t.Parallel()
	s := newTestService(Config{Enabled: true}, nil)

	ch := Channel{ID: "ch-x", Platform: "mastodon", Active: true}
	sum, err := s.PublishNow(context.Background(), Content{ID: "c-1"}, []Channel{ch})
	if err != nil {
		t.Fatalf("PublishNow: %v", err)
	}
	res := sum.Results["ch-x"]
	if res.Success || !strings.Contains(res.Error, ErrNoPublisher.Error()) {
		t.Fatalf("result = %+v", res)
	}
}

func TestResolveChannels(t *testing.T) {
	t.Parallel()
	s := newTestService(Config{Enabled: true, EnabledPlatforms: []string{"Telegram"}}, newFakePublisher())

	if _, err := s.PublishNow(context.Background(), Content{}, nil); !errors.Is(err, ErrNoChannels) {
		t.Fatalf("empty channels err = %v", err)
	}

	inactive := testChannel("ch-1")
	inactive.Active = false
	if _, err := s.PublishNow(context.Background(), Content{}, []Channel{inactive}); !errors.Is(err, ErrNoChannels) {
		t.Fatalf("inactive channel err = %v", err)
	}

	other := Channel{ID: "ch-b", Platform: "bluesky", Active: true}
	if _, err := s.PublishNow(context.Background(), Content{}, []Channel{other}); !errors.Is(err, ErrNoChannels) {
		t.Fatalf("disallowed platform err = %v", err)
	}

	// Platform matching is case-insensitive.
	sum, err := s.PublishNow(context.Background(), Content{ID: "c"}, []Channel{testChannel("ch-1"), other})
	if err != nil {
		t.Fatalf("PublishNow: %v", err)
	}
	if sum.TotalChannels != 1 {
		t.Fatalf("TotalChannels = %d, want 1 after filtering", sum.TotalChannels)
	}
}

func TestSchedulePublicationValidation(t *testing.T) {
	t.Parallel()
	s := newTestService(Config{Enabled: true}, newFakePublisher())

	res := s.SchedulePublication(Content{ID: "c"}, nil, time.Now().Add(time.Hour))
	if res.Success || !strings.Contains(res.Error, ErrNoChannels.Error()) {
		t.Fatalf("result = %+v", res)
	}

	res = s.SchedulePublication(Content{ID: "c"}, []Channel{testChannel("ch-1")}, time.Time{})
	if res.Success || !strings.Contains(res.Error, "scheduled time is required") {
		t.Fatalf("result = %+v", res)
	}
}

func TestScheduleAndCancel(t *testing.T) {
	t.Parallel()
	s := newTestService(Config{Enabled: true}, newFakePublisher())

	at := time.Now().Add(time.Hour)
	res := s.SchedulePublication(Content{ID: "c"}, []Channel{testChannel("ch-1")}, at)
	if !res.Success || res.PublicationID == "" {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Channels) != 1 || res.Channels[0] != "ch-1" {
		t.Fatalf("Channels = %v", res.Channels)
	}

	p, err := s.Status(res.PublicationID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if p.Status != StatusScheduled || !p.ScheduledAt.Equal(at) {
		t.Fatalf("publication = %+v", p)
	}

	if err := s.Cancel(res.PublicationID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	p, _ = s.Status(res.PublicationID)
	if p.Status != StatusCancelled {
		t.Fatalf("status = %s after cancel", p.Status)
	}

	// Second cancel is rejected; the record is already terminal.
	if err := s.Cancel(res.PublicationID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second Cancel = %v, want ErrInvalidState", err)
	}
	if err := s.Cancel("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Cancel missing = %v, want ErrNotFound", err)
	}
}

func TestScheduledPublicationFires(t *testing.T) {
	t.Parallel()
	fp := newFakePublisher()
	s := newTestService(Config{Enabled: true, Workers: 2, RetryAttempts: 0}, fp)

	s.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	}()

	res := s.SchedulePublication(Content{ID: "c", Body: "soon"},
		[]Channel{testChannel("ch-1")}, time.Now().Add(30*time.Millisecond))
	if !res.Success {
		t.Fatalf("schedule failed: %s", res.Error)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		p, err := s.Status(res.PublicationID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if p.Status == StatusPublished {
			if !p.Results["ch-1"].Success {
				t.Fatalf("result = %+v", p.Results["ch-1"])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("publication never published, status %s", p.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCancelBeatsTrigger(t *testing.T) {
	t.Parallel()
	fp := newFakePublisher()
	s := newTestService(Config{Enabled: true, Workers: 1}, fp)

	s.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	}()

	res := s.SchedulePublication(Content{ID: "c"}, []Channel{testChannel("ch-1")}, time.Now().Add(200*time.Millisecond))
	if err := s.Cancel(res.PublicationID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	time.Sleep(400 * time.Millisecond)
	p, _ := s.Status(res.PublicationID)
	if p.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", p.Status)
	}
	if fp.callCount("ch-1") != 0 {
		t.Fatal("cancelled publication still published")
	}
}

func TestDailyLimit(t *testing.T) {
	t.Parallel()
	fp := newFakePublisher()
	s := newTestService(Config{
		Enabled:       true,
		RetryAttempts: 0,
		RateLimits:    map[string]RateLimit{"telegram": {PostsPerDay: 1}},
	}, fp)

	sum, err := s.PublishNow(context.Background(), Content{ID: "c-1"}, []Channel{testChannel("ch-1")})
	if err != nil || sum.SuccessfulChannels != 1 {
		t.Fatalf("first publish: sum=%+v err=%v", sum, err)
	}

	sum, err = s.PublishNow(context.Background(), Content{ID: "c-2"}, []Channel{testChannel("ch-1")})
	if err != nil {
		t.Fatalf("second publish: %v", err)
	}
	res := sum.Results["ch-1"]
	if res.Success || !strings.Contains(res.Error, ErrDailyLimit.Error()) {
		t.Fatalf("result = %+v", res)
	}
}

func TestListNewestFirst(t *testing.T) {
	t.Parallel()
	s := newTestService(Config{Enabled: true}, newFakePublisher())

	first := s.SchedulePublication(Content{ID: "c-1"}, []Channel{testChannel("ch-1")}, time.Now().Add(time.Hour))
	time.Sleep(5 * time.Millisecond)
	second := s.SchedulePublication(Content{ID: "c-2"}, []Channel{testChannel("ch-1")}, time.Now().Add(time.Hour))

	list := s.List()
	if len(list) != 2 {
		t.Fatalf("List has %d entries", len(list))
	}
	if list[0].ID != second.PublicationID || list[1].ID != first.PublicationID {
		t.Fatalf("order = %s, %s", list[0].ID, list[1].ID)
	}
}
