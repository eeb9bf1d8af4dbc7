package publisher

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("publication not found")
	ErrInvalidState = errors.New("invalid publication state transition")
	ErrNotPublished = errors.New("publication is not published")
	ErrNoChannels   = errors.New("no usable channels")
	ErrNoPublisher  = errors.New("no publisher registered for platform")
	ErrDailyLimit   = errors.New("daily post limit reached")
	ErrStopped      = errors.New("publication service stopped")
)

// RateLimit caps posts per platform.
type RateLimit struct {
	PostsPerHour int
	PostsPerDay  int
}

// Config controls the publication service.
type Config struct {
	Enabled          bool
	Workers          int           // concurrent publication jobs (default 4)
	RetryAttempts    int           // per-channel publish retries (default 2)
	RetryDelay       time.Duration // base delay between channel retries (default 2s)
	DefaultTimezone  string
	EnabledPlatforms []string // empty means all platforms allowed
	Retention        time.Duration // terminal record retention (default 168h)
	RateLimits       map[string]RateLimit
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RetryAttempts < 0 {
		c.RetryAttempts = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.Retention <= 0 {
		c.Retention = 7 * 24 * time.Hour
	}
	return c
}

// Content is the payload being published. The body is opaque to this
// package; platform adapters decide how to render it.
type Content struct {
	ID          string   `json:"id"`
	WorkspaceID string   `json:"workspace_id"`
	Body        string   `json:"body"`
	MediaURLs   []string `json:"media_urls,omitempty"`
	Hashtags    []string `json:"hashtags,omitempty"`
}

// ChannelSettings are optional per-channel publishing preferences.
type ChannelSettings struct {
	AutoPost        bool     `json:"auto_post"`
	DefaultHashtags []string `json:"default_hashtags,omitempty"`
	ContentFilters  []string `json:"content_filters,omitempty"`
}

// Channel is a configured target account on an external platform.
//
// Credentials are an opaque blob owned by the secrets collaborator; they are
// never logged or persisted by this package.
type Channel struct {
	ID          string            `json:"id"`
	Platform    string            `json:"platform"`
	AccountID   string            `json:"account_id"`
	AccountName string            `json:"account_name,omitempty"`
	Active      bool              `json:"active"`
	Credentials map[string]string `json:"-"`
	Settings    *ChannelSettings  `json:"settings,omitempty"`
}

// Status is the publication lifecycle state.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusPublishing Status = "publishing"
	StatusPublished  Status = "published"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusPublished || s == StatusFailed || s == StatusCancelled
}

func (s Status) validNext(n Status) bool {
	switch s {
	case StatusScheduled:
		return n == StatusPublishing || n == StatusCancelled
	case StatusPublishing:
		return n == StatusPublished || n == StatusFailed
	default:
		return false
	}
}

// ChannelResult is the outcome of a single channel publish attempt.
type ChannelResult struct {
	Success   bool      `json:"success"`
	Platform  string    `json:"platform"`
	ChannelID string    `json:"channel_id"`
	PostID    string    `json:"post_id,omitempty"`
	PostURL   string    `json:"post_url,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publication is one scheduled (or immediate) publish fan-out. Owned by the
// Service; callers only ever see copies.
type Publication struct {
	ID          string                   `json:"id"`
	ContentID   string                   `json:"content_id"`
	WorkspaceID string                   `json:"workspace_id"`
	Channels    []Channel                `json:"channels"`
	ScheduledAt time.Time                `json:"scheduled_at"`
	Status      Status                   `json:"status"`
	RetryCount  int                      `json:"retry_count"`
	CreatedAt   time.Time                `json:"created_at"`
	PublishedAt time.Time                `json:"published_at,omitzero"`
	LastError   string                   `json:"last_error,omitempty"`
	Results     map[string]ChannelResult `json:"results,omitempty"`
	Metadata    map[string]any           `json:"metadata,omitempty"`

	content Content
}

// Summary aggregates one fan-out.
type Summary struct {
	PublicationID      string                   `json:"publication_id"`
	TotalChannels      int                      `json:"total_channels"`
	SuccessfulChannels int                      `json:"successful_channels"`
	FailedChannels     int                      `json:"failed_channels"`
	Results            map[string]ChannelResult `json:"results"`
}

// ScheduleResult is returned by SchedulePublication.
type ScheduleResult struct {
	Success       bool      `json:"success"`
	PublicationID string    `json:"publication_id,omitempty"`
	Channels      []string  `json:"channels,omitempty"` // resolved channel ids
	ScheduledAt   time.Time `json:"scheduled_at,omitzero"`
	Message       string    `json:"message,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// ChannelEngagement is one channel's engagement snapshot.
type ChannelEngagement struct {
	Platform    string `json:"platform"`
	Impressions int64  `json:"impressions"`
	Clicks      int64  `json:"clicks"`
	Shares      int64  `json:"shares"`
	Comments    int64  `json:"comments"`
	Likes       int64  `json:"likes"`
}

// EngagementMetrics is a point-in-time aggregate across all channels of a
// publication.
type EngagementMetrics struct {
	Reach           int64                        `json:"reach"`
	Impressions     int64                        `json:"impressions"`
	Engagements     int64                        `json:"engagements"`
	Clicks          int64                        `json:"clicks"`
	Shares          int64                        `json:"shares"`
	Comments        int64                        `json:"comments"`
	Likes           int64                        `json:"likes"`
	EngagementRate  float64                      `json:"engagement_rate"`
	PlatformMetrics map[string]ChannelEngagement `json:"platform_metrics"` // keyed by channel id
	FetchedAt       time.Time                    `json:"fetched_at"`
}

// ChannelPublisher is the per-platform publishing collaborator.
type ChannelPublisher interface {
	Publish(ctx context.Context, content Content, ch Channel) (ChannelResult, error)
	FetchEngagement(ctx context.Context, ch Channel, postID string) (ChannelEngagement, error)
}

// PublicationEvent is emitted on the event bus for publication lifecycle
// events.
type PublicationEvent struct {
	PublicationID string `json:"publication_id"`
	ContentID     string `json:"content_id"`
	Status        Status `json:"status"`
	Total         int    `json:"total"`
	Successful    int    `json:"successful"`
	Failed        int    `json:"failed"`
	Error         string `json:"error,omitempty"`
}
