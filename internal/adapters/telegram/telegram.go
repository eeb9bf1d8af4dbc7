// Package telegram publishes content to Telegram channels through the Bot
// API. The channel's AccountID is the target chat: a numeric chat id or a
// public @username.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"pubflow/internal/publisher"
	"pubflow/pkg/logx"
)

type Config struct {
	Token   string
	Timeout time.Duration // per-call HTTP timeout (default 10s)
}

type Adapter struct {
	cfg Config
	log logx.Logger

	botMu sync.Mutex
	bots  map[string]*tele.Bot // keyed by token
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	a := &Adapter{cfg: cfg, log: log, bots: map[string]*tele.Bot{}}
	if strings.TrimSpace(cfg.Token) != "" {
		if _, err := a.botFor(cfg.Token); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// botFor returns a cached bot for the token, creating it on first use.
// Per-channel credential tokens override the adapter default.
func (a *Adapter) botFor(token string) (*tele.Bot, error) {
	a.botMu.Lock()
	defer a.botMu.Unlock()
	if b, ok := a.bots[token]; ok {
		return b, nil
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Client: &http.Client{Timeout: a.cfg.Timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	a.bots[token] = b
	return b, nil
}

func (a *Adapter) resolve(ch publisher.Channel) (*tele.Bot, error) {
	token := a.cfg.Token
	if t, ok := ch.Credentials["token"]; ok && strings.TrimSpace(t) != "" {
		token = t
	}
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	return a.botFor(token)
}

// recipientFor maps AccountID onto a telebot recipient. Public @usernames
// need a chat lookup.
func recipientFor(b *tele.Bot, accountID string) (tele.Recipient, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, errors.New("account id is empty")
	}
	if strings.HasPrefix(accountID, "@") {
		chat, err := b.ChatByUsername(accountID)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", accountID, err)
		}
		return chat, nil
	}
	id, err := strconv.ParseInt(accountID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("account id %q is not a chat id", accountID)
	}
	return tele.ChatID(id), nil
}

func (a *Adapter) Publish(ctx context.Context, content publisher.Content, ch publisher.Channel) (publisher.ChannelResult, error) {
	b, err := a.resolve(ch)
	if err != nil {
		return publisher.ChannelResult{}, err
	}

	to, err := recipientFor(b, ch.AccountID)
	if err != nil {
		return publisher.ChannelResult{}, err
	}

	text := renderText(content, ch)
	msg, err := b.Send(to, text, &tele.SendOptions{DisableWebPagePreview: len(content.MediaURLs) == 0})
	if err != nil {
		return publisher.ChannelResult{}, fmt.Errorf("telegram send: %w", err)
	}

	a.log.Debug("telegram message sent",
		logx.String("channel", ch.ID),
		logx.String("account", ch.AccountID),
		logx.Int("message_id", msg.ID))

	return publisher.ChannelResult{
		Success:   true,
		Platform:  ch.Platform,
		ChannelID: ch.ID,
		PostID:    strconv.Itoa(msg.ID),
		PostURL:   postURL(msg),
		Timestamp: time.Now(),
	}, nil
}

// FetchEngagement approximates reach from the chat member count. The Bot
// API exposes no per-message analytics.
func (a *Adapter) FetchEngagement(ctx context.Context, ch publisher.Channel, postID string) (publisher.ChannelEngagement, error) {
	b, err := a.resolve(ch)
	if err != nil {
		return publisher.ChannelEngagement{}, err
	}

	eng := publisher.ChannelEngagement{Platform: ch.Platform}

	var chat *tele.Chat
	if strings.HasPrefix(strings.TrimSpace(ch.AccountID), "@") {
		chat, err = b.ChatByUsername(strings.TrimSpace(ch.AccountID))
	} else {
		var id int64
		id, err = strconv.ParseInt(strings.TrimSpace(ch.AccountID), 10, 64)
		if err == nil {
			chat, err = b.ChatByID(id)
		}
	}
	if err != nil {
		return eng, fmt.Errorf("telegram chat lookup: %w", err)
	}

	if n, err := b.Len(chat); err == nil {
		eng.Impressions = int64(n)
	}
	return eng, nil
}

func renderText(content publisher.Content, ch publisher.Channel) string {
	var sb strings.Builder
	sb.WriteString(content.Body)
	tags := content.Hashtags
	if ch.Settings != nil && len(ch.Settings.DefaultHashtags) > 0 {
		tags = append(append([]string(nil), tags...), ch.Settings.DefaultHashtags...)
	}
	if len(tags) > 0 {
		sb.WriteString("\n\n")
		for i, t := range tags {
			if i > 0 {
				sb.WriteByte(' ')
			}
			if !strings.HasPrefix(t, "#") {
				sb.WriteByte('#')
			}
			sb.WriteString(t)
		}
	}
	for _, u := range content.MediaURLs {
		sb.WriteString("\n")
		sb.WriteString(u)
	}
	return sb.String()
}

func postURL(msg *tele.Message) string {
	if msg.Chat == nil || msg.Chat.Username == "" {
		return ""
	}
	return fmt.Sprintf("https://t.me/%s/%d", msg.Chat.Username, msg.ID)
}
