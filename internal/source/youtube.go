package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/niama/aiko/internal/model"
)

// YouTubeConfig configures the live-chat poller.
type YouTubeConfig struct {
	APIKey  string
	VideoID string
	// Interval is the polling period. Zero means 1s.
	Interval time.Duration
}

// YouTube polls the live-chat messages of a live video.
type YouTube struct {
	cfg    YouTubeConfig
	sink   Sink
	client *http.Client

	mu        sync.Mutex
	nameCache map[string]string
}

// NewYouTube returns a poller feeding sink.
func NewYouTube(cfg YouTubeConfig, sink Sink) *YouTube {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &YouTube{
		cfg:       cfg,
		sink:      sink,
		client:    &http.Client{Timeout: 10 * time.Second},
		nameCache: map[string]string{},
	}
}

// Run polls until ctx is cancelled. Errors are absorbed and retried on the
// next tick.
func (y *YouTube) Run(ctx context.Context) error {
	chatID, err := y.liveChatID(ctx)
	if err != nil {
		return fmt.Errorf("resolve live chat id: %w", err)
	}
	log.Info().Str("component", "source.youtube").Str("chat_id", chatID).Msg("live chat poller started")

	ticker := time.NewTicker(y.cfg.Interval)
	defer ticker.Stop()

	var pageToken string
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		next, err := y.poll(ctx, chatID, pageToken)
		if err != nil {
			log.Warn().Err(err).Str("component", "source.youtube").Msg("poll failed")
			continue
		}
		pageToken = next
	}
}

func (y *YouTube) poll(ctx context.Context, chatID, pageToken string) (string, error) {
	q := url.Values{}
	q.Set("liveChatId", chatID)
	q.Set("part", "snippet")
	q.Set("key", y.cfg.APIKey)
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}

	var resp struct {
		NextPageToken string `json:"nextPageToken"`
		Items         []struct {
			Snippet struct {
				DisplayMessage  string `json:"displayMessage"`
				AuthorChannelID string `json:"authorChannelId"`
			} `json:"snippet"`
		} `json:"items"`
	}
	if err := y.getJSON(ctx, "https://www.googleapis.com/youtube/v3/liveChat/messages?"+q.Encode(), &resp); err != nil {
		return pageToken, err
	}

	for _, item := range resp.Items {
		name := y.channelTitle(ctx, item.Snippet.AuthorChannelID)
		y.sink.Offer(ctx, name, model.EventLiveChat, item.Snippet.DisplayMessage)
	}
	return resp.NextPageToken, nil
}

func (y *YouTube) liveChatID(ctx context.Context) (string, error) {
	q := url.Values{}
	q.Set("id", y.cfg.VideoID)
	q.Set("part", "liveStreamingDetails")
	q.Set("key", y.cfg.APIKey)

	var resp struct {
		Items []struct {
			LiveStreamingDetails struct {
				ActiveLiveChatID string `json:"activeLiveChatId"`
			} `json:"liveStreamingDetails"`
		} `json:"items"`
	}
	if err := y.getJSON(ctx, "https://www.googleapis.com/youtube/v3/videos?"+q.Encode(), &resp); err != nil {
		return "", err
	}
	if len(resp.Items) == 0 || resp.Items[0].LiveStreamingDetails.ActiveLiveChatID == "" {
		return "", fmt.Errorf("video %s has no active live chat", y.cfg.VideoID)
	}
	return resp.Items[0].LiveStreamingDetails.ActiveLiveChatID, nil
}

// channelTitle resolves and caches an author's display name. Lookup
// failures fall back to the raw channel id.
func (y *YouTube) channelTitle(ctx context.Context, channelID string) string {
	y.mu.Lock()
	if name, ok := y.nameCache[channelID]; ok {
		y.mu.Unlock()
		return name
	}
	y.mu.Unlock()

	q := url.Values{}
	q.Set("part", "snippet")
	q.Set("id", channelID)
	q.Set("key", y.cfg.APIKey)

	var resp struct {
		Items []struct {
			Snippet struct {
				Title string `json:"title"`
			} `json:"snippet"`
		} `json:"items"`
	}
	if err := y.getJSON(ctx, "https://www.googleapis.com/youtube/v3/channels?"+q.Encode(), &resp); err != nil || len(resp.Items) == 0 {
		log.Warn().Err(err).Str("component", "source.youtube").Str("channel", channelID).Msg("channel lookup failed")
		return channelID
	}

	name := resp.Items[0].Snippet.Title
	y.mu.Lock()
	y.nameCache[channelID] = name
	y.mu.Unlock()
	return name
}

func (y *YouTube) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := y.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
