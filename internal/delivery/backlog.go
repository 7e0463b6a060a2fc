package delivery

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	json "github.com/goccy/go-json"

	"github.com/austindbirch/hookrelay/internal/logging"
	"github.com/austindbirch/hookrelay/internal/metrics"
)

// nsqStats is the subset of nsqd's /stats?format=json we read.
type nsqStats struct {
	Topics []struct {
		Name     string `json:"topic_name"`
		Channels []struct {
			Name  string `json:"channel_name"`
			Depth int64  `json:"depth"`
		} `json:"channels"`
	} `json:"topics"`
}

// BacklogMonitor polls nsqd and exports channel depths of the deliveries topic.
type BacklogMonitor struct {
	statsURL string
	topic    string
	channel  string
	interval time.Duration
	client   *http.Client
	logger   *logging.Logger
}

func NewBacklogMonitor(nsqdHTTPAddr, topic, channel string, interval time.Duration, logger *logging.Logger) *BacklogMonitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &BacklogMonitor{
		statsURL: fmt.Sprintf("http://%s/stats?format=json&topic=%s", nsqdHTTPAddr, url.QueryEscape(topic)),
		topic:    topic,
		channel:  channel,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
	}
}

// Run polls until ctx is cancelled
func (b *BacklogMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		if err := b.Poll(ctx); err != nil {
			b.logger.Plain().WithError(err).Error("Failed to get NSQ stats")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Poll fetches stats once and updates the backlog gauges
func (b *BacklogMonitor) Poll(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.statsURL, nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("nsqd stats: status %d", resp.StatusCode)
	}

	var stats nsqStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return fmt.Errorf("decode nsqd stats: %w", err)
	}

	for _, topic := range stats.Topics {
		if topic.Name != b.topic {
			continue
		}
		for _, ch := range topic.Channels {
			if ch.Name == b.channel {
				metrics.UpdateWorkerBacklog(float64(ch.Depth))
			}
			metrics.UpdateNSQTopicDepth(topic.Name, ch.Name, float64(ch.Depth))
		}
	}
	return nil
}
