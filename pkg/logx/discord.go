package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// discordSink is a zerolog LevelWriter that forwards log lines to a Discord
// webhook. Delivery is asynchronous: WriteLevel enqueues, a single worker
// goroutine posts. The queue is bounded and drops on overflow so a slow or
// dead webhook never blocks logging.
type discordSink struct {
	mu         sync.Mutex
	webhookURL string
	minLevel   zerolog.Level
	limiter    *rate.Limiter

	queue   chan string
	pending atomic.Int64
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	client *http.Client
}

func newDiscordSink() *discordSink {
	d := &discordSink{
		queue:    make(chan string, 256),
		minLevel: zerolog.WarnLevel,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.worker(ctx)
	}()
	return d
}

func (d *discordSink) apply(cfg DiscordConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !cfg.Enabled {
		d.webhookURL = ""
		return
	}
	d.webhookURL = strings.TrimSpace(cfg.WebhookURL)
	d.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	d.limiter = rate.NewLimiter(rate.Limit(rps), rps)
}

func (d *discordSink) Write(p []byte) (int, error) {
	// Default to info when WriteLevel isn't used.
	return d.WriteLevel(zerolog.InfoLevel, p)
}

func (d *discordSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	d.mu.Lock()
	url := d.webhookURL
	min := d.minLevel
	lim := d.limiter
	d.mu.Unlock()

	if url == "" || level < min {
		return len(p), nil
	}
	if lim != nil && !lim.Allow() {
		return len(p), nil
	}

	msg := formatDiscordMessage(p)
	if msg == "" {
		return len(p), nil
	}

	// Never block core logging.
	d.pending.Add(1)
	select {
	case d.queue <- msg:
	default:
		d.pending.Add(-1)
	}
	return len(p), nil
}

func (d *discordSink) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-d.queue:
			d.post(ctx, msg)
			d.pending.Add(-1)
		}
	}
}

func (d *discordSink) post(ctx context.Context, msg string) {
	d.mu.Lock()
	url := d.webhookURL
	d.mu.Unlock()
	if url == "" {
		return
	}

	body, err := json.Marshal(map[string]string{"content": msg})
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return
	}
	_ = resp.Body.Close()
}

// flush waits until the queue is drained or the timeout elapses.
func (d *discordSink) flush(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for d.pending.Load() > 0 {
		if time.Now().After(deadline) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// close drains with a bounded wait, then cancels the worker.
func (d *discordSink) close(timeout time.Duration) {
	d.flush(timeout)
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func formatDiscordMessage(p []byte) string {
	// Best-effort decode of a zerolog JSON line.
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(p), &m); err != nil {
		s := strings.TrimSpace(string(p))
		return truncate(s, 1900)
	}

	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)
	if msg == "" {
		msg, _ = m["msg"].(string)
	}

	var b strings.Builder
	if lvl != "" {
		b.WriteString("**[")
		b.WriteString(strings.ToUpper(lvl))
		b.WriteString("]** ")
	}
	b.WriteString(msg)

	for k, v := range m {
		if k == "time" || k == "level" || k == "message" || k == "msg" {
			continue
		}
		b.WriteString("\n- ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(truncate(fmt.Sprint(v), 600))
	}

	// Discord caps message content at 2000 characters.
	return truncate(b.String(), 1900)
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}
