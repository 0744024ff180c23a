// Package seeder generates plausible behavioral traffic and replays it
// through the gateway, for developing dashboards and exercising both
// sinks without real producers.
package seeder

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/driftline-systems/driftline-stack/client"
)

// Config controls how much traffic the seeder generates.
type Config struct {
	GatewayURL       string
	Sessions         int
	EventsPerSession int
	// TimeSpread distributes event timestamps over this window ending
	// now. Zero means real-time stamps.
	TimeSpread time.Duration
	// Channels restricts generation to these channels. Empty means all.
	Channels []string
}

// DefaultConfig returns the default seeding volume.
func DefaultConfig() Config {
	return Config{
		GatewayURL:       "http://localhost:8080",
		Sessions:         20,
		EventsPerSession: 50,
		TimeSpread:       24 * time.Hour,
	}
}

var channelPresets = map[string]func() client.ChannelConfig{
	"web":        client.Web,
	"mobile":     func() client.ChannelConfig { return client.Mobile(randomMobilePlatform()) },
	"chat":       client.Chat,
	"speech":     client.Speech,
	"agent":      client.Agent,
	"gpt_action": client.GPTAction,
}

var channelEventTypes = map[string][]string{
	"web":        {"page_view", "click", "scroll_depth", "search", "media_play", "form_submit"},
	"mobile":     {"screen_view", "tap", "swipe", "app_open", "app_background", "push_open"},
	"chat":       {"message_sent", "message_received", "feedback_up", "feedback_down", "conversation_start"},
	"speech":     {"utterance", "transcript_final", "playback_start", "playback_complete", "wake_word"},
	"agent":      {"task_started", "tool_invoked", "task_completed", "task_failed", "plan_revised"},
	"gpt_action": {"action_invoked", "action_completed", "lookup", "conversation_start"},
}

// Channels lists the channel names the seeder can generate for.
func Channels() []string {
	return []string{"web", "mobile", "chat", "speech", "agent", "gpt_action"}
}

// Runner drives one seeding run.
type Runner struct {
	cfg Config
}

// NewRunner creates a seeder runner.
func NewRunner(cfg Config) *Runner {
	if cfg.Sessions <= 0 {
		cfg.Sessions = 1
	}
	if cfg.EventsPerSession <= 0 {
		cfg.EventsPerSession = 1
	}
	return &Runner{cfg: cfg}
}

// Run generates sessions and sends their events through the gateway.
func (r *Runner) Run(ctx context.Context) error {
	gofakeit.Seed(time.Now().UnixNano())

	channels := r.cfg.Channels
	if len(channels) == 0 {
		channels = Channels()
	}
	for _, name := range channels {
		if _, ok := channelPresets[name]; !ok {
			return fmt.Errorf("unknown channel %q (available: %v)", name, Channels())
		}
	}

	total := r.cfg.Sessions * r.cfg.EventsPerSession
	log.Printf("Seeding %d events across %d sessions (channels: %v, spread: %v)",
		total, r.cfg.Sessions, channels, r.cfg.TimeSpread)

	sent := 0
	failed := 0
	warned := 0

	for s := 0; s < r.cfg.Sessions; s++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		channelName := channels[rand.Intn(len(channels))]
		ok, warn, err := r.runSession(ctx, channelName)
		sent += ok
		warned += warn
		if err != nil {
			log.Printf("Session aborted: %v", err)
			failed += r.cfg.EventsPerSession - ok
		}
	}

	log.Printf("Seeding complete: %d sent, %d failed, %d with warnings", sent, failed, warned)
	if failed > 0 {
		return fmt.Errorf("%d of %d events failed", failed, total)
	}
	return nil
}

// runSession sends one session's worth of events in timestamp order.
func (r *Runner) runSession(ctx context.Context, channelName string) (sent, warned int, err error) {
	c, err := client.New(client.Config{
		GatewayURL:    r.cfg.GatewayURL,
		SessionID:     gofakeit.UUID(),
		UserID:        gofakeit.Username(),
		DeviceID:      gofakeit.UUID(),
		UserAgent:     gofakeit.UserAgent(),
		ClientVersion: gofakeit.AppVersion(),
	}, channelPresets[channelName]())
	if err != nil {
		return 0, 0, err
	}

	now := time.Now().UTC()
	types := channelEventTypes[channelName]

	for i := 0; i < r.cfg.EventsPerSession; i++ {
		if err := ctx.Err(); err != nil {
			return sent, warned, err
		}

		ack, err := c.Track(ctx, types[rand.Intn(len(types))], r.randomTrack(channelName, now, i))
		if err != nil {
			return sent, warned, err
		}
		sent++
		if len(ack.Warnings) > 0 {
			warned++
		}
	}
	return sent, warned, nil
}

// randomTrack fills interaction fields with channel-flavored fakes.
func (r *Runner) randomTrack(channelName string, now time.Time, index int) client.Track {
	t := client.Track{
		ResourceID:    gofakeit.UUID(),
		ResourceTitle: gofakeit.Sentence(4),
		Target:        gofakeit.Word(),
		Metadata: map[string]any{
			"locale": gofakeit.LanguageBCP(),
			"ip":     gofakeit.IPv4Address(),
		},
	}

	switch channelName {
	case "chat", "gpt_action":
		t.Text = gofakeit.Sentence(10)
	case "speech":
		t.Text = gofakeit.Sentence(8)
		v := float64(gofakeit.Number(1, 30))
		t.Value = &v
	case "web", "mobile":
		v := gofakeit.Float64Range(0, 100)
		t.Value = &v
	}

	if r.cfg.TimeSpread > 0 {
		t.Timestamp = r.eventTime(now, index).Format("2006-01-02T15:04:05.000Z")
	}
	return t
}

// eventTime spreads timestamps backwards over the window with jitter,
// keeping them monotonic per session.
func (r *Runner) eventTime(now time.Time, index int) time.Time {
	baseInterval := float64(r.cfg.TimeSpread) / float64(r.cfg.EventsPerSession)
	offset := time.Duration(float64(index) * baseInterval)
	jitter := time.Duration(rand.Float64() * baseInterval * 0.4)

	at := now.Add(-r.cfg.TimeSpread + offset + jitter)
	if at.After(now) {
		at = now
	}
	return at
}

func randomMobilePlatform() string {
	if rand.Intn(2) == 0 {
		return "ios"
	}
	return "android"
}
