// Package notify publishes gate decisions to downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"pullback/internal/feature"
	"pullback/internal/signal"
)

// Notifier delivers decisions
type Notifier interface {
	Notify(ctx context.Context, env Envelope) error
	Close()
}

// StateExit marks the close of a previously published buy
const StateExit = "EXIT"

// Envelope is the published payload
type Envelope struct {
	Symbol      string          `json:"symbol"`
	Time        time.Time       `json:"time"`
	State       string          `json:"state"`
	SignalType  string          `json:"signal_type"`
	Confidence  float64         `json:"confidence"`
	Threshold   float64         `json:"threshold,omitempty"`
	EntryPrice  float64         `json:"entry_price,omitempty"`
	Reasons     []string        `json:"reasons"`
	Features    *feature.Vector `json:"features,omitempty"`
	WinProb     *float64        `json:"win_prob,omitempty"`
	ExitReason  string          `json:"exit_reason,omitempty"`
	ExitPrice   float64         `json:"exit_price,omitempty"`
	ProfitPct   float64         `json:"profit_pct,omitempty"`
	PublishedAt time.Time       `json:"published_at"`
}

// NewEnvelope builds the payload for d
func NewEnvelope(d *signal.Decision) Envelope {
	env := Envelope{
		Symbol:      d.Symbol,
		Time:        d.Time,
		State:       string(d.State),
		SignalType:  string(d.SignalType),
		Confidence:  d.Confidence,
		Threshold:   d.Threshold,
		Reasons:     d.Reasons,
		Features:    d.Features,
		PublishedAt: time.Now(),
	}
	if d.EntryPrice != nil {
		env.EntryPrice = *d.EntryPrice
	}
	return env
}

// Config holds the JetStream publisher settings
type Config struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	StreamName    string        `yaml:"stream"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	MaxAge        time.Duration `yaml:"max_age"`
}

// DefaultConfig returns local defaults with publishing disabled
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		StreamName:    "PULLBACK",
		SubjectPrefix: "pullback.decisions",
		RetryAttempts: 3,
		RetryDelay:    time.Second,
		MaxAge:        7 * 24 * time.Hour,
	}
}

// Subject returns the subject a decision state is published on
func (c Config) Subject(state string) string {
	return c.SubjectPrefix + "." + strings.ToLower(state)
}

// JetStream publishes decisions to a NATS JetStream stream
type JetStream struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	cfg Config
	log zerolog.Logger
}

// NewJetStream connects and makes sure the stream exists
func NewJetStream(ctx context.Context, cfg Config, log zerolog.Logger) (*JetStream, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("pullback"),
		nats.Timeout(2*time.Second),
		nats.MaxReconnects(cfg.RetryAttempts),
		nats.ReconnectWait(cfg.RetryDelay),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.StreamName,
		Subjects:  []string{cfg.SubjectPrefix + ".>"},
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
		MaxAge:    cfg.MaxAge,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	return &JetStream{
		nc:  nc,
		js:  js,
		cfg: cfg,
		log: log.With().Str("component", "notify").Logger(),
	}, nil
}

// Notify publishes env. The message ID deduplicates repeated evaluations
// of the same bar.
func (j *JetStream) Notify(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode decision: %w", err)
	}

	subject := j.cfg.Subject(env.State)
	msgID := fmt.Sprintf("%s-%d-%s", env.Symbol, env.Time.Unix(), env.State)
	if _, err := j.js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID)); err != nil {
		return fmt.Errorf("failed to publish decision: %w", err)
	}

	j.log.Debug().Str("subject", subject).Str("symbol", env.Symbol).Msg("decision published")
	return nil
}

// IsConnected reports whether the NATS connection is up
func (j *JetStream) IsConnected() bool {
	return j.nc != nil && j.nc.IsConnected()
}

// Close drains the connection
func (j *JetStream) Close() {
	if j.nc != nil {
		j.nc.Close()
	}
}

// Nop discards every decision
type Nop struct{}

func (Nop) Notify(context.Context, Envelope) error { return nil }
func (Nop) Close()                                {}

// Recorder keeps published envelopes in memory
type Recorder struct {
	mu        sync.Mutex
	envelopes []Envelope
}

func (r *Recorder) Notify(_ context.Context, env Envelope) error {
	r.mu.Lock()
	r.envelopes = append(r.envelopes, env)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Close() {}

// Envelopes returns a copy of what was recorded
func (r *Recorder) Envelopes() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Envelope(nil), r.envelopes...)
}

// Filtered forwards only envelopes accepted by Keep
type Filtered struct {
	Next Notifier
	Keep func(Envelope) bool
}

func (f Filtered) Notify(ctx context.Context, env Envelope) error {
	if f.Keep != nil && !f.Keep(env) {
		return nil
	}
	return f.Next.Notify(ctx, env)
}

func (f Filtered) Close() { f.Next.Close() }

// BuysOnly keeps buy signals and their exits
func BuysOnly(env Envelope) bool {
	return env.State == string(signal.StateBuy) || env.State == StateExit
}

// Connect returns a JetStream notifier when enabled, Nop otherwise. A
// failed connection is logged and also yields Nop.
func Connect(ctx context.Context, cfg Config, log zerolog.Logger) Notifier {
	if !cfg.Enabled {
		return Nop{}
	}
	js, err := NewJetStream(ctx, cfg, log)
	if err != nil {
		log.Warn().Err(err).Str("url", cfg.URL).Msg("decision publishing disabled")
		return Nop{}
	}
	return js
}
