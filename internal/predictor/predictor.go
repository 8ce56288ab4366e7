// Package predictor scores feature vectors with the external
// win-probability model and filters buy signals on the result.
package predictor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"pullback/internal/feature"
)

// FallbackProbability is reported when no prediction is available
const FallbackProbability = 0.5

// Predictor returns the probability that a signal wins
type Predictor interface {
	Predict(ctx context.Context, vec feature.Vector) (float64, error)
}

// Func adapts a function to Predictor
type Func func(ctx context.Context, vec feature.Vector) (float64, error)

func (f Func) Predict(ctx context.Context, vec feature.Vector) (float64, error) {
	return f(ctx, vec)
}

// Config holds the model service settings
type Config struct {
	Enabled   bool          `yaml:"enabled"`
	URL       string        `yaml:"url"`
	Subject   string        `yaml:"subject"`
	Timeout   time.Duration `yaml:"timeout"`
	Threshold float64       `yaml:"threshold"`
}

// DefaultConfig returns the defaults. 0.6 is the tuned cutoff of the
// merged model.
func DefaultConfig() Config {
	return Config{
		URL:       nats.DefaultURL,
		Subject:   "pullback.predict",
		Timeout:   2 * time.Second,
		Threshold: 0.6,
	}
}

// Validate checks the settings
func (c Config) Validate() error {
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("predictor threshold must be within [0, 1], got %f", c.Threshold)
	}
	if c.Enabled && c.Subject == "" {
		return errors.New("predictor subject is required")
	}
	return nil
}

type request struct {
	Names    []string           `json:"names"`
	Values   []float64          `json:"values"`
	Features map[string]float64 `json:"features"`
}

type response struct {
	WinProb *float64 `json:"win_prob"`
	Error   string   `json:"error,omitempty"`
}

// NATSPredictor asks the model service over NATS request/reply
type NATSPredictor struct {
	nc      *nats.Conn
	owned   bool
	subject string
	timeout time.Duration
}

// NewNATSPredictor uses an existing connection
func NewNATSPredictor(nc *nats.Conn, cfg Config) *NATSPredictor {
	return &NATSPredictor{nc: nc, subject: cfg.Subject, timeout: cfg.Timeout}
}

// Dial connects to cfg.URL and returns a predictor owning the connection
func Dial(cfg Config) (*NATSPredictor, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("pullback-predictor"), nats.Timeout(cfg.Timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	p := NewNATSPredictor(nc, cfg)
	p.owned = true
	return p, nil
}

// Predict sends the vector and waits for {"win_prob": x}
func (p *NATSPredictor) Predict(ctx context.Context, vec feature.Vector) (float64, error) {
	payload, err := encodeRequest(vec)
	if err != nil {
		return 0, err
	}

	if _, ok := ctx.Deadline(); !ok && p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	msg, err := p.nc.RequestWithContext(ctx, p.subject, payload)
	if err != nil {
		return 0, fmt.Errorf("predict request: %w", err)
	}
	return decodeResponse(msg.Data)
}

// Close closes the connection if the predictor dialed it
func (p *NATSPredictor) Close() {
	if p.owned && p.nc != nil {
		p.nc.Close()
	}
}

func encodeRequest(vec feature.Vector) ([]byte, error) {
	payload, err := json.Marshal(request{Names: feature.Names, Values: vec.Values(), Features: vec.Map()})
	if err != nil {
		return nil, fmt.Errorf("encode features: %w", err)
	}
	return payload, nil
}

func decodeResponse(data []byte) (float64, error) {
	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, fmt.Errorf("decode prediction: %w", err)
	}
	if resp.Error != "" {
		return 0, fmt.Errorf("model error: %s", resp.Error)
	}
	if resp.WinProb == nil {
		return 0, errors.New("prediction missing win_prob")
	}
	if p := *resp.WinProb; p < 0 || p > 1 {
		return 0, fmt.Errorf("win_prob out of range: %f", p)
	}
	return *resp.WinProb, nil
}

// Filter gates buys on the predicted win probability
type Filter struct {
	predictor Predictor
	log       zerolog.Logger
}

// NewFilter creates a filter. A nil predictor lets every signal through.
func NewFilter(p Predictor, log zerolog.Logger) *Filter {
	return &Filter{predictor: p, log: log.With().Str("component", "ml-filter").Logger()}
}

// ShouldTrade reports whether vec clears threshold, with the probability
// used. When the model is unavailable the signal passes at 0.5.
func (f *Filter) ShouldTrade(ctx context.Context, vec feature.Vector, threshold float64) (bool, float64) {
	if f == nil || f.predictor == nil {
		return true, FallbackProbability
	}
	prob, err := f.predictor.Predict(ctx, vec)
	if err != nil {
		f.log.Warn().Err(err).Msg("prediction unavailable, passing signal")
		return true, FallbackProbability
	}
	return prob >= threshold, prob
}
