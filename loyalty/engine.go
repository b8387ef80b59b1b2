package loyalty

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/warp/loyalty-engine/metrics"
)

// DefaultClaimTTL bounds how long a delivery may hold a reward before
// another delivery is allowed to take it over.
const DefaultClaimTTL = 5 * time.Minute

// Engine runs every loyalty operation. It holds no state between calls:
// each operation re-reads what it needs from Store and Directory.
type Engine struct {
	Store     Store
	Directory Directory
	Orders    OrderWriter

	Logger       *slog.Logger
	Metrics      *metrics.LoyaltyMetrics
	DefaultRatio Ratio
	ClaimTTL     time.Duration

	// Now and NewID are replaceable for tests.
	Now   func() time.Time
	NewID func() string
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.Logger = l }
}

func WithMetrics(m *metrics.LoyaltyMetrics) Option {
	return func(e *Engine) { e.Metrics = m }
}

func WithDefaultRatio(r Ratio) Option {
	return func(e *Engine) { e.DefaultRatio = r }
}

func WithClaimTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.ClaimTTL = ttl }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.Now = now }
}

func NewEngine(store Store, dir Directory, orders OrderWriter, opts ...Option) *Engine {
	e := &Engine{
		Store:        store,
		Directory:    dir,
		Orders:       orders,
		Logger:       slog.Default(),
		DefaultRatio: DefaultRatio(),
		ClaimTTL:     DefaultClaimTTL,
		Now:          func() time.Time { return time.Now().UTC() },
		NewID:        func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now()
}

func (e *Engine) newID() string {
	if e.NewID == nil {
		return uuid.NewString()
	}
	return e.NewID()
}

func (e *Engine) log() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}
