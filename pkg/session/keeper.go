package session

import (
	"context"
	"errors"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/kagent-dev/jamf-agent/internal/logging"
	"github.com/kagent-dev/jamf-agent/internal/metrics"
)

// Keeper maps (user, channel) pairs to durable session ids
type Keeper struct {
	store   Store
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
}

// Option configures a Keeper
type Option func(*Keeper)

// WithTTL sets the idle duration after which Prune evicts a session.
// Zero disables eviction.
func WithTTL(ttl time.Duration) Option {
	return func(k *Keeper) { k.ttl = ttl }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(k *Keeper) { k.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(k *Keeper) { k.metrics = m }
}

// NewKeeper creates a Keeper over store
func NewKeeper(store Store, opts ...Option) *Keeper {
	k := &Keeper{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// ResolveOrCreate returns the session id for the pair, creating the record
// on first contact and touching last_accessed afterwards. When the store is
// unavailable the derived id is still returned and nothing is persisted.
func (k *Keeper) ResolveOrCreate(ctx context.Context, userID, channelID string) string {
	log := logr.FromContextOrDiscard(ctx).WithName(logging.CompSession)
	id := DeriveID(userID, channelID)
	now := k.now().UTC()

	existing, err := k.store.Get(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		err = k.store.Create(ctx, &Session{
			ID:           id,
			UserID:       userID,
			ChannelID:    channelID,
			CreatedAt:    now,
			LastAccessed: now,
		})
		if err == nil {
			log.V(1).Info("Created session", "sessionID", id)
		}
	case err == nil:
		at := now
		if at.Before(existing.LastAccessed) {
			at = existing.LastAccessed
		}
		err = k.store.Touch(ctx, id, at)
	}

	if err != nil {
		k.metrics.SessionDegraded()
		log.Error(err, "Session store unavailable, continuing without persistence",
			"sessionID", id, "userID", userID, "channelID", channelID)
	}
	return id
}

// EphemeralID returns a fresh id for requests that arrive without a session.
func (k *Keeper) EphemeralID() string {
	return "session_" + uuid.NewString()
}

// List returns up to limit sessions, most recently accessed first.
func (k *Keeper) List(ctx context.Context, limit int) ([]*Session, error) {
	return k.store.List(ctx, limit)
}

// Prune deletes sessions idle for longer than the configured TTL.
func (k *Keeper) Prune(ctx context.Context) (int64, error) {
	if k.ttl <= 0 {
		return 0, nil
	}
	return k.store.DeleteIdleSince(ctx, k.now().UTC().Add(-k.ttl))
}

// RunPruner calls Prune every interval until ctx is done.
func (k *Keeper) RunPruner(ctx context.Context, interval time.Duration) error {
	if k.ttl <= 0 || interval <= 0 {
		<-ctx.Done()
		return nil
	}
	log := logr.FromContextOrDiscard(ctx).WithName(logging.CompSession)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := k.Prune(ctx)
			if err != nil {
				log.Error(err, "Failed to prune idle sessions")
				continue
			}
			if n > 0 {
				log.Info("Pruned idle sessions", "count", n, "ttl", k.ttl.String())
			}
		}
	}
}

// Close releases the underlying store.
func (k *Keeper) Close() error {
	return k.store.Close()
}
