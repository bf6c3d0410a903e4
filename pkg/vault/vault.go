// Package vault mints opaque, reversible placeholders for detected PII and
// tracks per-session conversation mode. Entries live in Redis with a bounded
// lifetime; originals never reach the model provider.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/PhillHH/chat-agent/pkg/utils"
)

// ErrStoreUnavailable is returned when the backing store cannot be reached.
// Callers must abort the turn: continuing would leak the original value.
var ErrStoreUnavailable = errors.New("vault: store unavailable")

// PlaceholderPattern is the exact placeholder grammar. Operators, tests and
// the stream restorer depend on this shape.
var PlaceholderPattern = regexp.MustCompile(`<[A-Z]+_[0-9a-f]+>`)

// Mode is the answering mode of a session.
type Mode string

const (
	ModeAI    Mode = "AI"
	ModeHuman Mode = "HUMAN"
)

// Client is the subset of redis.Client commands the vault uses. Declared as
// an interface so tests can substitute command fakes.
type Client interface {
	SetEX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Vault maps placeholders back to their originals for the duration of the
// entry TTL and stores the AI/HUMAN status per session.
type Vault struct {
	rdb       Client
	ttl       time.Duration
	statusTTL time.Duration
}

// Option configures a Vault.
type Option func(*Vault)

// WithTTL overrides the placeholder entry lifetime (default 1h).
func WithTTL(d time.Duration) Option {
	return func(v *Vault) { v.ttl = d }
}

// WithStatusTTL overrides the HUMAN status lifetime (default 24h).
func WithStatusTTL(d time.Duration) Option {
	return func(v *Vault) { v.statusTTL = d }
}

// New creates a Vault on top of the given Redis client.
func New(rdb Client, opts ...Option) *Vault {
	v := &Vault{
		rdb:       rdb,
		ttl:       time.Hour,
		statusTTL: 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// storeAttempts bounds the collision check-and-retry loop. Suffixes carry
// 32 bits of entropy per label, so a second attempt is already rare.
const storeAttempts = 3

// Store mints a placeholder for the original value under the given entity
// label and persists the reverse mapping with the configured TTL.
func (v *Vault) Store(ctx context.Context, original, label string) (string, error) {
	label = sanitizeLabel(label)

	for i := 0; i < storeAttempts; i++ {
		placeholder := fmt.Sprintf("<%s_%s>", label, utils.RandomHex(8))

		ok, err := v.rdb.SetNX(ctx, placeholder, original, v.ttl).Result()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if ok {
			return placeholder, nil
		}
		// Suffix collision with a live entry: mint a new one.
	}

	// Retry budget exhausted; overwrite rather than fail the turn.
	placeholder := fmt.Sprintf("<%s_%s>", label, utils.RandomHex(8))
	if err := v.rdb.SetEX(ctx, placeholder, original, v.ttl).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return placeholder, nil
}

// Get resolves a placeholder back to its original value. Unknown or expired
// placeholders are returned unchanged, which makes restoration idempotent:
// re-restoring already-restored text is a no-op. Store errors also fall back
// to the placeholder — leaking an opaque token is safer than dropping the
// reply mid-stream.
func (v *Vault) Get(ctx context.Context, placeholder string) string {
	val, err := v.rdb.Get(ctx, placeholder).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("Vault lookup failed, passing placeholder through", "error", err)
		}
		return placeholder
	}
	return val
}

// SetStatus records the answering mode for a session. HUMAN entries carry the
// status TTL so an abandoned handoff eventually falls back to AI.
func (v *Vault) SetStatus(ctx context.Context, sessionID string, mode Mode) error {
	if err := v.rdb.SetEX(ctx, statusKey(sessionID), string(mode), v.statusTTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// GetStatus returns the answering mode for a session, defaulting to AI when
// no entry exists. Transient store errors also degrade to AI with a warning:
// keeping the conversation answerable beats mode stickiness.
func (v *Vault) GetStatus(ctx context.Context, sessionID string) Mode {
	val, err := v.rdb.Get(ctx, statusKey(sessionID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("Status lookup failed, assuming AI mode", "session", sessionID, "error", err)
		}
		return ModeAI
	}
	if Mode(val) == ModeHuman {
		return ModeHuman
	}
	return ModeAI
}

func statusKey(sessionID string) string {
	return "status:" + sessionID
}

// sanitizeLabel uppercases the entity label and strips anything outside A-Z
// so the minted placeholder always satisfies the placeholder grammar.
func sanitizeLabel(label string) string {
	label = strings.ToUpper(label)
	var b strings.Builder
	for _, r := range label {
		if r >= 'A' && r <= 'Z' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "ENTITY"
	}
	return b.String()
}
