package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/optionsfi/rfq-router/internal/eventbus"
	"github.com/optionsfi/rfq-router/internal/metrics"
	"github.com/optionsfi/rfq-router/pkg/model"
)

// RedisStore mirrors RFQ snapshots into Redis for dashboards and other
// router instances, and holds the cross-instance fill claim.
type RedisStore struct {
	redis     *redis.Client
	prefix    string
	retention time.Duration
	owner     string
	logger    *zap.Logger
}

// Options configures a RedisStore.
type Options struct {
	Addr      string
	DB        int
	Prefix    string
	Retention time.Duration
	// Owner is written as the value of fill claims; usually the instance id.
	Owner string
}

// NewRedis connects and pings Redis.
func NewRedis(opts Options, logger *zap.Logger) (*RedisStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{Addr: opts.Addr, DB: opts.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewWithClient(rdb, opts, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(rdb *redis.Client, opts Options, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Prefix == "" {
		opts.Prefix = "rfq"
	}
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}
	if opts.Owner == "" {
		opts.Owner = "rfq-router"
	}
	return &RedisStore{
		redis:     rdb,
		prefix:    opts.Prefix,
		retention: opts.Retention,
		owner:     opts.Owner,
		logger:    logger,
	}
}

func (s *RedisStore) snapshotKey(id string) string { return s.prefix + ":snapshot:" + id }
func (s *RedisStore) claimKey(id string) string    { return s.prefix + ":fill:" + id }
func (s *RedisStore) openKey() string              { return s.prefix + ":open" }

// Subscribe mirrors every snapshot-carrying lifecycle event.
func (s *RedisStore) Subscribe(bus *eventbus.EventBus) {
	handler := func(env *model.Envelope) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.Mirror(ctx, env)
	}
	for _, t := range []model.EventType{
		model.EventRfqCreated,
		model.EventRfqFilled,
		model.EventRfqExpired,
		model.EventRfqCancelled,
	} {
		bus.Subscribe(t, handler)
	}
}

// mirrorScript writes a snapshot and its open-set membership in one step.
// A non-terminal snapshot never replaces a terminal one.
// KEYS: snapshot, open set. ARGV: json, ttl ms, terminal flag, rfq id.
var mirrorScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur and ARGV[3] == '0' then
  local ok, doc = pcall(cjson.decode, cur)
  if ok and doc['status'] ~= 'OPEN' then
    return 0
  end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
if ARGV[3] == '1' then
  redis.call('SREM', KEYS[2], ARGV[4])
else
  redis.call('SADD', KEYS[2], ARGV[4])
end
return 1
`)

// Mirror stores the RFQ snapshot carried by env and maintains the open set.
// Handlers run concurrently, so a created event may arrive after the
// cancel or fill that followed it; the script drops it.
func (s *RedisStore) Mirror(ctx context.Context, env *model.Envelope) error {
	start := time.Now()
	defer metrics.ObserveDuration(metrics.SinkLatency, start, "redis")

	var rfq model.Rfq
	if err := json.Unmarshal(env.Payload, &rfq); err != nil || rfq.ID == "" {
		metrics.IncSinkEvent("redis", string(env.EventType), "invalid")
		return fmt.Errorf("decode rfq snapshot: %w", err)
	}
	data, err := json.Marshal(&rfq)
	if err != nil {
		return err
	}

	terminal := "0"
	if rfq.Status.IsTerminal() {
		terminal = "1"
	}
	written, err := mirrorScript.Run(ctx, s.redis,
		[]string{s.snapshotKey(rfq.ID), s.openKey()},
		data, strconv.FormatInt(s.retention.Milliseconds(), 10), terminal, rfq.ID,
	).Int()
	if err != nil {
		metrics.IncSinkEvent("redis", string(env.EventType), "error")
		s.logger.Error("store.redis.mirror_failed", zap.String("rfq_id", rfq.ID), zap.Error(err))
		return err
	}
	if written == 0 {
		metrics.IncSinkEvent("redis", string(env.EventType), "stale")
		return nil
	}
	metrics.IncSinkEvent("redis", string(env.EventType), "ok")
	return nil
}

// Claim takes the exclusive right to fill rfqID across router instances.
// The claim outlives the RFQ's retention so it cannot be taken twice.
func (s *RedisStore) Claim(ctx context.Context, rfqID string) (bool, error) {
	ok, err := s.redis.SetNX(ctx, s.claimKey(rfqID), s.owner, s.retention).Result()
	if err != nil {
		metrics.IncError("store", "claim_failed")
		return false, fmt.Errorf("claim fill %s: %w", rfqID, err)
	}
	if !ok {
		s.logger.Info("store.redis.claim_lost", zap.String("rfq_id", rfqID))
	}
	return ok, nil
}

func (s *RedisStore) HealthCheck(ctx context.Context) error {
	if s.redis == nil {
		return fmt.Errorf("redis not initialized")
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}
