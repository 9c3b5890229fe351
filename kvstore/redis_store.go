// kvstore/redis_store.go

package kvstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/extra/redisotel/v8"
	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	initAttempts = 30
	maxBackoff   = 30 * time.Second
)

// RedisStore keeps values in Redis under an optional key prefix and
// publishes every change on "<prefix>changes".
type RedisStore struct {
	client  *redis.Client
	prefix  string
	channel string

	log logrus.FieldLogger

	// initial delay between Initialize attempts
	backoff time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix namespaces every key.
func WithPrefix(prefix string) RedisOption {
	return func(r *RedisStore) { r.prefix = prefix }
}

// WithRedisLogger sets the logger.
func WithRedisLogger(log logrus.FieldLogger) RedisOption {
	return func(r *RedisStore) { r.log = log }
}

// WithInitialBackoff sets the first delay between connection attempts.
func WithInitialBackoff(d time.Duration) RedisOption {
	return func(r *RedisStore) { r.backoff = d }
}

// NewRedisStore accepts either a redis:// URL or a plain "host:port" address.
func NewRedisStore(redisAddr string, opts ...RedisOption) *RedisStore {
	ropts, err := redis.ParseURL(redisAddr)
	if err != nil {
		// not a redis:// URL, use it as a plain address
		ropts = &redis.Options{
			Addr:         redisAddr,
			MinIdleConns: 1,
			MaxRetries:   3,
			DialTimeout:  30 * time.Second,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			PoolSize:     10,
			PoolTimeout:  4 * time.Second,
			IdleTimeout:  180 * time.Second,
		}
	}

	client := redis.NewClient(ropts)
	client.AddHook(redisotel.NewTracingHook())

	r := &RedisStore{
		client:  client,
		log:     logrus.StandardLogger(),
		backoff: time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.channel = r.prefix + "changes"
	return r
}

// Initialize waits for Redis to answer a ping, backing off exponentially.
func (r *RedisStore) Initialize(ctx context.Context) error {
	r.log.Info("RedisStore: initializing connection...")

	for i := 0; i < initAttempts; i++ {
		if r.Ping(ctx) {
			r.log.WithField("attempt", i+1).Info("RedisStore initialized successfully")
			return nil
		}

		backoff := r.backoff * time.Duration(1<<uint(i))
		if backoff > maxBackoff || backoff <= 0 {
			backoff = maxBackoff
		}
		r.log.WithField("attempt", i+1).Infof("RedisStore: waiting %v before next attempt", backoff)

		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "redis initialize")
		case <-time.After(backoff):
		}
	}
	return errors.Errorf("failed to connect to Redis after %d attempts", initAttempts)
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", errors.Wrapf(err, "redis GET %s", key)
	}
	return val, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return errors.Wrapf(err, "redis SET %s", key)
	}
	r.publish(ctx, Change{Key: key, Value: value, Origin: OriginFrom(ctx)})
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	n, err := r.client.Del(ctx, r.prefix+key).Result()
	if err != nil {
		return errors.Wrapf(err, "redis DEL %s", key)
	}
	if n > 0 {
		r.publish(ctx, Change{Key: key, Deleted: true, Origin: OriginFrom(ctx)})
	}
	return nil
}

// publish failures are logged only; the value itself has been stored.
func (r *RedisStore) publish(ctx context.Context, c Change) {
	msg, err := json.Marshal(c)
	if err != nil {
		r.log.WithError(err).Error("RedisStore: encoding change")
		return
	}
	if err := r.client.Publish(ctx, r.channel, msg).Err(); err != nil {
		r.log.WithError(err).WithField("key", c.Key).Warn("RedisStore: publish change failed")
	}
}

// Watch subscribes to the change channel. The subscription is confirmed
// before Watch returns.
func (r *RedisStore) Watch(ctx context.Context) (<-chan Change, error) {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, errors.Wrap(err, "redis SUBSCRIBE")
	}

	out := make(chan Change, watchBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					r.log.WithError(err).Warn("RedisStore: malformed change notification")
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Ping checks Redis with a bounded timeout.
func (r *RedisStore) Ping(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := r.client.Ping(pingCtx).Err(); err != nil {
		r.log.WithError(err).Warn("RedisStore: ping failed")
		return false
	}
	return true
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
