package offsets

import (
	"context"
	"crypto/tls"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/dataferry/ferry/pkg/log"
	"github.com/dataferry/ferry/pkg/types"
)

// Smoke-test sentinel written on startup to prove the store works
const (
	smokeTestClient = "smoke_test_client"
	smokeTestTopic  = "smoke_test_topic"
	smokeTestValue  = -150
)

// Config holds the Redis connection settings of the offset store
type Config struct {
	Host     string
	Port     int
	TLS      bool
	Username string
	Password string

	// AESKey enables encryption of stored values when non-empty.
	// Must be 16, 24 or 32 bytes.
	AESKey []byte
}

// RedisStore implements Store on a Redis instance
type RedisStore struct {
	rdb    *redis.Client
	cipher *Cipher
}

// NewRedisStore connects to Redis, optionally arms value encryption, and
// runs the startup smoke test. A smoke-test failure is returned as an
// error and is fatal for the process.
func NewRedisStore(ctx context.Context, cfg Config) (*RedisStore, error) {
	opts := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Username: cfg.Username,
		Password: cfg.Password,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	s := &RedisStore{rdb: redis.NewClient(opts)}

	if len(cfg.AESKey) > 0 {
		cipher, err := NewCipher(cfg.AESKey)
		if err != nil {
			return nil, fmt.Errorf("failed to configure value encryption: %w", err)
		}
		s.cipher = cipher
	}

	if err := s.smokeTest(ctx); err != nil {
		s.rdb.Close()
		return nil, fmt.Errorf("offset store smoke test failed: %w", err)
	}

	return s, nil
}

// smokeTest writes a sentinel offset and reads it back
func (s *RedisStore) smokeTest(ctx context.Context) error {
	if err := s.SetOffset(ctx, smokeTestClient, smokeTestTopic, smokeTestValue); err != nil {
		return err
	}
	got, err := s.GetOffset(ctx, smokeTestClient, smokeTestTopic)
	if err != nil {
		return err
	}
	if got != smokeTestValue {
		return fmt.Errorf("read %d, want %d", got, smokeTestValue)
	}
	return nil
}

// GetOffset returns the committed offset for (clientKey, topic), 0 when
// no offset has been committed yet.
func (s *RedisStore) GetOffset(ctx context.Context, clientKey, topic string) (int64, error) {
	val, err := s.rdb.Get(ctx, types.OffsetKey(clientKey, topic)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read offset: %w", err)
	}

	offset, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt offset value %q: %w", val, err)
	}
	return offset, nil
}

// SetOffset commits an offset. A commit below the stored value is
// accepted (last writer wins) but logged.
func (s *RedisStore) SetOffset(ctx context.Context, clientKey, topic string, offset int64) error {
	key := types.OffsetKey(clientKey, topic)

	if prev, err := s.GetOffset(ctx, clientKey, topic); err == nil && offset < prev {
		log.Logger.Warn().
			Str("key", key).
			Int64("stored", prev).
			Int64("committed", offset).
			Msg("offset commit below stored value")
	}

	if err := s.rdb.Set(ctx, key, strconv.FormatInt(offset, 10), 0).Err(); err != nil {
		return fmt.Errorf("failed to commit offset: %w", err)
	}
	return nil
}

// GetValue fetches a generic value, decrypting when requested and a
// cipher is configured.
func (s *RedisStore) GetValue(ctx context.Context, key string, decrypt bool) (string, bool, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read value: %w", err)
	}

	if decrypt && s.cipher != nil {
		plain, err := s.cipher.Decrypt(val)
		if err != nil {
			return "", false, fmt.Errorf("failed to decrypt value for %q: %w", key, err)
		}
		return plain, true, nil
	}
	return val, true, nil
}

// SetValue stores a generic value, encrypting when requested and a
// cipher is configured. A zero TTL stores without expiry.
func (s *RedisStore) SetValue(ctx context.Context, key, value string, ttl time.Duration, encrypt bool) error {
	if encrypt && s.cipher != nil {
		enc, err := s.cipher.Encrypt(value)
		if err != nil {
			return fmt.Errorf("failed to encrypt value for %q: %w", key, err)
		}
		value = enc
	}

	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store value: %w", err)
	}
	return nil
}

// Delete removes a key
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete value: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
