// Package denylist stores revoked access token ids in Redis so every
// instance refuses them until they expire.
package denylist

import (
	"context"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/goliatone/go-uas"
)

const DefaultKeyPrefix = "uas:denylist"

// RedisDenylist implements uas.Denylist on Redis keys that expire with the token.
type RedisDenylist struct {
	client red.UniversalClient
	prefix string
}

var _ uas.Denylist = (*RedisDenylist)(nil)

func NewRedisDenylist(client red.UniversalClient, keyPrefix string) *RedisDenylist {
	prefix := strings.TrimSuffix(strings.TrimSpace(keyPrefix), ":")
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisDenylist{client: client, prefix: prefix}
}

// Deny records tokenID for ttl. A token that already expired needs no entry.
func (d *RedisDenylist) Deny(ctx context.Context, tokenID string, ttl time.Duration) error {
	key, err := d.key(tokenID)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}

	if err := d.client.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis set denied jti: %w", err)
	}
	return nil
}

func (d *RedisDenylist) IsDenied(ctx context.Context, tokenID string) (bool, error) {
	key, err := d.key(tokenID)
	if err != nil {
		return false, err
	}

	n, err := d.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists denied jti: %w", err)
	}
	return n > 0, nil
}

// Ping checks the connection, used at startup.
func (d *RedisDenylist) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

func (d *RedisDenylist) key(tokenID string) (string, error) {
	trimmed := strings.TrimSpace(tokenID)
	if trimmed == "" {
		return "", fmt.Errorf("token id must not be empty")
	}
	return d.prefix + ":" + trimmed, nil
}
