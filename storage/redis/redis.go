// Package redis provides a Redis implementation of the aiguard.UsageStore interface.
// Counter transitions run inside a Lua script so concurrent calls for the same
// user and feature are applied one at a time.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/aiguard/pkg/aiguard"
)

// Storage implements aiguard.UsageStore and aiguard.TimeSource using Redis
type Storage struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

var (
	_ aiguard.UsageStore = (*Storage)(nil)
	_ aiguard.TimeSource = (*Storage)(nil)
)

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "aiguard:")
	KeyPrefix string

	// UsageTTL is the TTL of per-day usage records (0 = no expiration).
	// The latest-record pointer of a pair never expires.
	UsageTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "aiguard:",
		UsageTTL:  0,
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "aiguard:"
	}
	if config.UsageTTL < 0 {
		return nil, fmt.Errorf("usage TTL must not be negative")
	}

	s := &Storage{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}
	s.loadScripts()
	return s, nil
}

// loadScripts compiles the Lua scripts used for atomic updates.
//
// The record script mirrors aiguard.NextRecord. Window keys are computed in
// Go and passed in, so the script only compares strings. The latest hash holds
// the newest record of the pair together with its week and month keys.
func (s *Storage) loadScripts() {
	s.scripts["record"] = redis.NewScript(`
		local latestKey = KEYS[1]
		local dayKey = KEYS[2]
		local date = ARGV[1]
		local hour = tonumber(ARGV[2])
		local week = ARGV[3]
		local month = ARGV[4]
		local now = ARGV[5]
		local ttl = tonumber(ARGV[6])
		local nowUs = ARGV[7]
		local dayPrefix = ARGV[8]

		local last = {}
		local raw = redis.call('HGETALL', latestKey)
		for i = 1, #raw, 2 do
			last[raw[i]] = raw[i + 1]
		end

		-- a call stamped before the latest one is counted at the latest time
		if last['last_used_us'] and tonumber(last['last_used_us']) > tonumber(nowUs) then
			date = last['date']
			hour = tonumber(last['last_hour'])
			week = last['week']
			month = last['month']
			now = last['last_used_at']
			nowUs = last['last_used_us']
			dayKey = dayPrefix .. date
		end

		local hourly, daily, weekly, monthly = 1, 1, 1, 1
		local created = now
		local prev = last['last_used_at'] or ''

		if last['date'] == date then
			daily = tonumber(last['daily']) + 1
			if tonumber(last['last_hour']) == hour then
				hourly = tonumber(last['hourly']) + 1
			end
			weekly = tonumber(last['weekly']) + 1
			monthly = tonumber(last['monthly']) + 1
			created = last['created_at']
		elseif last['date'] then
			if last['week'] == week then
				weekly = tonumber(last['weekly']) + 1
			end
			if last['month'] == month then
				monthly = tonumber(last['monthly']) + 1
			end
		end

		local fields = {
			'date', date, 'week', week, 'month', month,
			'hourly', hourly, 'daily', daily, 'weekly', weekly, 'monthly', monthly,
			'last_hour', hour, 'last_used_at', now, 'last_used_us', nowUs,
			'created_at', created, 'updated_at', now,
		}
		redis.call('HSET', latestKey, unpack(fields))
		redis.call('HSET', dayKey, unpack(fields))
		if ttl > 0 then
			redis.call('EXPIRE', dayKey, ttl)
		end

		return {hourly, daily, weekly, monthly, created, prev, date, hour, now}
	`)
}

// RecordUsage implements aiguard.UsageStore
func (s *Storage) RecordUsage(ctx context.Context, req *aiguard.RecordUsageRequest) (*aiguard.UsageResult, error) {
	if req == nil || req.UserID == "" || req.Feature == "" {
		return nil, fmt.Errorf("invalid usage request")
	}

	keys := aiguard.KeysAt(req.Now, req.Location)
	now := req.Now.UTC()

	result, err := s.scripts["record"].Run(
		ctx,
		s.client,
		[]string{s.latestKey(req.UserID, req.Feature), s.usageKey(req.UserID, req.Feature, keys.Date)},
		keys.Date,
		keys.Hour,
		keys.Week,
		keys.Month,
		now.Format(time.RFC3339Nano),
		int64(s.config.UsageTTL.Seconds()),
		now.UnixMicro(),
		s.usageKey(req.UserID, req.Feature, ""),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to execute record script: %w", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 9 {
		return nil, fmt.Errorf("unexpected record script result: %T", result)
	}

	var counts [4]int
	for i := range counts {
		n, ok := values[i].(int64)
		if !ok {
			return nil, fmt.Errorf("invalid counter value at %d", i)
		}
		counts[i] = int(n)
	}
	createdStr, _ := values[4].(string)
	createdAt, err := time.Parse(time.RFC3339Nano, createdStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	// the script moves a late call onto the latest record
	date, _ := values[6].(string)
	hour, ok := values[7].(int64)
	if date == "" || !ok {
		return nil, fmt.Errorf("invalid record window in script result")
	}
	usedStr, _ := values[8].(string)
	usedAt, err := time.Parse(time.RFC3339Nano, usedStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse last_used_at: %w", err)
	}
	usedAt = usedAt.UTC()

	res := &aiguard.UsageResult{
		Record: &aiguard.UsageRecord{
			UserID:     req.UserID,
			Feature:    req.Feature,
			Date:       date,
			Counts:     aiguard.Counts{Hourly: counts[0], Daily: counts[1], Weekly: counts[2], Monthly: counts[3]},
			LastHour:   int(hour),
			LastUsedAt: usedAt,
			CreatedAt:  createdAt.UTC(),
			UpdatedAt:  usedAt,
		},
	}
	if prevStr, _ := values[5].(string); prevStr != "" {
		prev, err := time.Parse(time.RFC3339Nano, prevStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse last_used_at: %w", err)
		}
		prev = prev.UTC()
		res.PreviousUsedAt = &prev
	}
	return res, nil
}

// GetUsage implements aiguard.UsageStore
func (s *Storage) GetUsage(
	ctx context.Context, userID string, feature aiguard.FeatureType, date string,
) (*aiguard.UsageRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.usageKey(userID, feature, date)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	rec, err := parseRecord(fields)
	if err != nil {
		return nil, err
	}
	rec.UserID = userID
	rec.Feature = feature
	return rec, nil
}

func parseRecord(fields map[string]string) (*aiguard.UsageRecord, error) {
	rec := &aiguard.UsageRecord{Date: fields["date"]}

	ints := []struct {
		name string
		dst  *int
	}{
		{"hourly", &rec.Counts.Hourly},
		{"daily", &rec.Counts.Daily},
		{"weekly", &rec.Counts.Weekly},
		{"monthly", &rec.Counts.Monthly},
		{"last_hour", &rec.LastHour},
	}
	for _, f := range ints {
		n, err := strconv.Atoi(fields[f.name])
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", f.name, err)
		}
		*f.dst = n
	}

	times := []struct {
		name string
		dst  *time.Time
	}{
		{"last_used_at", &rec.LastUsedAt},
		{"created_at", &rec.CreatedAt},
		{"updated_at", &rec.UpdatedAt},
	}
	for _, f := range times {
		t, err := time.Parse(time.RFC3339Nano, fields[f.name])
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", f.name, err)
		}
		*f.dst = t.UTC()
	}
	return rec, nil
}

// Now implements aiguard.TimeSource using the Redis server clock
func (s *Storage) Now(ctx context.Context) (time.Time, error) {
	t, err := s.client.Time(ctx).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get redis time: %w", err)
	}
	return t.UTC(), nil
}

func (s *Storage) latestKey(userID string, feature aiguard.FeatureType) string {
	return fmt.Sprintf("%susage:%s:%s:latest", s.config.KeyPrefix, userID, feature)
}

func (s *Storage) usageKey(userID string, feature aiguard.FeatureType, date string) string {
	return fmt.Sprintf("%susage:%s:%s:%s", s.config.KeyPrefix, userID, feature, date)
}

// Close closes the Redis client connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
