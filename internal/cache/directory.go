package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"resitrack.org/internal/location"
	"resitrack.org/internal/obs"
)

const directoryKey = "resitrack:locations"

// DirectoryCache serves the location directory from the KV, loading it from
// the backend on miss.
type DirectoryCache struct {
	kv   KV
	ttl  time.Duration
	load func(context.Context) ([]location.Location, error)
}

func NewDirectoryCache(kv KV, ttl time.Duration, load func(context.Context) ([]location.Location, error)) *DirectoryCache {
	return &DirectoryCache{kv: kv, ttl: ttl, load: load}
}

// Directory returns the cached directory or loads a fresh one. A broken
// cache never fails the call; only the loader's error does.
func (c *DirectoryCache) Directory(ctx context.Context) (*location.Directory, error) {
	raw, err := c.kv.Get(ctx, directoryKey)
	if err == nil {
		var all []location.Location
		if jerr := json.Unmarshal([]byte(raw), &all); jerr == nil {
			obs.ObserveCache("locations", true)
			return location.NewDirectory(all), nil
		}
	} else if !errors.Is(err, ErrMiss) {
		obs.Logger().Warn("location cache read failed", zap.Error(err))
	}
	obs.ObserveCache("locations", false)

	all, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(all); err == nil {
		if err := c.kv.Set(ctx, directoryKey, string(payload), c.ttl); err != nil {
			obs.Logger().Warn("location cache write failed", zap.Error(err))
		}
	}
	return location.NewDirectory(all), nil
}

// Invalidate forgets the cached directory, e.g. after a facility was added.
func (c *DirectoryCache) Invalidate(ctx context.Context) error {
	return c.kv.Del(ctx, directoryKey)
}
