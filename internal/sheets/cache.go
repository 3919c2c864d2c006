package sheets

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DriverSheetCache keeps the "today's sheet for driver" lookup hot. Drivers
// poll this endpoint from the road, so a short TTL saves most of the reads;
// confirmation and closure invalidate eagerly.
type DriverSheetCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewDriverSheetCache creates the cache. A zero ttl defaults to one minute.
func NewDriverSheetCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *DriverSheetCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &DriverSheetCache{client: client, ttl: ttl, logger: logger}
}

func driverSheetKey(driverID int64, date time.Time) string {
	return fmt.Sprintf("sheets:driver:%d:%s", driverID, date.Format("2006-01-02"))
}

// Get returns the cached sheet, if present.
func (c *DriverSheetCache) Get(ctx context.Context, driverID int64, date time.Time) (*Sheet, bool) {
	data, err := c.client.Get(ctx, driverSheetKey(driverID, date)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("driver sheet cache read failed", slog.Any("error", err))
		}
		return nil, false
	}
	var sheet Sheet
	if err := json.Unmarshal(data, &sheet); err != nil {
		return nil, false
	}
	return &sheet, true
}

// Put stores the sheet. Failures are logged, never propagated.
func (c *DriverSheetCache) Put(ctx context.Context, driverID int64, date time.Time, sheet *Sheet) {
	data, err := json.Marshal(sheet)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, driverSheetKey(driverID, date), data, c.ttl).Err(); err != nil {
		c.logger.Warn("driver sheet cache write failed", slog.Any("error", err))
	}
}

// Invalidate drops the cached entry for the driver and date.
func (c *DriverSheetCache) Invalidate(ctx context.Context, driverID int64, date time.Time) {
	if err := c.client.Del(ctx, driverSheetKey(driverID, date)).Err(); err != nil {
		c.logger.Warn("driver sheet cache invalidation failed", slog.Any("error", err))
	}
}
