// Package jobs holds the background worker: the sheet expiry cron job and
// the outbound notification queue.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSheetExpiry closes active sheets whose operating day has elapsed.
	TaskSheetExpiry = "sheets:expire"
	// TaskShipmentNotify delivers one outbound shipment notification.
	TaskShipmentNotify = "notify:shipment"
)

// SheetExpiryPayload is empty today; the expiry window comes from worker
// configuration so that a queued task never carries a stale boundary.
type SheetExpiryPayload struct{}

// NewSheetExpiryTask constructs the expiry task.
func NewSheetExpiryTask() (*asynq.Task, error) {
	data, err := json.Marshal(SheetExpiryPayload{})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSheetExpiry, data), nil
}

// ShipmentNotifyPayload describes one outbound shipment notification.
type ShipmentNotifyPayload struct {
	TrackingCode string `json:"tracking_code"`
	RecipientID  int64  `json:"recipient_id"`
	Event        string `json:"event"`
	Status       string `json:"status"`
}

// NewShipmentNotifyTask constructs a notification task.
func NewShipmentNotifyTask(payload ShipmentNotifyPayload) (*asynq.Task, error) {
	if payload.TrackingCode == "" || payload.Event == "" {
		return nil, fmt.Errorf("notification payload requires tracking code and event")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskShipmentNotify, data), nil
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueShipmentNotify enqueues a notification task.
func (c *Client) EnqueueShipmentNotify(ctx context.Context, payload ShipmentNotifyPayload) (*asynq.TaskInfo, error) {
	task, err := NewShipmentNotifyTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
