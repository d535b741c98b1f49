package notification

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"air-quality-backend/internal/model"
)

// NotificationSender defines the interface for sending a web push
// notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the
// webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool manages a pool of workers pushing new readings to stored
// browser subscriptions.
type WorkerPool struct {
	size    int
	jobs    chan int64
	db      *gorm.DB
	webpush *webpush.Options
	sender  NotificationSender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan int64, size),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Push worker %d started", id)
	for {
		select {
		case readingID := <-wp.jobs:
			wp.sendForReading(ctx, readingID)
		case <-ctx.Done():
			log.Printf("Push worker %d shutting down", id)
			return
		}
	}
}

// NotifyReading queues a freshly inserted reading for push delivery.
// Implements store.Notifier.
func (wp *WorkerPool) NotifyReading(r model.SensorReading) {
	wp.Dispatch(r.ID)
}

// Dispatch sends a job to the worker pool without ever blocking the
// ingest path. Delivery is at-most-once with no replay, so a full queue
// simply drops the event; clients recover via the query endpoint.
func (wp *WorkerPool) Dispatch(readingID int64) {
	select {
	case wp.jobs <- readingID:
	default:
		log.Printf("Push queue full, dropping reading %d", readingID)
	}
}

// sendForReading loads the reading and pushes its JSON to every stored
// subscription.
func (wp *WorkerPool) sendForReading(ctx context.Context, readingID int64) {
	var reading model.SensorReading
	if err := wp.db.WithContext(ctx).First(&reading, readingID).Error; err != nil {
		log.Printf("Error fetching reading %d for push: %v", readingID, err)
		return
	}

	var subscriptions []model.PushSubscription
	if err := wp.db.WithContext(ctx).Find(&subscriptions).Error; err != nil {
		log.Printf("Error fetching push subscriptions: %v", err)
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	payload, err := json.Marshal(reading)
	if err != nil {
		log.Printf("Error marshaling reading %d: %v", readingID, err)
		return
	}

	log.Printf("Pushing reading %d to %d subscriptions", readingID, len(subscriptions))
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// Push services answer 410 once a subscription lapses.
	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
