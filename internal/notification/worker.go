package notification

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"lsr-dashboard-backend/internal/store"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool delivers account-change notifications to push subscribers.
// The coordinator dispatches account IDs after each refresh diff.
type WorkerPool struct {
	size    int
	jobs    chan string
	store   store.Store
	webpush *webpush.Options
	sender  NotificationSender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, st store.Store, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan string, size),
		store:   st,
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
	log.Printf("Notification worker %d started", id)
	for {
		select {
		case accountID := <-wp.jobs:
			wp.notifyAccount(ctx, accountID)
		case <-ctx.Done():
			log.Printf("Notification worker %d shutting down", id)
			return
		}
	}
}

// Dispatch sends a job to the worker pool.
func (wp *WorkerPool) Dispatch(accountID string) {
	wp.jobs <- accountID
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan string {
	return wp.jobs
}

// notifyAccount fetches the account's subscribers and pushes the update
// notice to each of them.
func (wp *WorkerPool) notifyAccount(ctx context.Context, accountID string) {
	subscriptions, err := wp.store.SubscriptionsForAccount(ctx, accountID)
	if err != nil {
		log.Printf("Error fetching subscriptions for account %s: %v", accountID, err)
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	accountLabel := accountID
	if ref, err := wp.store.AccountRef(ctx, accountID); err != nil {
		log.Printf("Error fetching account %s: %v", accountID, err)
	} else if ref.PersonalAccountNumber != "" {
		accountLabel = ref.PersonalAccountNumber
	}

	log.Printf("Sending %d notifications for account %s", len(subscriptions), accountID)
	message := fmt.Sprintf("Л/с №%s: данные лицевого счёта обновились", accountLabel)
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub.Endpoint, sub.P256DH, sub.Auth, []byte(message))
	}
}

// sendNotification sends a single web push notification, deleting the
// subscription when the push service reports it gone.
func (wp *WorkerPool) sendNotification(ctx context.Context, endpoint, p256dh, auth string, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: endpoint,
		Keys: webpush.Keys{
			P256dh: p256dh,
			Auth:   auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("Error sending notification to %s: %v", endpoint, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", endpoint)
		if err := wp.store.DeleteSubscription(ctx, endpoint); err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", endpoint, err)
		}
	}
}
