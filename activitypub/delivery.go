package activitypub

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/agora/domain"
	"github.com/deemkeen/agora/util"
)

const (
	deliveryInterval    = 10 * time.Second
	deliveryBatchSize   = 50
	maxDeliveryAttempts = 10
)

// deliveryBackoff is the wait before the n-th retry; the last entry repeats
var deliveryBackoff = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	60 * time.Minute,
	240 * time.Minute,
	1440 * time.Minute,
}

// StartDeliveryWorker starts a background worker that processes the delivery
// queue until ctx is cancelled.
func (inst *Instance) StartDeliveryWorker(ctx context.Context) {
	log.Info("Starting ActivityPub delivery worker...")

	client := &http.Client{Timeout: 30 * time.Second}
	ticker := time.NewTicker(deliveryInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Info("DeliveryWorker: Stopped")
				return
			case <-ticker.C:
				inst.processDeliveryQueue(ctx, client)
			}
		}
	}()
}

// processDeliveryQueue processes pending deliveries from the queue
func (inst *Instance) processDeliveryQueue(ctx context.Context, client *http.Client) {
	items, err := inst.Store.ReadPendingDeliveries(ctx, deliveryBatchSize)
	if err != nil {
		log.Errorf("DeliveryWorker: Failed to read queue: %v", err)
		return
	}
	if len(items) > 0 {
		log.Debugf("DeliveryWorker: Processing %d pending deliveries", len(items))
	}

	for i := range items {
		item := &items[i]
		if err := inst.deliverActivity(ctx, client, item); err != nil {
			deliveriesTotal.WithLabelValues("failed").Inc()
			item.Attempts++
			if item.Attempts >= maxDeliveryAttempts {
				log.Warnf("DeliveryWorker: Giving up on delivery to %s after %d attempts", item.InboxURI, item.Attempts)
				if err := inst.Store.DeleteDelivery(ctx, item.Id); err != nil {
					log.Errorf("DeliveryWorker: Failed to drop %s: %v", item.Id, err)
				}
				continue
			}
			backoff := deliveryBackoff[min(item.Attempts-1, len(deliveryBackoff)-1)]
			log.Warnf("DeliveryWorker: Delivery to %s failed (attempt %d), retry in %s: %v",
				item.InboxURI, item.Attempts, backoff, err)
			if err := inst.Store.UpdateDeliveryAttempt(ctx, item.Id, item.Attempts, time.Now().Add(backoff)); err != nil {
				log.Errorf("DeliveryWorker: Failed to reschedule %s: %v", item.Id, err)
			}
			continue
		}

		deliveriesTotal.WithLabelValues("delivered").Inc()
		log.Debugf("DeliveryWorker: Successfully delivered to %s", item.InboxURI)
		if err := inst.Store.DeleteDelivery(ctx, item.Id); err != nil {
			log.Errorf("DeliveryWorker: Failed to remove %s: %v", item.Id, err)
		}
	}

	if n, err := inst.Store.CountDeliveries(ctx); err == nil {
		deliveryQueueLength.Set(float64(n))
	}
}

// deliverActivity signs the activity with the key of its local actor and
// posts it to the target inbox
func (inst *Instance) deliverActivity(ctx context.Context, client *http.Client, item *domain.DeliveryQueueItem) error {
	actor, err := inst.readLocalActor(ctx, item.ActorURI)
	if err != nil {
		return fmt.Errorf("failed to read actor %s: %w", item.ActorURI, err)
	}
	if !actor.IsLocal() || actor.PrivateKey() == "" {
		return fmt.Errorf("actor %s has no signing key", item.ActorURI)
	}
	privateKey, err := ParsePrivateKey(actor.PrivateKey())
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	body := []byte(item.ActivityJSON)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, item.InboxURI, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("Accept", ContentType)
	req.Header.Set("User-Agent", util.UserAgent())
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))

	if err := SignRequest(req, privateKey, actor.ActorIRI()+"#main-key", body); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote server returned status: %d", resp.StatusCode)
	}
	return nil
}
