// Package web sends batches through Web Push (VAPID).
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/tinywideclouds/go-unifiedpush/internal/sender"
	"github.com/tinywideclouds/go-unifiedpush/pkg/upmodel"
)

// A web-push "device token" is the subscription object serialized to JSON at
// registration time: endpoint plus the p256dh/auth keys.
type subscriptionToken struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

type Sender struct {
	remover    sender.InstallationRemover
	logger     *slog.Logger
	httpClient *http.Client
}

func NewSender(remover sender.InstallationRemover, logger *slog.Logger) *Sender {
	return &Sender{
		remover:    remover,
		logger:     logger.With("component", "WebPushSender"),
		httpClient: &http.Client{},
	}
}

// Send pushes the batch subscription by subscription. Unparseable tokens and
// endpoints answering 404/410 are queued for removal; a payload marshalling
// failure or missing VAPID credentials is fatal for the batch.
func (s *Sender) Send(ctx context.Context, variant upmodel.Variant, tokens []string, message upmodel.UnifiedPushMessage, pushJobID string, cb sender.Callback) {
	if variant.VAPID == nil {
		cb.OnError(fmt.Sprintf("variant %s carries no VAPID credentials", variant.ID))
		return
	}

	payloadBytes, err := json.Marshal(map[string]interface{}{
		"notification": map[string]string{
			"title": message.Title,
			"body":  message.Alert,
		},
		"data": message.UserData,
	})
	if err != nil {
		cb.OnError(fmt.Sprintf("failed to marshal payload: %v", err))
		return
	}

	ttl := message.TimeToLive
	if ttl <= 0 {
		ttl = 60
	}

	var invalidTokens []string
	successCount := 0
	failureCount := 0

	for _, rawToken := range tokens {
		var tok subscriptionToken
		if err := json.Unmarshal([]byte(rawToken), &tok); err != nil || tok.Endpoint == "" {
			// A registration we cannot even parse will never deliver.
			invalidTokens = append(invalidTokens, rawToken)
			continue
		}

		sub := &webpush.Subscription{
			Endpoint: tok.Endpoint,
			Keys: webpush.Keys{
				P256dh: tok.Keys.P256dh,
				Auth:   tok.Keys.Auth,
			},
		}

		resp, err := webpush.SendNotification(payloadBytes, sub, &webpush.Options{
			Subscriber:      variant.VAPID.SubscriberEmail,
			VAPIDPublicKey:  variant.VAPID.PublicKey,
			VAPIDPrivateKey: variant.VAPID.PrivateKey,
			TTL:             ttl,
			HTTPClient:      s.httpClient,
		})
		if err != nil {
			// Transport error (DNS, timeout). Log and skip, don't delete.
			s.logger.Error("WebPush transport error", "endpoint", tok.Endpoint, "err", err)
			failureCount++
			continue
		}
		_ = resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusCreated:
			successCount++
		case http.StatusGone, http.StatusNotFound:
			invalidTokens = append(invalidTokens, rawToken)
			failureCount++
		default:
			s.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", tok.Endpoint)
			failureCount++
		}
	}

	if len(invalidTokens) > 0 {
		s.logger.Info("Cleaning up dead WebPush subscriptions", "variant", variant.ID, "count", len(invalidTokens))
		if err := s.remover.RemoveInstallationsForVariantByDeviceTokens(ctx, variant.ID, invalidTokens); err != nil {
			s.logger.Warn("Failed to remove dead subscriptions", "variant", variant.ID, "err", err)
		}
	}

	s.logger.Debug("WebPush batch processed",
		"variant", variant.ID, "push_job", pushJobID,
		"success", successCount, "invalid", len(invalidTokens), "failed", failureCount)
	cb.OnSuccess()
}
