// Package fcm sends batches through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-unifiedpush/internal/sender"
	"github.com/tinywideclouds/go-unifiedpush/pkg/upmodel"
)

// FCM caps one multicast call at 500 tokens; larger batches are chunked.
const multicastLimit = 500

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type Sender struct {
	client  MessagingClient
	remover sender.InstallationRemover
	logger  *slog.Logger
}

// NewSender accepts the concrete client but stores it as the interface.
// Note: *messaging.Client automatically satisfies this interface.
func NewSender(client MessagingClient, remover sender.InstallationRemover, logger *slog.Logger) *Sender {
	return &Sender{
		client:  client,
		remover: remover,
		logger:  logger.With("component", "FCMSender"),
	}
}

// Send delivers the batch in multicast chunks. A transport or auth failure
// fires OnError; tokens FCM reports as unregistered or invalid are queued for
// removal and do not count as failure.
func (s *Sender) Send(ctx context.Context, variant upmodel.Variant, tokens []string, message upmodel.UnifiedPushMessage, pushJobID string, cb sender.Callback) {
	if len(tokens) == 0 {
		cb.OnSuccess()
		return
	}

	var invalidTokens []string
	for start := 0; start < len(tokens); start += multicastLimit {
		end := start + multicastLimit
		if end > len(tokens) {
			end = len(tokens)
		}
		chunk := tokens[start:end]

		br, err := s.client.SendEachForMulticast(ctx, s.buildMessage(chunk, message))
		if err != nil {
			s.logger.Error("FCM transport failed", "variant", variant.ID, "push_job", pushJobID, "err", err)
			cb.OnError(fmt.Sprintf("FCM transport failed: %v", err))
			return
		}

		for idx, resp := range br.Responses {
			if resp.Success {
				continue
			}
			if messaging.IsInvalidArgument(resp.Error) || messaging.IsRegistrationTokenNotRegistered(resp.Error) {
				invalidTokens = append(invalidTokens, chunk[idx])
			}
		}
	}

	if len(invalidTokens) > 0 {
		s.logger.Info("Cleaning up invalid FCM tokens", "variant", variant.ID, "count", len(invalidTokens))
		if err := s.remover.RemoveInstallationsForVariantByDeviceTokens(ctx, variant.ID, invalidTokens); err != nil {
			s.logger.Warn("Failed to remove invalid FCM tokens", "variant", variant.ID, "err", err)
		}
	}

	cb.OnSuccess()
}

func (s *Sender) buildMessage(tokens []string, message upmodel.UnifiedPushMessage) *messaging.MulticastMessage {
	msg := &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   stringifyUserData(message.UserData),
		Notification: &messaging.Notification{
			Title: message.Title,
			Body:  message.Alert,
		},
	}
	if message.TimeToLive > 0 {
		ttl := time.Duration(message.TimeToLive) * time.Second
		msg.Android = &messaging.AndroidConfig{TTL: &ttl}
	}
	return msg
}

// FCM data payloads are string-to-string; non-string user data is rendered
// with its default formatting.
func stringifyUserData(data map[string]any) map[string]string {
	if len(data) == 0 {
		return nil
	}
	out := make(map[string]string, len(data))
	for k, v := range data {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}
