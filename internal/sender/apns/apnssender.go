// Package apns sends batches through the Apple Push Notification Service
// over HTTP/2 with token-based authentication.
package apns

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/tinywideclouds/go-unifiedpush/internal/sender"
	"github.com/tinywideclouds/go-unifiedpush/pkg/upmodel"
)

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// ClientFactory builds a signed client for one variant. Credentials come from
// the variant document, never from the environment.
type ClientFactory func(variant upmodel.Variant) (APNSClient, error)

// NewTokenClient is the production ClientFactory: it parses the variant's P8
// key and picks the development or production endpoint from the variant's
// production flag.
func NewTokenClient(variant upmodel.Variant) (APNSClient, error) {
	if variant.APNS == nil {
		return nil, fmt.Errorf("variant %s carries no APNs credentials", variant.ID)
	}
	authKey, err := token.AuthKeyFromBytes([]byte(variant.APNS.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}
	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   variant.APNS.KeyID,
		TeamID:  variant.APNS.TeamID,
	})
	if variant.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}
	return client, nil
}

type Sender struct {
	factory ClientFactory
	remover sender.InstallationRemover
	logger  *slog.Logger

	mu      sync.Mutex
	clients map[string]APNSClient // keyed by variant id
}

func NewSender(factory ClientFactory, remover sender.InstallationRemover, logger *slog.Logger) *Sender {
	return &Sender{
		factory: factory,
		remover: remover,
		logger:  logger.With("component", "APNSSender"),
		clients: make(map[string]APNSClient),
	}
}

func (s *Sender) client(variant upmodel.Variant) (APNSClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[variant.ID]; ok {
		return c, nil
	}
	c, err := s.factory(variant)
	if err != nil {
		return nil, err
	}
	s.clients[variant.ID] = c
	return c, nil
}

// Send pushes the batch token by token; the APNs HTTP/2 API is unary. The
// callback fires exactly once: OnError for credential parsing or a transport
// failure on the very first push (nothing was delivered yet), OnSuccess
// otherwise. Later transport failures are logged and counted but do not turn
// a partially delivered batch into a fatal error.
func (s *Sender) Send(ctx context.Context, variant upmodel.Variant, tokens []string, message upmodel.UnifiedPushMessage, pushJobID string, cb sender.Callback) {
	client, err := s.client(variant)
	if err != nil {
		s.logger.Error("APNs client setup failed", "variant", variant.ID, "err", err)
		cb.OnError(fmt.Sprintf("APNs client setup failed: %v", err))
		return
	}

	builder := s.buildPayload(message)

	var invalidTokens []string
	successCount := 0
	failureCount := 0

	for i, deviceToken := range tokens {
		n := &apns2.Notification{
			DeviceToken: deviceToken,
			Topic:       variant.APNS.BundleID,
			Payload:     builder,
		}
		if message.TimeToLive > 0 {
			n.Expiration = time.Now().Add(time.Duration(message.TimeToLive) * time.Second)
		}

		res, err := client.PushWithContext(ctx, n)
		if err != nil {
			if i == 0 && successCount == 0 {
				// Nothing went out; treat as a connect failure for the batch.
				cb.OnError(fmt.Sprintf("APNs transport failed: %v", err))
				return
			}
			s.logger.Error("APNs transport failed mid-batch", "token", deviceToken, "err", err)
			failureCount++
			continue
		}

		if res.Sent() {
			successCount++
			continue
		}
		failureCount++
		switch res.Reason {
		case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
			invalidTokens = append(invalidTokens, deviceToken)
		default:
			s.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
		}
	}

	if len(invalidTokens) > 0 {
		s.logger.Info("Cleaning up invalid APNs tokens", "variant", variant.ID, "count", len(invalidTokens))
		if err := s.remover.RemoveInstallationsForVariantByDeviceTokens(ctx, variant.ID, invalidTokens); err != nil {
			s.logger.Warn("Failed to remove invalid APNs tokens", "variant", variant.ID, "err", err)
		}
	}

	s.logger.Debug("APNs batch processed",
		"variant", variant.ID, "push_job", pushJobID,
		"success", successCount, "invalid", len(invalidTokens), "failed", failureCount)
	cb.OnSuccess()
}

func (s *Sender) buildPayload(message upmodel.UnifiedPushMessage) *payload.Payload {
	builder := payload.NewPayload().
		AlertTitle(message.Title).
		AlertBody(message.Alert)
	if message.Sound != "" {
		builder.Sound(message.Sound)
	}
	if message.Badge > 0 {
		builder.Badge(message.Badge)
	}
	if message.ContentAvailable {
		builder.ContentAvailable()
	}
	for k, v := range message.UserData {
		builder.Custom(k, v)
	}
	return builder
}
