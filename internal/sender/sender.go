// Package sender defines the contract platform transports conform to and the
// per-network tuning registry.
package sender

import (
	"context"
	"sync"

	"github.com/tinywideclouds/go-unifiedpush/pkg/upmodel"
)

// Callback receives the outcome of one batch send. Exactly one of the two
// methods is invoked, exactly once.
type Callback interface {
	// OnSuccess reports the batch was processed with no fatal error.
	// Per-token rejections are not fatal.
	OnSuccess()
	// OnError reports a fatal error (connect, authenticate, payload).
	OnError(reason string)
}

// PushNotificationSender delivers one batch of tokens through a push network.
// Implementations must be safe for concurrent use across worker goroutines,
// including for the same variant.
type PushNotificationSender interface {
	Send(ctx context.Context, variant upmodel.Variant, tokens []string, message upmodel.UnifiedPushMessage, pushJobID string, cb Callback)
}

// InstallationRemover prunes registrations whose tokens the network rejected.
// Senders request removal; they never treat rejected tokens as send failures.
type InstallationRemover interface {
	RemoveInstallationsForVariantByDeviceTokens(ctx context.Context, variantID string, tokens []string) error
}

// Registry maps variant types to their senders. Populated at startup,
// read-only afterwards.
type Registry struct {
	mu      sync.RWMutex
	senders map[upmodel.VariantType]PushNotificationSender
}

func NewRegistry() *Registry {
	return &Registry{senders: make(map[upmodel.VariantType]PushNotificationSender)}
}

func (r *Registry) Register(t upmodel.VariantType, s PushNotificationSender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[t] = s
}

func (r *Registry) For(t upmodel.VariantType) (PushNotificationSender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.senders[t]
	return s, ok
}

// Types lists the registered variant types; the service starts one loader and
// one dispatcher pool per type.
func (r *Registry) Types() []upmodel.VariantType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]upmodel.VariantType, 0, len(r.senders))
	for t := range r.senders {
		out = append(out, t)
	}
	return out
}
