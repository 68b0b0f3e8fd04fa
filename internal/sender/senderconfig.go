package sender

import "github.com/tinywideclouds/go-unifiedpush/pkg/upmodel"

// Configuration tunes how tokens are loaded and batched for one push network.
type Configuration struct {
	// BatchSize is how many tokens one sender invocation carries. Smaller
	// batches fail over better; larger batches are friendlier to the network.
	BatchSize int
	// BatchesToLoad caps how many batches one token-loader transaction
	// produces, keeping store transactions short.
	BatchesToLoad int
}

// TokensToLoad is the token window one loader invocation reads.
func (c Configuration) TokensToLoad() int {
	return c.BatchSize * c.BatchesToLoad
}

// DefaultConfigurations are the conservative per-network defaults. APNs gets
// one large batch per load because the HTTP/2 client fans out internally.
func DefaultConfigurations() map[upmodel.VariantType]Configuration {
	return map[upmodel.VariantType]Configuration{
		upmodel.VariantTypeIOS:        {BatchSize: 10000, BatchesToLoad: 1},
		upmodel.VariantTypeAndroid:    {BatchSize: 1000, BatchesToLoad: 10},
		upmodel.VariantTypeWebPush:    {BatchSize: 100, BatchesToLoad: 10},
		upmodel.VariantTypeADM:        {BatchSize: 100, BatchesToLoad: 10},
		upmodel.VariantTypeSimplePush: {BatchSize: 1000, BatchesToLoad: 10},
		upmodel.VariantTypeWindows:    {BatchSize: 1000, BatchesToLoad: 10},
	}
}

// ConfigRegistry is the immutable per-network tuning table, read once at
// startup.
type ConfigRegistry struct {
	configs map[upmodel.VariantType]Configuration
}

// NewConfigRegistry builds the registry from defaults with per-type
// overrides applied on top.
func NewConfigRegistry(overrides map[upmodel.VariantType]Configuration) *ConfigRegistry {
	configs := DefaultConfigurations()
	for t, o := range overrides {
		base := configs[t]
		if o.BatchSize > 0 {
			base.BatchSize = o.BatchSize
		}
		if o.BatchesToLoad > 0 {
			base.BatchesToLoad = o.BatchesToLoad
		}
		configs[t] = base
	}
	return &ConfigRegistry{configs: configs}
}

// For returns the configuration for a variant type, falling back to a modest
// general-purpose setting for unknown types.
func (r *ConfigRegistry) For(t upmodel.VariantType) Configuration {
	if c, ok := r.configs[t]; ok {
		return c
	}
	return Configuration{BatchSize: 1000, BatchesToLoad: 10}
}
