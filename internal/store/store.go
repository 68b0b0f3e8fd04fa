// Package store defines the persistence contracts the pipeline depends on and
// the error kinds that drive its retry behaviour.
package store

import (
	"context"
	"errors"

	"github.com/tinywideclouds/go-unifiedpush/pkg/upmodel"
)

// Error kinds. Handlers roll back (and let the broker redeliver) on
// ErrTransient; ErrPermanent failures are logged and dead-lettered.
var (
	ErrNotFound  = errors.New("store: not found")
	ErrTransient = errors.New("store: transient failure")
	ErrPermanent = errors.New("store: permanent failure")
)

// TokenPage is one window of device tokens, paginated deterministically in
// primary-key-ascending order.
type TokenPage struct {
	Tokens []string
	// Cursor resumes the scan after the last token of this page. Opaque.
	Cursor string
	// Last reports that no further pages exist.
	Last bool
}

// InstallationStore reads and prunes device registrations. FindDeviceTokens
// must not mutate store state; it is safe to call in a read-only transaction.
type InstallationStore interface {
	// FindDeviceTokens returns up to limit tokens of the variant matching the
	// criteria, resuming at cursor ("" for the first page).
	FindDeviceTokens(ctx context.Context, variantID string, criteria upmodel.Criteria, cursor string, limit int) (TokenPage, error)

	// RemoveInstallationsForVariantByDeviceTokens deletes registrations whose
	// tokens the push network has rejected.
	RemoveInstallationsForVariantByDeviceTokens(ctx context.Context, variantID string, tokens []string) error
}

// VariantStore resolves variants and their credentials.
type VariantStore interface {
	FindVariantByID(ctx context.Context, variantID string) (*upmodel.Variant, error)
	FindVariantsForApplication(ctx context.Context, appID string) ([]upmodel.Variant, error)
}

// MetricsStore persists push-job aggregates. PushMessageInformation documents
// are created by the splitter and updated only by the collector.
type MetricsStore interface {
	CreatePushMessageInformation(ctx context.Context, p *upmodel.PushMessageInformation) error
	FindPushMessageInformation(ctx context.Context, id string) (*upmodel.PushMessageInformation, error)
	UpdatePushMessageInformation(ctx context.Context, p *upmodel.PushMessageInformation) error

	// InsertVariantErrorStatus records one transport rejection. The first
	// write per (pushJobId, variantId) wins; later writes are no-ops.
	InsertVariantErrorStatus(ctx context.Context, status upmodel.VariantErrorStatus) error

	// FindPushMessageInformationsForApplication pages through the historical
	// aggregates of one application, newest or oldest first, filtered by a
	// full-text search over the raw message and id. It also returns the total
	// count under the filter.
	FindPushMessageInformationsForApplication(ctx context.Context, appID, search string, ascending bool, page, perPage int) ([]*upmodel.PushMessageInformation, int, error)

	ApplicationExists(ctx context.Context, appID string) (bool, error)
}
