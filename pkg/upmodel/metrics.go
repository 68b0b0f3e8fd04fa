package upmodel

import "time"

// DeliveryStatus is the three-valued per-variant delivery outcome. Failure is
// sticky: once a variant has recorded a failed batch it stays failed, no
// matter how many later batches succeed.
type DeliveryStatus string

const (
	DeliveryUnset     DeliveryStatus = ""
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// VariantMetricInformation aggregates the per-batch outcomes of one variant
// within one push job.
type VariantMetricInformation struct {
	VariantID      string         `json:"variantId" firestore:"variantId"`
	Receivers      int64          `json:"receivers" firestore:"receivers"`
	ServedBatches  int            `json:"servedBatches" firestore:"servedBatches"`
	TotalBatches   int            `json:"totalBatches" firestore:"totalBatches"`
	DeliveryStatus DeliveryStatus `json:"deliveryStatus,omitempty" firestore:"deliveryStatus,omitempty"`
	Reason         string         `json:"reason,omitempty" firestore:"reason,omitempty"`
}

// Merge folds an update for the same variant into the receiver. Counters add
// up, the delivery status follows the sticky-false rule, and the first
// recorded failure reason wins.
func (v *VariantMetricInformation) Merge(update VariantMetricInformation) {
	v.Receivers += update.Receivers
	v.ServedBatches += update.ServedBatches
	v.TotalBatches += update.TotalBatches
	if v.DeliveryStatus == DeliveryUnset {
		v.DeliveryStatus = update.DeliveryStatus
	}
	if update.DeliveryStatus == DeliveryFailed {
		v.DeliveryStatus = DeliveryFailed
	}
	if v.Reason == "" {
		v.Reason = update.Reason
	}
}

// PushMessageInformation is the persisted aggregate for one push job. It is
// created by the splitter before any sub-job is enqueued and mutated only by
// the metrics collector afterwards.
type PushMessageInformation struct {
	ID               string    `json:"id" firestore:"id"`
	AppID            string    `json:"appId" firestore:"appId"`
	RawJSONMessage   string    `json:"rawJsonMessage,omitempty" firestore:"rawJsonMessage,omitempty"`
	SubmitDate       time.Time `json:"submitDate" firestore:"submitDate"`
	IPAddress        string    `json:"ipAddress,omitempty" firestore:"ipAddress,omitempty"`
	ClientIdentifier string    `json:"clientIdentifier,omitempty" firestore:"clientIdentifier,omitempty"`

	TotalReceivers int64 `json:"totalReceivers" firestore:"totalReceivers"`
	ServedVariants int   `json:"servedVariants" firestore:"servedVariants"`
	TotalVariants  int   `json:"totalVariants" firestore:"totalVariants"`

	VariantInformations []VariantMetricInformation `json:"variantInformations,omitempty" firestore:"variantInformations,omitempty"`
}

// VariantInformation returns the entry for the given variant, or nil.
func (p *PushMessageInformation) VariantInformation(variantID string) *VariantMetricInformation {
	for i := range p.VariantInformations {
		if p.VariantInformations[i].VariantID == variantID {
			return &p.VariantInformations[i]
		}
	}
	return nil
}

// VariantErrorStatus records one transport rejection for a (push job, variant)
// pair. The first recorded reason per pair is preserved.
type VariantErrorStatus struct {
	PushJobID   string `json:"pushJobId" firestore:"pushJobId"`
	VariantID   string `json:"variantId" firestore:"variantId"`
	ErrorReason string `json:"errorReason" firestore:"errorReason"`
}

// Key is the compound identifier used for first-write-wins persistence.
func (v VariantErrorStatus) Key() string {
	return v.PushJobID + ":" + v.VariantID
}
