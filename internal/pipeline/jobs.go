package pipeline

import "encoding/json"

// VariantJob is one token-loading work item. The serialized message travels
// with the job so the loader never re-reads the original submission.
type VariantJob struct {
	PushMessageInformationID string          `json:"pushMessageInformationId"`
	VariantID                string          `json:"variantId"`
	VariantType              string          `json:"variantType"`
	Message                  json.RawMessage `json:"message"`
	// Cursor resumes the token scan; empty on the seed job.
	Cursor string `json:"lastTokenPageCursor,omitempty"`
}

// BatchJob is one unit of sender work.
type BatchJob struct {
	PushMessageInformationID string          `json:"pushMessageInformationId"`
	VariantID                string          `json:"variantId"`
	Message                  json.RawMessage `json:"message"`
	Tokens                   []string        `json:"tokens"`
	LastBatch                bool            `json:"lastBatch"`
}

// VariantMetrics is the dispatcher's per-batch outcome, consumed by the
// collector from the metrics queue.
type VariantMetrics struct {
	PushMessageInformationID string `json:"pushMessageInformationId"`
	VariantID                string `json:"variantId"`
	Receivers                int64  `json:"receivers"`
	ServedBatches            int    `json:"servedBatches"`
	TotalBatches             int    `json:"totalBatches"`
	DeliveryStatus           string `json:"deliveryStatus,omitempty"`
	Reason                   string `json:"reason,omitempty"`
}

// TriggerMetricCollection asks the trigger loop to run the collector for one
// push job.
type TriggerMetricCollection struct {
	PushMessageInformationID string `json:"pushMessageInformationId"`
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Job payloads are plain structs; a marshal failure is a programming
		// error.
		panic(err)
	}
	return b
}
