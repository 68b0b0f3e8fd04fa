// Package upmodel contains the public domain model for the unified push
// server: the submitted message format, variant configuration, and the
// metrics documents the dispatch pipeline aggregates.
package upmodel

import "encoding/json"

// Criteria narrows the set of installations a push message is delivered to.
// Empty slices mean "no restriction".
type Criteria struct {
	Aliases     []string `json:"alias,omitempty"`
	Categories  []string `json:"categories,omitempty"`
	DeviceTypes []string `json:"deviceType,omitempty"`
	// Variants is an id allow-list; when set, only the named variants of the
	// application are targeted.
	Variants []string `json:"variants,omitempty"`
}

// UnifiedPushMessage is the caller's push request. One submission fans out
// across every targeted variant of the application.
type UnifiedPushMessage struct {
	Alert            string         `json:"alert,omitempty"`
	Title            string         `json:"title,omitempty"`
	Badge            int            `json:"badge,omitempty"`
	Sound            string         `json:"sound,omitempty"`
	ContentAvailable bool           `json:"content-available,omitempty"`
	UserData         map[string]any `json:"user-data,omitempty"`
	TimeToLive       int            `json:"ttl,omitempty"`
	Criteria         Criteria       `json:"criteria,omitempty"`
}

// Marshal serializes the message for queueing. The serialized form travels
// with every variant and batch job so workers never need to re-read the
// original submission.
func (m UnifiedPushMessage) Marshal() (json.RawMessage, error) {
	return json.Marshal(m)
}

// UnmarshalMessage is the inverse of Marshal.
func UnmarshalMessage(raw json.RawMessage) (UnifiedPushMessage, error) {
	var m UnifiedPushMessage
	err := json.Unmarshal(raw, &m)
	return m, err
}
