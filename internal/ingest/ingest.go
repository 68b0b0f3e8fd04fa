// Package ingest adapts queued push submissions into splitter invocations.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-unifiedpush/internal/pipeline"
	"github.com/tinywideclouds/go-unifiedpush/pkg/upmodel"
)

// SendRequest is the submission envelope published by the sender-facing API.
type SendRequest struct {
	ApplicationID    string                     `json:"applicationId"`
	Message          upmodel.UnifiedPushMessage `json:"message"`
	IPAddress        string                     `json:"ipAddress,omitempty"`
	ClientIdentifier string                     `json:"clientIdentifier,omitempty"`
}

// SendRequestTransformer safely unmarshals and validates a raw payload into a
// SendRequest. Malformed submissions are skipped so the streaming service can
// handle the nack/DLQ logic.
func SendRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*SendRequest, bool, error) {
	var req SendRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal send request from message %s: %w", msg.ID, err)
	}
	if req.ApplicationID == "" {
		return nil, true, fmt.Errorf("send request %s names no application", msg.ID)
	}
	return &req, false, nil
}

// NewProcessor creates the stage that hands validated submissions to the job
// splitter. A transient splitter failure is returned so the consumer nacks
// and the submission is redelivered.
func NewProcessor(splitter *pipeline.Splitter, logger *slog.Logger) messagepipeline.StreamProcessor[SendRequest] {
	return func(ctx context.Context, original messagepipeline.Message, req *SendRequest) error {
		procLogger := logger.With(
			"app_id", req.ApplicationID,
			"pubsub_msg_id", original.ID,
		)

		pushID, err := splitter.Submit(ctx, req.ApplicationID, req.Message, pipeline.SubmitMeta{
			IPAddress:        req.IPAddress,
			ClientIdentifier: req.ClientIdentifier,
		})
		if err != nil {
			procLogger.Error("Failed to split push submission", "err", err)
			return err // Retryable
		}

		procLogger.Info("Push submission accepted", "push_job", pushID)
		return nil
	}
}
