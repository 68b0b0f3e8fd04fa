package fcm_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-unifiedpush/internal/sender/fcm"
	"github.com/tinywideclouds/go-unifiedpush/pkg/upmodel"
)

// MockClient satisfies the MessagingClient interface
type MockClient struct {
	mock.Mock
}

func (m *MockClient) SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.BatchResponse), args.Error(1)
}

type MockRemover struct {
	mock.Mock
}

func (m *MockRemover) RemoveInstallationsForVariantByDeviceTokens(ctx context.Context, variantID string, tokens []string) error {
	args := m.Called(ctx, variantID, tokens)
	return args.Error(0)
}

// recordingCallback captures the single outcome a sender reports.
type recordingCallback struct {
	succeeded bool
	failed    bool
	reason    string
}

func (c *recordingCallback) OnSuccess()            { c.succeeded = true }
func (c *recordingCallback) OnError(reason string) { c.failed = true; c.reason = reason }

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func successResponses(n int) *messaging.BatchResponse {
	resp := &messaging.BatchResponse{SuccessCount: n}
	for i := 0; i < n; i++ {
		resp.Responses = append(resp.Responses, &messaging.SendResponse{Success: true, MessageID: fmt.Sprintf("msg-%d", i)})
	}
	return resp
}

func TestFCMSend_Lifecycle(t *testing.T) {
	logger := newTestLogger()
	ctx := context.Background()
	variant := upmodel.Variant{ID: "v1", Type: upmodel.VariantTypeAndroid}
	message := upmodel.UnifiedPushMessage{Alert: "hi", Title: "t", TimeToLive: 60}

	t.Run("Happy Path - All Success", func(t *testing.T) {
		mockClient := new(MockClient)
		mockRemover := new(MockRemover)
		s := fcm.NewSender(mockClient, mockRemover, logger)
		cb := &recordingCallback{}

		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(successResponses(2), nil)

		s.Send(ctx, variant, []string{"token-1", "token-2"}, message, "p1", cb)

		assert.True(t, cb.succeeded)
		assert.False(t, cb.failed)
		mockClient.AssertExpectations(t)
		mockRemover.AssertNotCalled(t, "RemoveInstallationsForVariantByDeviceTokens")
	})

	t.Run("Empty Batch Succeeds Without Network", func(t *testing.T) {
		mockClient := new(MockClient)
		s := fcm.NewSender(mockClient, new(MockRemover), logger)
		cb := &recordingCallback{}

		s.Send(ctx, variant, nil, message, "p1", cb)

		assert.True(t, cb.succeeded)
		mockClient.AssertNotCalled(t, "SendEachForMulticast")
	})

	t.Run("Transport Failure Fires OnError", func(t *testing.T) {
		mockClient := new(MockClient)
		s := fcm.NewSender(mockClient, new(MockRemover), logger)
		cb := &recordingCallback{}

		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(nil, errors.New("network down"))

		s.Send(ctx, variant, []string{"token-1"}, message, "p1", cb)

		require.True(t, cb.failed)
		assert.Contains(t, cb.reason, "network down")
		assert.False(t, cb.succeeded)
	})

	t.Run("Large Batch Is Chunked", func(t *testing.T) {
		mockClient := new(MockClient)
		s := fcm.NewSender(mockClient, new(MockRemover), logger)
		cb := &recordingCallback{}

		tokens := make([]string, 501)
		for i := range tokens {
			tokens[i] = fmt.Sprintf("token-%d", i)
		}

		// 500-token cap per multicast call: expect two calls.
		mockClient.On("SendEachForMulticast", ctx, mock.MatchedBy(func(m *messaging.MulticastMessage) bool {
			return len(m.Tokens) == 500
		})).Return(successResponses(500), nil).Once()
		mockClient.On("SendEachForMulticast", ctx, mock.MatchedBy(func(m *messaging.MulticastMessage) bool {
			return len(m.Tokens) == 1
		})).Return(successResponses(1), nil).Once()

		s.Send(ctx, variant, tokens, message, "p1", cb)

		assert.True(t, cb.succeeded)
		mockClient.AssertExpectations(t)
	})
}

func TestFCMSend_PartialFailuresAreNotFatal(t *testing.T) {
	logger := newTestLogger()
	ctx := context.Background()
	variant := upmodel.Variant{ID: "v1"}

	mockClient := new(MockClient)
	mockRemover := new(MockRemover)
	s := fcm.NewSender(mockClient, mockRemover, logger)
	cb := &recordingCallback{}

	// One token fails with a non-registration error: nothing to clean up, and
	// the batch still counts as processed.
	resp := &messaging.BatchResponse{
		SuccessCount: 1,
		FailureCount: 1,
		Responses: []*messaging.SendResponse{
			{Success: true, MessageID: "msg-1"},
			{Success: false, Error: errors.New("internal error")},
		},
	}
	mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(resp, nil)

	s.Send(ctx, variant, []string{"token-1", "token-2"}, upmodel.UnifiedPushMessage{}, "p1", cb)

	assert.True(t, cb.succeeded)
	mockRemover.AssertNotCalled(t, "RemoveInstallationsForVariantByDeviceTokens")
}
