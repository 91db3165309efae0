package payment

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type gatewayMock struct {
	mock.Mock
}

func (m *gatewayMock) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(ChargeResult), args.Error(1)
}

func testReq() ChargeRequest {
	return ChargeRequest{ReferenceID: "pay-1-0", Amount: decimal.NewFromInt(40), Currency: "eur", CardToken: "tok_visa"}
}

func fastOpts() RetryOptions {
	return RetryOptions{MaxAttempts: 3, AttemptTimeout: 50 * time.Millisecond, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestRetrying_RetriesTransientThenSucceeds(t *testing.T) {
	gm := &gatewayMock{}
	gm.On("Charge", mock.Anything, testReq()).Return(ChargeResult{}, errors.New("503")).Twice()
	gm.On("Charge", mock.Anything, testReq()).Return(ChargeResult{Status: StatusCompleted, TransactionID: "tx"}, nil).Once()

	res, err := NewRetrying(gm, fastOpts()).Charge(context.Background(), testReq())
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.Status)
	gm.AssertExpectations(t)
}

func TestRetrying_DeclineIsNotRetried(t *testing.T) {
	gm := &gatewayMock{}
	gm.On("Charge", mock.Anything, testReq()).Return(ChargeResult{Status: StatusFailed, FailureReason: "card_declined"}, nil).Once()

	res, err := NewRetrying(gm, fastOpts()).Charge(context.Background(), testReq())
	require.NoError(t, err)
	require.Equal(t, StatusFailed, res.Status)
	gm.AssertNumberOfCalls(t, "Charge", 1)
}

func TestRetrying_ExhaustedIsAmbiguous(t *testing.T) {
	gm := &gatewayMock{}
	gm.On("Charge", mock.Anything, testReq()).Return(ChargeResult{}, errors.New("timeout"))

	_, err := NewRetrying(gm, fastOpts()).Charge(context.Background(), testReq())
	require.EqualError(t, err, "timeout")
	gm.AssertNumberOfCalls(t, "Charge", 3)
}

func TestRetrying_InvalidRequestNotRetried(t *testing.T) {
	gm := &gatewayMock{}
	_, err := NewRetrying(gm, fastOpts()).Charge(context.Background(), ChargeRequest{ReferenceID: "r", Amount: decimal.Zero, CardToken: "t"})
	require.ErrorIs(t, err, ErrInvalidRequest)
	gm.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything)

	gm.On("Charge", mock.Anything, testReq()).Return(ChargeResult{}, ErrInvalidRequest).Once()
	_, err = NewRetrying(gm, fastOpts()).Charge(context.Background(), testReq())
	require.ErrorIs(t, err, ErrInvalidRequest)
	gm.AssertNumberOfCalls(t, "Charge", 1)
}

func TestRetrying_AttemptTimeout(t *testing.T) {
	slow := gatewayFunc(func(ctx context.Context, _ ChargeRequest) (ChargeResult, error) {
		<-ctx.Done()
		return ChargeResult{}, ctx.Err()
	})
	opts := fastOpts()
	opts.MaxAttempts = 2
	_, err := NewRetrying(slow, opts).Charge(context.Background(), testReq())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

type gatewayFunc func(ctx context.Context, req ChargeRequest) (ChargeResult, error)

func (f gatewayFunc) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	return f(ctx, req)
}

func TestRetrying_SharesConcurrentCalls(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	gw := gatewayFunc(func(ctx context.Context, _ ChargeRequest) (ChargeResult, error) {
		calls.Add(1)
		<-release
		return ChargeResult{Status: StatusCompleted, TransactionID: "tx"}, nil
	})
	opts := fastOpts()
	opts.AttemptTimeout = time.Second
	r := NewRetrying(gw, opts)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Charge(context.Background(), testReq())
			require.NoError(t, err)
			require.Equal(t, "tx", res.TransactionID)
		}()
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	require.Equal(t, int32(1), calls.Load())
}
