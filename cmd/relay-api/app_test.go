package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BearBump/RelayBox/internal/api/httpapi"
	"github.com/BearBump/RelayBox/internal/auth"
	"github.com/BearBump/RelayBox/internal/broker/kafka"
	"github.com/BearBump/RelayBox/internal/integrations/payment/fake"
	"github.com/BearBump/RelayBox/internal/services/matches"
	"github.com/BearBump/RelayBox/internal/services/relays"
	"github.com/BearBump/RelayBox/internal/services/tracking"
	"github.com/BearBump/RelayBox/internal/storage/memstore"
	"github.com/stretchr/testify/require"
)

type fakeConsumer struct {
	values [][]byte
}

func (c fakeConsumer) Consume(ctx context.Context, handler kafka.Handler) error {
	for _, v := range c.values {
		if err := handler(ctx, nil, v); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return nil
}

func testRouter(t *testing.T, swaggerPath string) http.Handler {
	t.Helper()
	st := memstore.New()
	trk := tracking.New(st, nil, 0)
	verifier, err := auth.NewVerifier("secret", "")
	require.NoError(t, err)
	return httpapi.NewRouter(httpapi.Options{
		Matches:     matches.New(st, fake.New(), trk, matches.DefaultOptions()),
		Relays:      relays.New(st, trk, relays.Options{}),
		Tracking:    trk,
		Auth:        verifier,
		SwaggerPath: swaggerPath,
	})
}

func TestRunRelayAPI_ServesAndConsumes(t *testing.T) {
	dir := t.TempDir()
	sw := filepath.Join(dir, "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	opts := relayAPIOpts{
		httpAddr:      "127.0.0.1:0",
		swaggerPath:   sw,
		topic:         "t",
		consumerGroup: "g",
		onListen:      func(httpAddr string) { addrCh <- httpAddr },
	}

	handled := make(chan []byte, 1)
	handle := func(_ context.Context, _ []byte, value []byte) error {
		handled <- value
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- runRelayAPI(ctx, opts, testRouter(t, sw), fakeConsumer{values: [][]byte{[]byte(`{"type":"match.created"}`)}}, handle, nil)
	}()

	httpAddr := <-addrCh

	resp, err := http.Get("http://" + httpAddr + "/swagger.json")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"swagger"`)

	resp, err = http.Get("http://" + httpAddr + "/matches")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	select {
	case v := <-handled:
		require.JSONEq(t, `{"type":"match.created"}`, string(v))
	case <-time.After(2 * time.Second):
		t.Fatal("consumer handler was not called")
	}

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for shutdown")
	}
}

func TestRunRelayAPI_SwaggerRequired(t *testing.T) {
	err := runRelayAPI(context.Background(), relayAPIOpts{httpAddr: "127.0.0.1:0"}, http.NotFoundHandler(), fakeConsumer{}, nil, nil)
	require.Error(t, err)

	err = runRelayAPI(context.Background(), relayAPIOpts{httpAddr: "127.0.0.1:0", swaggerPath: "/nope/swagger.json"}, http.NotFoundHandler(), fakeConsumer{}, nil, nil)
	require.Error(t, err)
}
