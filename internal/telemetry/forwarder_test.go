package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bilal/router-rebooter/internal/config"
)

func TestNewDisabledWithoutDestination(t *testing.T) {
	fw, err := New(config.TelemetryConfig{})
	require.NoError(t, err)
	assert.Nil(t, fw, "no backend and no brokers means no forwarder")
}

func TestSendDropsOldestWhenFull(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fw := &Forwarder{
		queue:  make(chan EventPayload, 2),
		ctx:    ctx,
		cancel: cancel,
	}

	fw.Send(EventPayload{Message: "one"})
	fw.Send(EventPayload{Message: "two"})
	fw.Send(EventPayload{Message: "three"})

	require.Len(t, fw.queue, 2)
	first := <-fw.queue
	assert.Equal(t, "two", first.Message, "oldest event is dropped, not the newest")
}

func TestSendAssignsCorrelationID(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fw := &Forwarder{queue: make(chan EventPayload, 1), ctx: ctx, cancel: cancel}

	fw.Send(EventPayload{Message: "one"})

	e := <-fw.queue
	assert.NotEmpty(t, e.CorrelationID)
}

func TestShutdownFlushesQueuedEvents(t *testing.T) {
	var mu sync.Mutex
	var batches [][]EventPayload
	var auth string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch []EventPayload
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		batches = append(batches, batch)
		auth = r.Header.Get("Authorization")
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	t.Setenv("TEST_REBOOTER_TOKEN", "tok-123")

	fw, err := New(config.TelemetryConfig{
		BackendURL:          ts.URL,
		AuthTokenEnv:        "TEST_REBOOTER_TOKEN",
		SendIntervalSeconds: 60,
		TimeoutSeconds:      2,
		MaxQueueSize:        10,
	})
	require.NoError(t, err)
	require.NotNil(t, fw)

	fw.Start()
	fw.Send(EventPayload{Kind: "reboot", Reason: "auto", Message: "router power cycled"})
	fw.Send(EventPayload{Kind: "reboot", Reason: "manual", Message: "router power cycled"})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	fw.Shutdown(shutdownCtx)

	mu.Lock()
	defer mu.Unlock()
	total := 0
	for _, b := range batches {
		total += len(b)
	}
	assert.Equal(t, 2, total, "all queued events are flushed on shutdown")
	assert.Equal(t, "Bearer tok-123", auth)
}

func TestKafkaPublisherRequiresBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "topic")
	assert.Error(t, err)
}
