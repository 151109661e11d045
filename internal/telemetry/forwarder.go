package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/bilal/router-rebooter/internal/config"
)

const flushBatchSize = 100

// Forwarder ships reboot and transition events off the device: batched HTTP
// POSTs to a backend, an optional Kafka topic, or both. It is entirely
// optional; New returns nil when neither destination is configured, and
// callers nil-check.
type Forwarder struct {
	endpoint     string
	client       *http.Client
	token        string
	queue        chan EventPayload
	wg           sync.WaitGroup
	sendInterval time.Duration
	kafka        *KafkaPublisher
	ctx          context.Context
	cancel       context.CancelFunc
}

// New creates the forwarder; it does NOT start the send loop.
func New(cfg config.TelemetryConfig) (*Forwarder, error) {
	if cfg.BackendURL == "" && len(cfg.KafkaBrokers) == 0 {
		return nil, nil
	}

	token := ""
	if cfg.AuthTokenEnv != "" {
		token = os.Getenv(cfg.AuthTokenEnv)
	}

	maxQ := cfg.MaxQueueSize
	if maxQ <= 0 {
		maxQ = 1000
	}

	var kafka *KafkaPublisher
	if len(cfg.KafkaBrokers) > 0 {
		var err error
		kafka, err = NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Forwarder{
		endpoint: cfg.BackendURL,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		token:        token,
		queue:        make(chan EventPayload, maxQ),
		sendInterval: time.Duration(cfg.SendIntervalSeconds) * time.Second,
		kafka:        kafka,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start launches the background send loop. Call once.
func (f *Forwarder) Start() {
	f.wg.Add(1)
	go f.loop()
	log.Info().Int("queue_capacity", cap(f.queue)).Bool("kafka", f.kafka != nil).Msg("telemetry forwarder started")
}

// Shutdown stops the loop and waits for queued events to flush, bounded by ctx.
func (f *Forwarder) Shutdown(ctx context.Context) {
	f.cancel()
	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("telemetry forwarder stopped")
	case <-ctx.Done():
		log.Warn().Msg("telemetry forwarder shutdown timeout")
	}

	if f.kafka != nil {
		if err := f.kafka.Close(); err != nil {
			log.Warn().Err(err).Msg("kafka publisher close failed")
		}
	}
}

// Send enqueues an event. Non-blocking: a full queue drops the oldest event so
// the monitor loop is never held up by a slow backend.
func (f *Forwarder) Send(e EventPayload) {
	if e.CorrelationID == "" {
		e.CorrelationID = uuid.New().String()
	}

	select {
	case f.queue <- e:
	default:
		select {
		case <-f.queue:
		default:
		}
		select {
		case f.queue <- e:
		default:
			log.Warn().Msg("telemetry event dropped: queue full")
		}
	}
}

func (f *Forwarder) loop() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.sendInterval)
	defer ticker.Stop()

	buffer := make([]EventPayload, 0, flushBatchSize)

	for {
		select {
		case <-f.ctx.Done():
			// flush remaining
			for {
				select {
				case e := <-f.queue:
					buffer = append(buffer, e)
				default:
					if len(buffer) > 0 {
						f.flush(buffer)
					}
					return
				}
			}

		case e := <-f.queue:
			buffer = append(buffer, e)
			if len(buffer) >= flushBatchSize {
				f.flush(buffer)
				buffer = buffer[:0]
			}

		case <-ticker.C:
			if len(buffer) > 0 {
				f.flush(buffer)
				buffer = buffer[:0]
			}
		}
	}
}

func (f *Forwarder) flush(events []EventPayload) {
	if f.kafka != nil {
		// not f.ctx: the shutdown flush still needs a live context
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, e := range events {
			if err := f.kafka.Publish(ctx, e); err != nil {
				log.Warn().Err(err).Msg("kafka publish failed")
				break
			}
		}
	}
	if f.endpoint != "" {
		f.postWithRetry(events)
	}
}

// postWithRetry posts the batch and retries with exponential backoff + jitter.
func (f *Forwarder) postWithRetry(events []EventPayload) {
	payload, err := json.Marshal(events)
	if err != nil {
		log.Error().Err(err).Msg("marshal telemetry batch failed")
		return
	}

	const maxAttempts = 6
	baseDelay := 500 * time.Millisecond

	for attempt := 1; ; attempt++ {
		req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, f.endpoint, bytes.NewReader(payload))
		if err != nil {
			log.Error().Err(err).Msg("create telemetry request failed")
			return
		}
		req.Header.Set("Content-Type", "application/json")
		if f.token != "" {
			req.Header.Set("Authorization", "Bearer "+f.token)
		}
		req.Header.Set("X-Correlation-ID", events[0].CorrelationID)

		resp, err := f.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				log.Debug().Int("count", len(events)).Msg("telemetry batch posted")
				return
			}
			err = fmt.Errorf("bad status: %d", resp.StatusCode)
		}

		log.Warn().Err(err).Int("attempt", attempt).Int("count", len(events)).Msg("telemetry post failed")

		if attempt >= maxAttempts {
			log.Error().Int("attempts", attempt).Msg("dropping telemetry batch")
			return
		}

		backoff := time.Duration(math.Pow(2, float64(attempt-1))) * baseDelay
		jitter := time.Duration(rand.Int63n(int64(baseDelay)))

		// During the shutdown flush f.ctx is already done: the batch gets
		// one attempt and is dropped rather than delaying exit.
		select {
		case <-time.After(backoff + jitter):
		case <-f.ctx.Done():
			return
		}
	}
}
