package platform

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/rewards/internal/dedup"
	"example.com/rewards/internal/detect"
	"example.com/rewards/internal/domain"
)

func TestAnchorTriggersReleaseClosesChannel(t *testing.T) {
	source := NewPollSource(nil, staticToken(), 5*time.Millisecond)

	ch, release, err := source.AnchorTriggers(context.Background())
	require.NoError(t, err)
	release()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("trigger channel not closed after release")
		}
	}
}

type nopMarkers struct {
	mu     sync.Mutex
	mark   time.Time
	anchor []byte
}

func (m *nopMarkers) HighWaterMark(context.Context, string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mark, nil
}

func (m *nopMarkers) SetHighWaterMark(_ context.Context, _ string, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mark = ts
	return nil
}

func (m *nopMarkers) Anchor(context.Context, string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.anchor, nil
}

func (m *nopMarkers) SetAnchor(_ context.Context, _ string, anchor []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anchor = anchor
	return nil
}

type nopSink struct{}

func (nopSink) WorkoutsDetected(context.Context, []domain.Workout, string) error {
	return nil
}

func TestOrchestratorStopReturnsWithPollSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Activity{})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, domain.SourceGarmin, staticToken())
	client.rateLimiter.minInterval = 0
	source := NewPollSource(client, staticToken(), 10*time.Millisecond)

	quiet := log.New(io.Discard, "", 0)
	debouncer := dedup.NewDebouncer(5*time.Second, 5*time.Minute, dedup.WithDebouncerLogger(quiet))
	orch := detect.NewOrchestrator(
		detect.Config{UserID: "user-1", QueryTimeout: time.Second},
		source, &nopMarkers{}, debouncer, nopSink{},
		detect.WithLogger(quiet),
	)

	require.NoError(t, orch.Start(context.Background()))

	stopped := make(chan struct{})
	go func() {
		orch.Stop()
		orch.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}
}
