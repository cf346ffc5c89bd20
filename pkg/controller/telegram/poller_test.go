package telegram_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/murmur/pkg/controller/telegram"
)

type mockSource struct {
	mu      sync.Mutex
	batches [][]string
	offsets []int64
	cancel  context.CancelFunc
	calls   int
}

func (m *mockSource) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]json.RawMessage, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.offsets = append(m.offsets, offset)
	m.calls++
	if m.calls == 1 {
		return nil, offset, errors.New("temporary failure")
	}
	if len(m.batches) == 0 {
		m.cancel()
		return nil, offset, ctx.Err()
	}

	batch := m.batches[0]
	m.batches = m.batches[1:]
	raws := make([]json.RawMessage, len(batch))
	for i, b := range batch {
		raws[i] = json.RawMessage(b)
	}
	return raws, offset + int64(len(batch)), nil
}

func TestPollerRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := &mockSource{
		cancel: cancel,
		batches: [][]string{
			{
				`{"update_id": 1, "message": {"message_id": 1, "date": 3, "chat": {"id": 4}, "text": "a"}}`,
				`{"update_id": 2, "edited_message": {"message_id": 1}}`,
				`{"update_id": 3, "message": {"message_id": 2}}`,
			},
			{
				`{"update_id": 4, "message": {"message_id": 3, "date": 3, "chat": {"id": 5}, "text": "b"}}`,
			},
		},
	}
	events := &mockEventHandler{}

	poller := telegram.NewPoller(source, events,
		telegram.WithRetryDelay(time.Millisecond),
		telegram.WithConcurrency(2),
	)
	gt.NoError(t, poller.Run(ctx))

	// invalid and ignored updates never reach the orchestrator
	gt.Equal(t, events.count(), 2)
	gt.Equal(t, source.offsets, []int64{0, 0, 3, 4})
}
