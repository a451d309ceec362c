package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"Cornucopia/pkg/messaging"
	"Cornucopia/pkg/model"
)

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) Record(ctx context.Context, rec model.Record) error {
	return m.Called(ctx, rec).Error(0)
}

type mockSubscriber struct {
	mock.Mock
}

func (m *mockSubscriber) Subscribe(stream, consumer, subject string, workers int, handler messaging.MessageHandler) error {
	return m.Called(stream, consumer, subject, workers).Error(0)
}

func envelope(t *testing.T) []byte {
	t.Helper()
	env, err := model.Seal(&model.RealtimeQuote{
		StockID:    "600000.SH",
		CapturedAt: time.Date(2024, 1, 2, 9, 31, 0, 0, time.UTC),
		Price:      decimal.RequireFromString("7.05"),
	})
	require.NoError(t, err)
	data, err := json.Marshal(env)
	require.NoError(t, err)
	return data
}

func TestWorker_Handle(t *testing.T) {
	tests := []struct {
		name      string
		recordErr error
		want      messaging.Disposition
		stats     Stats
	}{
		{"写入成功", nil, messaging.Ack, Stats{Stored: 1}},
		{"数据校验失败", fmt.Errorf("low > high: %w", model.ErrInvalidRange), messaging.Ack, Stats{Rejected: 1}},
		{"未知证券", model.ErrUnknownSecurity, messaging.Ack, Stats{Rejected: 1}},
		{"并发冲突", model.ErrConcurrencyConflict, messaging.Nak, Stats{Retried: 1}},
		{"数据库故障", errors.New("connection refused"), messaging.Nak, Stats{Retried: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockRecorder{}
			store.On("Record", mock.Anything, mock.AnythingOfType("*model.RealtimeQuote")).Return(tt.recordErr)

			w := NewWorker(store, zerolog.Nop())
			got := w.Handle(context.Background(), "quotes.realtime", envelope(t))
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.stats, w.Stats())
			store.AssertExpectations(t)
		})
	}
}

func TestWorker_HandleMalformed(t *testing.T) {
	store := &mockRecorder{}
	w := NewWorker(store, zerolog.Nop())

	assert.Equal(t, messaging.Term, w.Handle(context.Background(), "quotes.daily", []byte("not json")))
	assert.Equal(t, messaging.Term, w.Handle(context.Background(), "quotes.tick",
		[]byte(`{"granularity":"tick","record":{}}`)))
	assert.Equal(t, int64(2), w.Stats().Dropped)
	store.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
}

func TestWorker_Start(t *testing.T) {
	sub := &mockSubscriber{}
	sub.On("Subscribe", messaging.QuotesStream, "ingest", messaging.QuotesSubject, 4).Return(nil)

	w := NewWorker(&mockRecorder{}, zerolog.Nop())
	require.NoError(t, w.Start(sub, "ingest", 4))
	sub.AssertExpectations(t)
}
