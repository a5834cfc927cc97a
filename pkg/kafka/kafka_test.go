package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinBand/pkg/logger"
)

type memWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memWriter) Close() error { return nil }

func (w *memWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

type chanReader struct {
	ch        chan kafka.Message
	mu        sync.Mutex
	committed []int64
}

func (r *chanReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.ch:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *chanReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *chanReader) Close() error { return nil }

func (r *chanReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type funcHandler struct {
	topic string
	fn    func(key, value []byte) error
}

func (h funcHandler) Topic() string { return h.topic }
func (h funcHandler) Handle(_ context.Context, key, value []byte) error {
	return h.fn(key, value)
}

func newTestConsumer(t *testing.T, r *chanReader, dlq *memWriter, opts ...ConsumerOption) *Consumer {
	t.Helper()
	opts = append([]ConsumerOption{
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRetry(2, time.Millisecond, 2*time.Millisecond),
	}, opts...)
	c, err := NewConsumer(logger.Nop(), opts...)
	require.NoError(t, err)
	c.newReader = func(string) Reader { return r }
	if dlq != nil {
		c.dlq = dlq
	}
	return c
}

func TestProducerPublish(t *testing.T) {
	w := &memWriter{}
	p := NewProducerWithWriter(w, "snappy")

	err := p.Publish(context.Background(), "forecasts", Message{
		Key:     []byte("BTC-USD"),
		Value:   []byte(`{"ok":true}`),
		Headers: map[string]string{"content-type": "application/json"},
	})
	require.NoError(t, err)

	got := w.written()
	require.Len(t, got, 1)
	assert.Equal(t, "forecasts", got[0].Topic)
	assert.Equal(t, "BTC-USD", string(got[0].Key))
	require.Len(t, got[0].Headers, 1)
	assert.Equal(t, "content-type", got[0].Headers[0].Key)
}

func TestProducerPublishError(t *testing.T) {
	w := &memWriter{err: errors.New("broker down")}
	p := NewProducerWithWriter(w, "snappy")

	err := p.Publish(context.Background(), "forecasts", Message{Value: []byte("x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forecasts")
	assert.NoError(t, p.PublishBatch(context.Background(), "forecasts", nil))
}

func TestNewRequiresBrokers(t *testing.T) {
	_, err := NewProducer()
	assert.Error(t, err)
	_, err = NewConsumer(logger.Nop())
	assert.Error(t, err)
}

func TestConsumerRetriesThenCommits(t *testing.T) {
	r := &chanReader{ch: make(chan kafka.Message, 1)}
	c := newTestConsumer(t, r, nil)

	var mu sync.Mutex
	calls := 0
	c.RegisterHandler(funcHandler{topic: "req", fn: func(_, _ []byte) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}})

	require.NoError(t, c.Start(context.Background()))
	r.ch <- kafka.Message{Topic: "req", Offset: 7, Value: []byte("{}")}

	assert.Eventually(t, func() bool { return len(r.commits()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int64{7}, r.commits())
}

func TestConsumerDeadLettersAfterRetries(t *testing.T) {
	r := &chanReader{ch: make(chan kafka.Message, 1)}
	dlq := &memWriter{}
	c := newTestConsumer(t, r, dlq, WithConsumerDLQ("req.dlq"))

	c.RegisterHandler(funcHandler{topic: "req", fn: func(_, _ []byte) error {
		panic("bad payload")
	}})

	require.NoError(t, c.Start(context.Background()))
	r.ch <- kafka.Message{Topic: "req", Offset: 3, Key: []byte("k"), Value: []byte("garbage")}

	assert.Eventually(t, func() bool { return len(dlq.written()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return len(r.commits()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))

	m := dlq.written()[0]
	assert.Equal(t, "req.dlq", m.Topic)
	assert.Equal(t, "garbage", string(m.Value))
	headers := map[string]string{}
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "req", headers["source_topic"])
	assert.Contains(t, headers["error"], "bad payload")
}

func TestConsumerWithoutDLQLeavesOffset(t *testing.T) {
	r := &chanReader{ch: make(chan kafka.Message, 1)}
	c := newTestConsumer(t, r, nil)
	handled := make(chan struct{}, 10)
	c.RegisterHandler(funcHandler{topic: "req", fn: func(_, _ []byte) error {
		handled <- struct{}{}
		return errors.New("always")
	}})

	require.NoError(t, c.Start(context.Background()))
	r.ch <- kafka.Message{Topic: "req", Offset: 1}

	for i := 0; i < 3; i++ {
		select {
		case <-handled:
		case <-time.After(time.Second):
			t.Fatal("handler not retried")
		}
	}
	require.NoError(t, c.Stop(context.Background()))
	assert.Empty(t, r.commits())
}

func TestStartWithoutHandlers(t *testing.T) {
	c := newTestConsumer(t, &chanReader{ch: make(chan kafka.Message)}, nil)
	assert.Error(t, c.Start(context.Background()))
}

func TestBackoffWithJitterBounds(t *testing.T) {
	for attempt := 1; attempt <= 40; attempt++ {
		d := backoffWithJitter(10*time.Millisecond, time.Second, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
}

func TestExtractTraceID(t *testing.T) {
	m := kafka.Message{Headers: []kafka.Header{{Key: "trace_id", Value: []byte("abc")}}}
	assert.Equal(t, "abc", ExtractTraceID(m))
	assert.Empty(t, ExtractTraceID(kafka.Message{}))
}
