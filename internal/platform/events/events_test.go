package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	mu     sync.Mutex
	name   string
	err    error
	events []Event
}

func (s *memorySink) Name() string { return s.name }

func (s *memorySink) Send(_ context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, evt)
	return nil
}

func (s *memorySink) received() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestNew_StampsIDAndTime(t *testing.T) {
	evt := New(BillPaid, "bill", "b-1", "patient:p-1", map[string]interface{}{"amount": "10.00"})
	assert.NotEmpty(t, evt.ID)
	assert.False(t, evt.Timestamp.IsZero())
	assert.Equal(t, BillPaid, evt.Type)
	assert.Equal(t, "b-1", evt.ResourceID)
}

func TestDispatcher_FansOutAndSurvivesFailingSink(t *testing.T) {
	var logs bytes.Buffer
	failing := &memorySink{name: "broken", err: errors.New("connection refused")}
	good := &memorySink{name: "good"}

	d := NewDispatcher(zerolog.New(&logs), []Sink{failing, good})
	d.Publish(context.Background(), New(AppointmentCompleted, "appointment", "a-1", "", nil))
	d.Publish(context.Background(), New(BillPaid, "bill", "b-1", "", nil))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))

	got := good.received()
	require.Len(t, got, 2)
	assert.Equal(t, AppointmentCompleted, got[0].Type)
	assert.Equal(t, BillPaid, got[1].Type)
	assert.Contains(t, logs.String(), "event delivery failed")
	assert.Contains(t, logs.String(), `"sink":"broken"`)
}

func TestDispatcher_PublishAfterCloseIsIgnored(t *testing.T) {
	sink := &memorySink{name: "m"}
	d := NewDispatcher(zerolog.Nop(), []Sink{sink})
	require.NoError(t, d.Close(context.Background()))

	assert.NotPanics(t, func() {
		d.Publish(context.Background(), New(BillPaid, "bill", "b-1", "", nil))
	})
	assert.Empty(t, sink.received())
}

func TestDispatcher_PublishConcurrentWithClose(t *testing.T) {
	sink := &memorySink{name: "m"}
	d := NewDispatcher(zerolog.Nop(), []Sink{sink}, WithQueueSize(1024))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				d.Publish(context.Background(), New(StockAlertOpened, "stock_alert", "s-1", "", nil))
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
	wg.Wait()

	// Everything accepted before Close is delivered; nothing after it is.
	n := len(sink.received())
	d.Publish(context.Background(), New(StockAlertOpened, "stock_alert", "s-1", "", nil))
	assert.Len(t, sink.received(), n)
	assert.LessOrEqual(t, n, 400)
}

func TestRecorder_OfType(t *testing.T) {
	var r Recorder
	r.Publish(context.Background(), New(StockAlertOpened, "stock_alert", "s-1", "", nil))
	r.Publish(context.Background(), New(BillPaid, "bill", "b-1", "", nil))

	assert.Len(t, r.Events(), 2)
	assert.Len(t, r.OfType(StockAlertOpened), 1)
	assert.Empty(t, r.OfType(StockAlertResolved))
}

func TestRedisStreamSink_AppendsEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sink := NewRedisStreamSink(client, "hms:events")
	evt := New(StockAlertOpened, "stock_alert", "s-1", "admin:u-1", map[string]interface{}{"type": "low_stock"})

	ctx := context.Background()
	require.NoError(t, sink.Ping(ctx))
	require.NoError(t, sink.Send(ctx, evt))

	entries, err := client.XRange(ctx, "hms:events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, StockAlertOpened, entries[0].Values["type"])
	assert.Equal(t, evt.ID, entries[0].Values["id"])

	var decoded Event
	require.NoError(t, json.Unmarshal([]byte(entries[0].Values["data"].(string)), &decoded))
	assert.Equal(t, "s-1", decoded.ResourceID)
	assert.Equal(t, "low_stock", decoded.Payload["type"])
}

func TestRedisStreamSink_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	err := NewRedisStreamSink(client, "hms:events").Send(context.Background(), New(BillPaid, "bill", "b-1", "", nil))
	assert.Error(t, err)
}

func TestNewRedisClient(t *testing.T) {
	client, err := NewRedisClient("redis://localhost:6379/2")
	require.NoError(t, err)
	assert.Equal(t, 2, client.Options().DB)
	_ = client.Close()

	_, err = NewRedisClient("not a url")
	assert.Error(t, err)
}

func TestWebhookSink_SignsPayload(t *testing.T) {
	const secret = "s3cret"
	var (
		gotBody []byte
		gotSig  string
		gotType string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get(SignatureHeader)
		gotType = r.Header.Get(EventTypeHeader)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, secret)
	evt := New(BillPaid, "bill", "b-1", "patient:p-1", nil)
	require.NoError(t, sink.Send(context.Background(), evt))

	assert.Equal(t, BillPaid, gotType)
	assert.True(t, VerifySignature(gotBody, secret, gotSig))
	assert.False(t, VerifySignature(gotBody, "wrong", gotSig))

	var decoded Event
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, evt.ID, decoded.ID)
}

func TestWebhookSink_ServerErrorFails(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, "", WithRetries(2, time.Millisecond))
	err := sink.Send(context.Background(), New(BillPaid, "bill", "b-1", "", nil))

	assert.Error(t, err)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(1))
}

func TestWebhookSink_NoSecretNoSignature(t *testing.T) {
	var sig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig = r.Header.Get(SignatureHeader)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, NewWebhookSink(srv.URL, "").Send(context.Background(), New(BillPaid, "bill", "b-1", "", nil)))
	assert.Empty(t, sig)
}

func TestSignPayload_Deterministic(t *testing.T) {
	a := SignPayload([]byte(`{"x":1}`), "k")
	b := SignPayload([]byte(`{"x":1}`), "k")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.True(t, VerifySignature([]byte(`{"x":1}`), "k", "sha256="+a))
}
