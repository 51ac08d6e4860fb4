package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eumbeacon/internal/beacon"
	"eumbeacon/internal/metrics"
	"eumbeacon/internal/queue"
	"eumbeacon/internal/store"
)

type failingStore struct{}

func (failingStore) Append(string, string, *beacon.Beacon) error {
	return errors.New("disk full")
}

type recordingStore struct {
	calls int
}

func (r *recordingStore) Append(string, string, *beacon.Beacon) error {
	r.calls++
	return nil
}

func TestPipeline_StoresAndPublishes(t *testing.T) {
	db, err := store.New(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	defer db.Close()

	mr := miniredis.RunT(t)
	pub := queue.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "beacons")
	defer pub.Close()

	m := metrics.New(prometheus.NewRegistry())
	p := NewPipeline(db, pub, m, zerolog.Nop())

	b := beacon.Of(
		&beacon.AjaxRequest{Base: beacon.Base{SessionID: "s1"}, URL: "/api"},
		&beacon.DOMListenerExecution{Base: beacon.Base{SessionID: "s1"}, EventType: "click"},
	)
	err = p.Ingest(context.Background(), Delivery{
		RequestID: "req-1",
		Source:    "http:127.0.0.1:4000",
		Received:  time.UnixMilli(1708444800000),
		Beacon:    b,
	})
	require.NoError(t, err)

	session, err := db.Get("s1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, session.RecordCount)

	msg, err := pub.Pop(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "req-1", msg.RequestID)
	assert.Equal(t, 2, msg.Records)
	assert.EqualValues(t, 1708444800000, msg.ReceivedMs)

	decoded := beacon.New()
	require.NoError(t, json.Unmarshal(msg.Body, decoded))
	assert.Equal(t, 2, decoded.Len())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BeaconsReceived.WithLabelValues("http")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsReceived.WithLabelValues(beacon.KindAjax)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsReceived.WithLabelValues(beacon.KindDOMListener)))
}

func TestPipeline_EmptyBeacon(t *testing.T) {
	st := &recordingStore{}
	m := metrics.New(prometheus.NewRegistry())
	p := NewPipeline(st, nil, m, zerolog.Nop())

	require.NoError(t, p.Ingest(context.Background(), Delivery{Source: "udp:1.2.3.4:5", Beacon: beacon.New()}))
	require.NoError(t, p.Ingest(context.Background(), Delivery{Source: "udp:1.2.3.4:5"}))

	assert.Equal(t, 0, st.calls)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EmptyBeacons))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BeaconsReceived.WithLabelValues("udp")))
}

func TestPipeline_StoreFailure(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	p := NewPipeline(failingStore{}, nil, m, zerolog.Nop())

	err := p.Ingest(context.Background(), Delivery{Source: "http:x", Beacon: beacon.Of(&beacon.UserSession{})})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rejected.WithLabelValues(metrics.ReasonSink)))
}

func TestPipeline_QueueOutageNotFatal(t *testing.T) {
	mr := miniredis.RunT(t)
	pub := queue.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "beacons")
	defer pub.Close()
	mr.Close()

	st := &recordingStore{}
	p := NewPipeline(st, pub, nil, zerolog.Nop())

	err := p.Ingest(context.Background(), Delivery{Source: "http:x", Beacon: beacon.Of(&beacon.UserSession{})})
	assert.NoError(t, err)
	assert.Equal(t, 1, st.calls)
}

func TestDelivery_Transport(t *testing.T) {
	assert.Equal(t, "udp", Delivery{Source: "udp:10.0.0.1:5678"}.Transport())
	assert.Equal(t, "http", Delivery{Source: "http:[::1]:80"}.Transport())
	assert.Equal(t, "unknown", Delivery{}.Transport())
}
