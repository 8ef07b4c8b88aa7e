package redpanda

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/fairyhunter13/ielts-writing-coach/internal/domain"
)

type fakeClient struct {
	records    []*kgo.Record
	produceErr error
	resp       kmsg.Response
	reqErr     error
	requests   []kmsg.Request
	pingErr    error
	closed     bool
}

func (f *fakeClient) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	out := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		f.records = append(f.records, r)
		out = append(out, kgo.ProduceResult{Record: r, Err: f.produceErr})
	}
	return out
}

func (f *fakeClient) Request(_ context.Context, req kmsg.Request) (kmsg.Response, error) {
	f.requests = append(f.requests, req)
	return f.resp, f.reqErr
}

func (f *fakeClient) Ping(context.Context) error { return f.pingErr }

func (f *fakeClient) Close() { f.closed = true }

func topicsResponse(code int16) *kmsg.CreateTopicsResponse {
	resp := kmsg.NewPtrCreateTopicsResponse()
	t := kmsg.NewCreateTopicsResponseTopic()
	t.Topic = "events"
	t.ErrorCode = code
	resp.Topics = append(resp.Topics, t)
	return resp
}

func TestPublish_WritesKeyedRecord(t *testing.T) {
	fc := &fakeClient{}
	p := newProducer(fc, "events")
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := domain.SubmissionEvent{Type: domain.EventSubmissionCreated, SubmissionID: "s-1", OwnerID: "owner-1", Score: "7.5", Provider: "primary", At: at}

	require.NoError(t, p.Publish(context.Background(), ev))
	require.Len(t, fc.records, 1)
	rec := fc.records[0]
	assert.Equal(t, "events", rec.Topic)
	assert.Equal(t, []byte("owner-1"), rec.Key)
	assert.Equal(t, []kgo.RecordHeader{
		{Key: "event_type", Value: []byte("submission.created")},
		{Key: "submission_id", Value: []byte("s-1")},
	}, rec.Headers)

	var got domain.SubmissionEvent
	require.NoError(t, json.Unmarshal(rec.Value, &got))
	assert.Equal(t, ev, got)
}

func TestPublish_StampsMissingTime(t *testing.T) {
	fc := &fakeClient{}
	require.NoError(t, newProducer(fc, "events").Publish(context.Background(),
		domain.SubmissionEvent{Type: domain.EventSubmissionDeleted, SubmissionID: "s-1"}))
	var got domain.SubmissionEvent
	require.NoError(t, json.Unmarshal(fc.records[0].Value, &got))
	assert.WithinDuration(t, time.Now(), got.At, time.Minute)
}

func TestPublish_RejectsIncompleteEvent(t *testing.T) {
	fc := &fakeClient{}
	err := newProducer(fc, "events").Publish(context.Background(), domain.SubmissionEvent{Type: domain.EventSubmissionCreated})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Empty(t, fc.records)
}

func TestPublish_BrokerErrorIsUpstream(t *testing.T) {
	brokerErr := errors.New("leader not available")
	fc := &fakeClient{produceErr: brokerErr}
	err := newProducer(fc, "events").Publish(context.Background(),
		domain.SubmissionEvent{Type: domain.EventSubmissionCreated, SubmissionID: "s-1"})
	require.ErrorIs(t, err, domain.ErrUpstream)
	require.ErrorIs(t, err, brokerErr)
}

func TestNewProducer_RequiresBrokers(t *testing.T) {
	_, err := NewProducer(context.Background(), nil, "events")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestClose(t *testing.T) {
	fc := &fakeClient{}
	require.NoError(t, newProducer(fc, "events").Close())
	assert.True(t, fc.closed)
}

func TestEnsureTopic(t *testing.T) {
	cases := []struct {
		name    string
		resp    kmsg.Response
		reqErr  error
		wantErr bool
	}{
		{name: "created", resp: topicsResponse(0)},
		{name: "already exists", resp: topicsResponse(36)},
		{name: "not authorized", resp: topicsResponse(29), wantErr: true},
		{name: "request failed", reqErr: errors.New("dial"), wantErr: true},
		{name: "wrong response", resp: kmsg.NewPtrMetadataResponse(), wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fc := &fakeClient{resp: tc.resp, reqErr: tc.reqErr}
			err := newProducer(fc, "events").EnsureTopic(context.Background(), 3, 1)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			req := fc.requests[0].(*kmsg.CreateTopicsRequest)
			require.Len(t, req.Topics, 1)
			assert.Equal(t, "events", req.Topics[0].Topic)
			assert.Equal(t, int32(3), req.Topics[0].NumPartitions)
		})
	}
}

func TestCreateTopic_ValidatesArguments(t *testing.T) {
	fc := &fakeClient{}
	require.Error(t, createTopicIfNotExists(context.Background(), fc, "", 1, 1))
	require.Error(t, createTopicIfNotExists(context.Background(), fc, "t", 0, 1))
	require.Error(t, createTopicIfNotExists(context.Background(), fc, "t", 1, 0))
	assert.Empty(t, fc.requests)
}

func TestPing(t *testing.T) {
	require.NoError(t, newProducer(&fakeClient{}, "events").Ping(context.Background()))
	err := newProducer(&fakeClient{pingErr: errors.New("no brokers")}, "events").Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=redpanda.Ping")
}
