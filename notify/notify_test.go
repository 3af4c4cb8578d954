package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"FaceVerify/config"
	iface "FaceVerify/interface"
	"FaceVerify/verify"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sink struct {
	mu     sync.Mutex
	events []Event
	status int
}

func (s *sink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var ev Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.events = append(s.events, ev)
	status := s.status
	s.mu.Unlock()
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Ack{ID: ev.ID, Success: true})
}

func (s *sink) received() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestSend(t *testing.T) {
	s := &sink{}
	srv := httptest.NewServer(s)
	defer srv.Close()

	n := New(config.Notify{WebhookURL: srv.URL, Timeout: time.Second})
	res := &verify.Result{
		ID:         "v-1",
		Scores:     []iface.Score{0.9, 0.2},
		Detections: 1,
		Ratio:      0.5,
		StartedAt:  time.Unix(1700000000, 0),
	}
	ev := n.NewEvent(res, nil)
	_, err := uuid.Parse(ev.ID)
	require.NoError(t, err)

	ack, err := n.Send(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, ack.Success)
	assert.Equal(t, ev.ID, ack.ID)

	got := s.received()
	require.Len(t, got, 1)
	assert.Equal(t, KindVerification, got[0].Kind)
	assert.Equal(t, "v-1", got[0].VerificationID)
	assert.Equal(t, n.InstanceID(), got[0].InstanceID)
	assert.Equal(t, []iface.Score{0.9, 0.2}, got[0].Scores)
	assert.Equal(t, int64(1700000000), got[0].TimeStamp)
	assert.False(t, got[0].Verified)
}

func TestSendErrorStatus(t *testing.T) {
	s := &sink{status: http.StatusInternalServerError}
	srv := httptest.NewServer(s)
	defer srv.Close()

	n := New(config.Notify{WebhookURL: srv.URL})
	_, err := n.Send(context.Background(), Event{ID: "x"})
	assert.Error(t, err)
}

func TestObserve(t *testing.T) {
	s := &sink{}
	srv := httptest.NewServer(s)
	defer srv.Close()

	n := New(config.Notify{WebhookURL: srv.URL})
	n.Observe(&verify.Result{ID: "ok", Verified: true}, nil)
	n.Observe(&verify.Result{ID: "bad"}, errors.New("camera gone"))
	n.Observe(nil, verify.ErrBusy)
	n.Wait()

	got := s.received()
	require.Len(t, got, 2)
	byID := map[string]Event{}
	for _, ev := range got {
		byID[ev.VerificationID] = ev
	}
	assert.True(t, byID["ok"].Verified)
	assert.Equal(t, "camera gone", byID["bad"].Error)
}

func TestObserveUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	n := New(config.Notify{WebhookURL: url, Timeout: 200 * time.Millisecond})
	n.Observe(&verify.Result{ID: "lost"}, nil)
	n.Wait()
}

func TestSendAliveMessage(t *testing.T) {
	s := &sink{}
	srv := httptest.NewServer(s)
	defer srv.Close()

	n := New(config.Notify{WebhookURL: srv.URL})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.SendAliveMessage(ctx, 10*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return len(s.received()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	for _, ev := range s.received() {
		assert.Equal(t, KindAlive, ev.Kind)
		assert.Equal(t, n.InstanceID(), ev.InstanceID)
	}
}
