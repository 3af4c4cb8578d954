package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"FaceVerify/config"
	iface "FaceVerify/interface"
	"FaceVerify/logger"
	"FaceVerify/verify"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	KindVerification = "verification"
	KindAlive        = "alive"

	TimeOutSeconds = 5
)

// Event is the JSON body posted to the webhook.
type Event struct {
	ID             string        `json:"id"`
	Kind           string        `json:"kind"`
	InstanceID     string        `json:"instanceId"`
	VerificationID string        `json:"verificationId,omitempty"`
	Verified       bool          `json:"verified"`
	Ratio          float64       `json:"ratio"`
	Detections     int           `json:"detections"`
	Scores         []iface.Score `json:"scores,omitempty"`
	Error          string        `json:"error,omitempty"`
	Host           string        `json:"host"`
	TimeStamp      int64         `json:"timestamp"`
}

type Ack struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
}

// Notifier posts events to a webhook. Delivery failures are logged and never
// reach the caller of Observe.
type Notifier struct {
	client     *resty.Client
	url        string
	host       string
	instanceID string
	wg         sync.WaitGroup
}

func New(cfg config.Notify) *Notifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = TimeOutSeconds * time.Second
	}
	host, _ := os.Hostname()
	return &Notifier{
		client:     resty.New().SetTimeout(timeout),
		url:        cfg.WebhookURL,
		host:       host,
		instanceID: uuid.NewString(),
	}
}

func (n *Notifier) InstanceID() string { return n.instanceID }

// NewEvent builds a verification event from an attempt.
func (n *Notifier) NewEvent(res *verify.Result, err error) Event {
	ev := Event{
		ID:             uuid.NewString(),
		Kind:           KindVerification,
		InstanceID:     n.instanceID,
		VerificationID: res.ID,
		Verified:       res.Verified,
		Ratio:          res.Ratio,
		Detections:     res.Detections,
		Scores:         res.Scores,
		Error:          res.Error,
		Host:           n.host,
		TimeStamp:      res.StartedAt.Unix(),
	}
	if err != nil && ev.Error == "" {
		ev.Error = err.Error()
	}
	return ev
}

func (n *Notifier) Send(ctx context.Context, ev Event) (*Ack, error) {
	var ack Ack
	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(ev).
		SetResult(&ack). // decoded on 2xx
		Post(n.url)
	if err != nil {
		return nil, fmt.Errorf("post event %s: %w", ev.ID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("webhook returned %s: %s", resp.Status(), resp.String())
	}
	return &ack, nil
}

// Observe posts the attempt in the background; it has the verify.Observer
// shape.
func (n *Notifier) Observe(res *verify.Result, err error) {
	if res == nil {
		return
	}
	ev := n.NewEvent(res, err)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.safeSend(context.Background(), ev)
	}()
}

func (n *Notifier) safeSend(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log().Error(fmt.Sprintf("notify panic recovered: %v", r))
		}
	}()
	if _, err := n.Send(ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
		logger.Log().Warn("webhook delivery failed", zap.String("event", ev.ID), zap.String("kind", ev.Kind), zap.Error(err))
	}
}

// SendAliveMessage posts an alive event immediately and then every interval
// until ctx is done.
func (n *Notifier) SendAliveMessage(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = TimeOutSeconds * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	alive := func() {
		n.safeSend(ctx, Event{
			ID:         uuid.NewString(),
			Kind:       KindAlive,
			InstanceID: n.instanceID,
			Host:       n.host,
			TimeStamp:  time.Now().Unix(),
		})
	}
	alive()
	for {
		select {
		case <-ctx.Done():
			logger.Log().Info("SendAliveMessage context cancelled, exiting goroutine.")
			return
		case <-ticker.C:
			alive()
		}
	}
}

// Wait blocks until every background delivery has finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}
