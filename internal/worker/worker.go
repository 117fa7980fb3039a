// Package worker provides a NATS worker that speaks text objects on request.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/service"
	"github.com/book-expert/tts-gateway/internal/slots"
	"github.com/nats-io/nats.go"
)

const (
	defaultHandleMessageTimeout = 30 * time.Second
	drainPollInterval           = 10 * time.Millisecond
)

// Reply headers set when a request fails.
const (
	HeaderError     = "Tts-Error"
	HeaderRetryable = "Tts-Retryable"
)

var (
	// ErrSubjectEmpty indicates that no subject was configured.
	ErrSubjectEmpty = errors.New("subject cannot be empty")
	// ErrServiceNil indicates that no synthesis service was supplied.
	ErrServiceNil = errors.New("service cannot be nil")
)

// ObjectSynthesizer is the part of service.Service the worker drives.
type ObjectSynthesizer interface {
	SynthesizeObject(ctx context.Context, req service.ObjectRequest) (service.Result, error)
}

// Config holds the worker's subjects and per-message time budget.
type Config struct {
	// Subject carries TextProcessedEvent requests.
	Subject string
	// Queue, when set, load-balances the subject across gateway instances.
	Queue string
	// AudioSubject, when set, also receives every AudioChunkCreatedEvent.
	AudioSubject string
	Timeout      time.Duration
}

// NatsWorker listens for TTS jobs on a NATS subject and processes them.
//
// Every message is handled on its own goroutine so that the NATS path can
// keep as many slots busy as the scheduler hands out; the scheduler rejects
// the excess immediately.
type NatsWorker struct {
	natsConnection *nats.Conn
	cfg            Config
	svc            ObjectSynthesizer
	log            *logger.Logger
	inflight       sync.WaitGroup
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	cfg Config,
	svc ObjectSynthesizer,
	log *logger.Logger,
) (*NatsWorker, error) {
	if cfg.Subject == "" {
		return nil, ErrSubjectEmpty
	}

	if svc == nil {
		return nil, ErrServiceNil
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHandleMessageTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		cfg:            cfg,
		svc:            svc,
		log:            log,
	}, nil
}

// Run starts the worker and begins listening for messages.
func (w *NatsWorker) Run(ctx context.Context) error {
	var (
		sub *nats.Subscription
		err error
	)

	if w.cfg.Queue != "" {
		sub, err = w.natsConnection.QueueSubscribe(w.cfg.Subject, w.cfg.Queue, w.dispatch)
	} else {
		sub, err = w.natsConnection.Subscribe(w.cfg.Subject, w.dispatch)
	}

	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.cfg.Subject, err)
	}

	w.log.Info("Listening for TTS jobs on %s", w.cfg.Subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	// Once the subscription is gone no new dispatch can start.
	deadline := time.Now().Add(w.cfg.Timeout)
	for sub.IsValid() && time.Now().Before(deadline) {
		time.Sleep(drainPollInterval)
	}

	w.inflight.Wait()

	return nil
}

// dispatch runs on the subscription's delivery goroutine and hands the
// message to its own goroutine.
func (w *NatsWorker) dispatch(msg *nats.Msg) {
	w.inflight.Add(1)

	go func() {
		defer w.inflight.Done()

		w.handleMessage(msg)
	}()
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.Timeout)
	defer cancel()

	event, err := parseEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse event: %v", err)
		w.respondError(msg, err)

		return
	}

	result, err := w.svc.SynthesizeObject(ctx, service.ObjectRequest{
		User:        event.Header.UserID,
		TextKey:     event.TextKey,
		Seed:        event.Seed,
		Temperature: event.Temperature,
	})
	if err != nil {
		w.log.Error("Failed to process TTS job for workflow %s: %v", event.Header.WorkflowID, err)
		w.respondError(msg, err)

		return
	}

	replyEvent := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   result.Key,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = w.publishReplyEvent(msg, replyEvent)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", event.Header.WorkflowID, err)
	}
}

// publishReplyEvent marshals the AudioChunkCreatedEvent, answers the request
// and announces it on the audio subject.
func (w *NatsWorker) publishReplyEvent(msg *nats.Msg, replyEvent *events.AudioChunkCreatedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	if msg.Reply != "" {
		err = msg.Respond(replyData)
		if err != nil {
			return fmt.Errorf("failed to publish reply event: %w", err)
		}
	}

	if w.cfg.AudioSubject != "" {
		err = w.natsConnection.Publish(w.cfg.AudioSubject, replyData)
		if err != nil {
			return fmt.Errorf("failed to announce audio on %s: %w", w.cfg.AudioSubject, err)
		}
	}

	return nil
}

// respondError answers a request with an empty body and the error in headers.
// Busy slots are marked retryable.
func (w *NatsWorker) respondError(msg *nats.Msg, cause error) {
	if msg.Reply == "" {
		return
	}

	reply := nats.NewMsg(msg.Reply)
	reply.Header.Set(HeaderError, cause.Error())
	reply.Header.Set(HeaderRetryable, strconv.FormatBool(errors.Is(cause, slots.ErrUnavailable)))

	err := msg.RespondMsg(reply)
	if err != nil {
		w.log.Error("Failed to send error reply: %v", err)
	}
}

func parseEvent(msg *nats.Msg) (*events.TextProcessedEvent, error) {
	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return &event, nil
}
