// Package service turns text into stored speech on pooled model slots.
//
// Every request first leases a slot from the scheduler and is rejected with
// slots.ErrUnavailable when none is free. The lease is held for synthesis and
// upload and is handed back on every exit path.
package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/config"
	"github.com/book-expert/tts-gateway/internal/core"
	"github.com/book-expert/tts-gateway/internal/slots"
	"github.com/book-expert/tts-gateway/internal/stats"
	"github.com/book-expert/tts-gateway/internal/tts/audio"
	"github.com/book-expert/tts-gateway/internal/tts/text"
	"github.com/book-expert/tts-gateway/internal/tts/ttsutils"
	"github.com/google/uuid"
)

// Batch acquisition policies.
const (
	BatchPerBatch = config.BatchPerBatch
	BatchPerItem  = config.BatchPerItem
)

// Routes tag admission statistics.
const (
	RouteQuestion = "question"
	RouteBatch    = "batch"
	RouteObject   = "object"
)

const (
	dayLayout             = "0102"
	defaultOutputPrefix   = "tts_outputs"
	defaultQuestionFormat = "질문 %s.wav"
	defaultTextExtension  = ".txt"
	defaultTimeout        = 5 * time.Minute
	defaultRecordTimeout  = 50 * time.Millisecond
	audioExtension        = ".wav"
)

// Lease is a held slot whose payload is the slot's synthesizer.
type Lease = slots.Lease[core.Synthesizer]

// Options tune key layout, timeouts and batch behaviour.
type Options struct {
	// OutputPrefix is the first segment of every audio key.
	OutputPrefix string
	// QuestionFormat builds the single-request file name from the question
	// number, e.g. "질문 %s.wav".
	QuestionFormat string
	// TextExtension selects batch inputs.
	TextExtension string
	// Timeout bounds each synthesis call.
	Timeout time.Duration
	// RecordTimeout bounds each statistics write made on the request path.
	RecordTimeout    time.Duration
	BatchAcquisition string
	ContinueOnError  bool
	// Now is the clock used for the date segment of keys.
	Now func() time.Time
}

// Dependencies are the collaborators a Service drives.
type Dependencies struct {
	Scheduler *slots.Scheduler[core.Synthesizer]
	// Inputs holds the users' question text files.
	Inputs core.ObjectStore
	// Outputs receives the synthesized audio.
	Outputs core.ObjectStore
	// Normalizer is optional; without it text is only trimmed.
	Normalizer *text.Normalizer
	Profile    core.SpeakerProfile
	Params     core.Parameters
	// Recorder is optional.
	Recorder stats.Recorder
	Log      *logger.Logger
}

// Service orchestrates admission, synthesis and storage.
type Service struct {
	scheduler  *slots.Scheduler[core.Synthesizer]
	inputs     core.ObjectStore
	outputs    core.ObjectStore
	normalizer *text.Normalizer
	profile    core.SpeakerProfile
	params     core.Parameters
	recorder   stats.Recorder
	log        *logger.Logger
	opts       Options
}

// Sentinel errors for construction.
var (
	ErrSchedulerNil   = errors.New("scheduler cannot be nil")
	ErrStoreNil       = errors.New("object store cannot be nil")
	ErrLoggerNil      = errors.New("logger cannot be nil")
	ErrBatchPolicy    = errors.New("unknown batch acquisition policy")
	ErrQuestionFormat = errors.New("question filename format must contain one %s verb")
)

// New validates deps and opts and returns a ready Service.
func New(deps Dependencies, opts Options) (*Service, error) {
	switch {
	case deps.Scheduler == nil:
		return nil, ErrSchedulerNil
	case deps.Inputs == nil || deps.Outputs == nil:
		return nil, ErrStoreNil
	case deps.Log == nil:
		return nil, ErrLoggerNil
	}

	err := ValidateParameters(deps.Profile, deps.Params)
	if err != nil {
		return nil, err
	}

	opts, err = withDefaults(opts)
	if err != nil {
		return nil, err
	}

	recorder := deps.Recorder
	if recorder == nil {
		recorder = stats.Discard{}
	}

	return &Service{
		scheduler:  deps.Scheduler,
		inputs:     deps.Inputs,
		outputs:    deps.Outputs,
		normalizer: deps.Normalizer,
		profile:    deps.Profile,
		params:     deps.Params,
		recorder:   recorder,
		log:        deps.Log,
		opts:       opts,
	}, nil
}

func withDefaults(opts Options) (Options, error) {
	if opts.OutputPrefix == "" {
		opts.OutputPrefix = defaultOutputPrefix
	}

	opts.OutputPrefix = strings.Trim(opts.OutputPrefix, "/")

	if opts.QuestionFormat == "" {
		opts.QuestionFormat = defaultQuestionFormat
	}

	if strings.Count(opts.QuestionFormat, "%s") != 1 {
		return Options{}, fmt.Errorf("%w: %q", ErrQuestionFormat, opts.QuestionFormat)
	}

	if opts.TextExtension == "" {
		opts.TextExtension = defaultTextExtension
	}

	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	if opts.RecordTimeout <= 0 {
		opts.RecordTimeout = defaultRecordTimeout
	}

	switch opts.BatchAcquisition {
	case "":
		opts.BatchAcquisition = BatchPerBatch
	case BatchPerBatch, BatchPerItem:
	default:
		return Options{}, fmt.Errorf("%w: %q", ErrBatchPolicy, opts.BatchAcquisition)
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	return opts, nil
}

// Slots reports the state of every slot.
func (s *Service) Slots() []slots.SlotState {
	return s.scheduler.Snapshot()
}

// FreeSlots returns how many slots are idle.
func (s *Service) FreeSlots() int {
	return s.scheduler.Free()
}

// Outputs returns the audio store.
func (s *Service) Outputs() core.ObjectStore {
	return s.outputs
}

// Result describes one stored audio file.
type Result struct {
	Slot  string     `json:"slot"`
	Key   string     `json:"key"`
	URL   string     `json:"url"`
	Audio audio.Info `json:"audio"`
}

// SingleRequest asks for one question to be spoken.
type SingleRequest struct {
	User           string
	Text           string
	QuestionNumber string
}

// SynthesizeOne speaks req.Text on a free slot and stores it under
// <prefix>/<user>/<MMDD>/<question file>.
func (s *Service) SynthesizeOne(ctx context.Context, req SingleRequest) (Result, error) {
	if strings.TrimSpace(req.User) == "" {
		return Result{}, ErrUserRequired
	}

	input := strings.TrimSpace(req.Text)
	if input == "" {
		return Result{}, ErrTextRequired
	}

	number := ttsutils.SanitizeFilename(strings.TrimSpace(req.QuestionNumber))
	if number == "" {
		return Result{}, ErrQuestionNumberRequired
	}

	key := s.audioKey(req.User, s.day(), fmt.Sprintf(s.opts.QuestionFormat, number))

	var result Result

	err := s.withSlot(ctx, RouteQuestion, func(lease *Lease) error {
		var renderErr error

		result, renderErr = s.render(ctx, lease, input, key, s.params)

		return renderErr
	})
	if err != nil {
		return Result{}, err
	}

	return result, nil
}

// ObjectRequest asks for an existing text object to be spoken. Zero Seed and
// Temperature keep the configured defaults.
type ObjectRequest struct {
	User        string
	TextKey     string
	Seed        int
	Temperature float64
}

// SynthesizeObject speaks the text stored at req.TextKey and stores the audio
// under a generated key.
func (s *Service) SynthesizeObject(ctx context.Context, req ObjectRequest) (Result, error) {
	if strings.TrimSpace(req.TextKey) == "" {
		return Result{}, ErrTextKeyRequired
	}

	params := s.params
	if req.Seed != 0 {
		params.Seed = req.Seed
	}

	if req.Temperature != 0 {
		params.Temperature = req.Temperature
	}

	err := ValidateParameters(s.profile, params)
	if err != nil {
		return Result{}, err
	}

	key := s.audioKey(req.User, s.day(), uuid.NewString()+audioExtension)

	var result Result

	err = s.withSlot(ctx, RouteObject, func(lease *Lease) error {
		input, downloadErr := s.inputs.Download(ctx, req.TextKey)
		if downloadErr != nil {
			return fmt.Errorf("failed to download text data for key '%s': %w", req.TextKey, downloadErr)
		}

		var renderErr error

		result, renderErr = s.render(ctx, lease, string(input), key, params)

		return renderErr
	})
	if err != nil {
		return Result{}, err
	}

	return result, nil
}

// withSlot runs fn on a leased slot, records the admission outcome and logs
// any release failure. It returns slots.ErrUnavailable when every slot is busy.
func (s *Service) withSlot(ctx context.Context, route string, fn func(lease *Lease) error) error {
	var (
		slotName string
		finished bool
	)

	// A panic in fn still releases the slot inside WithSlot; close out the
	// acquisition in the counters before it propagates.
	defer func() {
		if !finished && slotName != "" {
			s.record(ctx, stats.Event{Slot: slotName, Outcome: stats.OutcomeFailed, Route: route})
			s.log.Error("%s request on slot %s panicked", route, slotName)
		}
	}()

	err := s.scheduler.WithSlot(func(lease *Lease) error {
		slotName = lease.Slot()
		s.record(ctx, stats.Event{Slot: slotName, Outcome: stats.OutcomeAcquired, Route: route})
		s.log.Info("Slot %s acquired for %s request", slotName, route)

		return fn(lease)
	})
	finished = true

	if slotName == "" {
		if errors.Is(err, slots.ErrUnavailable) {
			s.record(ctx, stats.Event{Outcome: stats.OutcomeRejected, Route: route})
			s.log.Warn("All %d slots busy, rejecting %s request", s.scheduler.Registry().Len(), route)
		}

		return err
	}

	if errors.Is(err, slots.ErrDoubleRelease) || errors.Is(err, slots.ErrNotHeld) {
		s.log.Error("Failed to release slot %s: %v", slotName, err)
	}

	outcome := stats.OutcomeReleased
	if err != nil {
		outcome = stats.OutcomeFailed
		s.log.Error("%s request on slot %s failed: %v", route, slotName, err)
	}

	s.record(ctx, stats.Event{Slot: slotName, Outcome: outcome, Route: route})

	return err
}

// render normalizes input, synthesizes it on the leased slot, checks the WAV
// container and uploads it to key.
func (s *Service) render(ctx context.Context, lease *Lease, input, key string, params core.Parameters) (Result, error) {
	normalized := s.normalize(input)
	if normalized == "" {
		return Result{}, ErrTextRequired
	}

	synthCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	audioData, err := lease.Payload().Synthesize(synthCtx, normalized, s.profile, params)
	if err != nil {
		return Result{}, fmt.Errorf("failed to synthesize on slot %s: %w", lease.Slot(), err)
	}

	info, err := audio.Inspect(audioData)
	if err != nil {
		return Result{}, fmt.Errorf("slot %s returned unusable audio: %w", lease.Slot(), err)
	}

	err = s.outputs.Upload(ctx, key, audioData)
	if err != nil {
		return Result{}, fmt.Errorf("failed to upload audio data for key '%s': %w", key, err)
	}

	s.log.Info("Stored %s (%s, %s) from slot %s",
		key, ttsutils.FormatFileSize(int64(len(audioData))), info.Duration, lease.Slot())

	return Result{
		Slot:  lease.Slot(),
		Key:   key,
		URL:   s.outputs.URL(key),
		Audio: info,
	}, nil
}

func (s *Service) normalize(input string) string {
	if s.normalizer == nil {
		return strings.TrimSpace(input)
	}

	return s.normalizer.Normalize(input)
}

func (s *Service) record(ctx context.Context, ev stats.Event) {
	ev.At = s.opts.Now()

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.RecordTimeout)
	defer cancel()

	err := s.recorder.Record(recordCtx, ev)
	if err != nil {
		s.log.Warn("Failed to record %s event for slot %q: %v", ev.Outcome, ev.Slot, err)
	}
}

func (s *Service) day() string {
	return s.opts.Now().Format(dayLayout)
}

// audioKey joins the output prefix, the user's key segment (when known), the
// day and the file name.
func (s *Service) audioKey(user, day, file string) string {
	segments := []string{s.opts.OutputPrefix}

	if userPrefix := ttsutils.UserPrefix(user); userPrefix != "" {
		segments = append(segments, userPrefix)
	}

	return path.Join(append(segments, day, file)...)
}
