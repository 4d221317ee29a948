// Package workflow composes capture and submission into the registration and
// recognition flows of a classroom, and keeps the screen-visible state.
package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/attendance-station/internal/backend"
	"github.com/example/attendance-station/internal/capture"
	"github.com/example/attendance-station/internal/logging"
)

// Kind selects the use case of a submission.
type Kind int

const (
	KindRegister Kind = iota + 1
	KindRecognize
)

func (k Kind) String() string {
	switch k {
	case KindRegister:
		return "register"
	case KindRecognize:
		return "recognize"
	default:
		return "unknown"
	}
}

// RequiredImages is the exact image count a submission of kind k carries.
func (k Kind) RequiredImages() int {
	if k == KindRegister {
		return RegistrationImages
	}
	return 1
}

// Image counts per use case.
const (
	RegistrationImages = 3
	RecognitionImages  = 1
)

const recognitionFilename = "photo.jpg"

// Submitter is the part of the backend the pipeline uploads to.
type Submitter interface {
	RegisterStudent(ctx context.Context, classroom, name string, images []backend.Upload) (*backend.Ack, error)
	Recognize(ctx context.Context, classroom string, image backend.Upload) (*backend.Recognition, error)
}

// SubmissionRequest is built from a complete capture set.
type SubmissionRequest struct {
	Kind      Kind
	Classroom string
	// Student is required for registration.
	Student string
	Images  []capture.Image
}

func (r SubmissionRequest) validate() error {
	if r.Kind != KindRegister && r.Kind != KindRecognize {
		return validationErr("kind", fmt.Sprintf("unknown submission kind %d", r.Kind))
	}
	if r.Classroom == "" {
		return validationErr("classroom", "Classroom is required")
	}
	if r.Kind == KindRegister && r.Student == "" {
		return validationErr("name", "Enter student name")
	}
	if want := r.Kind.RequiredImages(); len(r.Images) != want {
		if r.Kind == KindRegister {
			return validationErr("images", fmt.Sprintf("Please capture exactly %d images", want))
		}
		return validationErr("images", "Capture a photo first")
	}
	return nil
}

// Pipeline sends submissions one at a time and holds the live outcome.
type Pipeline struct {
	submitter Submitter
	logger    *zap.Logger

	mu         sync.Mutex
	inFlight   bool
	closed     bool
	generation uint64
	current    Outcome
	nextWatch  int
	watchers   map[int]func(Outcome)
}

// NewPipeline builds a pipeline uploading through submitter.
func NewPipeline(submitter Submitter, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		submitter: submitter,
		logger:    logger.Named("pipeline"),
		watchers:  make(map[int]func(Outcome)),
	}
}

// Submit validates req, sends it and returns the terminal outcome. A second
// call while one is pending fails with ErrConcurrentSubmission without
// touching the network.
func (p *Pipeline) Submit(ctx context.Context, req SubmissionRequest) (Outcome, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if p.inFlight {
		p.mu.Unlock()
		return nil, ErrConcurrentSubmission
	}
	id := uuid.NewString()
	p.inFlight = true
	generation := p.generation
	pending := Pending{ID: id, Kind: req.Kind}
	p.current = pending
	watchers := p.watchersLocked()
	p.mu.Unlock()

	notify(watchers, pending)

	opLogger := logging.WithOperation(p.logger, "pipeline."+req.Kind.String(), id).
		With(zap.String("classroom", req.Classroom))
	opLogger.Info("submission started", zap.Int("images", len(req.Images)))

	outcome := p.send(ctx, id, req)

	p.mu.Lock()
	p.inFlight = false
	if p.closed || generation != p.generation {
		p.mu.Unlock()
		opLogger.Info("submission outcome discarded", zap.String("status", string(outcome.Status())))
		return outcome, ErrDiscarded
	}
	p.current = outcome
	watchers = p.watchersLocked()
	p.mu.Unlock()

	notify(watchers, outcome)

	if failed, ok := outcome.(Failed); ok {
		opLogger.Warn("submission failed", zap.String("message", failed.Message), zap.Error(failed.Err))
	} else {
		opLogger.Info("submission succeeded")
	}
	return outcome, nil
}

func (p *Pipeline) send(ctx context.Context, id string, req SubmissionRequest) Outcome {
	switch req.Kind {
	case KindRegister:
		uploads := make([]backend.Upload, len(req.Images))
		for i, img := range req.Images {
			uploads[i] = backend.Upload{Path: img.Path, Filename: fmt.Sprintf("%s_%d.jpg", req.Student, i+1)}
		}
		ack, err := p.submitter.RegisterStudent(ctx, req.Classroom, req.Student, uploads)
		if err != nil {
			return failure(id, req.Kind, "pipeline.register", err)
		}
		return Succeeded{ID: id, Kind: req.Kind, Payload: RegistrationAck{Student: req.Student, Message: ack.Message}}

	default:
		upload := backend.Upload{Path: req.Images[0].Path, Filename: recognitionFilename}
		result, err := p.submitter.Recognize(ctx, req.Classroom, upload)
		if err != nil {
			return failure(id, req.Kind, "pipeline.recognize", err)
		}
		names := append([]string(nil), result.Names...)
		if names == nil {
			names = []string{}
		}
		return Succeeded{ID: id, Kind: req.Kind, Payload: RecognitionResult{Count: result.Count, Names: names}}
	}
}

func failure(id string, kind Kind, operation string, err error) Outcome {
	return Failed{
		ID:      id,
		Kind:    kind,
		Message: backend.Message(err),
		Err:     logging.NewOperationError(operation, id, err),
	}
}

// Current returns the live outcome, nil when none.
func (p *Pipeline) Current() Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// InFlight reports whether a submission is pending.
func (p *Pipeline) InFlight() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// Reset drops the live outcome. A response still in flight is discarded on
// arrival.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	p.generation++
	p.current = nil
	watchers := p.watchersLocked()
	p.mu.Unlock()
	notify(watchers, nil)
}

// Watch registers fn for every outcome transition; nil means reset. The
// returned function unregisters it.
func (p *Pipeline) Watch(fn func(Outcome)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextWatch
	p.nextWatch++
	p.watchers[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.watchers, id)
	}
}

// Close disposes the pipeline. Late responses are discarded.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.watchers = make(map[int]func(Outcome))
}

func (p *Pipeline) watchersLocked() []func(Outcome) {
	out := make([]func(Outcome), 0, len(p.watchers))
	for _, fn := range p.watchers {
		out = append(out, fn)
	}
	return out
}

func notify(watchers []func(Outcome), o Outcome) {
	for _, fn := range watchers {
		fn(o)
	}
}
