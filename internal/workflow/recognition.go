package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/example/attendance-station/internal/capture"
	"github.com/example/attendance-station/internal/logging"
	"github.com/example/attendance-station/internal/repository"
)

// RecognitionState is a snapshot of the attendance-taking screen.
type RecognitionState struct {
	Classroom  string
	Permission capture.Permission
	Camera     capture.State
	// Image stays set next to a result so it can be checked before a retake.
	Image     *capture.Image
	Outcome   Outcome
	CanSubmit bool
}

// RecognitionFlow marks attendance from a single classroom photo.
type RecognitionFlow struct {
	classroom string
	capture   *capture.Controller
	pipeline  *Pipeline
	deps      Deps
	logger    *zap.Logger
	now       func() time.Time
	cycle     cycle
}

// NewRecognitionFlow builds the flow for classroom.
func NewRecognitionFlow(classroom string, device Device, quality int, deps Deps) *RecognitionFlow {
	logger := logging.WithClassroom(deps.logger().Named("recognition"), classroom)
	return &RecognitionFlow{
		classroom: classroom,
		capture:   capture.NewController(device, device, capture.Options{MaxImages: RecognitionImages, Quality: quality}, logger),
		pipeline:  NewPipeline(deps.Backend, logger),
		deps:      deps,
		logger:    logger,
		now:       time.Now,
	}
}

// Classroom returns the classroom the flow is bound to.
func (f *RecognitionFlow) Classroom() string { return f.classroom }

// Capture exposes the capture controller for permission requests and state.
// Changes to the photo go through the flow.
func (f *RecognitionFlow) Capture() *capture.Controller { return f.capture }

// Pipeline exposes the submission pipeline.
func (f *RecognitionFlow) Pipeline() *Pipeline { return f.pipeline }

// Open shows the camera. A photo and outcome left from the previous round
// are discarded first.
func (f *RecognitionFlow) Open() error {
	if err := f.cycle.lock(); err != nil {
		return err
	}
	defer f.cycle.unlock()
	if f.pipeline.Current() != nil {
		f.capture.Reset()
		f.pipeline.Reset()
	}
	return f.capture.Open()
}

// TakePhoto captures the single classroom photo and closes the camera. It
// fails with ErrConcurrentSubmission while a submission is pending.
func (f *RecognitionFlow) TakePhoto(ctx context.Context) (capture.Image, error) {
	if err := f.cycle.lock(); err != nil {
		return capture.Image{}, err
	}
	defer f.cycle.unlock()
	img, err := f.capture.Capture(ctx)
	if err != nil {
		return capture.Image{}, err
	}
	f.capture.Close()
	return img, nil
}

// Retake discards the photo and any outcome, then reopens the camera. A
// pending response is discarded on arrival.
func (f *RecognitionFlow) Retake() error {
	f.Reset()
	return f.capture.Open()
}

// Reset discards the photo and any outcome.
func (f *RecognitionFlow) Reset() {
	f.cycle.mu.Lock()
	defer f.cycle.mu.Unlock()
	f.capture.Reset()
	f.pipeline.Reset()
}

// Submit sends the photo for recognition. Successful results are recorded
// when a Recorder is configured; a recording failure is only logged.
func (f *RecognitionFlow) Submit(ctx context.Context) (Outcome, error) {
	if err := f.cycle.lock(); err != nil {
		return nil, err
	}
	images := f.capture.Images()
	if len(images) != RecognitionImages {
		f.cycle.unlock()
		return nil, validationErr("images", "Capture a photo first")
	}
	f.cycle.handOff()
	defer f.cycle.release()

	outcome, err := f.pipeline.Submit(ctx, SubmissionRequest{
		Kind:      KindRecognize,
		Classroom: f.classroom,
		Images:    images,
	})
	if err != nil {
		return outcome, err
	}

	if succeeded, ok := outcome.(Succeeded); ok {
		if result, ok := succeeded.Payload.(RecognitionResult); ok {
			f.record(ctx, succeeded.ID, result, images[0])
		}
	}
	return outcome, nil
}

func (f *RecognitionFlow) record(ctx context.Context, requestID string, result RecognitionResult, img capture.Image) {
	if f.deps.Recorder == nil {
		return
	}
	rec := &repository.AttendanceRecord{
		RequestID: requestID,
		Classroom: f.classroom,
		HeadCount: result.Count,
		ImagePath: img.Path,
		CreatedAt: f.now().UTC(),
	}
	rec.SetNames(result.Names)
	if err := f.deps.Recorder.SaveRecord(ctx, rec); err != nil {
		logging.WithOperation(f.logger, "recognition.record", requestID).
			Warn("failed to record attendance", zap.Error(err))
	}
}

// State returns a snapshot of the screen-visible state.
func (f *RecognitionFlow) State() RecognitionState {
	st := RecognitionState{
		Classroom:  f.classroom,
		Permission: f.capture.Permission(),
		Camera:     f.capture.State(),
		Outcome:    f.pipeline.Current(),
	}
	if images := f.capture.Images(); len(images) == 1 {
		img := images[0]
		st.Image = &img
		st.CanSubmit = !f.cycle.busy()
	}
	return st
}

// Close disposes the flow; an in-flight response is discarded on arrival.
func (f *RecognitionFlow) Close() {
	f.pipeline.Close()
	f.capture.Close()
}
