package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/example/attendance-station/internal/backend"
	"github.com/example/attendance-station/internal/capture"
	"github.com/example/attendance-station/internal/logging"
)

// RegistrationState is a snapshot of the registration screen.
type RegistrationState struct {
	Classroom   string
	StudentName string
	Permission  capture.Permission
	Camera      capture.State
	Images      []capture.Image
	MaxImages   int
	Outcome     Outcome
	Roster      []string
	RosterStale bool
	LastError   string
	CanSubmit   bool
}

// RegistrationFlow registers students of one classroom from three captures
// and manages the classroom roster.
type RegistrationFlow struct {
	classroom string
	capture   *capture.Controller
	pipeline  *Pipeline
	deps      Deps
	logger    *zap.Logger
	cycle     cycle

	mu          sync.Mutex
	studentName string
	roster      []string
	rosterStale bool
	lastError   string
}

// NewRegistrationFlow builds the flow for classroom. quality is the JPEG
// quality of registration captures.
func NewRegistrationFlow(classroom string, device Device, quality int, deps Deps) *RegistrationFlow {
	logger := logging.WithClassroom(deps.logger().Named("registration"), classroom)
	return &RegistrationFlow{
		classroom: classroom,
		capture:   capture.NewController(device, device, capture.Options{MaxImages: RegistrationImages, Quality: quality}, logger),
		pipeline:  NewPipeline(deps.Backend, logger),
		deps:      deps,
		logger:    logger,
		roster:    []string{},
	}
}

// Classroom returns the classroom the flow is bound to.
func (f *RegistrationFlow) Classroom() string { return f.classroom }

// Capture exposes the capture controller for permission requests and state.
// Changes to the capture set go through the flow.
func (f *RegistrationFlow) Capture() *capture.Controller { return f.capture }

// Pipeline exposes the submission pipeline, mainly for Watch.
func (f *RegistrationFlow) Pipeline() *Pipeline { return f.pipeline }

// SetStudentName updates the name field of the form.
func (f *RegistrationFlow) SetStudentName(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.studentName = name
}

// Open shows the camera and starts a new capture cycle. A finished outcome
// is cleared; images kept after a failure stay in the set.
func (f *RegistrationFlow) Open() error {
	if err := f.cycle.lock(); err != nil {
		return err
	}
	defer f.cycle.unlock()
	f.clearFinishedOutcome()
	if f.capture.State() == capture.StateSubmitted {
		f.capture.Reset()
	}
	return f.capture.Open()
}

// TakeImage captures one registration image. It fails with
// ErrConcurrentSubmission while a submission is pending.
func (f *RegistrationFlow) TakeImage(ctx context.Context) (capture.Image, error) {
	if err := f.cycle.lock(); err != nil {
		return capture.Image{}, err
	}
	defer f.cycle.unlock()
	img, err := f.capture.Capture(ctx)
	if err != nil {
		return capture.Image{}, err
	}
	f.clearFinishedOutcome()
	return img, nil
}

// RetakeLast discards the most recent capture. It reports false when the set
// was already empty.
func (f *RegistrationFlow) RetakeLast() (capture.Image, bool, error) {
	if err := f.cycle.lock(); err != nil {
		return capture.Image{}, false, err
	}
	defer f.cycle.unlock()
	img, ok := f.capture.RemoveLast()
	return img, ok, nil
}

// Reset empties the capture set and clears the outcome. A pending response
// is discarded on arrival.
func (f *RegistrationFlow) Reset() {
	f.cycle.mu.Lock()
	defer f.cycle.mu.Unlock()
	f.capture.Reset()
	f.pipeline.Reset()
}

func (f *RegistrationFlow) clearFinishedOutcome() {
	switch f.pipeline.Current().(type) {
	case Succeeded, Failed:
		f.pipeline.Reset()
	}
}

// Submit registers the student with the three captured images. Missing name
// or a wrong image count fail locally with a ValidationError. On success the
// capture set is cleared, the camera closed and the roster gains the student.
func (f *RegistrationFlow) Submit(ctx context.Context) (Outcome, error) {
	if err := f.cycle.lock(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	name := strings.TrimSpace(f.studentName)
	f.mu.Unlock()

	if name == "" {
		f.cycle.unlock()
		return nil, validationErr("name", "Enter student name")
	}
	images := f.capture.Images()
	if len(images) != RegistrationImages {
		f.cycle.unlock()
		return nil, validationErr("images", fmt.Sprintf("Please capture exactly %d images", RegistrationImages))
	}
	f.cycle.handOff()
	defer f.cycle.release()

	outcome, err := f.pipeline.Submit(ctx, SubmissionRequest{
		Kind:      KindRegister,
		Classroom: f.classroom,
		Student:   name,
		Images:    images,
	})
	if err != nil {
		return outcome, err
	}

	if _, ok := outcome.(Succeeded); ok {
		f.capture.MarkSubmitted()
		f.mu.Lock()
		if !contains(f.roster, name) {
			f.roster = append(f.roster, name)
		}
		// A name typed while the request was pending belongs to the next student.
		if strings.TrimSpace(f.studentName) == name {
			f.studentName = ""
		}
		f.lastError = ""
		roster := append([]string(nil), f.roster...)
		f.mu.Unlock()
		storeSnapshot(ctx, f.deps.Cache, f.logger, rosterKey(f.classroom), roster)
	}
	return outcome, nil
}

// Refresh reloads the roster from the backend. When the backend cannot be
// reached the cached roster is served and flagged stale.
func (f *RegistrationFlow) Refresh(ctx context.Context) error {
	students, err := f.deps.Backend.ListStudents(ctx, f.classroom)
	if err != nil {
		f.logger.Warn("failed to fetch roster", zap.Error(err))
		f.mu.Lock()
		f.lastError = backend.Message(err)
		f.mu.Unlock()
		if isTransport(err) {
			if cached, ok := loadSnapshot(ctx, f.deps.Cache, f.logger, rosterKey(f.classroom)); ok {
				f.mu.Lock()
				f.roster = cached
				f.rosterStale = true
				f.mu.Unlock()
			}
		}
		return err
	}

	if students == nil {
		students = []string{}
	}
	f.mu.Lock()
	f.roster = students
	f.rosterStale = false
	f.lastError = ""
	f.mu.Unlock()

	storeSnapshot(ctx, f.deps.Cache, f.logger, rosterKey(f.classroom), students)
	return nil
}

// DeleteStudent removes a registered student after confirmation. The roster
// entry is removed only when the backend acknowledged the deletion.
func (f *RegistrationFlow) DeleteStudent(ctx context.Context, name string, confirmer Confirmer) error {
	if strings.TrimSpace(name) == "" {
		return validationErr("name", "Student name is required")
	}
	if err := confirm(ctx, confirmer, fmt.Sprintf("Are you sure you want to delete %s?", name)); err != nil {
		return err
	}

	if _, err := f.deps.Backend.DeleteStudent(ctx, f.classroom, name); err != nil {
		f.logger.Warn("failed to delete student", zap.String("student", name), zap.Error(err))
		f.mu.Lock()
		f.lastError = backend.Message(err)
		f.mu.Unlock()
		return err
	}

	f.mu.Lock()
	for i, s := range f.roster {
		if s == name {
			f.roster = append(f.roster[:i:i], f.roster[i+1:]...)
			break
		}
	}
	f.lastError = ""
	roster := append([]string(nil), f.roster...)
	f.mu.Unlock()

	f.logger.Info("student deleted", zap.String("student", name))
	storeSnapshot(ctx, f.deps.Cache, f.logger, rosterKey(f.classroom), roster)
	return nil
}

// Roster returns a copy of the local roster.
func (f *RegistrationFlow) Roster() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.roster...)
}

// State returns a snapshot of the screen-visible state.
func (f *RegistrationFlow) State() RegistrationState {
	images := f.capture.Images()
	f.mu.Lock()
	defer f.mu.Unlock()
	return RegistrationState{
		Classroom:   f.classroom,
		StudentName: f.studentName,
		Permission:  f.capture.Permission(),
		Camera:      f.capture.State(),
		Images:      images,
		MaxImages:   RegistrationImages,
		Outcome:     f.pipeline.Current(),
		Roster:      append([]string{}, f.roster...),
		RosterStale: f.rosterStale,
		LastError:   f.lastError,
		CanSubmit:   len(images) == RegistrationImages && strings.TrimSpace(f.studentName) != "" && !f.cycle.busy(),
	}
}

// Close disposes the flow; an in-flight response is discarded on arrival.
func (f *RegistrationFlow) Close() {
	f.pipeline.Close()
	f.capture.Close()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
