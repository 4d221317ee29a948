package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/attendance-station/internal/backend"
	"github.com/example/attendance-station/internal/cache"
	"github.com/example/attendance-station/internal/capture"
	"github.com/example/attendance-station/internal/repository"
)

// Backend is everything the flows need from the recognition service.
type Backend interface {
	Submitter
	ListClassrooms(ctx context.Context) ([]string, error)
	CreateClassroom(ctx context.Context, name string) error
	RenameClassroom(ctx context.Context, oldName, newName string) error
	DeleteClassroom(ctx context.Context, name string) error
	ListStudents(ctx context.Context, classroom string) ([]string, error)
	DeleteStudent(ctx context.Context, classroom, name string) (*backend.Ack, error)
}

// Recorder persists successful recognitions.
type Recorder interface {
	SaveRecord(ctx context.Context, record *repository.AttendanceRecord) error
}

// Device is a camera together with its permission source.
type Device interface {
	capture.Camera
	capture.PermissionSource
}

// Confirmer asks the user to confirm an irreversible action.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) (bool, error) {
	return f(ctx, prompt)
}

// Confirmed is a Confirmer that always agrees, for callers that already
// obtained consent (a --yes flag, a confirm=true query parameter).
var Confirmed Confirmer = ConfirmFunc(func(context.Context, string) (bool, error) { return true, nil })

// Deps are shared by every flow of a station. Cache and Recorder are optional.
type Deps struct {
	Backend  Backend
	Cache    cache.Cache
	Recorder Recorder
	Logger   *zap.Logger
}

func (d Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

func confirm(ctx context.Context, c Confirmer, prompt string) error {
	if c == nil {
		return ErrNotConfirmed
	}
	ok, err := c.Confirm(ctx, prompt)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotConfirmed
	}
	return nil
}

const snapshotTTL = 24 * time.Hour

const classroomsKey = "attendance:classrooms"

func rosterKey(classroom string) string {
	return "attendance:roster:" + classroom
}

// storeSnapshot caches a list; failures only cost the offline fallback.
func storeSnapshot(ctx context.Context, c cache.Cache, logger *zap.Logger, key string, list []string) {
	if c == nil {
		return
	}
	data, err := json.Marshal(list)
	if err != nil {
		return
	}
	if err := c.Set(ctx, key, string(data), snapshotTTL); err != nil {
		logger.Warn("failed to cache snapshot", zap.String("key", key), zap.Error(err))
	}
}

func loadSnapshot(ctx context.Context, c cache.Cache, logger *zap.Logger, key string) ([]string, bool) {
	if c == nil {
		return nil, false
	}
	raw, err := c.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			logger.Warn("failed to read snapshot", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		logger.Warn("failed to decode snapshot", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return list, true
}

func isTransport(err error) bool {
	var te *backend.TransportError
	return errors.As(err, &te)
}
