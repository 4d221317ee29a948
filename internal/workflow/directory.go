package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/example/attendance-station/internal/backend"
)

// DirectoryState is a snapshot of the classroom list.
type DirectoryState struct {
	Classrooms []string
	Stale      bool
	LastError  string
}

// Directory lists and edits classrooms. Fetch failures stay visible in
// LastError until the next successful refresh.
type Directory struct {
	deps   Deps
	logger *zap.Logger

	mu         sync.Mutex
	classrooms []string
	stale      bool
	lastError  string
}

// NewDirectory builds an empty directory; call Refresh to load it.
func NewDirectory(deps Deps) *Directory {
	return &Directory{deps: deps, logger: deps.logger().Named("directory"), classrooms: []string{}}
}

// Refresh reloads the classroom list.
func (d *Directory) Refresh(ctx context.Context) error {
	names, err := d.deps.Backend.ListClassrooms(ctx)
	if err != nil {
		d.logger.Warn("failed to fetch classrooms", zap.Error(err))
		d.mu.Lock()
		d.lastError = backend.Message(err)
		d.mu.Unlock()
		if isTransport(err) {
			if cached, ok := loadSnapshot(ctx, d.deps.Cache, d.logger, classroomsKey); ok {
				d.mu.Lock()
				d.classrooms = cached
				d.stale = true
				d.mu.Unlock()
			}
		}
		return err
	}

	if names == nil {
		names = []string{}
	}
	d.mu.Lock()
	d.classrooms = names
	d.stale = false
	d.lastError = ""
	d.mu.Unlock()

	storeSnapshot(ctx, d.deps.Cache, d.logger, classroomsKey, names)
	return nil
}

// Create adds a classroom and refreshes the list.
func (d *Directory) Create(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return validationErr("name", "Enter a classroom name")
	}
	if err := d.deps.Backend.CreateClassroom(ctx, name); err != nil {
		return d.fail("create", err)
	}
	d.logger.Info("classroom created", zap.String("classroom", name))
	d.refreshAfterMutation(ctx)
	return nil
}

// Rename renames a classroom and refreshes the list.
func (d *Directory) Rename(ctx context.Context, oldName, newName string) error {
	newName = strings.TrimSpace(newName)
	if oldName == "" {
		return validationErr("classroom", "Classroom is required")
	}
	if newName == "" {
		return validationErr("name", "Enter a classroom name")
	}
	if err := d.deps.Backend.RenameClassroom(ctx, oldName, newName); err != nil {
		return d.fail("rename", err)
	}
	d.logger.Info("classroom renamed", zap.String("from", oldName), zap.String("to", newName))
	d.refreshAfterMutation(ctx)
	return nil
}

// Delete removes a classroom after confirmation and refreshes the list.
func (d *Directory) Delete(ctx context.Context, name string, confirmer Confirmer) error {
	if name == "" {
		return validationErr("classroom", "Classroom is required")
	}
	if err := confirm(ctx, confirmer, fmt.Sprintf("Are you sure you want to delete %q?", name)); err != nil {
		return err
	}
	if err := d.deps.Backend.DeleteClassroom(ctx, name); err != nil {
		return d.fail("delete", err)
	}
	d.logger.Info("classroom deleted", zap.String("classroom", name))
	d.refreshAfterMutation(ctx)
	return nil
}

// refreshAfterMutation reloads the list once a mutation was acknowledged. A
// failed reload stays in LastError; the mutation itself succeeded.
func (d *Directory) refreshAfterMutation(ctx context.Context) {
	if err := d.Refresh(ctx); err != nil {
		d.logger.Warn("list refresh after mutation failed", zap.Error(err))
	}
}

// Contains reports whether classroom is listed. An unlisted name triggers one
// reload; the reload error is returned only when the name is still missing.
func (d *Directory) Contains(ctx context.Context, classroom string) (bool, error) {
	if d.has(classroom) {
		return true, nil
	}
	err := d.Refresh(ctx)
	if d.has(classroom) {
		return true, nil
	}
	return false, err
}

func (d *Directory) has(classroom string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return contains(d.classrooms, classroom)
}

// State returns a snapshot of the directory.
func (d *Directory) State() DirectoryState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DirectoryState{
		Classrooms: append([]string{}, d.classrooms...),
		Stale:      d.stale,
		LastError:  d.lastError,
	}
}

func (d *Directory) fail(action string, err error) error {
	d.logger.Warn("classroom "+action+" failed", zap.Error(err))
	d.mu.Lock()
	d.lastError = backend.Message(err)
	d.mu.Unlock()
	return err
}
