package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/example/attendance-station/internal/backend"
	"github.com/example/attendance-station/internal/capture"
	"github.com/example/attendance-station/internal/repository"
)

type stubBackend struct {
	mu sync.Mutex

	// When set, submissions signal started and wait for release.
	started chan struct{}
	release chan struct{}

	registerCalls  int
	registerArgs   []string
	registerErr    error
	recognizeCalls int
	recognition    *backend.Recognition
	recognizeErr   error

	students          []string
	studentsErr       error
	listStudentsCalls int
	deleteCalls       []string
	deleteErr         error

	classrooms    []string
	classroomsErr error
	classroomOps  []string
	classroomErr  error
}

func (s *stubBackend) wait(ctx context.Context) error {
	if s.started == nil {
		return nil
	}
	s.started <- struct{}{}
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *stubBackend) RegisterStudent(ctx context.Context, classroom, name string, images []backend.Upload) (*backend.Ack, error) {
	s.mu.Lock()
	s.registerCalls++
	for _, img := range images {
		s.registerArgs = append(s.registerArgs, img.Filename)
	}
	s.mu.Unlock()
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	if s.registerErr != nil {
		return nil, s.registerErr
	}
	return &backend.Ack{Message: "registered"}, nil
}

func (s *stubBackend) Recognize(ctx context.Context, classroom string, image backend.Upload) (*backend.Recognition, error) {
	s.mu.Lock()
	s.recognizeCalls++
	s.mu.Unlock()
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	if s.recognizeErr != nil {
		return nil, s.recognizeErr
	}
	if s.recognition == nil {
		return &backend.Recognition{Names: []string{}}, nil
	}
	return s.recognition, nil
}

func (s *stubBackend) ListClassrooms(ctx context.Context) ([]string, error) {
	if s.classroomsErr != nil {
		return nil, s.classroomsErr
	}
	return append([]string(nil), s.classrooms...), nil
}

func (s *stubBackend) CreateClassroom(ctx context.Context, name string) error {
	s.classroomOps = append(s.classroomOps, "create:"+name)
	if s.classroomErr != nil {
		return s.classroomErr
	}
	s.classrooms = append(s.classrooms, name)
	return nil
}

func (s *stubBackend) RenameClassroom(ctx context.Context, oldName, newName string) error {
	s.classroomOps = append(s.classroomOps, "rename:"+oldName+"->"+newName)
	return s.classroomErr
}

func (s *stubBackend) DeleteClassroom(ctx context.Context, name string) error {
	s.classroomOps = append(s.classroomOps, "delete:"+name)
	return s.classroomErr
}

func (s *stubBackend) ListStudents(ctx context.Context, classroom string) ([]string, error) {
	s.listStudentsCalls++
	if s.studentsErr != nil {
		return nil, s.studentsErr
	}
	return append([]string(nil), s.students...), nil
}

func (s *stubBackend) DeleteStudent(ctx context.Context, classroom, name string) (*backend.Ack, error) {
	s.deleteCalls = append(s.deleteCalls, name)
	if s.deleteErr != nil {
		return nil, s.deleteErr
	}
	return &backend.Ack{}, nil
}

func (s *stubBackend) submissions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registerCalls + s.recognizeCalls
}

// stubDevice produces images without touching the filesystem unless dir is set.
type stubDevice struct {
	mu         sync.Mutex
	permission capture.Permission
	dir        string
	writeFile  func(path string) error
	n          int
}

func (d *stubDevice) RequestPermission(ctx context.Context) (capture.Permission, error) {
	return d.permission, nil
}

func (d *stubDevice) Capture(ctx context.Context, quality int) (capture.Image, error) {
	d.mu.Lock()
	d.n++
	n := d.n
	d.mu.Unlock()
	path := fmt.Sprintf("/captures/img-%d.jpg", n)
	if d.dir != "" {
		path = fmt.Sprintf("%s/img-%d.jpg", d.dir, n)
		if d.writeFile != nil {
			if err := d.writeFile(path); err != nil {
				return capture.Image{}, err
			}
		}
	}
	return capture.Image{ID: fmt.Sprintf("img-%d", n), Path: path}, nil
}

type stubRecorder struct {
	records []*repository.AttendanceRecord
	err     error
}

func (s *stubRecorder) SaveRecord(ctx context.Context, record *repository.AttendanceRecord) error {
	s.records = append(s.records, record)
	return s.err
}

func declineAll() Confirmer {
	return ConfirmFunc(func(context.Context, string) (bool, error) { return false, nil })
}
