package workflow

import (
	"context"
	"sync"
)

// StationConfig sets the capture qualities of a station.
type StationConfig struct {
	RegisterQuality  int
	RecognizeQuality int
}

// Station holds the classroom directory and, per classroom, one registration
// and one recognition flow sharing the station's camera. Flows exist only for
// classrooms the directory lists; they are created on first use and disposed
// by Forget or Close.
type Station struct {
	device Device
	cfg    StationConfig
	deps   Deps

	directory *Directory

	mu            sync.Mutex
	registrations map[string]*RegistrationFlow
	recognitions  map[string]*RecognitionFlow
}

// NewStation builds a station around device.
func NewStation(device Device, cfg StationConfig, deps Deps) *Station {
	return &Station{
		device:        device,
		cfg:           cfg,
		deps:          deps,
		directory:     NewDirectory(deps),
		registrations: make(map[string]*RegistrationFlow),
		recognitions:  make(map[string]*RecognitionFlow),
	}
}

// Directory returns the classroom directory.
func (s *Station) Directory() *Directory { return s.directory }

// Registration returns the registration flow of classroom. An unlisted
// classroom fails with ErrUnknownClassroom.
func (s *Station) Registration(ctx context.Context, classroom string) (*RegistrationFlow, error) {
	if err := s.known(ctx, classroom); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	flow, ok := s.registrations[classroom]
	if !ok {
		flow = NewRegistrationFlow(classroom, s.device, s.cfg.RegisterQuality, s.deps)
		s.registrations[classroom] = flow
	}
	return flow, nil
}

// Recognition returns the recognition flow of classroom. An unlisted
// classroom fails with ErrUnknownClassroom.
func (s *Station) Recognition(ctx context.Context, classroom string) (*RecognitionFlow, error) {
	if err := s.known(ctx, classroom); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	flow, ok := s.recognitions[classroom]
	if !ok {
		flow = NewRecognitionFlow(classroom, s.device, s.cfg.RecognizeQuality, s.deps)
		s.recognitions[classroom] = flow
	}
	return flow, nil
}

func (s *Station) known(ctx context.Context, classroom string) error {
	ok, err := s.directory.Contains(ctx, classroom)
	if ok {
		return nil
	}
	if err != nil {
		return err
	}
	return ErrUnknownClassroom
}

// Forget disposes the flows of classroom, e.g. after it was renamed or deleted.
func (s *Station) Forget(classroom string) {
	s.mu.Lock()
	reg := s.registrations[classroom]
	rec := s.recognitions[classroom]
	delete(s.registrations, classroom)
	delete(s.recognitions, classroom)
	s.mu.Unlock()

	if reg != nil {
		reg.Close()
	}
	if rec != nil {
		rec.Close()
	}
}

// Close disposes every flow.
func (s *Station) Close() {
	s.mu.Lock()
	classrooms := make([]string, 0, len(s.registrations)+len(s.recognitions))
	for c := range s.registrations {
		classrooms = append(classrooms, c)
	}
	for c := range s.recognitions {
		classrooms = append(classrooms, c)
	}
	s.mu.Unlock()

	for _, c := range classrooms {
		s.Forget(c)
	}
}
