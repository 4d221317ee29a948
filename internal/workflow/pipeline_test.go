package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/attendance-station/internal/backend"
	"github.com/example/attendance-station/internal/capture"
)

func images(n int) []capture.Image {
	out := make([]capture.Image, n)
	for i := range out {
		out[i] = capture.Image{ID: string(rune('a' + i)), Path: "/captures/" + string(rune('a'+i)) + ".jpg"}
	}
	return out
}

func TestSubmitRequiresExactImageCount(t *testing.T) {
	stub := &stubBackend{}
	p := NewPipeline(stub, zap.NewNop())

	cases := []SubmissionRequest{
		{Kind: KindRegister, Classroom: "5A", Student: "Jane", Images: images(2)},
		{Kind: KindRegister, Classroom: "5A", Student: "Jane", Images: images(4)},
		{Kind: KindRecognize, Classroom: "5A", Images: nil},
		{Kind: KindRecognize, Classroom: "5A", Images: images(2)},
		{Kind: KindRegister, Classroom: "5A", Student: "", Images: images(3)},
	}
	for _, req := range cases {
		_, err := p.Submit(context.Background(), req)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError for %+v, got %v", req, err)
		}
	}
	if stub.submissions() != 0 {
		t.Fatalf("expected zero network calls, got %d", stub.submissions())
	}
	if p.Current() != nil {
		t.Fatalf("validation must not create an outcome, got %v", p.Current())
	}
}

func TestSecondSubmitWhilePendingIsRejected(t *testing.T) {
	stub := &stubBackend{
		started:     make(chan struct{}, 1),
		release:     make(chan struct{}),
		recognition: &backend.Recognition{Count: 1, Names: []string{"Alice"}},
	}
	p := NewPipeline(stub, zap.NewNop())
	req := SubmissionRequest{Kind: KindRecognize, Classroom: "5A", Images: images(1)}

	var wg sync.WaitGroup
	var first Outcome
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, firstErr = p.Submit(context.Background(), req)
	}()

	select {
	case <-stub.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first submission did not start")
	}

	if StatusOf(p.Current()) != StatusPending {
		t.Fatalf("expected pending outcome, got %v", StatusOf(p.Current()))
	}
	if _, err := p.Submit(context.Background(), req); !errors.Is(err, ErrConcurrentSubmission) {
		t.Fatalf("expected ErrConcurrentSubmission, got %v", err)
	}

	close(stub.release)
	wg.Wait()

	if firstErr != nil {
		t.Fatalf("first submission failed: %v", firstErr)
	}
	if first.Status() != StatusSucceeded {
		t.Fatalf("expected success, got %v", first.Status())
	}
	if stub.submissions() != 1 {
		t.Fatalf("expected exactly one network call, got %d", stub.submissions())
	}
}

func TestRecognitionPayloadIsUnmodified(t *testing.T) {
	stub := &stubBackend{recognition: &backend.Recognition{Count: 2, Names: []string{"Alice", "Bob"}}}
	p := NewPipeline(stub, zap.NewNop())

	outcome, err := p.Submit(context.Background(), SubmissionRequest{Kind: KindRecognize, Classroom: "5A", Images: images(1)})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	succeeded, ok := outcome.(Succeeded)
	if !ok {
		t.Fatalf("expected Succeeded, got %T", outcome)
	}
	result, ok := succeeded.Payload.(RecognitionResult)
	if !ok {
		t.Fatalf("expected RecognitionResult, got %T", succeeded.Payload)
	}
	if result.Count != 2 || len(result.Names) != 2 || result.Names[0] != "Alice" || result.Names[1] != "Bob" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if succeeded.RequestID() == "" || p.Current().RequestID() != succeeded.RequestID() {
		t.Fatal("expected the live outcome to carry the request id")
	}
}

func TestServerErrorBecomesFailed(t *testing.T) {
	stub := &stubBackend{recognizeErr: &backend.ServerError{Operation: "backend.recognize", StatusCode: 404, Message: "classroom not found"}}
	p := NewPipeline(stub, zap.NewNop())

	outcome, err := p.Submit(context.Background(), SubmissionRequest{Kind: KindRecognize, Classroom: "9Z", Images: images(1)})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	failed, ok := outcome.(Failed)
	if !ok {
		t.Fatalf("expected Failed, got %T", outcome)
	}
	if failed.Message != "classroom not found" {
		t.Fatalf("unexpected message: %q", failed.Message)
	}
}

func TestTransportErrorBecomesFailed(t *testing.T) {
	stub := &stubBackend{registerErr: &backend.TransportError{Operation: "backend.register_student", Err: errors.New("connection refused")}}
	p := NewPipeline(stub, zap.NewNop())

	outcome, err := p.Submit(context.Background(), SubmissionRequest{Kind: KindRegister, Classroom: "5A", Student: "Jane", Images: images(3)})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	failed, ok := outcome.(Failed)
	if !ok || failed.Message == "" {
		t.Fatalf("expected Failed with message, got %+v", outcome)
	}
	var te *backend.TransportError
	if !errors.As(failed.Err, &te) {
		t.Fatalf("expected wrapped TransportError, got %v", failed.Err)
	}
}

func TestRegistrationFilenames(t *testing.T) {
	stub := &stubBackend{}
	p := NewPipeline(stub, zap.NewNop())

	if _, err := p.Submit(context.Background(), SubmissionRequest{Kind: KindRegister, Classroom: "5A", Student: "Jane", Images: images(3)}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	want := []string{"Jane_1.jpg", "Jane_2.jpg", "Jane_3.jpg"}
	for i, name := range want {
		if stub.registerArgs[i] != name {
			t.Fatalf("filename %d: got %s want %s", i, stub.registerArgs[i], name)
		}
	}
}

func TestCloseDiscardsLateOutcome(t *testing.T) {
	stub := &stubBackend{started: make(chan struct{}, 1), release: make(chan struct{})}
	p := NewPipeline(stub, zap.NewNop())

	var notified []Status
	var mu sync.Mutex
	p.Watch(func(o Outcome) {
		mu.Lock()
		defer mu.Unlock()
		notified = append(notified, StatusOf(o))
	})

	done := make(chan error, 1)
	go func() {
		_, err := p.Submit(context.Background(), SubmissionRequest{Kind: KindRecognize, Classroom: "5A", Images: images(1)})
		done <- err
	}()
	<-stub.started
	p.Close()
	close(stub.release)

	if err := <-done; !errors.Is(err, ErrDiscarded) {
		t.Fatalf("expected ErrDiscarded, got %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(notified) != 1 || notified[0] != StatusPending {
		t.Fatalf("expected only the pending notification, got %v", notified)
	}
	if _, err := p.Submit(context.Background(), SubmissionRequest{Kind: KindRecognize, Classroom: "5A", Images: images(1)}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestResetSupersedesInFlightOutcome(t *testing.T) {
	stub := &stubBackend{started: make(chan struct{}, 1), release: make(chan struct{})}
	p := NewPipeline(stub, zap.NewNop())

	done := make(chan error, 1)
	go func() {
		_, err := p.Submit(context.Background(), SubmissionRequest{Kind: KindRecognize, Classroom: "5A", Images: images(1)})
		done <- err
	}()
	<-stub.started
	p.Reset()
	close(stub.release)

	if err := <-done; !errors.Is(err, ErrDiscarded) {
		t.Fatalf("expected ErrDiscarded, got %v", err)
	}
	if p.Current() != nil {
		t.Fatalf("expected no live outcome after reset, got %v", p.Current())
	}
	if p.InFlight() {
		t.Fatal("expected in-flight flag to clear")
	}
}

func TestWatchSeesTransitions(t *testing.T) {
	stub := &stubBackend{recognition: &backend.Recognition{Count: 0, Names: []string{}}}
	p := NewPipeline(stub, zap.NewNop())

	var seen []Status
	cancel := p.Watch(func(o Outcome) { seen = append(seen, StatusOf(o)) })
	p.Submit(context.Background(), SubmissionRequest{Kind: KindRecognize, Classroom: "5A", Images: images(1)})
	p.Reset()
	cancel()
	p.Submit(context.Background(), SubmissionRequest{Kind: KindRecognize, Classroom: "5A", Images: images(1)})

	want := []Status{StatusPending, StatusSucceeded, StatusNone}
	if len(seen) != len(want) {
		t.Fatalf("unexpected transitions: %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transition %d: got %s want %s", i, seen[i], want[i])
		}
	}
}
