package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/attendance-station/internal/backend"
	"github.com/example/attendance-station/internal/capture"
	"github.com/example/attendance-station/internal/handlers"
	"github.com/example/attendance-station/internal/workflow"
)

// blockingBackend holds recognition requests until released.
type blockingBackend struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingBackend) Recognize(ctx context.Context, classroom string, image backend.Upload) (*backend.Recognition, error) {
	select {
	case <-b.started:
	default:
		close(b.started)
	}
	<-b.release
	return &backend.Recognition{Count: 1, Names: []string{"Alice"}}, nil
}

func (b *blockingBackend) RegisterStudent(ctx context.Context, classroom, name string, images []backend.Upload) (*backend.Ack, error) {
	return &backend.Ack{}, nil
}

func (b *blockingBackend) ListClassrooms(ctx context.Context) ([]string, error) {
	return []string{"5A"}, nil
}
func (b *blockingBackend) CreateClassroom(ctx context.Context, name string) error { return nil }
func (b *blockingBackend) RenameClassroom(ctx context.Context, o, n string) error { return nil }
func (b *blockingBackend) DeleteClassroom(ctx context.Context, name string) error { return nil }
func (b *blockingBackend) ListStudents(ctx context.Context, classroom string) ([]string, error) {
	return []string{}, nil
}
func (b *blockingBackend) DeleteStudent(ctx context.Context, classroom, name string) (*backend.Ack, error) {
	return &backend.Ack{}, nil
}

type fixedDevice struct{}

func (fixedDevice) RequestPermission(ctx context.Context) (capture.Permission, error) {
	return capture.PermissionGranted, nil
}

func (fixedDevice) Capture(ctx context.Context, quality int) (capture.Image, error) {
	return capture.Image{ID: "img-1", Path: "/captures/img-1.jpg"}, nil
}

func TestServerGracefulShutdown(t *testing.T) {
	logger := zap.NewNop()
	gin.SetMode(gin.TestMode)

	releaseRequest := make(chan struct{})
	defer func() {
		select {
		case <-releaseRequest:
		default:
			close(releaseRequest)
		}
	}()
	b := &blockingBackend{started: make(chan struct{}), release: releaseRequest}

	station := workflow.NewStation(fixedDevice{}, workflow.StationConfig{RegisterQuality: 50, RecognizeQuality: 70},
		workflow.Deps{Backend: b, Logger: logger})
	defer station.Close()

	router := gin.New()
	handlers.RegisterRoutes(router, station, nil, logger)

	for _, path := range []string{"permission", "open", "capture"} {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/classrooms/5A/recognize/"+path, nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: unexpected status %d", path, resp.Code)
		}
	}

	t.Log("creating listener")
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	server := &http.Server{Handler: router}

	signalCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serveHTTPServerWithOptions(server, 2*time.Second, logger, listener, signalCh)
	}()

	addr := listener.Addr().String()
	t.Logf("listening on %s", addr)
	waitForServer(t, addr)

	client := &http.Client{Timeout: 2 * time.Second}
	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		t.Log("sending request")
		resp, err := client.Post("http://"+addr+"/classrooms/5A/recognize/submit", "application/json", nil)
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	select {
	case <-b.started:
		t.Log("request started")
	case <-time.After(2 * time.Second):
		t.Fatal("request did not start in time")
	}

	t.Log("sending signal")
	signalCh <- syscall.SIGTERM

	time.Sleep(50 * time.Millisecond)
	close(releaseRequest)
	t.Log("released request")

	select {
	case resp := <-respCh:
		t.Cleanup(func() { resp.Body.Close() })
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			t.Fatalf("unexpected status: %d body: %s", resp.StatusCode, string(body))
		}
	case err := <-errCh:
		t.Fatalf("request failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not complete")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server did not shutdown cleanly: %v", err)
		}
		t.Log("server shutdown complete")
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server %s did not become ready", addr)
}
