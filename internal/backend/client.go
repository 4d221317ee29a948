// Package backend talks to the remote recognition service over HTTP/JSON.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/attendance-station/internal/logging"
)

const (
	defaultConnectTimeout  = 10 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
	maxErrorBody           = 64 << 10
)

// Recognition is the payload of a successful recognition request.
type Recognition struct {
	Count int      `json:"count"`
	Names []string `json:"names"`
}

// Ack is the acknowledgement returned by register and delete calls.
type Ack struct {
	Message string `json:"message,omitempty"`
}

// Client is the HTTP client for the recognition backend. The zero value is not
// usable; build one with NewClient.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient builds a client for baseURL with an explicit request timeout.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   defaultConnectTimeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:          20,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       defaultIdleConnTimeout,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: time.Second,
			},
		},
		logger: logger.Named("backend"),
	}
}

// ListClassrooms returns all classroom names in backend order.
func (c *Client) ListClassrooms(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.doJSON(ctx, "backend.list_classrooms", http.MethodGet, "/api/classrooms", nil, FallbackListClassrooms, &names); err != nil {
		return nil, err
	}
	return names, nil
}

// CreateClassroom creates an empty classroom.
func (c *Client) CreateClassroom(ctx context.Context, name string) error {
	return c.doJSON(ctx, "backend.create_classroom", http.MethodPost, "/api/classrooms",
		map[string]string{"name": name}, FallbackSaveClassroom, nil)
}

// RenameClassroom renames oldName to newName.
func (c *Client) RenameClassroom(ctx context.Context, oldName, newName string) error {
	return c.doJSON(ctx, "backend.rename_classroom", http.MethodPut, "/api/classrooms/"+url.PathEscape(oldName),
		map[string]string{"name": newName}, FallbackSaveClassroom, nil)
}

// DeleteClassroom removes a classroom and its registrations.
func (c *Client) DeleteClassroom(ctx context.Context, name string) error {
	return c.doJSON(ctx, "backend.delete_classroom", http.MethodDelete, "/api/classrooms/"+url.PathEscape(name),
		nil, FallbackDeleteClassroom, nil)
}

// ListStudents returns the registered students of a classroom.
func (c *Client) ListStudents(ctx context.Context, classroom string) ([]string, error) {
	var payload struct {
		Students []string `json:"students"`
	}
	if err := c.doJSON(ctx, "backend.list_students", http.MethodGet, "/students/"+url.PathEscape(classroom),
		nil, FallbackListStudents, &payload); err != nil {
		return nil, err
	}
	return payload.Students, nil
}

// DeleteStudent removes a registered student.
func (c *Client) DeleteStudent(ctx context.Context, classroom, name string) (*Ack, error) {
	var ack Ack
	path := "/students/" + url.PathEscape(classroom) + "/" + url.PathEscape(name)
	if err := c.doJSON(ctx, "backend.delete_student", http.MethodDelete, path, nil, FallbackDeleteStudent, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// RegisterStudent uploads the registration images for name.
func (c *Client) RegisterStudent(ctx context.Context, classroom, name string, images []Upload) (*Ack, error) {
	form := &Form{}
	form.AddField("name", name)
	form.AddField("classroom", classroom)
	for _, img := range images {
		form.AddFile("images", img)
	}

	var ack Ack
	if err := c.doMultipart(ctx, "backend.register_student", "/register/"+url.PathEscape(classroom), form, FallbackRegister, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// Recognize uploads one classroom photo and returns the recognized students.
func (c *Client) Recognize(ctx context.Context, classroom string, image Upload) (*Recognition, error) {
	form := &Form{}
	form.AddFile("file", image)

	var result Recognition
	if err := c.doMultipart(ctx, "backend.recognize", "/recognize/"+url.PathEscape(classroom), form, FallbackRecognize, &result); err != nil {
		return nil, err
	}
	if result.Names == nil {
		result.Names = []string{}
	}
	return &result, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, body interface{}, fallback string, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return logging.NewOperationError(op, "", fmt.Errorf("encode request: %w", err))
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return logging.NewOperationError(op, "", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return c.do(op, req, fallback, out)
}

func (c *Client) doMultipart(ctx context.Context, op, path string, form *Form, fallback string, out interface{}) error {
	body, contentType, err := form.Encode()
	if err != nil {
		return logging.NewOperationError(op, "", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return logging.NewOperationError(op, "", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	return c.do(op, req, fallback, out)
}

func (c *Client) do(op string, req *http.Request, fallback string, out interface{}) error {
	opLogger := c.logger.With(zap.String("operation", op), zap.String("method", req.Method), zap.String("path", req.URL.EscapedPath()))
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		opLogger.Warn("backend request failed", zap.Error(err))
		return &TransportError{Operation: op, Err: err}
	}
	defer resp.Body.Close()

	opLogger.Debug("backend responded",
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := readErrorMessage(resp.Body, fallback)
		opLogger.Warn("backend rejected request", zap.Int("status", resp.StatusCode), zap.String("message", msg))
		return &ServerError{Operation: op, StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return logging.NewOperationError(op, "", fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func readErrorMessage(body io.Reader, fallback string) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || len(data) == 0 {
		return fallback
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || strings.TrimSpace(payload.Error) == "" {
		return fallback
	}
	return payload.Error
}
