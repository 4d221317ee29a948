package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 2*time.Second, zap.NewNop())
}

func writeTempImage(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("\xff\xd8jpeg-bytes-"+name), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	return path
}

type uploadedPart struct {
	field, filename, contentType, body string
}

func readParts(t *testing.T, r *http.Request) (map[string]string, []uploadedPart) {
	t.Helper()
	reader, err := r.MultipartReader()
	if err != nil {
		t.Fatalf("multipart reader: %v", err)
	}
	fields := map[string]string{}
	var files []uploadedPart
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("next part: %v", err)
		}
		data, _ := io.ReadAll(part)
		if part.FileName() == "" {
			fields[part.FormName()] = string(data)
			continue
		}
		files = append(files, uploadedPart{
			field:       part.FormName(),
			filename:    part.FileName(),
			contentType: part.Header.Get("Content-Type"),
			body:        string(data),
		})
	}
	return fields, files
}

func TestRecognizeSuccess(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	var files []uploadedPart
	router.POST("/recognize/:classroom", func(c *gin.Context) {
		if c.Param("classroom") != "5A" {
			c.JSON(http.StatusNotFound, gin.H{"error": "Classroom not found"})
			return
		}
		_, files = readParts(t, c.Request)
		c.JSON(http.StatusOK, gin.H{"count": 2, "names": []string{"Alice", "Bob"}})
	})

	client := newTestClient(t, router)
	result, err := client.Recognize(context.Background(), "5A", Upload{Path: writeTempImage(t, "room.jpg"), Filename: "photo.jpg"})
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if result.Count != 2 || len(result.Names) != 2 || result.Names[0] != "Alice" || result.Names[1] != "Bob" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(files) != 1 || files[0].field != "file" || files[0].filename != "photo.jpg" {
		t.Fatalf("unexpected upload parts: %+v", files)
	}
	if files[0].contentType != "image/jpeg" {
		t.Fatalf("expected image/jpeg part, got %s", files[0].contentType)
	}
}

func TestRegisterStudentSendsFieldsAndImages(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	var fields map[string]string
	var files []uploadedPart
	router.POST("/register/:classroom", func(c *gin.Context) {
		fields, files = readParts(t, c.Request)
		c.JSON(http.StatusOK, gin.H{"message": "Student 'Jane' registered successfully in '5A'"})
	})

	client := newTestClient(t, router)
	uploads := []Upload{
		{Path: writeTempImage(t, "a.jpg"), Filename: "Jane_1.jpg"},
		{Path: writeTempImage(t, "b.jpg"), Filename: "Jane_2.jpg"},
		{Path: writeTempImage(t, "c.jpg"), Filename: "Jane_3.jpg"},
	}
	ack, err := client.RegisterStudent(context.Background(), "5A", "Jane", uploads)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if ack.Message == "" {
		t.Fatal("expected ack message")
	}
	if fields["name"] != "Jane" || fields["classroom"] != "5A" {
		t.Fatalf("unexpected fields: %+v", fields)
	}
	if len(files) != 3 {
		t.Fatalf("expected 3 image parts, got %d", len(files))
	}
	for i, f := range files {
		if f.field != "images" || f.filename != uploads[i].Filename {
			t.Fatalf("unexpected part %d: %+v", i, f)
		}
	}
}

func TestPathSegmentsArePercentEncoded(t *testing.T) {
	var rawPath string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawPath = r.URL.EscapedPath()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"ok"}`))
	}))

	if _, err := client.DeleteStudent(context.Background(), "Room 5/A", "José"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if want := "/students/Room%205%2FA/Jos%C3%A9"; rawPath != want {
		t.Fatalf("expected %s, got %s", want, rawPath)
	}
}

func TestServerErrorUsesErrorField(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"classroom not found"}`))
	}))

	_, err := client.Recognize(context.Background(), "9Z", Upload{Path: writeTempImage(t, "x.jpg"), Filename: "photo.jpg"})
	var se *ServerError
	if !errors.As(err, &se) {
		t.Fatalf("expected ServerError, got %v", err)
	}
	if se.Message != "classroom not found" || !se.IsNotFound() {
		t.Fatalf("unexpected server error: %+v", se)
	}
	if Message(err) != "classroom not found" {
		t.Fatalf("unexpected user message: %s", Message(err))
	}
}

func TestServerErrorFallsBackOnUnparseableBody(t *testing.T) {
	for name, body := range map[string]string{
		"html":     "<html>Internal Server Error</html>",
		"empty":    "",
		"no-field": `{"message":"nope"}`,
	} {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(body))
			}))
			_, err := client.Recognize(context.Background(), "5A", Upload{Path: writeTempImage(t, "x.jpg"), Filename: "photo.jpg"})
			var se *ServerError
			if !errors.As(err, &se) {
				t.Fatalf("expected ServerError, got %v", err)
			}
			if se.Message != FallbackRecognize {
				t.Fatalf("expected fallback message, got %q", se.Message)
			}
		})
	}
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	client := NewClient(addr, time.Second, zap.NewNop())
	_, err := client.ListClassrooms(context.Background())
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestClassroomEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	var calls []string
	router.GET("/api/classrooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, []string{"5A", "6B"})
	})
	router.POST("/api/classrooms", func(c *gin.Context) {
		var body struct{ Name string }
		c.ShouldBindJSON(&body)
		calls = append(calls, "create:"+body.Name)
		c.JSON(http.StatusCreated, gin.H{"message": "created"})
	})
	router.PUT("/api/classrooms/:name", func(c *gin.Context) {
		var body struct{ Name string }
		c.ShouldBindJSON(&body)
		calls = append(calls, "rename:"+c.Param("name")+"->"+body.Name)
		c.JSON(http.StatusOK, gin.H{})
	})
	router.DELETE("/api/classrooms/:name", func(c *gin.Context) {
		calls = append(calls, "delete:"+c.Param("name"))
		c.JSON(http.StatusOK, gin.H{})
	})
	router.GET("/students/:classroom", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"students": []string{"Jane_1", "Jane_2"}})
	})

	client := newTestClient(t, router)
	ctx := context.Background()

	names, err := client.ListClassrooms(ctx)
	if err != nil || len(names) != 2 || names[0] != "5A" {
		t.Fatalf("list classrooms: %v %v", names, err)
	}
	if err := client.CreateClassroom(ctx, "7C"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := client.RenameClassroom(ctx, "7C", "7D"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if err := client.DeleteClassroom(ctx, "7D"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	students, err := client.ListStudents(ctx, "5A")
	if err != nil || len(students) != 2 {
		t.Fatalf("list students: %v %v", students, err)
	}

	want := []string{"create:7C", "rename:7C->7D", "delete:7D"}
	if len(calls) != len(want) {
		t.Fatalf("unexpected calls: %v", calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("call %d: got %s want %s", i, calls[i], want[i])
		}
	}
}
