// Package handlers exposes an attendance station to a local UI over HTTP.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/attendance-station/internal/capture"
	"github.com/example/attendance-station/internal/logging"
	"github.com/example/attendance-station/internal/repository"
	"github.com/example/attendance-station/internal/workflow"
)

// RequestIDHeader carries the id of a bridge request.
const RequestIDHeader = "X-Request-ID"

// HistoryStore serves the recorded attendance. It may be nil when no database
// is configured.
type HistoryStore interface {
	FindByRequestID(ctx context.Context, requestID string) (*repository.AttendanceRecord, error)
	ListByClassroom(ctx context.Context, classroom string, limit int) ([]*repository.AttendanceRecord, error)
	Summarize(ctx context.Context, classroom string) (*repository.ClassroomSummary, error)
}

type bridge struct {
	station *workflow.Station
	history HistoryStore
	logger  *zap.Logger
}

// RegisterRoutes wires the station bridge to the Gin router.
func RegisterRoutes(router *gin.Engine, station *workflow.Station, history HistoryStore, logger *zap.Logger) {
	b := &bridge{station: station, history: history, logger: logger.Named("bridge")}

	router.Use(b.requestLogger())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/classrooms", b.listClassrooms)
	router.POST("/classrooms", b.createClassroom)
	router.PUT("/classrooms/:classroom", b.renameClassroom)
	router.DELETE("/classrooms/:classroom", b.deleteClassroom)

	reg := router.Group("/classrooms/:classroom/register", b.resolveRegistration)
	reg.GET("", b.registrationState)
	captureRoutes(reg, b, func(c *gin.Context) cameraFlow { return registrationFlow(c) }, b.registrationState)
	reg.POST("/capture", b.registrationCapture)
	reg.POST("/retake-last", b.registrationRetakeLast)
	reg.PUT("/name", b.setStudentName)
	reg.POST("/submit", b.registrationSubmit)

	students := router.Group("/classrooms/:classroom/students", b.resolveRegistration)
	students.GET("", b.refreshRoster)
	students.DELETE("/:name", b.deleteStudent)

	rec := router.Group("/classrooms/:classroom/recognize", b.resolveRecognition)
	rec.GET("", b.recognitionState)
	captureRoutes(rec, b, func(c *gin.Context) cameraFlow { return recognitionFlow(c) }, b.recognitionState)
	rec.POST("/capture", b.recognitionCapture)
	rec.POST("/retake", b.recognitionRetake)
	rec.POST("/submit", b.recognitionSubmit)

	router.GET("/classrooms/:classroom/history", b.listHistory)
	router.GET("/classrooms/:classroom/summary", b.summary)
	router.GET("/history/:request_id", b.findHistory)
}

func (b *bridge) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)
		c.Next()
		logging.WithOperation(b.logger, c.Request.Method+" "+c.FullPath(), requestID).Debug("request handled",
			zap.Int("status", c.Writer.Status()),
			zap.String("path", c.Request.URL.Path),
		)
	}
}

const (
	registrationKey = "registration_flow"
	recognitionKey  = "recognition_flow"
)

// resolveRegistration loads the registration flow of the :classroom
// parameter. Unlisted classrooms are answered with 404.
func (b *bridge) resolveRegistration(c *gin.Context) {
	flow, err := b.station.Registration(c.Request.Context(), c.Param("classroom"))
	if err != nil {
		b.fail(c, err)
		c.Abort()
		return
	}
	c.Set(registrationKey, flow)
	c.Next()
}

func (b *bridge) resolveRecognition(c *gin.Context) {
	flow, err := b.station.Recognition(c.Request.Context(), c.Param("classroom"))
	if err != nil {
		b.fail(c, err)
		c.Abort()
		return
	}
	c.Set(recognitionKey, flow)
	c.Next()
}

func registrationFlow(c *gin.Context) *workflow.RegistrationFlow {
	return c.MustGet(registrationKey).(*workflow.RegistrationFlow)
}

func recognitionFlow(c *gin.Context) *workflow.RecognitionFlow {
	return c.MustGet(recognitionKey).(*workflow.RecognitionFlow)
}

// cameraFlow is the part of a flow behind the shared capture routes.
type cameraFlow interface {
	Capture() *capture.Controller
	Open() error
	Reset()
}

// captureRoutes adds the capture surface operations shared by both flows.
// Each responds with the flow state rendered by state.
func captureRoutes(group *gin.RouterGroup, b *bridge, flowOf func(*gin.Context) cameraFlow, state gin.HandlerFunc) {
	group.POST("/permission", func(c *gin.Context) {
		if _, err := flowOf(c).Capture().RequestPermission(c.Request.Context()); err != nil {
			b.fail(c, err)
			return
		}
		state(c)
	})
	group.POST("/open", func(c *gin.Context) {
		if err := flowOf(c).Open(); err != nil {
			b.fail(c, err)
			return
		}
		state(c)
	})
	group.POST("/close", func(c *gin.Context) {
		flowOf(c).Capture().Close()
		state(c)
	})
	group.POST("/reset", func(c *gin.Context) {
		flowOf(c).Reset()
		state(c)
	})
}

func (b *bridge) listClassrooms(c *gin.Context) {
	dir := b.station.Directory()
	// The cached list is still rendered when the backend is unreachable.
	if err := dir.Refresh(c.Request.Context()); err != nil && !dir.State().Stale {
		b.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, directoryView(dir.State()))
}

type nameBody struct {
	Name string `json:"name"`
}

func (b *bridge) createClassroom(c *gin.Context) {
	var body nameBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	dir := b.station.Directory()
	if err := dir.Create(c.Request.Context(), body.Name); err != nil {
		b.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, directoryView(dir.State()))
}

func (b *bridge) renameClassroom(c *gin.Context) {
	var body nameBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	classroom := c.Param("classroom")
	dir := b.station.Directory()
	if err := dir.Rename(c.Request.Context(), classroom, body.Name); err != nil {
		b.fail(c, err)
		return
	}
	b.station.Forget(classroom)
	c.JSON(http.StatusOK, directoryView(dir.State()))
}

func (b *bridge) deleteClassroom(c *gin.Context) {
	classroom := c.Param("classroom")
	dir := b.station.Directory()
	if err := dir.Delete(c.Request.Context(), classroom, confirmer(c)); err != nil {
		b.fail(c, err)
		return
	}
	b.station.Forget(classroom)
	c.JSON(http.StatusOK, directoryView(dir.State()))
}

func (b *bridge) registrationState(c *gin.Context) {
	c.JSON(http.StatusOK, registrationView(registrationFlow(c).State()))
}

func (b *bridge) registrationCapture(c *gin.Context) {
	flow := registrationFlow(c)
	if _, err := flow.TakeImage(c.Request.Context()); err != nil {
		b.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, registrationView(flow.State()))
}

func (b *bridge) registrationRetakeLast(c *gin.Context) {
	flow := registrationFlow(c)
	if _, _, err := flow.RetakeLast(); err != nil {
		b.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, registrationView(flow.State()))
}

func (b *bridge) setStudentName(c *gin.Context) {
	var body nameBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	flow := registrationFlow(c)
	flow.SetStudentName(body.Name)
	c.JSON(http.StatusOK, registrationView(flow.State()))
}

func (b *bridge) registrationSubmit(c *gin.Context) {
	flow := registrationFlow(c)
	outcome, err := flow.Submit(c.Request.Context())
	if err != nil {
		b.fail(c, err)
		return
	}
	c.JSON(outcomeStatus(outcome), registrationView(flow.State()))
}

func (b *bridge) refreshRoster(c *gin.Context) {
	flow := registrationFlow(c)
	if err := flow.Refresh(c.Request.Context()); err != nil && !flow.State().RosterStale {
		b.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, registrationView(flow.State()))
}

func (b *bridge) deleteStudent(c *gin.Context) {
	flow := registrationFlow(c)
	if err := flow.DeleteStudent(c.Request.Context(), c.Param("name"), confirmer(c)); err != nil {
		b.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, registrationView(flow.State()))
}

func (b *bridge) recognitionState(c *gin.Context) {
	c.JSON(http.StatusOK, recognitionView(recognitionFlow(c).State()))
}

func (b *bridge) recognitionCapture(c *gin.Context) {
	flow := recognitionFlow(c)
	if _, err := flow.TakePhoto(c.Request.Context()); err != nil {
		b.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, recognitionView(flow.State()))
}

func (b *bridge) recognitionRetake(c *gin.Context) {
	flow := recognitionFlow(c)
	if err := flow.Retake(); err != nil {
		b.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, recognitionView(flow.State()))
}

func (b *bridge) recognitionSubmit(c *gin.Context) {
	flow := recognitionFlow(c)
	outcome, err := flow.Submit(c.Request.Context())
	if err != nil {
		b.fail(c, err)
		return
	}
	c.JSON(outcomeStatus(outcome), recognitionView(flow.State()))
}

func (b *bridge) listHistory(c *gin.Context) {
	if b.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "attendance history is not configured"})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	records, err := b.history.ListByClassroom(c.Request.Context(), c.Param("classroom"), limit)
	if err != nil {
		b.logger.Error("failed to list history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load attendance history"})
		return
	}
	views := make([]recordJSON, 0, len(records))
	for _, rec := range records {
		views = append(views, recordView(rec))
	}
	c.JSON(http.StatusOK, gin.H{"classroom": c.Param("classroom"), "records": views})
}

func (b *bridge) summary(c *gin.Context) {
	if b.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "attendance history is not configured"})
		return
	}
	summary, err := b.history.Summarize(c.Request.Context(), c.Param("classroom"))
	if err != nil {
		b.logger.Error("failed to summarize history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load attendance history"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (b *bridge) findHistory(c *gin.Context) {
	if b.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "attendance history is not configured"})
		return
	}
	rec, err := b.history.FindByRequestID(c.Request.Context(), c.Param("request_id"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return
	}
	if err != nil {
		b.logger.Error("failed to load record", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load attendance history"})
		return
	}
	c.JSON(http.StatusOK, recordView(rec))
}

// confirmer turns the confirm=true query parameter into consent.
func confirmer(c *gin.Context) workflow.Confirmer {
	if ok, _ := strconv.ParseBool(c.Query("confirm")); ok {
		return workflow.Confirmed
	}
	return nil
}
