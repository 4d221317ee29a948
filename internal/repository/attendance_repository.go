package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/attendance-station/internal/retry"
)

// AttendanceRecord is one successful recognition of a classroom photo.
type AttendanceRecord struct {
	ID        uint      `gorm:"primaryKey"`
	RequestID string    `gorm:"column:request_id;uniqueIndex;size:64"`
	Classroom string    `gorm:"column:classroom;index;size:128"`
	HeadCount int       `gorm:"column:head_count"`
	Names     string    `gorm:"column:names;type:text"`
	ImagePath string    `gorm:"column:image_path;size:512"`
	CreatedAt time.Time `gorm:"column:created_at;index"`
}

// TableName overrides the default table name.
func (AttendanceRecord) TableName() string {
	return "attendance_records"
}

// SetNames stores the recognized names as a JSON array.
func (r *AttendanceRecord) SetNames(names []string) {
	if names == nil {
		names = []string{}
	}
	data, _ := json.Marshal(names)
	r.Names = string(data)
}

// NameList decodes the stored names. Malformed rows yield an empty list.
func (r *AttendanceRecord) NameList() []string {
	var names []string
	if r.Names == "" || json.Unmarshal([]byte(r.Names), &names) != nil {
		return []string{}
	}
	return names
}

// ClassroomSummary aggregates the attendance history of one classroom.
type ClassroomSummary struct {
	Classroom    string         `json:"classroom"`
	Sessions     int64          `json:"sessions"`
	AverageCount float64        `json:"average_count"`
	Presence     map[string]int `json:"presence"`
}

// AttendanceRepository persists recognition results with gorm.
type AttendanceRepository struct {
	db    *gorm.DB
	retry *retry.Executor
}

// NewAttendanceRepository creates a repository over db.
func NewAttendanceRepository(db *gorm.DB, logger *zap.Logger) *AttendanceRepository {
	return &AttendanceRepository{
		db: db,
		retry: retry.New(logger.Named("attendance_repository"), func(err error) bool {
			return errors.Is(err, gorm.ErrRecordNotFound)
		}),
	}
}

// AutoMigrate ensures the schema is available.
func (r *AttendanceRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&AttendanceRecord{})
	})
}

// SaveRecord persists a recognition result.
func (r *AttendanceRepository) SaveRecord(ctx context.Context, record *AttendanceRecord) error {
	return r.executeWithRetry(ctx, "repository.save_record", record.RequestID, func() error {
		return r.db.WithContext(ctx).Create(record).Error
	})
}

// FindByRequestID loads the record produced by one submission.
func (r *AttendanceRepository) FindByRequestID(ctx context.Context, requestID string) (*AttendanceRecord, error) {
	var record AttendanceRecord
	err := r.executeWithRetry(ctx, "repository.find_by_request_id", requestID, func() error {
		return r.db.WithContext(ctx).First(&record, "request_id = ?", requestID).Error
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListByClassroom returns the newest records first. limit <= 0 means 50.
func (r *AttendanceRepository) ListByClassroom(ctx context.Context, classroom string, limit int) ([]*AttendanceRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []*AttendanceRecord
	err := r.executeWithRetry(ctx, "repository.list_by_classroom", "", func() error {
		return r.db.WithContext(ctx).
			Where("classroom = ?", classroom).
			Order("created_at DESC").
			Limit(limit).
			Find(&records).Error
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Summarize aggregates sessions, average head count and per-student presence.
func (r *AttendanceRepository) Summarize(ctx context.Context, classroom string) (*ClassroomSummary, error) {
	var agg struct {
		Sessions     int64
		AverageCount float64
	}
	var names []string
	err := r.executeWithRetry(ctx, "repository.summarize", "", func() error {
		scoped := r.db.WithContext(ctx).Model(&AttendanceRecord{}).Where("classroom = ?", classroom)
		if err := scoped.Select("COUNT(*) AS sessions, COALESCE(AVG(head_count), 0) AS average_count").Scan(&agg).Error; err != nil {
			return err
		}
		names = names[:0]
		return r.db.WithContext(ctx).Model(&AttendanceRecord{}).Where("classroom = ?", classroom).Pluck("names", &names).Error
	})
	if err != nil {
		return nil, err
	}

	return &ClassroomSummary{
		Classroom:    classroom,
		Sessions:     agg.Sessions,
		AverageCount: agg.AverageCount,
		Presence:     TallyPresence(names),
	}, nil
}

// TallyPresence counts, per student, the sessions they were recognized in.
// A student recognized twice in one photo counts once for that session.
func TallyPresence(encodedNames []string) map[string]int {
	presence := make(map[string]int)
	for _, encoded := range encodedNames {
		rec := AttendanceRecord{Names: encoded}
		seen := make(map[string]struct{})
		for _, name := range rec.NameList() {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			presence[name]++
		}
	}
	return presence
}

// SortedPresence returns the presence map as name-ordered pairs.
func (s *ClassroomSummary) SortedPresence() []string {
	names := make([]string, 0, len(s.Presence))
	for name := range s.Presence {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, fmt.Sprintf("%s=%d", name, s.Presence[name]))
	}
	return out
}

func (r *AttendanceRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	return r.retry.Run(ctx, operation, requestID, fn)
}
