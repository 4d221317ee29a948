package handlers

import (
	"net/http"
	"time"

	"github.com/example/attendance-station/internal/capture"
	"github.com/example/attendance-station/internal/repository"
	"github.com/example/attendance-station/internal/workflow"
)

type imageJSON struct {
	ID      string     `json:"id"`
	Path    string     `json:"path"`
	TakenAt *time.Time `json:"taken_at,omitempty"`
}

// outcomeJSON carries exactly one of Recognition, Registration or Error once
// the outcome is terminal.
type outcomeJSON struct {
	RequestID    string                 `json:"request_id"`
	Status       string                 `json:"status"`
	Recognition  *recognitionResultJSON `json:"recognition,omitempty"`
	Registration *registrationAckJSON   `json:"registration,omitempty"`
	Error        string                 `json:"error,omitempty"`
}

// recognitionResultJSON always lists names, empty when nobody was recognized.
type recognitionResultJSON struct {
	Count int      `json:"count"`
	Names []string `json:"names"`
}

type registrationAckJSON struct {
	Student string `json:"student"`
	Message string `json:"message"`
}

type registrationJSON struct {
	Classroom   string       `json:"classroom"`
	StudentName string       `json:"student_name"`
	Permission  string       `json:"permission"`
	Camera      string       `json:"camera"`
	Images      []imageJSON  `json:"images"`
	MaxImages   int          `json:"max_images"`
	Outcome     *outcomeJSON `json:"outcome"`
	Roster      []string     `json:"roster"`
	RosterStale bool         `json:"roster_stale"`
	LastError   string       `json:"last_error,omitempty"`
	CanSubmit   bool         `json:"can_submit"`
}

type recognitionJSON struct {
	Classroom  string       `json:"classroom"`
	Permission string       `json:"permission"`
	Camera     string       `json:"camera"`
	Image      *imageJSON   `json:"image"`
	Outcome    *outcomeJSON `json:"outcome"`
	CanSubmit  bool         `json:"can_submit"`
}

type directoryJSON struct {
	Classrooms []string `json:"classrooms"`
	Stale      bool     `json:"stale"`
	LastError  string   `json:"last_error,omitempty"`
}

type recordJSON struct {
	RequestID string    `json:"request_id"`
	Classroom string    `json:"classroom"`
	Count     int       `json:"count"`
	Names     []string  `json:"names"`
	ImagePath string    `json:"image_path"`
	CreatedAt time.Time `json:"created_at"`
}

func imageView(img capture.Image) imageJSON {
	v := imageJSON{ID: img.ID, Path: img.Path}
	if !img.TakenAt.IsZero() {
		t := img.TakenAt
		v.TakenAt = &t
	}
	return v
}

func outcomeView(o workflow.Outcome) *outcomeJSON {
	if o == nil {
		return nil
	}
	v := &outcomeJSON{RequestID: o.RequestID(), Status: string(o.Status())}
	switch o := o.(type) {
	case workflow.Succeeded:
		switch p := o.Payload.(type) {
		case workflow.RecognitionResult:
			names := p.Names
			if names == nil {
				names = []string{}
			}
			v.Recognition = &recognitionResultJSON{Count: p.Count, Names: names}
		case workflow.RegistrationAck:
			v.Registration = &registrationAckJSON{Student: p.Student, Message: p.Message}
		}
	case workflow.Failed:
		v.Error = o.Message
	}
	return v
}

// outcomeStatus is 200 for a success and 502 when the backend rejected or
// could not be reached; the body carries the state either way.
func outcomeStatus(o workflow.Outcome) int {
	if workflow.StatusOf(o) == workflow.StatusFailed {
		return http.StatusBadGateway
	}
	return http.StatusOK
}

func registrationView(st workflow.RegistrationState) registrationJSON {
	images := make([]imageJSON, 0, len(st.Images))
	for _, img := range st.Images {
		images = append(images, imageView(img))
	}
	return registrationJSON{
		Classroom:   st.Classroom,
		StudentName: st.StudentName,
		Permission:  st.Permission.String(),
		Camera:      st.Camera.String(),
		Images:      images,
		MaxImages:   st.MaxImages,
		Outcome:     outcomeView(st.Outcome),
		Roster:      st.Roster,
		RosterStale: st.RosterStale,
		LastError:   st.LastError,
		CanSubmit:   st.CanSubmit,
	}
}

func recognitionView(st workflow.RecognitionState) recognitionJSON {
	v := recognitionJSON{
		Classroom:  st.Classroom,
		Permission: st.Permission.String(),
		Camera:     st.Camera.String(),
		Outcome:    outcomeView(st.Outcome),
		CanSubmit:  st.CanSubmit,
	}
	if st.Image != nil {
		img := imageView(*st.Image)
		v.Image = &img
	}
	return v
}

func directoryView(st workflow.DirectoryState) directoryJSON {
	return directoryJSON{Classrooms: st.Classrooms, Stale: st.Stale, LastError: st.LastError}
}

func recordView(rec *repository.AttendanceRecord) recordJSON {
	return recordJSON{
		RequestID: rec.RequestID,
		Classroom: rec.Classroom,
		Count:     rec.HeadCount,
		Names:     rec.NameList(),
		ImagePath: rec.ImagePath,
		CreatedAt: rec.CreatedAt,
	}
}
