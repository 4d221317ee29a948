package workflow

// Status names the variant of an Outcome.
type Status string

const (
	StatusNone      Status = "none"
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Outcome is the state of one submission: Pending, Succeeded or Failed.
// The set of variants is closed.
type Outcome interface {
	RequestID() string
	Status() Status
	isOutcome()
}

// Pending means the request is in flight.
type Pending struct {
	ID   string
	Kind Kind
}

// Succeeded carries the use-case payload of a 2xx response.
type Succeeded struct {
	ID      string
	Kind    Kind
	Payload Payload
}

// Failed carries the user-facing message of a rejected or unsent request.
type Failed struct {
	ID      string
	Kind    Kind
	Message string
	Err     error
}

func (o Pending) RequestID() string   { return o.ID }
func (o Succeeded) RequestID() string { return o.ID }
func (o Failed) RequestID() string    { return o.ID }

func (Pending) Status() Status   { return StatusPending }
func (Succeeded) Status() Status { return StatusSucceeded }
func (Failed) Status() Status    { return StatusFailed }

func (Pending) isOutcome()   {}
func (Succeeded) isOutcome() {}
func (Failed) isOutcome()    {}

// StatusOf returns StatusNone for a nil outcome.
func StatusOf(o Outcome) Status {
	if o == nil {
		return StatusNone
	}
	return o.Status()
}

// Payload is the success body of a submission: RecognitionResult or
// RegistrationAck.
type Payload interface {
	isPayload()
}

// RecognitionResult lists the students recognized in a classroom photo, in
// backend order.
type RecognitionResult struct {
	Count int
	Names []string
}

// RegistrationAck acknowledges a registered student.
type RegistrationAck struct {
	Student string
	Message string
}

func (RecognitionResult) isPayload() {}
func (RegistrationAck) isPayload()   {}
