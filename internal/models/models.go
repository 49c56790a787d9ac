package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusWaiting  Status = "WAITING"
	StatusOnTrack  Status = "ON_TRACK"
	StatusFinished Status = "FINISHED"
)

// ParseStatus maps a stored status onto the enum. Older clients wrote
// lowercase or camelCase values; anything unknown is treated as WAITING.
func ParseStatus(s string) Status {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "_", "")) {
	case "ONTRACK":
		return StatusOnTrack
	case "FINISHED":
		return StatusFinished
	default:
		return StatusWaiting
	}
}

// Rider is one competitor in one race.
type Rider struct {
	ID              string     `json:"id,omitempty"`
	RaceID          string     `json:"raceId"`
	RiderNumber     string     `json:"riderNumber"`
	Status          Status     `json:"status"`
	StartTime       *time.Time `json:"startTime"`
	FinishTime      *time.Time `json:"finishTime"`
	RaceTime        string     `json:"raceTime,omitempty"`
	Name            string     `json:"name,omitempty"`
	FirstName       string     `json:"firstName,omitempty"`
	LastName        string     `json:"lastName,omitempty"`
	Category        string     `json:"category,omitempty"`
	CALicenceNumber string     `json:"caLicenceNumber,omitempty"`
	Timestamp       *time.Time `json:"timestamp,omitempty"`
	UpdatedAt       time.Time  `json:"updatedAt,omitempty"`
}

// DisplayName prefers the single name field and falls back to first/last.
func (r Rider) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return strings.TrimSpace(r.FirstName + " " + r.LastName)
}

// Valid reports whether the timestamps agree with the status.
func (r Rider) Valid() error {
	hasStart := r.StartTime != nil && !r.StartTime.IsZero()
	hasFinish := r.FinishTime != nil && !r.FinishTime.IsZero()

	switch r.Status {
	case StatusWaiting:
		if hasStart || hasFinish {
			return fmt.Errorf("rider %s is waiting but has timestamps", r.RiderNumber)
		}
	case StatusOnTrack:
		if !hasStart || hasFinish {
			return fmt.Errorf("rider %s is on track without a single start time", r.RiderNumber)
		}
	case StatusFinished:
		if !hasStart || !hasFinish {
			return fmt.Errorf("rider %s is finished without start and finish times", r.RiderNumber)
		}
	default:
		return fmt.Errorf("rider %s has unknown status %q", r.RiderNumber, r.Status)
	}
	return nil
}

// Clone returns a copy that shares no time pointers with r.
func (r Rider) Clone() Rider {
	c := r
	c.StartTime = cloneTime(r.StartTime)
	c.FinishTime = cloneTime(r.FinishTime)
	c.Timestamp = cloneTime(r.Timestamp)
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// UnmarshalJSON accepts the legacy raceNumber/number aliases and numeric bib
// values that older journal entries carry.
func (r *Rider) UnmarshalJSON(data []byte) error {
	type riderAlias Rider
	var raw struct {
		riderAlias
		RawRiderNumber json.RawMessage `json:"riderNumber"`
		RaceNumber     json.RawMessage `json:"raceNumber"`
		Number         json.RawMessage `json:"number"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Rider(raw.riderAlias)
	r.Status = ParseStatus(string(raw.Status))

	for _, candidate := range []json.RawMessage{raw.RawRiderNumber, raw.RaceNumber, raw.Number} {
		if n := rawNumber(candidate); n != "" {
			r.RiderNumber = n
			break
		}
	}
	return nil
}

func rawNumber(msg json.RawMessage) string {
	if len(msg) == 0 || string(msg) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(msg, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(msg, &n); err == nil {
		return NumberString(n)
	}
	return ""
}

// Patch is a partial rider write. Nil fields are left untouched.
type Patch struct {
	Status      *Status    `json:"status,omitempty"`
	StartTime   *time.Time `json:"startTime,omitempty"`
	FinishTime  *time.Time `json:"finishTime,omitempty"`
	RaceTime    *string    `json:"raceTime,omitempty"`
	ClearFinish bool       `json:"clearFinish,omitempty"`
}

// Apply writes the patch onto r.
func (p Patch) Apply(r *Rider) {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.StartTime != nil {
		r.StartTime = cloneTime(p.StartTime)
	}
	if p.ClearFinish {
		r.FinishTime = nil
		r.RaceTime = ""
	}
	if p.FinishTime != nil {
		r.FinishTime = cloneTime(p.FinishTime)
	}
	if p.RaceTime != nil {
		r.RaceTime = *p.RaceTime
	}
}

// Fields renders the patch as document fields for the remote store.
func (p Patch) Fields() map[string]any {
	fields := make(map[string]any)
	if p.Status != nil {
		fields[FieldStatus] = string(*p.Status)
	}
	if p.StartTime != nil {
		fields[FieldStartTime] = p.StartTime.UTC()
	}
	if p.ClearFinish {
		fields[FieldFinishTime] = nil
		fields[FieldRaceTime] = nil
	}
	if p.FinishTime != nil {
		fields[FieldFinishTime] = p.FinishTime.UTC()
	}
	if p.RaceTime != nil {
		fields[FieldRaceTime] = *p.RaceTime
	}
	return fields
}

// PendingFinishCapture is a finish-line click recorded before the rider
// number is known. It lives only in memory.
type PendingFinishCapture struct {
	ID          string    `json:"id"`
	CapturedAt  time.Time `json:"capturedAt"`
	RiderNumber string    `json:"riderNumber"`
}

// BackupEntry is one line of the local start/finish journal.
type BackupEntry struct {
	Rider
	LocalTimestamp time.Time `json:"localTimestamp"`
}

// MarshalJSON keeps LocalTimestamp alongside the embedded rider fields.
func (e BackupEntry) MarshalJSON() ([]byte, error) {
	type riderAlias Rider
	return json.Marshal(struct {
		riderAlias
		LocalTimestamp time.Time `json:"localTimestamp"`
	}{riderAlias(e.Rider), e.LocalTimestamp})
}

// UnmarshalJSON is needed because Rider's own UnmarshalJSON would otherwise
// swallow the whole object.
func (e *BackupEntry) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &e.Rider); err != nil {
		return err
	}
	var ts struct {
		LocalTimestamp time.Time `json:"localTimestamp"`
	}
	if err := json.Unmarshal(data, &ts); err != nil {
		return err
	}
	e.LocalTimestamp = ts.LocalTimestamp
	return nil
}

var docKeyNamespace = uuid.MustParse("6f0d4c1e-9a51-4c8e-b7a4-2b1f4e0a9c3d")

// DocKey derives the remote document id for a rider created by this
// service, so a replayed create lands on the same document.
func DocKey(raceID, riderNumber string, startTime *time.Time) string {
	var ms int64
	if startTime != nil && !startTime.IsZero() {
		ms = startTime.UnixMilli()
	}
	name := fmt.Sprintf("%s|%s|%d", raceID, riderNumber, ms)
	return uuid.NewSHA1(docKeyNamespace, []byte(name)).String()
}
