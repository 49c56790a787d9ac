package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Remote document field names.
const (
	FieldRaceID          = "raceId"
	FieldRiderNumber     = "riderNumber"
	FieldStatus          = "status"
	FieldStartTime       = "startTime"
	FieldFinishTime      = "finishTime"
	FieldRaceTime        = "raceTime"
	FieldName            = "name"
	FieldFirstName       = "firstName"
	FieldLastName        = "lastName"
	FieldCategory        = "category"
	FieldCALicenceNumber = "caLicenceNumber"
	FieldTimestamp       = "timestamp"
)

// Document is one rider document as delivered by the remote store.
type Document struct {
	ID         string
	Data       map[string]any
	UpdateTime time.Time
}

// FromDocument normalizes a remote document into a Rider. Documents written
// by older clients use raceNumber or number for the bib, lowercase statuses,
// and epoch millis or RFC 3339 strings for timestamps.
func FromDocument(doc Document) Rider {
	d := doc.Data
	r := Rider{
		ID:              doc.ID,
		RaceID:          stringField(d, FieldRaceID),
		Status:          ParseStatus(stringField(d, FieldStatus)),
		StartTime:       timeField(d, FieldStartTime),
		FinishTime:      timeField(d, FieldFinishTime),
		RaceTime:        stringField(d, FieldRaceTime),
		Name:            stringField(d, FieldName),
		FirstName:       stringField(d, FieldFirstName),
		LastName:        stringField(d, FieldLastName),
		Category:        stringField(d, FieldCategory),
		CALicenceNumber: stringField(d, FieldCALicenceNumber),
		Timestamp:       timeField(d, FieldTimestamp),
		UpdatedAt:       doc.UpdateTime,
	}
	for _, key := range []string{FieldRiderNumber, "raceNumber", "number"} {
		if n := numberField(d, key); n != "" {
			r.RiderNumber = n
			break
		}
	}
	if r.Name == "" {
		r.Name = strings.TrimSpace(r.FirstName + " " + r.LastName)
	}
	if r.UpdatedAt.IsZero() && r.Timestamp != nil {
		r.UpdatedAt = *r.Timestamp
	}
	return r
}

// Document renders the full rider for a create. startTime is always written
// so that queries ordered on it still see waiting riders.
func (r Rider) Document() map[string]any {
	data := map[string]any{
		FieldRaceID:      r.RaceID,
		FieldRiderNumber: r.RiderNumber,
		FieldStatus:      string(r.Status),
		FieldStartTime:   utcOrNil(r.StartTime),
		FieldFinishTime:  utcOrNil(r.FinishTime),
	}
	if r.RaceTime != "" {
		data[FieldRaceTime] = r.RaceTime
	}
	if r.Name != "" {
		data[FieldName] = r.Name
	}
	if r.FirstName != "" {
		data[FieldFirstName] = r.FirstName
	}
	if r.LastName != "" {
		data[FieldLastName] = r.LastName
	}
	if r.Category != "" {
		data[FieldCategory] = r.Category
	}
	if r.CALicenceNumber != "" {
		data[FieldCALicenceNumber] = r.CALicenceNumber
	}
	return data
}

func utcOrNil(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}

// NumberString renders a numeric bib without a trailing ".0".
func NumberString(n json.Number) string {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	if f, err := n.Float64(); err == nil {
		return formatFloat(f)
	}
	return n.String()
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func stringField(d map[string]any, key string) string {
	switch v := d[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func numberField(d map[string]any, key string) string {
	switch v := d[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return formatFloat(v)
	case json.Number:
		return NumberString(v)
	default:
		return ""
	}
}

func timeField(d map[string]any, key string) *time.Time {
	var t time.Time
	switch v := d[key].(type) {
	case time.Time:
		t = v
	case *time.Time:
		if v == nil {
			return nil
		}
		t = *v
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			log.Warn().Err(err).Str("field", key).Str("value", v).Msg("Ignoring unparsable timestamp")
			return nil
		}
		t = parsed
	case int64:
		t = time.UnixMilli(v)
	case float64:
		t = time.UnixMilli(int64(v))
	default:
		return nil
	}
	if t.IsZero() {
		return nil
	}
	return &t
}
