// Package nzua implements the nz.ua mobile API client.
// This package handles authentication and the schedule/grade endpoints,
// and provides the two grade-collection strategies built on top of them.
package nzua

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST DTOs
// ══════════════════════════════════════════════════════════════════════════════

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponseDTO keeps every field optional so missing ones can be
// reported instead of silently zeroed.
type loginResponseDTO struct {
	FIO          *string  `json:"FIO"`
	ExpiresToken *flexInt `json:"expires_token"`
	StudentID    *flexInt `json:"student_id"`
	AccessToken  *string  `json:"access_token"`
}

type rangeRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	StudentID int64  `json:"student_id"`
}

type subjectGradesRequest struct {
	StudentID int64  `json:"student_id"`
	SubjectID string `json:"subject_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE DTOs
// ══════════════════════════════════════════════════════════════════════════════

// PerformanceDTO is the student-performance summary.
type PerformanceDTO struct {
	Subjects []SubjectDTO `json:"subjects"`
	Missed   *MissedDTO   `json:"missed,omitempty"`
}

// SubjectDTO is one subject in the performance summary.
type SubjectDTO struct {
	SubjectID   flexString   `json:"subject_id"`
	SubjectName string       `json:"subject_name"`
	Marks       []flexString `json:"marks"`
}

// MissedDTO counts missed days and lessons in the window.
type MissedDTO struct {
	Days    int `json:"days"`
	Lessons int `json:"lessons"`
}

// SubjectGradesDTO is the per-subject lesson list.
type SubjectGradesDTO struct {
	Lessons []LessonDTO `json:"lessons"`
}

// LessonDTO is one graded lesson.
type LessonDTO struct {
	LessonID   flexString `json:"lesson_id"`
	Subject    flexString `json:"subject"`
	LessonDate flexString `json:"lesson_date"`
	Mark       flexString `json:"mark"`
	LessonType flexString `json:"lesson_type"`
	Comment    flexString `json:"comment"`
}

// ══════════════════════════════════════════════════════════════════════════════
// LENIENT SCALARS
// The API is inconsistent about quoting ids and marks.
// ══════════════════════════════════════════════════════════════════════════════

// flexString accepts a JSON string, number, boolean or null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*f = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			var v bool
			if errBool := json.Unmarshal(b, &v); errBool != nil {
				return err
			}
			*f = flexString(strconv.FormatBool(v))
			return nil
		}
		*f = flexString(n.String())
	}
	return nil
}

func (f flexString) String() string { return string(f) }

// flexInt accepts a JSON number or a numeric string.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	if n, err := strconv.ParseInt(string(s), 10, 64); err == nil {
		*f = flexInt(n)
		return nil
	}
	// fractional or exponent form, e.g. 7.0
	n, err := strconv.ParseFloat(string(s), 64)
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}
