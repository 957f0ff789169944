package nzua

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/nzua-hub/grade-notifier/internal/domain/grade"
	"github.com/nzua-hub/grade-notifier/pkg/timeutil"
)

// Strategy names, as used in configuration.
const (
	StrategySubjects      = "subjects"
	StrategyNotifications = "notifications"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBJECT POLLING
// ══════════════════════════════════════════════════════════════════════════════

// SubjectSource collects grades by listing subjects from the performance
// summary and asking subject-grades for each one over the same window.
type SubjectSource struct {
	client  *Client
	back    int
	forward int
	now     func() time.Time
}

// NewSubjectSource creates a subject-polling source. The window spans back
// days before now to forward days after it.
func NewSubjectSource(client *Client, back, forward int, now func() time.Time) *SubjectSource {
	if now == nil {
		now = time.Now
	}
	return &SubjectSource{client: client, back: back, forward: forward, now: now}
}

// Name implements the grade source contract.
func (s *SubjectSource) Name() string { return StrategySubjects }

// Collect returns every graded lesson in the window, or grade.ErrNoData
// when the summary lists no subjects.
func (s *SubjectSource) Collect(ctx context.Context, p Principal) ([]grade.Record, error) {
	start, end := timeutil.Window(s.now(), s.back, s.forward)

	perf, err := s.client.Performance(ctx, p, start, end)
	if err != nil {
		return nil, err
	}
	if len(perf.Subjects) == 0 {
		return nil, grade.ErrNoData
	}

	records := []grade.Record{}
	for _, subj := range perf.Subjects {
		lessons, err := s.client.FetchSubjectRange(ctx, p, subj.SubjectID.String(), start, end)
		if err != nil {
			return nil, fmt.Errorf("subject %s: %w", subj.SubjectID, err)
		}
		for _, l := range lessons.Lessons {
			records = append(records, lessonToRecord(l))
		}
	}
	return records, nil
}

func lessonToRecord(l LessonDTO) grade.Record {
	return grade.Record{
		LessonID:   l.LessonID.String(),
		Subject:    l.Subject.String(),
		LessonDate: l.LessonDate.String(),
		Mark:       l.Mark.String(),
		LessonType: l.LessonType.String(),
		Comment:    l.Comment.String(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION FEED
// ══════════════════════════════════════════════════════════════════════════════

const eventAddMark = "add-mark"

// feedPaths are the places the event list has been seen in feed responses.
var feedPaths = []string{"notifications", "data", "items"}

// FeedSource collects grades from the most recent notification events,
// keeping only "add-mark" events. The event id is the diff key.
type FeedSource struct {
	client *Client
	limit  int
}

// NewFeedSource creates a notification-feed source reading limit events.
func NewFeedSource(client *Client, limit int) *FeedSource {
	if limit <= 0 {
		limit = 50
	}
	return &FeedSource{client: client, limit: limit}
}

// Name implements the grade source contract.
func (s *FeedSource) Name() string { return StrategyNotifications }

// Collect returns the grade events of the feed, or grade.ErrNoData when the
// feed holds none.
func (s *FeedSource) Collect(ctx context.Context, p Principal) ([]grade.Record, error) {
	body, err := s.client.LastNotifications(ctx, p, s.limit)
	if err != nil {
		return nil, err
	}

	records, err := TransformFeed(body)
	if err != nil {
		return nil, &grade.DecodeError{Endpoint: endpointNotifications, Err: err}
	}
	if len(records) == 0 {
		return nil, grade.ErrNoData
	}
	return records, nil
}

// TransformFeed filters a feed body down to grade records.
func TransformFeed(body []byte) ([]grade.Record, error) {
	root := gjson.ParseBytes(body)
	events := root
	if !root.IsArray() {
		events = gjson.Result{}
		for _, path := range feedPaths {
			if r := root.Get(path); r.IsArray() {
				events = r
				break
			}
		}
		if !events.Exists() {
			return nil, fmt.Errorf("feed has no event list")
		}
	}

	var records []grade.Record
	var convErr error
	events.ForEach(func(_, ev gjson.Result) bool {
		if ev.Get("type").String() != eventAddMark {
			return true
		}
		id := ev.Get("id")
		if !id.Exists() || id.String() == "" {
			convErr = fmt.Errorf("add-mark event without id")
			return false
		}
		date, err := timeutil.FeedDate(ev.Get("sentAt").String())
		if err != nil {
			convErr = fmt.Errorf("event %s: %w", id.String(), err)
			return false
		}
		records = append(records, grade.Record{
			LessonID:   id.String(),
			Subject:    ev.Get("lessonName").String(),
			LessonDate: date,
			Mark:       ev.Get("markValue").String(),
			LessonType: ev.Get("lessonType").String(),
			Comment:    ev.Get("comment").String(),
		})
		return true
	})
	if convErr != nil {
		return nil, convErr
	}
	return records, nil
}
