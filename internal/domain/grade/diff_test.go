package grade

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(id, mark string) Record {
	return Record{
		LessonID:   id,
		Subject:    "Math",
		LessonDate: "2024-10-16",
		Mark:       mark,
		LessonType: "Classwork",
	}
}

func ids(records []Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.LessonID)
	}
	return out
}

func TestDiff_NewAndUpdated(t *testing.T) {
	previous := []Record{rec("L1", "3")}
	current := []Record{rec("L1", "4"), rec("L2", "5")}

	cs := Diff(previous, current)

	assert.Equal(t, []string{"L2"}, ids(cs.New))
	require.Len(t, cs.Updated, 1)
	assert.Equal(t, "3", cs.Updated[0].Old.Mark)
	assert.Equal(t, "4", cs.Updated[0].New.Mark)
	assert.Empty(t, cs.Removed)
}

func TestDiff_Removed(t *testing.T) {
	previous := []Record{rec("L1", "7"), rec("L2", "9")}
	current := []Record{rec("L1", "7")}

	cs := Diff(previous, current)

	assert.Empty(t, cs.New)
	assert.Empty(t, cs.Updated)
	assert.Equal(t, []string{"L2"}, ids(cs.Removed))
}

func TestDiff_FirstSync(t *testing.T) {
	current := []Record{rec("L1", "10"), rec("L2", "11")}

	cs := Diff(nil, current)

	assert.ElementsMatch(t, []string{"L1", "L2"}, ids(cs.New))
	assert.Empty(t, cs.Updated)
	assert.Empty(t, cs.Removed)
}

func TestDiff_UnchangedIsOmitted(t *testing.T) {
	records := []Record{rec("L1", "8"), rec("L2", "12")}

	cs := Diff(records, records)

	assert.True(t, cs.IsEmpty())
	assert.Zero(t, cs.Total())
}

func TestDiff_AnyNonKeyFieldCounts(t *testing.T) {
	base := rec("L1", "6")
	mutations := map[string]func(*Record){
		"subject":     func(r *Record) { r.Subject = "Physics" },
		"lesson_date": func(r *Record) { r.LessonDate = "2024-10-17" },
		"mark":        func(r *Record) { r.Mark = "7" },
		"lesson_type": func(r *Record) { r.LessonType = "Test" },
		"comment":     func(r *Record) { r.Comment = "late" },
	}

	for field, mutate := range mutations {
		t.Run(field, func(t *testing.T) {
			changed := base
			mutate(&changed)
			cs := Diff([]Record{base}, []Record{changed})
			require.Len(t, cs.Updated, 1)
			assert.Equal(t, base, cs.Updated[0].Old)
			assert.Equal(t, changed, cs.Updated[0].New)
		})
	}
}

func TestDiff_DuplicateKeysUseFirstOccurrence(t *testing.T) {
	previous := []Record{rec("L1", "3"), rec("L1", "9")}
	current := []Record{rec("L1", "3"), rec("L1", "5")}

	cs := Diff(previous, current)

	assert.True(t, cs.IsEmpty())
}

// Every key lands in exactly one bucket (or none when unchanged), and two
// calls on the same inputs agree.
func TestDiff_PartitionAndDeterminism(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 200; round++ {
		var previous, current []Record
		for i := 0; i < 12; i++ {
			id := fmt.Sprintf("L%d", i)
			if rng.Intn(3) > 0 {
				previous = append(previous, rec(id, fmt.Sprint(rng.Intn(3)+1)))
			}
			if rng.Intn(3) > 0 {
				current = append(current, rec(id, fmt.Sprint(rng.Intn(3)+1)))
			}
		}

		cs := Diff(previous, current)
		assert.Equal(t, cs, Diff(previous, current))

		prevByID := map[string]Record{}
		for _, r := range previous {
			prevByID[r.LessonID] = r
		}
		currByID := map[string]Record{}
		for _, r := range current {
			currByID[r.LessonID] = r
		}

		bucket := map[string]string{}
		put := func(id, name string) {
			_, dup := bucket[id]
			require.False(t, dup, "key %s in two buckets", id)
			bucket[id] = name
		}
		for _, r := range cs.New {
			put(r.LessonID, "new")
		}
		for _, u := range cs.Updated {
			put(u.New.LessonID, "updated")
		}
		for _, r := range cs.Removed {
			put(r.LessonID, "removed")
		}

		for i := 0; i < 12; i++ {
			id := fmt.Sprintf("L%d", i)
			p, inPrev := prevByID[id]
			c, inCurr := currByID[id]
			switch {
			case inPrev && !inCurr:
				assert.Equal(t, "removed", bucket[id])
			case !inPrev && inCurr:
				assert.Equal(t, "new", bucket[id])
			case inPrev && inCurr && p.SameAs(c):
				assert.Empty(t, bucket[id])
			case inPrev && inCurr:
				assert.Equal(t, "updated", bucket[id])
			default:
				assert.Empty(t, bucket[id])
			}
		}
	}
}

func TestNilChangeSet(t *testing.T) {
	var cs *ChangeSet
	assert.True(t, cs.IsEmpty())
	assert.Zero(t, cs.Total())
}
