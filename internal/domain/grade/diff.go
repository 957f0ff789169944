package grade

// Update хранит пару «было/стало» для оценки с тем же LessonID.
type Update struct {
	Old Record `json:"old"`
	New Record `json:"new"`
}

// ChangeSet содержит результат сравнения двух снимков.
// Каждый LessonID попадает ровно в одну из корзин New/Removed, либо в
// Updated, если отличается хотя бы одно неключевое поле. Неизменённые
// записи не попадают никуда.
type ChangeSet struct {
	New     []Record `json:"new"`
	Updated []Update `json:"updated"`
	Removed []Record `json:"removed"`
}

// IsEmpty сообщает, что изменений нет.
func (c *ChangeSet) IsEmpty() bool {
	return c == nil || len(c.New)+len(c.Updated)+len(c.Removed) == 0
}

// Total возвращает общее число изменений.
func (c *ChangeSet) Total() int {
	if c == nil {
		return 0
	}
	return len(c.New) + len(c.Updated) + len(c.Removed)
}

// Diff сравнивает предыдущий и текущий наборы записей.
//
// Функция чистая: без ввода-вывода и побочных эффектов. New и Updated
// следуют порядку current, Removed следует порядку previous. При повторе
// LessonID внутри одного набора учитывается первое вхождение.
func Diff(previous, current []Record) ChangeSet {
	prev := make(map[string]Record, len(previous))
	for _, r := range previous {
		if _, dup := prev[r.LessonID]; !dup {
			prev[r.LessonID] = r
		}
	}

	cs := ChangeSet{
		New:     []Record{},
		Updated: []Update{},
		Removed: []Record{},
	}

	seen := make(map[string]struct{}, len(current))
	for _, r := range current {
		if _, dup := seen[r.LessonID]; dup {
			continue
		}
		seen[r.LessonID] = struct{}{}

		old, existed := prev[r.LessonID]
		switch {
		case !existed:
			cs.New = append(cs.New, r)
		case !old.SameAs(r):
			cs.Updated = append(cs.Updated, Update{Old: old, New: r})
		}
	}

	reported := make(map[string]struct{}, len(prev))
	for _, r := range previous {
		if _, ok := seen[r.LessonID]; ok {
			continue
		}
		if _, ok := reported[r.LessonID]; ok {
			continue
		}
		reported[r.LessonID] = struct{}{}
		cs.Removed = append(cs.Removed, prev[r.LessonID])
	}

	return cs
}
