// Package grade содержит доменную модель оценок: запись об оценке,
// снимок последнего наблюдения и набор изменений между двумя снимками.
//
// Пакет не зависит ни от чего, кроме стандартной библиотеки.
package grade

import "strconv"

// Record описывает одну оценку за урок, как её вернул удалённый API.
// LessonID служит единственным ключом сравнения; остальные поля описательные
// и могут меняться между наблюдениями при неизменном LessonID.
type Record struct {
	LessonID   string `json:"lesson_id"`
	Subject    string `json:"subject"`
	LessonDate string `json:"lesson_date"`
	Mark       string `json:"mark"`
	LessonType string `json:"lesson_type"`
	Comment    string `json:"comment"`
}

// SameAs сравнивает все поля, кроме ключа.
func (r Record) SameAs(other Record) bool {
	return r.Subject == other.Subject &&
		r.LessonDate == other.LessonDate &&
		r.Mark == other.Mark &&
		r.LessonType == other.LessonType &&
		r.Comment == other.Comment
}

// Snapshot хранит полный набор оценок, увиденный при последней успешной синхронизации.
// Формат хранения совпадает с исторически сохранённым JSON {"lessons": [...]}.
type Snapshot struct {
	Lessons []Record `json:"lessons"`
}

// NewSnapshot копирует записи, чтобы снимок не разделял память с вызывающим.
func NewSnapshot(records []Record) Snapshot {
	lessons := make([]Record, len(records))
	copy(lessons, records)
	return Snapshot{Lessons: lessons}
}

// Len возвращает количество записей в снимке.
func (s Snapshot) Len() int { return len(s.Lessons) }

// IsEmpty сообщает, что снимок ещё ни разу не заполнялся.
func (s Snapshot) IsEmpty() bool { return len(s.Lessons) == 0 }

var markLabels = map[int]string{
	1:  "💩",
	2:  "🤓",
	3:  "☠️",
	4:  "✨",
	5:  "🤡",
	6:  "💞",
	7:  "😅",
	8:  "🥳",
	9:  "🥹",
	10: "🔥",
	11: "🥵",
	12: "😎",
}

// MarkLabel возвращает декоративную метку для оценки по 12-балльной шкале.
// Для нечисловых оценок и оценок вне шкалы возвращается пустая строка.
func MarkLabel(mark string) string {
	n, err := strconv.Atoi(mark)
	if err != nil {
		return ""
	}
	return markLabels[n]
}
