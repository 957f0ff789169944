// Package presenter formats data for Telegram display.
// Presenters turn domain objects into HTML messages ready for sendMessage.
package presenter

import (
	"fmt"
	"strings"

	"github.com/nzua-hub/grade-notifier/internal/domain/grade"
)

// ParseModeHTML задаёт режим разметки всех сообщений презентера.
const ParseModeHTML = "HTML"

// ══════════════════════════════════════════════════════════════════════════════
// GRADES PRESENTER
// Форматирует изменения оценок: одно сообщение на каждую новую или
// изменённую оценку. Удалённые оценки не объявляются.
// ══════════════════════════════════════════════════════════════════════════════

// GradesPresenter форматирует уведомления об оценках.
type GradesPresenter struct {
	escaper *strings.Replacer
}

// NewGradesPresenter создаёт новый презентер оценок.
func NewGradesPresenter() *GradesPresenter {
	return &GradesPresenter{
		escaper: strings.NewReplacer(
			"&", "&amp;",
			"<", "&lt;",
			">", "&gt;",
		),
	}
}

// MessageView описывает готовое к отправке сообщение.
type MessageView struct {
	Text      string
	ParseMode string
}

// FormatChanges возвращает сообщения для набора изменений: сначала новые
// оценки, затем изменённые, в порядке следования в наборе.
func (p *GradesPresenter) FormatChanges(cs grade.ChangeSet) []MessageView {
	views := make([]MessageView, 0, len(cs.New)+len(cs.Updated))
	for _, r := range cs.New {
		views = append(views, p.FormatNewGrade(r))
	}
	for _, u := range cs.Updated {
		views = append(views, p.FormatUpdatedGrade(u))
	}
	return views
}

// FormatNewGrade форматирует сообщение о новой оценке.
func (p *GradesPresenter) FormatNewGrade(r grade.Record) MessageView {
	var sb strings.Builder

	sb.WriteString(p.header(r.Mark, "Новая оценка!"))
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf("<b>Оценка:</b> %s\n", p.escapeHTML(r.Mark)))
	sb.WriteString(fmt.Sprintf("<b>Предмет:</b> %s\n", p.subject(r)))
	sb.WriteString(fmt.Sprintf("<b>Дата:</b> %s\n", p.escapeHTML(r.LessonDate)))
	if r.Comment != "" {
		sb.WriteString(fmt.Sprintf("<b>Комментарий:</b> %s\n", p.escapeHTML(r.Comment)))
	}

	return MessageView{Text: sb.String(), ParseMode: ParseModeHTML}
}

// FormatUpdatedGrade форматирует сообщение об изменении оценки.
// Комментарии показываются, только если они изменились.
func (p *GradesPresenter) FormatUpdatedGrade(u grade.Update) MessageView {
	var sb strings.Builder

	sb.WriteString(p.header(u.New.Mark, "Изменение оценки!"))
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf("<b>Предмет:</b> %s\n", p.subject(u.New)))
	sb.WriteString(fmt.Sprintf("<b>Дата:</b> %s\n", p.escapeHTML(u.New.LessonDate)))
	sb.WriteString(fmt.Sprintf("<b>Оценка:</b> %s -&gt; %s\n", p.escapeHTML(u.Old.Mark), p.escapeHTML(u.New.Mark)))

	if u.Old.Comment != u.New.Comment {
		sb.WriteString(fmt.Sprintf("<b>Старый комментарий:</b> %s\n", p.orDash(u.Old.Comment)))
		sb.WriteString(fmt.Sprintf("<b>Новый комментарий:</b> %s\n", p.orDash(u.New.Comment)))
	}

	return MessageView{Text: sb.String(), ParseMode: ParseModeHTML}
}

// header строит заголовок с меткой оценки с обеих сторон, если метка есть.
func (p *GradesPresenter) header(mark, title string) string {
	label := grade.MarkLabel(mark)
	if label == "" {
		return fmt.Sprintf("<b>%s</b>", title)
	}
	return fmt.Sprintf("%s <b>%s</b> %s", label, title, label)
}

func (p *GradesPresenter) subject(r grade.Record) string {
	if r.LessonType == "" {
		return p.escapeHTML(r.Subject)
	}
	return fmt.Sprintf("%s (%s)", p.escapeHTML(r.Subject), p.escapeHTML(r.LessonType))
}

func (p *GradesPresenter) orDash(s string) string {
	if s == "" {
		return "—"
	}
	return p.escapeHTML(s)
}

// escapeHTML экранирует HTML-символы.
func (p *GradesPresenter) escapeHTML(s string) string {
	return p.escaper.Replace(s)
}
