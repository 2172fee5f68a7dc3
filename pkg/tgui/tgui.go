package tgui

import (
	tele "gopkg.in/telebot.v4"
)

// Inline builds an inline keyboard row by row.
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline { return &Inline{rm: &tele.ReplyMarkup{}} }

// Row appends one row. Empty rows are skipped.
func (i *Inline) Row(btns ...tele.Btn) *Inline {
	if len(btns) == 0 {
		return i
	}
	i.rows = append(i.rows, i.rm.Row(btns...))
	i.rm.Inline(i.rows...)
	return i
}

func (i *Inline) Len() int { return len(i.rows) }

// Markup returns nil for a keyboard without rows, which telebot omits.
func (i *Inline) Markup() *tele.ReplyMarkup {
	if len(i.rows) == 0 {
		return nil
	}
	return i.rm
}

// Btn is a callback button; data should come from Data.
func Btn(text, data string) tele.Btn { return tele.Btn{Text: text, Data: data} }
