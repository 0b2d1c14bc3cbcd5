package formatter

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Palette is a small stylesheet of named [lipgloss.Style] values. Styles render
// plain text when the writer is not a color terminal.
type Palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	muted lipgloss.Style
	cell  lipgloss.Style
	head  lipgloss.Style
}

// NewPalette builds the palette for w from foreground colors for titles,
// success, errors, warnings and secondary text.
func NewPalette(w io.Writer, title, ok, err, warn, muted string) *Palette {
	r := lipgloss.NewRenderer(w)
	style := func(fg string) lipgloss.Style { return r.NewStyle().Foreground(lipgloss.Color(fg)) }
	return &Palette{
		title: style(title).Bold(true),
		ok:    style(ok).Bold(true),
		err:   style(err).Bold(true),
		warn:  style(warn),
		muted: style(muted).Italic(true),
		cell:  r.NewStyle().Padding(0, 1),
		head:  r.NewStyle().Padding(0, 1).Bold(true),
	}
}

func defaultPalette(w io.Writer) *Palette {
	return NewPalette(w, "#7D56F4", "#04B575", "#FF0000", "#FFA500", "#626262")
}
