package ui

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/rivo/uniseg"
)

// maxCrumbWidth bounds a single crumb; chat names can be long.
const maxCrumbWidth = 24

// Crumbs is a breadcrumb bar showing the current navigation path.
type Crumbs struct {
	*tview.TextView
	theme *Theme
}

// NewCrumbs creates a new breadcrumb bar.
func NewCrumbs(theme *Theme) *Crumbs {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)

	return &Crumbs{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders the trail of page names, the last one highlighted.
func (c *Crumbs) Update(trail []string) {
	c.Clear()
	if len(trail) == 0 {
		return
	}

	active := fmt.Sprintf("[%s:%s:b]", ColorName(c.theme.CrumbActiveFg), ColorName(c.theme.CrumbActiveBg))
	inactive := fmt.Sprintf("[%s:%s:]", ColorName(c.theme.CrumbInactiveFg), ColorName(c.theme.CrumbInactiveBg))
	parts := make([]string, len(trail))
	for i, name := range trail {
		style := inactive
		if i == len(trail)-1 {
			style = active
		}
		parts[i] = style + " " + tview.Escape(fitWidth(name, maxCrumbWidth)) + " [-:-:-]"
	}
	_, _ = fmt.Fprint(c, strings.Join(parts, " > "))
}

// fitWidth cuts s to at most width terminal cells, marking the cut with an
// ellipsis.
func fitWidth(s string, width int) string {
	if uniseg.StringWidth(s) <= width {
		return s
	}
	var sb strings.Builder
	used := 0
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		w := g.Width()
		if used+w > width-1 {
			break
		}
		sb.WriteString(g.Str())
		used += w
	}
	return sb.String() + "…"
}

// ColorName returns the tview color tag name of c.
func ColorName(c tcell.Color) string {
	for name, val := range tcell.ColorNames {
		if val == c {
			return name
		}
	}
	return fmt.Sprintf("#%06x", c.Hex())
}
