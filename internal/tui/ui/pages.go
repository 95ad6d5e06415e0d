package ui

import (
	"slices"

	"github.com/rivo/tview"
)

// Pages keeps a navigation stack over tview.Pages. Only the top page is
// visible, except for overlays, which are drawn over the page below them.
type Pages struct {
	*tview.Pages
	stack    []string
	overlays map[string]bool
	onChange func(stack []string)
}

// NewPages creates an empty page stack.
func NewPages() *Pages {
	return &Pages{
		Pages:    tview.NewPages(),
		overlays: make(map[string]bool),
	}
}

// SetOnChange sets a callback run with a copy of the stack after every
// change.
func (p *Pages) SetOnChange(fn func(stack []string)) {
	p.onChange = fn
}

// Push shows name on top of the stack, hiding the page below it.
func (p *Pages) Push(name string) {
	if top := p.Current(); top != "" {
		p.HidePage(top)
	}
	p.show(name, false)
}

// Overlay shows name on top of the stack while the page below stays drawn.
func (p *Pages) Overlay(name string) {
	p.show(name, true)
}

func (p *Pages) show(name string, overlay bool) {
	p.stack = append(p.stack, name)
	p.overlays[name] = overlay
	p.ShowPage(name)
	p.SendToFront(name)
	p.changed()
}

// Pop removes the top page and returns its name, or "" when the stack is
// empty.
func (p *Pages) Pop() string {
	if len(p.stack) == 0 {
		return ""
	}
	top := p.stack[len(p.stack)-1]
	p.stack = p.stack[:len(p.stack)-1]
	p.HidePage(top)
	if current := p.Current(); current != "" && !p.overlays[top] {
		p.ShowPage(current)
		p.SendToFront(current)
	}
	delete(p.overlays, top)
	p.changed()
	return top
}

// PopTo pops pages until name is on top. It reports false, leaving the stack
// untouched, when name is not on the stack.
func (p *Pages) PopTo(name string) bool {
	if !p.Contains(name) {
		return false
	}
	for p.Current() != name {
		p.Pop()
	}
	return true
}

// Contains reports whether name is anywhere on the stack.
func (p *Pages) Contains(name string) bool {
	return slices.Contains(p.stack, name)
}

// Current returns the top page, or "" when the stack is empty.
func (p *Pages) Current() string {
	if len(p.stack) == 0 {
		return ""
	}
	return p.stack[len(p.stack)-1]
}

// Stack returns a copy of the stack, bottom first.
func (p *Pages) Stack() []string {
	return slices.Clone(p.stack)
}

// Depth returns the number of pages on the stack.
func (p *Pages) Depth() int {
	return len(p.stack)
}

// Reset replaces the whole stack with name.
func (p *Pages) Reset(name string) {
	for _, n := range p.stack {
		p.HidePage(n)
	}
	p.stack = []string{name}
	clear(p.overlays)
	p.ShowPage(name)
	p.SendToFront(name)
	p.changed()
}

func (p *Pages) changed() {
	if p.onChange != nil {
		p.onChange(p.Stack())
	}
}
