package ui

import "github.com/rivo/tview"

// MenuHint describes a keyboard shortcut for display in the menu bar.
type MenuHint struct {
	Key         string
	Description string
	Numeric     bool // drawn in the numeric key color
}

// Component is a page of the application. Start and Stop run when the page
// comes to the top of the stack and when it leaves it.
type Component interface {
	tview.Primitive
	Name() string
	Init()
	Start()
	Stop()
	Hints() []MenuHint
}
