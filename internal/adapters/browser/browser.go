package browser

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no scope holds a matching element.
var ErrNotFound = errors.New("element not found")

// Selector picks elements by CSS, by visible text, or both. With Exact the trimmed text
// must equal Text, otherwise it must contain it.
type Selector struct {
	CSS   string
	Text  string
	Exact bool
}

func CSS(css string) Selector { return Selector{CSS: css} }

func Text(text string) Selector { return Selector{Text: text, Exact: true} }

func (s Selector) String() string {
	switch {
	case s.CSS != "" && s.Text != "":
		return s.CSS + " >> text=" + s.Text
	case s.Text != "":
		return "text=" + s.Text
	default:
		return s.CSS
	}
}

type Box struct {
	X, Y, Width, Height float64
}

type Cookie struct {
	Name   string
	Value  string
	Domain string
}

// Profile is a persisted browsing profile.
type Profile struct {
	Dir       string
	Headless  bool
	UserAgent string
	Proxy     string
}

// Browser opens pages on a persisted profile.
type Browser interface {
	Open(ctx context.Context, profile Profile) (Page, error)
}

// Page is one tab. Scopes returns the main document first, then every reachable frame.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Scopes(ctx context.Context) ([]Scope, error)
	Pointer() Pointer
	Cookies(ctx context.Context, domain string) ([]Cookie, error)
	// WaitResponse runs trigger and returns the body of the first response whose URL
	// contains match.
	WaitResponse(ctx context.Context, match string, trigger func(context.Context) error) ([]byte, error)
	Close() error
}

// Scope is one document. Element operations act on the first match.
type Scope interface {
	Name() string
	Count(ctx context.Context, sel Selector) (int, error)
	Visible(ctx context.Context, sel Selector) (bool, error)
	Click(ctx context.Context, sel Selector) error
	Fill(ctx context.Context, sel Selector, value string) error
	Check(ctx context.Context, sel Selector) error
	Attr(ctx context.Context, sel Selector, name string) (string, error)
	Prop(ctx context.Context, sel Selector, name string) (string, error)
	Box(ctx context.Context, sel Selector) (Box, error)
}

type Pointer interface {
	Move(ctx context.Context, x, y float64) error
	Down(ctx context.Context) error
	Up(ctx context.Context) error
}
