// Package browsertest provides an in-memory page for driving login flows in tests.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ohmynofan/netease-music-bot/internal/adapters/browser"
)

// Element is a fake DOM node. Class is matched against each comma separated part of a
// CSS selector, so ".yidun_slider__icon" matches Selector{CSS: ".a, .yidun_slider__icon"}.
type Element struct {
	Class   string
	Text    string
	Hidden  bool
	Attrs   map[string]string
	Props   map[string]string
	Box     browser.Box
	Value   string
	Checked bool
}

type Frame struct {
	Name     string
	Elements []*Element
}

// Page is a scripted browser.Page. Handlers run on clicks and may mutate the page.
type Page struct {
	mu        sync.Mutex
	Frames    []*Frame
	CookieSet []browser.Cookie
	Responses map[string][]byte
	OnClick   func(p *Page, el *Element)
	OnFill    func(p *Page, el *Element)
	Visited   []string
	Clicks    []string
	Moves     int
	Downs     int
	Ups       int
	Closed    bool
}

func NewPage(frames ...*Frame) *Page {
	if len(frames) == 0 {
		frames = []*Frame{{Name: "main"}}
	}
	return &Page{Frames: frames, Responses: map[string][]byte{}}
}

// Browser hands out one prepared page.
type Browser struct {
	Page     *Page
	Profiles []browser.Profile
	OpenErr  error
}

func (b *Browser) Open(_ context.Context, profile browser.Profile) (browser.Page, error) {
	b.Profiles = append(b.Profiles, profile)
	if b.OpenErr != nil {
		return nil, b.OpenErr
	}
	return b.Page, nil
}

func (p *Page) Add(frame int, els ...*Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.Frames) <= frame {
		p.Frames = append(p.Frames, &Frame{Name: fmt.Sprintf("frame-%d", len(p.Frames))})
	}
	p.Frames[frame].Elements = append(p.Frames[frame].Elements, els...)
}

// Remove deletes every element with class in any frame.
func (p *Page) Remove(class string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range p.Frames {
		kept := f.Elements[:0]
		for _, el := range f.Elements {
			if el.Class != class {
				kept = append(kept, el)
			}
		}
		f.Elements = kept
	}
}

func (p *Page) Find(class string) *Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range p.Frames {
		for _, el := range f.Elements {
			if el.Class == class {
				return el
			}
		}
	}
	return nil
}

func (p *Page) SetCookie(name, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CookieSet = append(p.CookieSet, browser.Cookie{Name: name, Value: value, Domain: ".music.163.com"})
}

func (p *Page) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Visited = append(p.Visited, url)
	return nil
}

func (p *Page) Scopes(context.Context) ([]browser.Scope, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	scopes := make([]browser.Scope, len(p.Frames))
	for i := range p.Frames {
		scopes[i] = &scope{page: p, frame: i}
	}
	return scopes, nil
}

func (p *Page) Pointer() browser.Pointer { return pointer{p} }

func (p *Page) Cookies(_ context.Context, domain string) ([]browser.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []browser.Cookie
	for _, c := range p.CookieSet {
		if strings.HasSuffix(strings.TrimPrefix(c.Domain, "."), strings.TrimPrefix(domain, ".")) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (p *Page) WaitResponse(ctx context.Context, match string, trigger func(context.Context) error) ([]byte, error) {
	if err := trigger(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	body, ok := p.Responses[match]
	p.mu.Unlock()
	if !ok {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return body, nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

func matches(el *Element, sel browser.Selector) bool {
	if sel.CSS != "" {
		ok := false
		for _, part := range strings.Split(sel.CSS, ",") {
			if strings.TrimSpace(part) == el.Class {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if sel.Text != "" {
		text := strings.TrimSpace(el.Text)
		if sel.Exact && text != sel.Text {
			return false
		}
		if !sel.Exact && !strings.Contains(text, sel.Text) {
			return false
		}
	}
	return sel.CSS != "" || sel.Text != ""
}

type scope struct {
	page  *Page
	frame int
}

func (s *scope) Name() string { return s.page.Frames[s.frame].Name }

func (s *scope) all(sel browser.Selector) []*Element {
	s.page.mu.Lock()
	defer s.page.mu.Unlock()
	if s.frame >= len(s.page.Frames) {
		return nil
	}
	var out []*Element
	for _, el := range s.page.Frames[s.frame].Elements {
		if matches(el, sel) {
			out = append(out, el)
		}
	}
	return out
}

func (s *scope) first(sel browser.Selector) (*Element, error) {
	els := s.all(sel)
	for _, el := range els {
		if !el.Hidden {
			return el, nil
		}
	}
	if len(els) > 0 {
		return els[0], nil
	}
	return nil, fmt.Errorf("%w: %s", browser.ErrNotFound, sel)
}

func (s *scope) Count(_ context.Context, sel browser.Selector) (int, error) {
	return len(s.all(sel)), nil
}

func (s *scope) Visible(_ context.Context, sel browser.Selector) (bool, error) {
	for _, el := range s.all(sel) {
		if !el.Hidden {
			return true, nil
		}
	}
	return false, nil
}

func (s *scope) Click(_ context.Context, sel browser.Selector) error {
	el, err := s.first(sel)
	if err != nil {
		return err
	}
	s.page.mu.Lock()
	s.page.Clicks = append(s.page.Clicks, sel.String())
	handler := s.page.OnClick
	s.page.mu.Unlock()
	if handler != nil {
		handler(s.page, el)
	}
	return nil
}

func (s *scope) Fill(_ context.Context, sel browser.Selector, value string) error {
	el, err := s.first(sel)
	if err != nil {
		return err
	}
	s.page.mu.Lock()
	el.Value = value
	handler := s.page.OnFill
	s.page.mu.Unlock()
	if handler != nil {
		handler(s.page, el)
	}
	return nil
}

func (s *scope) Check(_ context.Context, sel browser.Selector) error {
	el, err := s.first(sel)
	if err != nil {
		return err
	}
	s.page.mu.Lock()
	el.Checked = true
	s.page.mu.Unlock()
	return nil
}

func (s *scope) Attr(_ context.Context, sel browser.Selector, name string) (string, error) {
	el, err := s.first(sel)
	if err != nil {
		return "", err
	}
	s.page.mu.Lock()
	defer s.page.mu.Unlock()
	return el.Attrs[name], nil
}

func (s *scope) Prop(_ context.Context, sel browser.Selector, name string) (string, error) {
	el, err := s.first(sel)
	if err != nil {
		return "", err
	}
	s.page.mu.Lock()
	defer s.page.mu.Unlock()
	return el.Props[name], nil
}

func (s *scope) Box(_ context.Context, sel browser.Selector) (browser.Box, error) {
	el, err := s.first(sel)
	if err != nil {
		return browser.Box{}, err
	}
	return el.Box, nil
}

type pointer struct{ p *Page }

func (pt pointer) Move(context.Context, float64, float64) error {
	pt.p.mu.Lock()
	defer pt.p.mu.Unlock()
	pt.p.Moves++
	return nil
}

func (pt pointer) Down(context.Context) error {
	pt.p.mu.Lock()
	defer pt.p.mu.Unlock()
	pt.p.Downs++
	return nil
}

func (pt pointer) Up(context.Context) error {
	pt.p.mu.Lock()
	defer pt.p.mu.Unlock()
	pt.p.Ups++
	return nil
}
