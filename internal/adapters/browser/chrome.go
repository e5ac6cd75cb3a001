package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

// domHelper runs one element operation inside the page. Scopes are the main document
// followed by every same-origin frame document, discovered breadth first on each call.
// Cross-origin frames are not reachable from page script and are never scopes; the login
// form, the yidun slider and the security modal all render in music.163.com documents.
const domHelper = `(function(scope, css, text, exact, op, arg) {
  const docs = [document];
  for (let i = 0; i < docs.length; i++) {
    for (const f of docs[i].querySelectorAll('iframe, frame')) {
      try { if (f.contentDocument) docs.push(f.contentDocument); } catch (e) {}
    }
  }
  if (op === 'scopes') return docs.length;
  const doc = docs[scope];
  if (!doc) return {error: 'scope gone'};
  const norm = s => (s || '').replace(/\s+/g, ' ').trim();
  let els = Array.from(doc.querySelectorAll(css || '*'));
  if (text) {
    els = els.filter(el => {
      const t = norm(el.innerText || el.textContent);
      return exact ? t === text : t.includes(text);
    });
    els = els.filter(el => !els.some(o => o !== el && el.contains(o)));
  }
  const visible = el => {
    const st = el.ownerDocument.defaultView.getComputedStyle(el);
    if (st.visibility === 'hidden' || st.display === 'none') return false;
    const r = el.getBoundingClientRect();
    return r.width > 0 && r.height > 0;
  };
  if (op === 'count') return els.length;
  if (op === 'visible') return els.some(visible);
  const el = els.find(visible) || els[0];
  if (!el) return {error: 'not found'};
  switch (op) {
  case 'box': {
    el.scrollIntoView({block: 'center', inline: 'center'});
    const r = el.getBoundingClientRect();
    let x = r.left, y = r.top, win = el.ownerDocument.defaultView;
    while (win.frameElement) {
      const fr = win.frameElement.getBoundingClientRect();
      x += fr.left; y += fr.top; win = win.parent;
    }
    return {x: x, y: y, w: r.width, h: r.height};
  }
  case 'focus':
    el.focus();
    if ('value' in el) { el.value = ''; el.dispatchEvent(new Event('input', {bubbles: true})); }
    return true;
  case 'check':
    if (!el.checked) el.click();
    return !!el.checked;
  case 'attr':
    return el.getAttribute(arg);
  case 'prop': {
    const v = el[arg];
    return v === undefined || v === null ? '' : String(v);
  }
  }
  return {error: 'unknown op ' + op};
})`

// Chrome drives a local Chrome through the DevTools protocol.
type Chrome struct {
	ExtraFlags map[string]any
}

func (c Chrome) Open(ctx context.Context, profile Profile) (Page, error) {
	if profile.Dir != "" {
		if err := os.MkdirAll(profile.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create profile dir: %w", err)
		}
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", profile.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1280, 800),
	)
	if profile.Dir != "" {
		opts = append(opts, chromedp.UserDataDir(profile.Dir))
	}
	if profile.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(profile.UserAgent))
	}
	if profile.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(profile.Proxy))
	}
	for name, value := range c.ExtraFlags {
		opts = append(opts, chromedp.Flag(name, value))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	p := &chromePage{ctx: tabCtx, cancel: func() { cancelTab(); cancelAlloc() }}
	if err := p.run(ctx, network.Enable()); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	p.pointer = &chromePointer{page: p}
	return p, nil
}

type chromePage struct {
	ctx     context.Context
	cancel  context.CancelFunc
	pointer *chromePointer
}

// run executes actions on the tab while honouring the caller's ctx.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

func (p *chromePage) eval(ctx context.Context, scope int, sel Selector, op, arg string) (json.RawMessage, error) {
	args := []any{scope, sel.CSS, sel.Text, sel.Exact, op, arg}
	encoded := make([]string, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, err
		}
		encoded[i] = string(b)
	}
	expr := domHelper + "(" + strings.Join(encoded, ",") + ")"

	var raw []byte
	if err := p.run(ctx, chromedp.Evaluate(expr, &raw)); err != nil {
		return nil, err
	}

	var failure struct {
		Error string `json:"error"`
	}
	if len(raw) > 0 && raw[0] == '{' && json.Unmarshal(raw, &failure) == nil && failure.Error != "" {
		if failure.Error == "not found" {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, sel)
		}
		return nil, fmt.Errorf("%s: %s", op, failure.Error)
	}
	return raw, nil
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromePage) Scopes(ctx context.Context) ([]Scope, error) {
	raw, err := p.eval(ctx, 0, Selector{}, "scopes", "")
	if err != nil {
		return nil, err
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("failed to decode scope count: %w", err)
	}
	scopes := make([]Scope, 0, n)
	for i := 0; i < n; i++ {
		scopes = append(scopes, &chromeScope{page: p, index: i})
	}
	return scopes, nil
}

func (p *chromePage) Pointer() Pointer { return p.pointer }

func (p *chromePage) Cookies(ctx context.Context, domain string) ([]Cookie, error) {
	var cookies []*network.Cookie
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	domain = strings.TrimPrefix(domain, ".")
	out := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		host := strings.TrimPrefix(c.Domain, ".")
		if domain != "" && host != domain && !strings.HasSuffix(host, "."+domain) {
			continue
		}
		out = append(out, Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain})
	}
	return out, nil
}

func (p *chromePage) WaitResponse(ctx context.Context, match string, trigger func(context.Context) error) ([]byte, error) {
	listenCtx, stopListening := context.WithCancel(p.ctx)
	defer stopListening()

	done := make(chan network.RequestID, 1)
	var pending network.RequestID
	chromedp.ListenTarget(listenCtx, func(ev any) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			if pending == "" && e.Response != nil && strings.Contains(e.Response.URL, match) {
				pending = e.RequestID
			}
		case *network.EventLoadingFinished:
			if pending != "" && e.RequestID == pending {
				select {
				case done <- pending:
				default:
				}
			}
		}
	})

	if err := trigger(ctx); err != nil {
		return nil, err
	}

	var id network.RequestID
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case id = <-done:
	}

	var body []byte
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		body, err = network.GetResponseBody(id).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

func (p *chromePage) Close() error {
	p.cancel()
	return nil
}

type chromeScope struct {
	page  *chromePage
	index int
}

func (s *chromeScope) Name() string {
	if s.index == 0 {
		return "main"
	}
	return fmt.Sprintf("frame-%d", s.index)
}

func (s *chromeScope) Count(ctx context.Context, sel Selector) (int, error) {
	raw, err := s.page.eval(ctx, s.index, sel, "count", "")
	if err != nil {
		return 0, err
	}
	var n int
	err = json.Unmarshal(raw, &n)
	return n, err
}

func (s *chromeScope) Visible(ctx context.Context, sel Selector) (bool, error) {
	raw, err := s.page.eval(ctx, s.index, sel, "visible", "")
	if err != nil {
		return false, err
	}
	var ok bool
	err = json.Unmarshal(raw, &ok)
	return ok, err
}

// Click sends a real mouse click to the element's centre.
func (s *chromeScope) Click(ctx context.Context, sel Selector) error {
	box, err := s.Box(ctx, sel)
	if err != nil {
		return err
	}
	ptr := s.page.pointer
	if err := ptr.Move(ctx, box.X+box.Width/2, box.Y+box.Height/2); err != nil {
		return err
	}
	if err := ptr.Down(ctx); err != nil {
		return err
	}
	return ptr.Up(ctx)
}

func (s *chromeScope) Fill(ctx context.Context, sel Selector, value string) error {
	if _, err := s.page.eval(ctx, s.index, sel, "focus", ""); err != nil {
		return err
	}
	return s.page.run(ctx, input.InsertText(value))
}

func (s *chromeScope) Check(ctx context.Context, sel Selector) error {
	_, err := s.page.eval(ctx, s.index, sel, "check", "")
	return err
}

func (s *chromeScope) Attr(ctx context.Context, sel Selector, name string) (string, error) {
	raw, err := s.page.eval(ctx, s.index, sel, "attr", name)
	if err != nil {
		return "", err
	}
	var v *string
	if err := json.Unmarshal(raw, &v); err != nil || v == nil {
		return "", err
	}
	return *v, nil
}

func (s *chromeScope) Prop(ctx context.Context, sel Selector, name string) (string, error) {
	raw, err := s.page.eval(ctx, s.index, sel, "prop", name)
	if err != nil {
		return "", err
	}
	var v string
	err = json.Unmarshal(raw, &v)
	return v, err
}

func (s *chromeScope) Box(ctx context.Context, sel Selector) (Box, error) {
	raw, err := s.page.eval(ctx, s.index, sel, "box", "")
	if err != nil {
		return Box{}, err
	}
	var r struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
		W float64 `json:"w"`
		H float64 `json:"h"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return Box{}, fmt.Errorf("failed to decode box: %w", err)
	}
	return Box{X: r.X, Y: r.Y, Width: r.W, Height: r.H}, nil
}

type chromePointer struct {
	page    *chromePage
	x, y    float64
	pressed bool
}

func (p *chromePointer) Move(ctx context.Context, x, y float64) error {
	ev := input.DispatchMouseEvent(input.MouseMoved, x, y)
	if p.pressed {
		ev = ev.WithButton(input.Left).WithButtons(1)
	}
	if err := p.page.run(ctx, ev); err != nil {
		return err
	}
	p.x, p.y = x, y
	return nil
}

func (p *chromePointer) Down(ctx context.Context) error {
	err := p.page.run(ctx, input.DispatchMouseEvent(input.MousePressed, p.x, p.y).
		WithButton(input.Left).WithButtons(1).WithClickCount(1))
	if err == nil {
		p.pressed = true
	}
	return err
}

func (p *chromePointer) Up(ctx context.Context) error {
	err := p.page.run(ctx, input.DispatchMouseEvent(input.MouseReleased, p.x, p.y).
		WithButton(input.Left).WithClickCount(1))
	p.pressed = false
	return err
}
