package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// CDPPage drives a Chrome DevTools Protocol target over a websocket.
// One CDPPage owns one websocket connection to one page target.
type CDPPage struct {
	conn    *websocket.Conn
	logger  *slog.Logger
	nextID  atomic.Int64
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int64]chan cdpResponse
	closed  bool
	done    chan struct{}
}

type cdpRequest struct {
	ID     int64          `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

type cdpResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *cdpError       `json:"error,omitempty"`
	Method string          `json:"method,omitempty"`
}

type cdpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ConnectCDP dials a DevTools websocket endpoint
// (ws://host:port/devtools/page/<targetID>) and returns the page handle.
func ConnectCDP(ctx context.Context, wsURL string) (*CDPPage, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("cdp dial %s: %w", wsURL, err)
	}
	p := &CDPPage{
		conn:    conn,
		logger:  slog.Default().With("component", "cdp"),
		pending: make(map[int64]chan cdpResponse),
		done:    make(chan struct{}),
	}
	go p.readLoop()
	// Runtime must be enabled before evaluate calls are serviced.
	if _, err := p.call(ctx, "Runtime.enable", nil); err != nil {
		_ = p.Close()
		return nil, err
	}
	if _, err := p.call(ctx, "Page.enable", nil); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

func (p *CDPPage) readLoop() {
	defer close(p.done)
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			p.failPending(err)
			return
		}
		var resp cdpResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			p.logger.Warn("unparseable cdp frame", "error", err)
			continue
		}
		if resp.ID == 0 {
			continue // protocol event, not a command response
		}
		p.mu.Lock()
		ch, ok := p.pending[resp.ID]
		delete(p.pending, resp.ID)
		p.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (p *CDPPage) failPending(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.pending {
		delete(p.pending, id)
		close(ch)
	}
	_ = err
}

func (p *CDPPage) call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	id := p.nextID.Add(1)
	ch := make(chan cdpResponse, 1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("cdp: connection closed")
	}
	p.pending[id] = ch
	p.mu.Unlock()

	req := cdpRequest{ID: id, Method: method, Params: params}
	p.writeMu.Lock()
	err := p.conn.WriteJSON(req)
	p.writeMu.Unlock()
	if err != nil {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		return nil, fmt.Errorf("cdp write %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		return nil, ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("cdp: connection lost during %s", method)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("cdp %s: %s (code %d)", method, resp.Error.Message, resp.Error.Code)
		}
		return resp.Result, nil
	}
}

// evaluate runs a JS expression and decodes the remote value.
func (p *CDPPage) evaluate(ctx context.Context, expression string) (any, error) {
	res, err := p.call(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expression,
		"returnByValue": true,
		"awaitPromise":  true,
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Result struct {
			Value any `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(res, &out); err != nil {
		return nil, fmt.Errorf("cdp evaluate decode: %w", err)
	}
	if out.ExceptionDetails != nil {
		return nil, fmt.Errorf("page script error: %s", out.ExceptionDetails.Text)
	}
	return out.Result.Value, nil
}

// queryExpr builds the JS that counts matches for a selector in either
// dialect. XPath selectors use the "xpath=" prefix convention.
func queryExpr(selector string) string {
	if xp, ok := strings.CutPrefix(selector, "xpath="); ok {
		return fmt.Sprintf(
			`document.evaluate(%q, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null).snapshotLength`, xp)
	}
	return fmt.Sprintf(`document.querySelectorAll(%q).length`, selector)
}

// elementExpr builds JS resolving the first match for a selector.
func elementExpr(selector string) string {
	if xp, ok := strings.CutPrefix(selector, "xpath="); ok {
		return fmt.Sprintf(
			`document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue`, xp)
	}
	return fmt.Sprintf(`document.querySelector(%q)`, selector)
}

func (p *CDPPage) Navigate(ctx context.Context, url string) error {
	_, err := p.call(ctx, "Page.navigate", map[string]any{"url": url})
	return err
}

func (p *CDPPage) URL(ctx context.Context) (string, error) {
	v, err := p.evaluate(ctx, `window.location.href`)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

func (p *CDPPage) Title(ctx context.Context) (string, error) {
	v, err := p.evaluate(ctx, `document.title`)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

func (p *CDPPage) UserAgent(ctx context.Context) (string, error) {
	v, err := p.evaluate(ctx, `navigator.userAgent`)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

func (p *CDPPage) QueryCount(ctx context.Context, selector string) (int, error) {
	v, err := p.evaluate(ctx, queryExpr(selector))
	if err != nil {
		return 0, err
	}
	n, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("cdp query: non-numeric count %T", v)
	}
	return int(n), nil
}

// interact runs an element script, translating the "no match" throw
// into a typed ElementNotFoundError so replay can classify the failure.
func (p *CDPPage) interact(ctx context.Context, selector, expr string) error {
	_, err := p.evaluate(ctx, expr)
	if err != nil && strings.Contains(err.Error(), "no match") {
		return &ElementNotFoundError{Selector: selector}
	}
	return err
}

func (p *CDPPage) Click(ctx context.Context, selector string) error {
	expr := fmt.Sprintf(`(() => { const el = %s; if (!el) throw new Error("no match"); el.click(); return true; })()`, elementExpr(selector))
	return p.interact(ctx, selector, expr)
}

func (p *CDPPage) Type(ctx context.Context, selector, text string) error {
	expr := fmt.Sprintf(`(() => {
		const el = %s; if (!el) throw new Error("no match");
		el.focus(); el.value = %q;
		el.dispatchEvent(new Event("input", {bubbles: true}));
		el.dispatchEvent(new Event("change", {bubbles: true}));
		return true; })()`, elementExpr(selector), text)
	return p.interact(ctx, selector, expr)
}

func (p *CDPPage) SelectOption(ctx context.Context, selector, value string) error {
	expr := fmt.Sprintf(`(() => {
		const el = %s; if (!el) throw new Error("no match");
		el.value = %q;
		el.dispatchEvent(new Event("change", {bubbles: true}));
		return true; })()`, elementExpr(selector), value)
	return p.interact(ctx, selector, expr)
}

func (p *CDPPage) Scroll(ctx context.Context, x, y int) error {
	_, err := p.evaluate(ctx, fmt.Sprintf(`window.scrollTo(%d, %d)`, x, y))
	return err
}

func (p *CDPPage) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		n, err := p.QueryCount(ctx, selector)
		if err == nil && n > 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("wait for %q: timed out after %s", selector, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (p *CDPPage) Screenshot(ctx context.Context) ([]byte, error) {
	res, err := p.call(ctx, "Page.captureScreenshot", map[string]any{"format": "png"})
	if err != nil {
		return nil, err
	}
	var out struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(res, &out); err != nil {
		return nil, fmt.Errorf("cdp screenshot decode: %w", err)
	}
	return base64.StdEncoding.DecodeString(out.Data)
}

func (p *CDPPage) Evaluate(ctx context.Context, expression string) (any, error) {
	return p.evaluate(ctx, expression)
}

func (p *CDPPage) Cookies(ctx context.Context) ([]Cookie, error) {
	res, err := p.call(ctx, "Network.getCookies", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Cookies []struct {
			Name     string  `json:"name"`
			Value    string  `json:"value"`
			Domain   string  `json:"domain"`
			Path     string  `json:"path"`
			Expires  float64 `json:"expires"`
			HTTPOnly bool    `json:"httpOnly"`
			Secure   bool    `json:"secure"`
			SameSite string  `json:"sameSite"`
		} `json:"cookies"`
	}
	if err := json.Unmarshal(res, &out); err != nil {
		return nil, fmt.Errorf("cdp cookies decode: %w", err)
	}
	cookies := make([]Cookie, 0, len(out.Cookies))
	for _, c := range out.Cookies {
		ck := Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: c.SameSite,
		}
		if c.Expires > 0 {
			ck.Expires = time.Unix(int64(c.Expires), 0)
		}
		cookies = append(cookies, ck)
	}
	return cookies, nil
}

func (p *CDPPage) SetCookies(ctx context.Context, cookies []Cookie) error {
	params := make([]map[string]any, 0, len(cookies))
	for _, c := range cookies {
		entry := map[string]any{
			"name":     c.Name,
			"value":    c.Value,
			"domain":   c.Domain,
			"path":     c.Path,
			"httpOnly": c.HTTPOnly,
			"secure":   c.Secure,
		}
		if !c.Expires.IsZero() {
			entry["expires"] = float64(c.Expires.Unix())
		}
		params = append(params, entry)
	}
	_, err := p.call(ctx, "Network.setCookies", map[string]any{"cookies": params})
	return err
}

func (p *CDPPage) Storage(ctx context.Context, kind StorageKind) (map[string]string, error) {
	store := "localStorage"
	if kind == SessionStorage {
		store = "sessionStorage"
	}
	v, err := p.evaluate(ctx, fmt.Sprintf(`JSON.stringify(Object.assign({}, %s))`, store))
	if err != nil {
		return nil, err
	}
	raw, _ := v.(string)
	entries := map[string]string{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			return nil, fmt.Errorf("storage decode: %w", err)
		}
	}
	return entries, nil
}

func (p *CDPPage) SetStorage(ctx context.Context, kind StorageKind, entries map[string]string) error {
	store := "localStorage"
	if kind == SessionStorage {
		store = "sessionStorage"
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	expr := fmt.Sprintf(`(() => {
		const entries = JSON.parse(%q);
		for (const [k, v] of Object.entries(entries)) { %s.setItem(k, v); }
		return true; })()`, string(payload), store)
	_, err = p.evaluate(ctx, expr)
	return err
}

func (p *CDPPage) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	err := p.conn.Close()
	<-p.done
	return err
}
