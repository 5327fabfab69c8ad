package automation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/pilotfish/pilotfish/internal/events"
)

const maxPageBytes = 2 << 20

type browserFactory struct {
	opts Options
}

func (f *browserFactory) Kind() string { return "browser" }

func (f *browserFactory) New(spec TaskSpec) Backend {
	return newBrowser(spec, f.opts)
}

// Browser is the native-control backend. It owns an HTTP browsing context
// (client + cookie jar), executes the action plan step by step, and supports
// first-class pause: before each step the executor polls the pause flag and
// sleeps until unpaused. Pause latency is therefore bounded by one step's
// duration, not instantaneous.
type Browser struct {
	spec TaskSpec
	opts Options

	paused  atomic.Bool
	stopped atomic.Bool

	mu         sync.Mutex
	client     *http.Client
	currentURL string
	doc        *goquery.Document
	lastHTML   string
}

func newBrowser(spec TaskSpec, opts Options) *Browser {
	return &Browser{spec: spec, opts: opts}
}

func (b *Browser) SupportsNativePause() bool { return true }

func (b *Browser) Start(ctx context.Context) error {
	_ = ctx
	jar, err := cookiejar.New(nil)
	if err != nil {
		b.spec.activity(fmt.Sprintf("Failed to initialize browser context: %v", err), events.LevelError)
		return fmt.Errorf("init browser context: %w", err)
	}

	b.mu.Lock()
	b.client = &http.Client{
		Jar:     jar,
		Timeout: b.opts.HTTPTimeout,
	}
	b.mu.Unlock()

	b.spec.activity("Browser context initialized", events.LevelSuccess)
	return nil
}

func (b *Browser) Execute(ctx context.Context) error {
	b.mu.Lock()
	ready := b.client != nil
	b.mu.Unlock()
	if !ready {
		return errors.New("browser context not started")
	}

	plan, err := BuildPlan(b.spec.Task, b.opts.StartURL)
	if err != nil {
		b.spec.activity(fmt.Sprintf("Failed to generate action plan: %v", err), events.LevelError)
		return fmt.Errorf("generate action plan: %w", err)
	}

	b.spec.activity("Starting task execution", events.LevelInfo)
	for i, step := range plan {
		if err := b.waitWhilePaused(ctx); err != nil {
			return err
		}

		b.spec.activity(fmt.Sprintf("Step %d: %s", i+1, step.Description), events.LevelInfo)
		if err := b.executeStep(ctx, step); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// A failing step does not abort the plan.
			b.spec.activity(fmt.Sprintf("Step %d failed: %v", i+1, err), events.LevelError)
		}

		if err := sleepCtx(ctx, b.opts.StepDelay); err != nil {
			return err
		}
	}
	return nil
}

// waitWhilePaused is the only suspension point for native pause.
func (b *Browser) waitWhilePaused(ctx context.Context) error {
	if !b.paused.Load() {
		return nil
	}
	b.spec.activity("Task execution paused", events.LevelWarning)
	for b.paused.Load() {
		if err := sleepCtx(ctx, b.opts.PausePoll); err != nil {
			return err
		}
	}
	b.spec.activity("Task execution resumed", events.LevelInfo)
	return nil
}

func (b *Browser) executeStep(ctx context.Context, step Step) error {
	switch step.Action {
	case ActionNavigate:
		if err := b.navigate(ctx, step.URL); err != nil {
			return err
		}
		b.spec.activity(fmt.Sprintf("Navigated to %s", step.URL), events.LevelSuccess)
		return nil

	case ActionSearch:
		target := b.opts.SearchURL + url.QueryEscape(step.Query)
		if err := b.navigate(ctx, target); err != nil {
			return err
		}
		b.spec.activity(fmt.Sprintf("Searched for: %s", step.Query), events.LevelSuccess)
		return nil

	case ActionClick:
		target, err := b.resolveLink(step.Selector)
		if err != nil {
			return err
		}
		if err := b.navigate(ctx, target); err != nil {
			return err
		}
		b.spec.activity(fmt.Sprintf("Clicked element: %s", step.Selector), events.LevelSuccess)
		return nil

	case ActionWait:
		if err := sleepCtx(ctx, step.Duration); err != nil {
			return err
		}
		b.spec.activity(fmt.Sprintf("Waited %s", step.Duration), events.LevelInfo)
		return nil

	case ActionAnalyze:
		return b.analyzePage()

	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}
}

func (b *Browser) navigate(ctx context.Context, target string) error {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil {
		return errors.New("browser context closed")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", b.opts.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("navigate %s: status %d", target, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return fmt.Errorf("read page body: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("parse page: %w", err)
	}

	final := target
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}

	b.mu.Lock()
	b.currentURL = final
	b.doc = doc
	b.lastHTML = string(data)
	b.mu.Unlock()

	b.spec.viewport(final)
	return nil
}

func (b *Browser) resolveLink(selector string) (string, error) {
	b.mu.Lock()
	doc := b.doc
	current := b.currentURL
	b.mu.Unlock()
	if doc == nil {
		return "", errors.New("no page loaded")
	}

	href, ok := doc.Find(selector).First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return "", fmt.Errorf("selector %q matched no link", selector)
	}

	base, err := url.Parse(current)
	if err != nil {
		return "", fmt.Errorf("parse current url: %w", err)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse link %q: %w", href, err)
	}
	return base.ResolveReference(ref).String(), nil
}

func (b *Browser) analyzePage() error {
	b.mu.Lock()
	doc := b.doc
	b.mu.Unlock()
	if doc == nil {
		return errors.New("no page loaded")
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	preview := squashWhitespace(doc.Find("body").Text())
	if len(preview) > 100 {
		preview = preview[:100] + "..."
	}

	b.spec.activity(fmt.Sprintf("Analyzed page: %s", title), events.LevelInfo)
	if preview != "" {
		b.spec.activity(fmt.Sprintf("Page content preview: %s", preview), events.LevelInfo)
	}
	return nil
}

func (b *Browser) Pause(ctx context.Context) error {
	_ = ctx
	b.paused.Store(true)
	return nil
}

func (b *Browser) Resume(ctx context.Context) error {
	_ = ctx
	b.paused.Store(false)
	return nil
}

func (b *Browser) Stop(ctx context.Context) error {
	_ = ctx
	b.stopped.Store(true)
	b.paused.Store(false)
	return nil
}

func (b *Browser) Cleanup(ctx context.Context) error {
	_ = ctx
	b.mu.Lock()
	client := b.client
	b.client = nil
	b.doc = nil
	b.lastHTML = ""
	b.mu.Unlock()

	if client != nil {
		client.CloseIdleConnections()
		b.spec.activity("Browser resources released", events.LevelInfo)
	}
	return nil
}

// Frames exports the current page wrapped as a standalone HTML document at a
// fixed interval. The stream ends when the backend is stopped, the context is
// done, or a capture fails; a failed capture yields one generic failure frame
// before the channel closes.
func (b *Browser) Frames(ctx context.Context) <-chan []byte {
	out := make(chan []byte, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(b.opts.FrameInterval)
		defer ticker.Stop()
		for {
			if b.stopped.Load() {
				return
			}
			frame, err := b.captureFrame()
			if err != nil {
				select {
				case out <- failureFrame(err):
				case <-ctx.Done():
				}
				return
			}
			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (b *Browser) captureFrame() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil, errors.New("browser context closed")
	}
	page := b.lastHTML
	if page == "" {
		page = "<!DOCTYPE html><html><body></body></html>"
	}
	frame := fmt.Sprintf(
		`<!DOCTYPE html><html><head><meta charset="utf-8"><style>body{margin:0;padding:0;overflow:hidden}iframe{width:100%%;height:100vh;border:none}</style></head><body><iframe srcdoc="%s"></iframe></body></html>`,
		html.EscapeString(page),
	)
	return []byte(frame), nil
}

func failureFrame(err error) []byte {
	return []byte(fmt.Sprintf(
		`<!DOCTYPE html><html><body><h2>Viewport unavailable</h2><p>%s</p></body></html>`,
		html.EscapeString(err.Error()),
	))
}

func squashWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
