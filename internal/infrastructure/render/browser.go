package render

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"
)

// Options configures the headless browser transport
type Options struct {
	// ControlURL connects to an already running browser; empty launches a local headless one
	ControlURL   string
	PageTimeout  time.Duration
	Settle       time.Duration
	SettleJitter time.Duration
}

// Browser is a Transport that renders pages in a headless browser. It is the
// optional fallback for sites whose listings only appear after scripts run.
type Browser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	opts     Options
	log      logrus.FieldLogger
}

// New connects to (or launches) a browser
func New(ctx context.Context, opts Options, log logrus.FieldLogger) (*Browser, error) {
	opts = withDefaults(opts)
	if log == nil {
		log = logrus.StandardLogger()
	}

	b := &Browser{opts: opts, log: log}

	controlURL := opts.ControlURL
	if controlURL == "" {
		b.launcher = launcher.New().Headless(true)
		u, err := b.launcher.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		b.cleanup()
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	b.browser = browser
	log.WithField("control_url", controlURL).Info("[RENDER] browser connected")
	return b, nil
}

func withDefaults(opts Options) Options {
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 30 * time.Second
	}
	if opts.Settle <= 0 {
		opts.Settle = 1500 * time.Millisecond
	}
	if opts.SettleJitter < 0 {
		opts.SettleJitter = 0
	}
	return opts
}

// Get renders url and returns the resulting HTML. The status is the main
// document's response status when observed, else 200.
func (b *Browser) Get(ctx context.Context, url string, headers http.Header) (int, []byte, error) {
	page, err := b.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return 0, nil, fmt.Errorf("open page: %w", err)
	}
	defer func() { _ = page.Close() }()

	page = page.Timeout(b.opts.PageTimeout)
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      headers.Get("User-Agent"),
		AcceptLanguage: headers.Get("Accept-Language"),
	}); err != nil {
		b.log.WithError(err).Warn("[RENDER] set user agent failed")
	}

	var status atomic.Int64
	waitDocument := page.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type != proto.NetworkResourceTypeDocument {
			return false
		}
		status.Store(int64(e.Response.Status))
		return true
	})
	go waitDocument()

	if err := page.Navigate(url); err != nil {
		return 0, nil, fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		b.log.WithError(err).WithField("url", url).Warn("[RENDER] wait load failed, continuing")
	}

	if err := settle(ctx, b.opts.Settle, b.opts.SettleJitter); err != nil {
		return 0, nil, err
	}

	html, err := page.HTML()
	if err != nil {
		return 0, nil, fmt.Errorf("read html: %w", err)
	}
	return documentStatus(int(status.Load())), []byte(html), nil
}

// Close disconnects the browser and stops a launched process
func (b *Browser) Close() error {
	var err error
	if b.browser != nil {
		err = b.browser.Close()
	}
	b.cleanup()
	return err
}

func (b *Browser) cleanup() {
	if b.launcher != nil {
		b.launcher.Kill()
		b.launcher.Cleanup()
	}
}

func settle(ctx context.Context, base, jitter time.Duration) error {
	wait := base
	if jitter > 0 {
		wait += time.Duration(rand.Int63n(int64(jitter)))
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// documentStatus falls back to 200 when no document response was observed
func documentStatus(observed int) int {
	if observed <= 0 {
		return http.StatusOK
	}
	return observed
}
