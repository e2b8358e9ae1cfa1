// Package headless renders JavaScript-heavy pages with a real browser.
// The site fetcher promotes a page here when the plain HTTP body looks
// like an empty application shell.
package headless

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// Renderer returns the fully rendered DOM for a URL.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
	Close()
}

// Config controls the chromedp renderer.
type Config struct {
	MaxParallel int
	UserAgent   string
	NavTimeout  time.Duration
}

// ChromeRenderer drives headless Chrome through chromedp. One exec
// allocator is shared; MaxParallel bounds concurrent tabs.
type ChromeRenderer struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromeRenderer builds the renderer and its browser allocator.
func NewChromeRenderer(cfg Config) (*ChromeRenderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 25 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &ChromeRenderer{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Render navigates to the URL and returns the post-JS DOM.
func (r *ChromeRenderer) Render(ctx context.Context, url string) (string, error) {
	if err := r.acquire(ctx); err != nil {
		return "", err
	}
	defer r.release()

	taskCtx, taskCancel := chromedp.NewContext(r.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, r.cfg.NavTimeout)
	defer cancel()

	var html string
	actions := []chromedp.Action{
		r.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, nil
}

func (r *ChromeRenderer) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (r *ChromeRenderer) acquire(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("render slot wait canceled: %w", ctx.Err())
	}
}

func (r *ChromeRenderer) release() {
	if r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}

// Close tears down the browser allocator.
func (r *ChromeRenderer) Close() {
	r.allocCancel()
}

// ErrRenderingDisabled is returned by the noop renderer.
var ErrRenderingDisabled = errors.New("headless rendering disabled")

// Noop is the renderer used when headless support is turned off; pages
// that would need promotion keep their plain HTTP body.
type Noop struct{}

// Render always refuses.
func (Noop) Render(context.Context, string) (string, error) {
	return "", ErrRenderingDisabled
}

// Close is a no-op.
func (Noop) Close() {}
