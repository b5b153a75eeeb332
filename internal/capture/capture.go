// Package capture renders one dashboard tab in headless Chrome and returns a
// PNG of its panel.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"

	"dpoc-dashboard/internal/config"
	"dpoc-dashboard/internal/gate"
)

var (
	ErrPassphraseRequired = errors.New("dashboard asked for a passphrase but none was given")
	ErrDenied             = errors.New(gate.DeniedMessage)
)

type Options struct {
	BaseURL    string        // e.g. http://localhost:8087
	Tab        string        // dpoc, globex, profile or thinking
	Passphrase string        // used only if the gate shows the form
	Headless   bool          // false => show the window
	Wait       time.Duration // overall timeout
	Width      int64
	Height     int64
	Logger     *slog.Logger // optional: route chromedp logs to slog
	Quiet      bool         // if true, suppress chromedp output
}

func (o *Options) normalize() (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(o.BaseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("bad base url %q", o.BaseURL)
	}
	o.Tab = strings.ToLower(strings.TrimSpace(o.Tab))
	if !config.ValidTab(o.Tab) {
		return nil, fmt.Errorf("unknown tab %q (want one of %s)", o.Tab, strings.Join(config.Tabs(), ", "))
	}
	if o.Wait <= 0 {
		o.Wait = time.Minute
	}
	if o.Width <= 0 {
		o.Width = 1280
	}
	if o.Height <= 0 {
		o.Height = 900
	}
	return u, nil
}

// tabURL keeps any path prefix the dashboard is served under.
func tabURL(base *url.URL, tab string) string {
	u := *base
	u.Path = strings.TrimRight(base.Path, "/") + "/"
	u.RawPath = ""
	u.Fragment = ""
	u.RawQuery = url.Values{"tab": {tab}}.Encode()
	return u.String()
}

// the gate page settles into the dashboard, the password form, or an error
const gateStateJS = `(() => {
  if (document.body && document.body.classList.contains('dashboard')) return 'dashboard';
  const err = document.getElementById('gate-error');
  if (err && !err.hidden) return 'denied';
  const form = document.getElementById('password-form');
  if (form && !form.hidden) return 'form';
  return '';
})()`

// Panel opens the dashboard, passes the gate if needed and screenshots the
// #panel element of the requested tab.
func Panel(ctx context.Context, opts Options) ([]byte, error) {
	base, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	target := tabURL(base, opts.Tab)

	allocOpts := []chromedp.ExecAllocatorOption{
		chromedp.NoDefaultBrowserCheck,
		chromedp.NoFirstRun,
		chromedp.Flag("disable-gpu", true),
		chromedp.WindowSize(int(opts.Width), int(opts.Height)),
	}
	if opts.Headless {
		allocOpts = append(allocOpts, chromedp.Headless)
	} else {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}

	actx, acancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer acancel()
	var ctxOpts []chromedp.ContextOption
	if opts.Quiet {
		ctxOpts = append(ctxOpts,
			chromedp.WithLogf(func(string, ...any) {}),
			chromedp.WithDebugf(func(string, ...any) {}),
			chromedp.WithErrorf(func(string, ...any) {}),
		)
	} else if opts.Logger != nil {
		ctxOpts = append(ctxOpts,
			chromedp.WithLogf(func(f string, a ...any) { opts.Logger.Info(fmt.Sprintf(f, a...)) }),
			chromedp.WithDebugf(func(f string, a ...any) { opts.Logger.Debug(fmt.Sprintf(f, a...)) }),
			chromedp.WithErrorf(func(f string, a ...any) { opts.Logger.Warn(fmt.Sprintf(f, a...)) }),
		)
	}
	cctx, cancel := chromedp.NewContext(actx, ctxOpts...)
	defer cancel()
	cctx, timeoutCancel := context.WithTimeout(cctx, opts.Wait)
	defer timeoutCancel()

	var page string
	if err := chromedp.Run(cctx,
		emulation.SetDeviceMetricsOverride(opts.Width, opts.Height, 1, false),
		chromedp.Navigate(target),
		chromedp.Poll(gateStateJS, &page, chromedp.WithPollingInterval(200*time.Millisecond)),
	); err != nil {
		return nil, fmt.Errorf("open dashboard: %w", err)
	}

	if page == "form" {
		if opts.Passphrase == "" {
			return nil, ErrPassphraseRequired
		}
		if err := chromedp.Run(cctx,
			chromedp.SendKeys("#password", opts.Passphrase, chromedp.ByQuery),
			chromedp.Submit("#password-form", chromedp.ByQuery),
			chromedp.Sleep(300*time.Millisecond),
			chromedp.Poll(gateStateJS, &page, chromedp.WithPollingInterval(200*time.Millisecond)),
		); err != nil {
			return nil, fmt.Errorf("submit passphrase: %w", err)
		}
		if page != "dashboard" {
			return nil, ErrDenied
		}
		// the gate redirects to the default tab
		if err := chromedp.Run(cctx, chromedp.Navigate(target)); err != nil {
			return nil, fmt.Errorf("open tab: %w", err)
		}
	}
	if page == "denied" {
		return nil, ErrDenied
	}

	var png []byte
	if err := chromedp.Run(cctx,
		chromedp.WaitVisible("#panel", chromedp.ByQuery),
		chromedp.Screenshot("#panel", &png, chromedp.NodeVisible, chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("screenshot panel: %w", err)
	}
	if opts.Logger != nil {
		opts.Logger.Info("captured panel", slog.String("tab", opts.Tab), slog.Int("bytes", len(png)))
	}
	return png, nil
}
