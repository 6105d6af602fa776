package remote

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// blockedResources are never loaded by the session browser.
var blockedResources = []string{
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.svg", "*.ico", "*.webp",
	"*.css",
	"*.woff", "*.woff2", "*.ttf", "*.otf", "*.eot",
}

// Launcher opens isolated browser sessions against the remote system.
type Launcher struct {
	cfg    Config
	logger *slog.Logger
}

func NewLauncher(cfg Config, logger *slog.Logger) *Launcher {
	cfg.setDefaults()
	return &Launcher{
		cfg:    cfg,
		logger: logger.With("component", "remote"),
	}
}

// Launch starts a browser with a single tab. The returned session must be
// closed by the caller.
func (l *Launcher) Launch(ctx context.Context) (*Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.cfg.Headless),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.UserAgent(l.cfg.UserAgent),
	)
	if l.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if l.cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ChromePath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	session := &Session{
		cfg:    l.cfg,
		tab:    tabCtx,
		logger: l.logger,
		closeFn: func() {
			tabCancel()
			allocCancel()
		},
	}

	// The first Run starts the browser and must use the tab context itself,
	// otherwise the browser would die with the derived timeout context.
	if err := chromedp.Run(tabCtx); err != nil {
		session.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	err := session.run(ctx, l.cfg.WaitTimeout,
		network.Enable(),
		network.SetBlockedURLS(blockedResources),
	)
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("configure browser: %w", err)
	}

	l.logger.Debug("browser session started", "headless", l.cfg.Headless)

	return session, nil
}
