// internal/browser/session.go
// Package browser owns the Chrome session: allocator and tab lifecycle,
// CDP event listening and the page primitives the task engine drives.
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/dkastrov/taskpilot-cli/internal/config"
)

// PageErrorHandler receives page-level script errors observed over CDP.
// The handler must not block; it runs on the CDP listener goroutine.
type PageErrorHandler func(source, detail string)

// Session is one Chrome tab plus the allocator that owns the process. The
// embedded contexts carry the CDP connection; every operation combines
// them with the caller's context so both lifetimes are honored.
type Session struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc

	mu          sync.Mutex
	onPageError PageErrorHandler
	isClosed    bool
}

// NewSession launches Chrome and connects a fresh tab. The session stays
// alive until Close; ctx only bounds the launch itself.
func NewSession(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	for _, flag := range cfg.ExtraFlags {
		name, value, _ := strings.Cut(strings.TrimLeft(flag, "-"), "=")
		if value == "" {
			opts = append(opts, chromedp.Flag(name, true))
		} else {
			opts = append(opts, chromedp.Flag(name, value))
		}
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		logger:      logger.Named("browser"),
		cfg:         cfg,
		allocCancel: allocCancel,
		ctx:         tabCtx,
		cancel:      tabCancel,
	}

	// Establish the target connection before anything else touches it.
	launchCtx, cancel := CombineContext(tabCtx, ctx)
	defer cancel()
	if err := chromedp.Run(launchCtx); err != nil {
		s.teardown()
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	s.listenPageErrors()
	s.logger.Info("Browser session started",
		zap.Bool("headless", cfg.Headless),
		zap.Int("width", cfg.WindowWidth), zap.Int("height", cfg.WindowHeight))
	return s, nil
}

// SetPageErrorHandler routes uncaught exceptions and console errors to the
// given handler. A nil handler drops them.
func (s *Session) SetPageErrorHandler(fn PageErrorHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPageError = fn
}

// listenPageErrors subscribes to the tab's runtime events for the lifetime
// of the session context.
func (s *Session) listenPageErrors() {
	chromedp.ListenTarget(s.ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *runtime.EventExceptionThrown:
			detail := e.ExceptionDetails.Text
			if e.ExceptionDetails.Exception != nil && e.ExceptionDetails.Exception.Description != "" {
				detail = e.ExceptionDetails.Exception.Description
			}
			s.forwardPageError("exception", detail)
		case *runtime.EventConsoleAPICalled:
			if e.Type != runtime.APITypeError {
				return
			}
			parts := make([]string, 0, len(e.Args))
			for _, arg := range e.Args {
				if len(arg.Value) > 0 {
					parts = append(parts, string(arg.Value))
				}
			}
			s.forwardPageError("console", strings.Join(parts, " "))
		}
	})
}

func (s *Session) forwardPageError(source, detail string) {
	s.mu.Lock()
	fn := s.onPageError
	s.mu.Unlock()
	if fn != nil {
		fn(source, detail)
	}
}

// runActions executes chromedp actions against the tab, bounded by the
// session lifetime, the caller's context and the configured operation
// timeout.
func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	if s.cfg.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.OperationTimeout)
		defer cancel()
	}
	return s.run(ctx, actions...)
}

// run is runActions without the per-operation deadline. Navigation goes
// through here because it carries its own, longer timeout.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Close shuts the tab and the Chrome process down. Safe to call twice.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	s.logger.Debug("Closing browser session")
	s.teardown()
	return nil
}

func (s *Session) teardown() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
}
