package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"timesheet_sync/internal/domain"
	"timesheet_sync/internal/translator"
)

// Session is one browser tab logged into the remote system. It is owned by a
// single run and must not be used concurrently.
type Session struct {
	cfg     Config
	tab     context.Context
	client  *Client
	logger  *slog.Logger
	closeFn func()
	once    sync.Once
}

// Close closes the tab and the browser.
func (s *Session) Close() {
	s.once.Do(s.closeFn)
}

// Authenticate logs in and captures the session cookies. An empty result
// means the login did not reach the home page.
func (s *Session) Authenticate(ctx context.Context, cred domain.Credential) domain.SessionCookies {
	sel := s.cfg.Selectors

	err := s.run(ctx, s.cfg.WaitTimeout,
		chromedp.Navigate(s.cfg.URL(s.cfg.LoginPath)),
		chromedp.WaitVisible(sel.LoginEmail, chromedp.ByQuery),
		chromedp.SendKeys(sel.LoginEmail, cred.Login, chromedp.ByQuery),
		chromedp.SendKeys(sel.LoginPassword, cred.Password, chromedp.ByQuery),
		chromedp.Click(sel.LoginSubmit, chromedp.ByQuery),
	)
	if err != nil {
		s.logger.Warn("login form failed", "error", err)
		return nil
	}

	if err := s.run(ctx, s.cfg.LoginTimeout, chromedp.WaitVisible(sel.HomeMarker, chromedp.ByQuery)); err != nil {
		s.logger.Info("login marker not found", "error", err)
		return nil
	}

	var location string
	if err := s.run(ctx, s.cfg.WaitTimeout, chromedp.Location(&location)); err != nil {
		s.logger.Warn("read location failed", "error", err)
		return nil
	}
	if !sameURL(location, s.cfg.URL(s.cfg.HomePath)) {
		s.logger.Info("unexpected page after login", "location", location)
		return nil
	}

	var raw []*network.Cookie
	err = s.run(ctx, s.cfg.WaitTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		s.logger.Warn("read cookies failed", "error", err)
		return nil
	}

	cookies := make(domain.SessionCookies, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, domain.Cookie{Name: c.Name, Value: c.Value})
	}
	if cookies.Empty() {
		return nil
	}

	s.client = NewClient(s.cfg, cookies, s.logger)
	s.logger.Debug("authenticated", "cookies", len(cookies))

	return cookies
}

// CreateAppointment fills and submits the new entry form. A rejected entry
// returns a *domain.RemoteFailure carrying the reason shown by the remote.
func (s *Session) CreateAppointment(ctx context.Context, appt domain.RemoteAppointment, report domain.Reporter) error {
	sel := s.cfg.Selectors

	report(domain.MarkerPage, domain.StageLoad)
	err := s.run(ctx, s.cfg.WaitTimeout,
		chromedp.Navigate(s.cfg.URL(s.cfg.NewAppointmentPath)),
		chromedp.WaitVisible(sel.Client, chromedp.ByQuery),
	)
	if err != nil {
		report(domain.MarkerPage, domain.StageFail)
		return &domain.RemoteFailure{Err: fmt.Errorf("open form: %w", err)}
	}
	report(domain.MarkerPage, domain.StageOk)

	steps := []struct {
		marker domain.Marker
		fill   func() error
	}{
		{domain.MarkerClient, func() error {
			return s.selectAndAwait(ctx, sel.Client, appt.Client, s.cfg.Endpoints.Projects)
		}},
		{domain.MarkerProject, func() error {
			return s.selectAndAwait(ctx, sel.Project, appt.Project, s.cfg.Endpoints.Categories, s.cfg.Endpoints.Progress)
		}},
		{domain.MarkerCategory, func() error {
			return s.selectOption(ctx, sel.Category, appt.Category)
		}},
		{domain.MarkerDescription, func() error {
			return s.typeAndVerify(ctx, sel.Description, appt.Description, func(got, want string) bool {
				return translator.NormalizeDescription(got) == translator.NormalizeDescription(want)
			})
		}},
		{domain.MarkerDate, func() error {
			return s.typeAndVerify(ctx, sel.Date, appt.Date, masked)
		}},
		{domain.MarkerCommit, func() error {
			if appt.Commit == nil {
				return nil
			}
			return s.typeAndVerify(ctx, sel.Commit, *appt.Commit, exact)
		}},
		{domain.MarkerNotMonetize, func() error {
			if !appt.NotMonetize {
				return nil
			}
			return s.check(ctx, sel.NotMonetize)
		}},
		{domain.MarkerStartTime, func() error {
			return s.typeAndVerify(ctx, sel.StartTime, appt.StartTime, masked)
		}},
		{domain.MarkerEndTime, func() error {
			return s.typeAndVerify(ctx, sel.EndTime, appt.EndTime, masked)
		}},
	}

	for _, step := range steps {
		report(step.marker, domain.StageLoad)
		if err := step.fill(); err != nil {
			return &domain.RemoteFailure{Err: fmt.Errorf("fill %s: %w", step.marker, err)}
		}
		report(step.marker, domain.StageOk)
	}

	if err := s.run(ctx, s.cfg.WaitTimeout, chromedp.Click(sel.Submit, chromedp.ByQuery)); err != nil {
		return &domain.RemoteFailure{Err: fmt.Errorf("submit: %w", err)}
	}

	return s.awaitOutcome(ctx)
}

// awaitOutcome waits for the saved indicator or the warning banner, either
// of which means the entry was saved. When neither shows up in time the
// danger banner holds the reason.
func (s *Session) awaitOutcome(ctx context.Context) error {
	sel := s.cfg.Selectors

	err := s.run(ctx, s.cfg.SaveTimeout, chromedp.WaitVisible(sel.Saved+", "+sel.Warning, chromedp.ByQuery))
	if err == nil {
		return nil
	}

	failure := &domain.RemoteFailure{Err: fmt.Errorf("wait for save confirmation: %w", err)}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		failure.Reason = s.text(ctx, sel.Danger)
	}
	return failure
}

// SearchAndFetchDetail finds the list row of appt and fetches its detail.
// It returns nil without error when no row matches.
func (s *Session) SearchAndFetchDetail(ctx context.Context, appt domain.RemoteAppointment, report domain.Reporter) (*domain.RemoteSearchResult, error) {
	sel := s.cfg.Selectors

	report(domain.MarkerSearch, domain.StageLoad)

	var html string
	err := s.run(ctx, s.cfg.WaitTimeout,
		chromedp.Navigate(s.cfg.URL(s.cfg.ListPath)),
		chromedp.WaitReady(sel.ListTable, chromedp.ByQuery),
		chromedp.OuterHTML(sel.ListTable, &html, chromedp.ByQuery),
	)
	if err != nil {
		report(domain.MarkerSearch, domain.StageFail)
		return nil, fmt.Errorf("load list: %w", err)
	}

	code, found, err := MatchRow(html, sel, appt)
	if err != nil {
		report(domain.MarkerSearch, domain.StageFail)
		return nil, err
	}
	if !found {
		report(domain.MarkerSearch, domain.StageFail)
		return nil, nil
	}
	report(domain.MarkerSearch, domain.StageOk)

	report(domain.MarkerGetMoreData, domain.StageLoad)
	if s.client == nil {
		report(domain.MarkerGetMoreData, domain.StageFail)
		return nil, errors.New("session not authenticated")
	}

	result, err := s.client.FetchDetail(ctx, code)
	if err != nil {
		report(domain.MarkerGetMoreData, domain.StageFail)
		return nil, err
	}
	report(domain.MarkerGetMoreData, domain.StageOk)

	return result, nil
}

// run executes actions on the tab, bounded by timeout and by ctx.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.tab, timeout)
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func (s *Session) selectOption(ctx context.Context, selector, value string) error {
	option := fmt.Sprintf(`%s option[value="%s"]`, selector, value)
	var dispatched bool
	return s.run(ctx, s.cfg.WaitTimeout,
		chromedp.WaitReady(option, chromedp.ByQuery),
		chromedp.SetValue(selector, value, chromedp.ByQuery),
		chromedp.Evaluate(fmt.Sprintf(
			`document.querySelector(%s).dispatchEvent(new Event("change", {bubbles: true}))`,
			jsString(selector),
		), &dispatched),
	)
}

// selectAndAwait selects an option and waits for the responses of the XHR
// calls that populate the dependent selects.
func (s *Session) selectAndAwait(ctx context.Context, selector, value string, endpoints ...string) error {
	listenCtx, cancel := context.WithCancel(s.tab)
	defer cancel()

	var mu sync.Mutex
	var once sync.Once
	done := make(chan struct{})
	pending := make(map[string]struct{}, len(endpoints))
	for _, e := range endpoints {
		pending[e] = struct{}{}
	}

	chromedp.ListenTarget(listenCtx, func(ev any) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		for e := range pending {
			if strings.Contains(resp.Response.URL, e) {
				delete(pending, e)
			}
		}
		if len(pending) == 0 {
			once.Do(func() { close(done) })
		}
	})

	if err := s.selectOption(ctx, selector, value); err != nil {
		return err
	}

	timer := time.NewTimer(s.cfg.WaitTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return fmt.Errorf("wait for %s: %w", strings.Join(endpoints, ", "), context.DeadlineExceeded)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) typeAndVerify(ctx context.Context, selector, value string, equal func(got, want string) bool) error {
	var got string
	err := s.run(ctx, s.cfg.WaitTimeout,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
		chromedp.Value(selector, &got, chromedp.ByQuery),
	)
	if err != nil {
		return err
	}
	if !equal(got, value) {
		return fmt.Errorf("value not committed: got %q, want %q", got, value)
	}
	return nil
}

func (s *Session) check(ctx context.Context, selector string) error {
	var checked bool
	err := s.run(ctx, s.cfg.WaitTimeout,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.JavascriptAttribute(selector, "checked", &checked, chromedp.ByQuery),
	)
	if err != nil {
		return err
	}
	if checked {
		return nil
	}

	err = s.run(ctx, s.cfg.WaitTimeout,
		chromedp.Click(selector, chromedp.ByQuery),
		chromedp.JavascriptAttribute(selector, "checked", &checked, chromedp.ByQuery),
	)
	if err != nil {
		return err
	}
	if !checked {
		return errors.New("checkbox not checked")
	}
	return nil
}

// text returns the trimmed text of the first visible element matching
// selector, or an empty string.
func (s *Session) text(ctx context.Context, selector string) string {
	var text string
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el || el.offsetParent === null) return "";
		return el.innerText.trim();
	})()`, jsString(selector))

	if err := s.run(ctx, s.cfg.WaitTimeout, chromedp.Evaluate(script, &text)); err != nil {
		s.logger.Debug("read text failed", "selector", selector, "error", err)
		return ""
	}
	return text
}

func masked(got, want string) bool {
	return translator.StripSeparators(got) == translator.StripSeparators(want)
}

func exact(got, want string) bool {
	return strings.TrimSpace(got) == strings.TrimSpace(want)
}

func sameURL(a, b string) bool {
	a, _, _ = strings.Cut(a, "?")
	return strings.EqualFold(strings.TrimRight(a, "/"), strings.TrimRight(b, "/"))
}

func jsString(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}
