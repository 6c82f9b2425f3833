// Package upstream implements the authenticated client for the hand-history
// API: a CSRF-handshake admin login followed by paginated hand fetches.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrAuth marks a failed login. The driver maps it to exit code 2.
var ErrAuth = errors.New("upstream authentication failed")

var csrfTokenRe = regexp.MustCompile(`name=["']csrfmiddlewaretoken["'][^>]*value=["']([^"']+)["']`)

const requestTimeout = 45 * time.Second

// Client holds an authenticated session against the upstream API.
type Client struct {
	http    *http.Client
	baseURL string
	log     zerolog.Logger
}

// NewClient builds a client for the given base URL. The session cookie jar
// is populated by Login.
func NewClient(baseURL string, log zerolog.Logger) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &Client{
		http: &http.Client{
			Jar:     jar,
			Timeout: requestTimeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log.With().Str("component", "upstream").Logger(),
	}, nil
}

// Login performs the CSRF handshake: fetch the admin login page, pull the
// hidden token out of the form, and POST the credentials with the login page
// as Referer. The session cookie carries all subsequent calls.
func (c *Client) Login(ctx context.Context, username, password string) error {
	loginURL := c.baseURL + "/admin/login/?next=/admin/"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loginURL, nil)
	if err != nil {
		return fmt.Errorf("build login page request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch login page: %w", err)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("read login page: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: login page returned %d", ErrAuth, resp.StatusCode)
	}

	m := csrfTokenRe.FindSubmatch(body)
	if m == nil {
		return fmt.Errorf("%w: csrfmiddlewaretoken not found in login page", ErrAuth)
	}
	token := string(m[1])

	form := url.Values{
		"username":            {username},
		"password":            {password},
		"csrfmiddlewaretoken": {token},
		"next":                {"/admin/"},
	}
	req, err = http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/admin/login/", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", loginURL)

	resp, err = c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post credentials: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	}
	// Django answers a rejected login with the form again; success redirects
	// away from the login page.
	if resp.Request != nil && strings.Contains(resp.Request.URL.Path, "/login") {
		return fmt.Errorf("%w: credentials rejected", ErrAuth)
	}

	c.log.Info().Msg("upstream login succeeded")
	return nil
}

// handsPage is the paginated response envelope.
type handsPage struct {
	Results []Hand  `json:"results"`
	Next    *string `json:"next"`
}

// HandIterator lazily walks the hands of one episode date, following the
// next-URL chain. Upstream failures end the iteration cleanly; Err reports
// whether the end was an exhausted chain or a fault.
type HandIterator struct {
	client  *Client
	nextURL string
	buf     []Hand
	seq     int
	done    bool
	err     error
}

// HandsForDate returns an iterator over the hands of the given episode date.
func (c *Client) HandsForDate(organizer, event, date string, limit int) *HandIterator {
	first := fmt.Sprintf("%s/v1/solver/power_ranking/organizers/%s/events/%s/episodes/Ep%s/hands?limit=%d&offset=0",
		c.baseURL, url.PathEscape(organizer), url.PathEscape(event), date, limit)
	return &HandIterator{client: c, nextURL: first}
}

// Next returns the next (sequence, hand) pair. ok is false when the
// iteration is over; check Err to distinguish exhaustion from failure.
func (it *HandIterator) Next(ctx context.Context) (int, Hand, bool) {
	for !it.done && len(it.buf) == 0 {
		it.fetchPage(ctx)
	}
	if len(it.buf) == 0 {
		return 0, nil, false
	}
	h := it.buf[0]
	it.buf = it.buf[1:]
	seq := it.seq
	it.seq++
	return seq, h, true
}

// Err returns the fault that ended the iteration early, nil for a clean end.
// A 404 (date not yet published) counts as a clean end.
func (it *HandIterator) Err() error {
	return it.err
}

func (it *HandIterator) fetchPage(ctx context.Context) {
	if it.nextURL == "" {
		it.done = true
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, it.nextURL, nil)
	if err != nil {
		it.fail(fmt.Errorf("build hands request: %w", err))
		return
	}
	resp, err := it.client.http.Do(req)
	if err != nil {
		it.fail(fmt.Errorf("fetch hands page: %w", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Date not published yet; the driver retries on its next cycle.
		it.client.log.Info().Str("url", it.nextURL).Msg("date not yet available upstream")
		it.done = true
		it.nextURL = ""
		return
	}
	if resp.StatusCode != http.StatusOK {
		it.fail(fmt.Errorf("hands page returned %d", resp.StatusCode))
		return
	}

	var page handsPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		it.fail(fmt.Errorf("decode hands page: %w", err))
		return
	}

	it.buf = page.Results
	if page.Next != nil && *page.Next != "" {
		it.nextURL = *page.Next
	} else {
		it.nextURL = ""
	}
	if len(it.buf) == 0 && it.nextURL == "" {
		it.done = true
	}
}

// fail records the fault and ends the iteration; no retries here.
func (it *HandIterator) fail(err error) {
	it.client.log.Warn().Err(err).Msg("hand iteration ended early")
	it.err = err
	it.done = true
	it.nextURL = ""
}
