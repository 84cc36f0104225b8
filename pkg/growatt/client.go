// Package growatt talks to the Growatt cloud portal (server.growatt.com) to
// change the AC charge/discharge periods of a mix inverter.
//
// The portal has no documented API. A session is a cookie jar populated by a
// form login; the device a later update applies to is selected by cookies,
// not by the request body.
package growatt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/raterudder/chargeplan/pkg/common"
	"github.com/raterudder/chargeplan/pkg/log"
	"github.com/raterudder/chargeplan/pkg/types"
)

const (
	// DefaultBaseURL is the public Growatt portal.
	DefaultBaseURL = "https://server.growatt.com"

	// DefaultTimeout applies when no http client is given.
	DefaultTimeout = 30 * time.Second

	loginPath  = "login"
	tcpSetPath = "tcpSet.do"
)

var (
	// ErrAuthenticationFailed means the portal answered the login with a non-2xx status.
	ErrAuthenticationFailed = errors.New("growatt login rejected")
	// ErrUpdateRejected means the portal answered tcpSet.do with a non-2xx status.
	ErrUpdateRejected = errors.New("growatt update rejected")
	// ErrNotAuthenticated is returned when SetTimes is called before a successful Login.
	ErrNotAuthenticated = errors.New("growatt session not authenticated")
)

// Client is one authenticated (or not yet authenticated) portal session.
// Each Client owns its cookie jar; create one per logical session.
type Client struct {
	client  *http.Client
	baseURL string
	timeout time.Duration

	mu            sync.Mutex
	authenticated bool
}

// Option configures a Client.
type Option func(*Client) error

// WithBaseURL points the client at another portal host, e.g. a test server.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) error {
		if _, err := url.Parse(baseURL); err != nil {
			return fmt.Errorf("invalid growatt base url (%s): %w", baseURL, err)
		}
		c.baseURL = baseURL
		return nil
	}
}

// WithHTTPClient uses the given http client. If it has no cookie jar a copy
// with a fresh jar is used instead so the login session still sticks.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("nil http client")
		}
		c.client = hc
		return nil
	}
}

// WithTimeout sets the timeout of the default http client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.timeout = d
		return nil
	}
}

// New returns an unauthenticated session.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		baseURL: DefaultBaseURL,
		timeout: DefaultTimeout,
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}

	if c.client == nil {
		hc, err := common.SessionClient(c.timeout)
		if err != nil {
			return nil, err
		}
		c.client = hc
	} else if c.client.Jar == nil {
		session, err := common.SessionClient(c.client.Timeout)
		if err != nil {
			return nil, err
		}
		hc := *c.client
		hc.Jar = session.Jar
		c.client = &hc
	}
	return c, nil
}

// WithLogin creates a session and logs in. When the portal rejects the
// credentials the returned client is nil and the error is ErrAuthenticationFailed.
func WithLogin(ctx context.Context, username, password string, opts ...Option) (*Client, error) {
	c, err := New(opts...)
	if err != nil {
		return nil, err
	}
	if err := c.Login(ctx, username, password); err != nil {
		return nil, err
	}
	return c, nil
}

// Login posts the credentials to the portal. Session cookies from the
// response are kept in the client's jar.
func (c *Client) Login(ctx context.Context, username, password string) error {
	if username == "" {
		return errors.New("missing username")
	}
	if password == "" {
		return errors.New("missing password")
	}

	data := url.Values{}
	data.Set("account", username)
	data.Set("password", password)

	req, err := c.newPostFormRequest(ctx, loginPath, data)
	if err != nil {
		return err
	}

	ok, err := c.do(req)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "growatt login request failed", slog.Any("error", err))
		return fmt.Errorf("growatt login: %w", err)
	}
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "growatt login rejected", slog.String("username", username))
		return ErrAuthenticationFailed
	}

	c.mu.Lock()
	c.authenticated = true
	c.mu.Unlock()

	log.Ctx(ctx).DebugContext(ctx, "growatt login success", slog.String("username", username))
	return nil
}

// Authenticated reports whether Login succeeded on this session.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// SetTimes sets the AC charge start and the discharge start of the target
// inverter, both as hours 0-23.
func (c *Client) SetTimes(ctx context.Context, target types.DeviceTarget, decision types.ScheduleDecision) error {
	if !c.Authenticated() {
		return ErrNotAuthenticated
	}
	if err := validHour(decision.ChargeStartHour); err != nil {
		return fmt.Errorf("charge start: %w", err)
	}
	if err := validHour(decision.LoadStartHour); err != nil {
		return fmt.Errorf("load start: %w", err)
	}

	rc, err := NewRequestContext(target)
	if err != nil {
		return err
	}

	req, err := c.newPostFormRequest(ctx, tcpSetPath, chargeTimePeriodForm(target.DeviceSerial, decision))
	if err != nil {
		return err
	}
	rc.apply(req)

	log.Ctx(ctx).InfoContext(
		ctx,
		"pushing growatt charge schedule",
		slog.String("plantID", target.PlantID),
		slog.String("deviceSerial", target.DeviceSerial),
		slog.String("chargeTime", decision.ChargeTime()),
		slog.String("loadTime", decision.LoadTime()),
	)

	ok, err := c.do(req)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "growatt update request failed", slog.Any("error", err))
		return fmt.Errorf("growatt update: %w", err)
	}
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "growatt update rejected", slog.String("deviceSerial", target.DeviceSerial))
		return ErrUpdateRejected
	}
	return nil
}

func validHour(h int) error {
	if h < 0 || h > 23 {
		return fmt.Errorf("hour %d out of range", h)
	}
	return nil
}

func (c *Client) newPostFormRequest(ctx context.Context, endpoint string, data url.Values) (*http.Request, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, err
	}

	body := strings.NewReader(data.Encode())
	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

// do sends the request and reports whether the status was 2xx. The body is
// discarded; the portal's answers carry nothing we surface.
func (c *Client) do(req *http.Request) (bool, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}
