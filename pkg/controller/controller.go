package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/raterudder/chargeplan/pkg/growatt"
	"github.com/raterudder/chargeplan/pkg/log"
	"github.com/raterudder/chargeplan/pkg/publish"
	"github.com/raterudder/chargeplan/pkg/schedule"
	"github.com/raterudder/chargeplan/pkg/types"
)

var ErrMissingCredentials = errors.New("missing growatt credentials")

// Pusher writes a schedule to an inverter through an authenticated session.
type Pusher interface {
	SetTimes(ctx context.Context, target types.DeviceTarget, decision types.ScheduleDecision) error
}

// LoginFunc opens a new authenticated session.
type LoginFunc func(ctx context.Context, username, password string) (Pusher, error)

// Request is a single optimize-and-push run for a site.
type Request struct {
	SiteID      string
	Series      types.HourlySeries
	Target      types.DeviceTarget
	Credentials types.Credentials
	DryRun      bool
	Paused      bool

	// LoginBlocked stops the run before logging in, e.g. while backing off
	// after rejected credentials.
	LoginBlocked error
}

// Controller optimizes a day's series, publishes the display values and
// pushes the schedule to the inverter.
type Controller struct {
	publisher publish.Publisher
	login     LoginFunc
	metrics   *metrics
	now       func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithLoginFunc replaces the growatt session factory.
func WithLoginFunc(fn LoginFunc) Option {
	return func(c *Controller) {
		c.login = fn
	}
}

// WithClock overrides the run timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// GrowattLogin returns a LoginFunc that logs into the Growatt portal.
func GrowattLogin(opts ...growatt.Option) LoginFunc {
	return func(ctx context.Context, username, password string) (Pusher, error) {
		c, err := growatt.WithLogin(ctx, username, password, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Configured sets up the growatt flags and returns a Controller.
func Configured(publisher publish.Publisher, reg prometheus.Registerer) *Controller {
	baseURL := lflag.String("growatt-url", growatt.DefaultBaseURL, "Base URL of the Growatt portal")
	timeout := lflag.Duration("growatt-timeout", growatt.DefaultTimeout, "Timeout for each request to the Growatt portal")

	c, err := New(publisher, reg)
	if err != nil {
		panic(fmt.Sprintf("failed to create controller: %v", err))
	}

	lflag.Do(func() {
		c.login = GrowattLogin(growatt.WithBaseURL(*baseURL), growatt.WithTimeout(*timeout))
	})
	return c
}

// New creates a Controller publishing to publisher and registering metrics on
// reg. A nil reg uses the default registerer.
func New(publisher publish.Publisher, reg prometheus.Registerer, opts ...Option) (*Controller, error) {
	m, err := newMetrics(reg)
	if err != nil {
		return nil, err
	}
	c := &Controller{
		publisher: publisher,
		login:     GrowattLogin(),
		metrics:   m,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ConfigCharge optimizes req.Series, publishes the display values and pushes
// the windows to req.Target. Only an unusable series is returned as an error.
// Every other outcome, including push failures, is reported in the returned
// run.
func (c *Controller) ConfigCharge(ctx context.Context, req Request) (types.ScheduleRun, error) {
	ctx = log.WithAttrs(ctx, slog.String("siteID", req.SiteID))

	decision, err := schedule.Optimize(req.Series)
	if err != nil {
		c.metrics.observe(req.SiteID, types.RunResultFailed, nil)
		return types.ScheduleRun{}, err
	}

	now := c.now()
	run := types.ScheduleRun{
		Timestamp:  now,
		Series:     req.Series,
		Decision:   decision,
		ChargeTime: decision.ChargeTime(),
		LoadTime:   decision.LoadTime(),
		Target:     req.Target,
		DryRun:     req.DryRun,
		Paused:     req.Paused,
	}
	log.Ctx(ctx).InfoContext(
		ctx,
		"computed schedule",
		slog.String("chargeTime", run.ChargeTime),
		slog.String("loadTime", run.LoadTime),
	)

	// published before pushing so the values survive a failed push
	if c.publisher != nil {
		display := types.Display{ChargeTime: run.ChargeTime, LoadTime: run.LoadTime, Timestamp: now}
		if err := c.publisher.Publish(ctx, req.SiteID, display); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to publish display values", slog.Any("error", err))
		}
	}

	run.Result, err = c.push(ctx, req, decision)
	if err != nil {
		run.Error = err.Error()
		log.Ctx(ctx).ErrorContext(ctx, "failed to push schedule", slog.String("result", string(run.Result)), slog.Any("error", err))
	} else {
		log.Ctx(ctx).InfoContext(ctx, "schedule run finished", slog.String("result", string(run.Result)))
	}

	c.metrics.observe(req.SiteID, run.Result, &decision)
	return run, nil
}

func (c *Controller) push(ctx context.Context, req Request, decision types.ScheduleDecision) (types.RunResult, error) {
	if req.Paused {
		log.Ctx(ctx).InfoContext(ctx, "site paused, skipping push")
		return types.RunResultSkipped, nil
	}
	if req.DryRun {
		log.Ctx(ctx).InfoContext(ctx, "dry run, skipping push")
		return types.RunResultSkipped, nil
	}

	if req.LoginBlocked != nil {
		return types.RunResultFailed, req.LoginBlocked
	}

	pusher, err := c.session(ctx, req.Credentials)
	if err != nil {
		if errors.Is(err, growatt.ErrAuthenticationFailed) {
			return types.RunResultAuthFailed, err
		}
		return types.RunResultFailed, err
	}

	if err := pusher.SetTimes(ctx, req.Target, decision); err != nil {
		if errors.Is(err, growatt.ErrUpdateRejected) {
			return types.RunResultUpdateRejected, err
		}
		return types.RunResultFailed, fmt.Errorf("failed to set times: %w", err)
	}
	return types.RunResultPushed, nil
}

func (c *Controller) session(ctx context.Context, creds types.Credentials) (Pusher, error) {
	g := creds.Growatt
	if g == nil || g.Username == "" || g.Password == "" {
		return nil, ErrMissingCredentials
	}
	pusher, err := c.login(ctx, g.Username, g.Password)
	if err != nil {
		if errors.Is(err, growatt.ErrAuthenticationFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to login: %w", err)
	}
	return pusher, nil
}

// VerifyCredentials logs in once without pushing anything. A rejection is
// returned as growatt.ErrAuthenticationFailed.
func (c *Controller) VerifyCredentials(ctx context.Context, creds types.Credentials) error {
	_, err := c.session(ctx, creds)
	return err
}
