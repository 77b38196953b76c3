// Package delivery sends rendered alert notifications to external channels.
//
// A Router owns one Transport per channel type, throttles each type with a
// token bucket, bounds every transport call with a timeout, and reports the
// outcome in the Result shape the evaluation engine records.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tbourn/go-alerts-backend/internal/alerting/channels"
)

// Result statuses.
const (
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
	StatusThrottled = "throttled"
)

// ErrNoTransport is returned when no transport is registered for a type.
var ErrNoTransport = errors.New("no transport for channel type")

// Request is one dispatch of a rendered message to one configured channel.
type Request struct {
	ChannelType string
	Subject     string
	Message     string
	Target      string
	Targets     []string
	Metadata    map[string]any
	Template    string

	// IdempotencyKey is stable for one trigger on one channel; transports
	// forward it so receivers can drop replays.
	IdempotencyKey string

	// Context carries rule and event details for structured transports.
	Context map[string]any
}

// Result reports what happened to a Request.
type Result struct {
	Status    string         `json:"status"`
	Delivered int            `json:"delivered"`
	Failed    int            `json:"failed"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Dispatcher delivers requests. Transport failures are reported in the
// Result; the error is reserved for requests that could not be attempted.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) (Result, error)
}

// Transport sends a request to a single target. Channel types without
// targets are called once with an empty target.
type Transport interface {
	Send(ctx context.Context, req Request, target string) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req Request, target string) error

// Send implements Transport.
func (f TransportFunc) Send(ctx context.Context, req Request, target string) error {
	return f(ctx, req, target)
}

// RouterOptions tunes a Router. Zero values disable the matching limit.
type RouterOptions struct {
	Timeout time.Duration // per transport call
	RPS     float64       // per channel type
	Burst   int
}

// Router dispatches requests to registered transports.
type Router struct {
	opts RouterOptions

	mu         sync.Mutex
	transports map[string]Transport
	limiters   map[string]*rate.Limiter
}

// NewRouter returns an empty Router.
func NewRouter(opts RouterOptions) *Router {
	if opts.Burst < 1 {
		opts.Burst = 1
	}
	return &Router{
		opts:       opts,
		transports: make(map[string]Transport),
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Register binds t to channelType, replacing any earlier binding.
func (r *Router) Register(channelType string, t Transport) {
	key := strings.ToLower(channelType)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[key] = t
	if r.opts.RPS > 0 {
		r.limiters[key] = rate.NewLimiter(rate.Limit(r.opts.RPS), r.opts.Burst)
	}
}

// Types lists the registered channel types, sorted.
func (r *Router) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.transports))
	for k := range r.transports {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Dispatch implements Dispatcher.
func (r *Router) Dispatch(ctx context.Context, req Request) (Result, error) {
	key := strings.ToLower(req.ChannelType)
	r.mu.Lock()
	t, ok := r.transports[key]
	lim := r.limiters[key]
	r.mu.Unlock()

	targets := channels.NormalizeTargets(req.Target, req.Targets)
	if !ok {
		err := fmt.Errorf("%w %q", ErrNoTransport, req.ChannelType)
		return Result{Status: StatusFailed, Failed: max(len(targets), 1), Error: err.Error()}, err
	}
	if len(targets) == 0 {
		targets = []string{""}
	}

	if lim != nil {
		if err := lim.WaitN(ctx, min(len(targets), lim.Burst())); err != nil {
			return Result{
				Status:   StatusThrottled,
				Failed:   len(targets),
				Error:    "rate limited: " + err.Error(),
				Metadata: map[string]any{"targets": len(targets)},
			}, nil
		}
	}

	res := Result{Metadata: map[string]any{"targets": len(targets)}}
	var errs []string
	for _, target := range targets {
		if err := r.send(ctx, t, req, target); err != nil {
			res.Failed++
			errs = append(errs, err.Error())
			continue
		}
		res.Delivered++
	}

	res.Status = StatusDelivered
	if res.Failed > 0 {
		res.Status = StatusFailed
		res.Error = strings.Join(errs, "; ")
	}
	return res, nil
}

func (r *Router) send(ctx context.Context, t Transport, req Request, target string) (err error) {
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("transport panic: %v", p)
		}
	}()
	return t.Send(ctx, req, target)
}

// metaString reads a string metadata value.
func metaString(meta map[string]any, key string) string {
	if s, ok := meta[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
