package courier

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"searchwatch/internal/search"
	"searchwatch/pkg/logx"
)

// FieldKind describes the expected type of a required delivery parameter.
type FieldKind string

const (
	FieldString FieldKind = "string"
	FieldNumber FieldKind = "number"
	FieldBool   FieldKind = "boolean"
)

// Delivery is one batch of results bound for one destination.
type Delivery struct {
	WorkspaceID   string
	SearchID      string
	SearchTitle   string
	UserID        string
	DestinationID string
	Parameters    map[string]any
	Results       []search.Result
}

// Callbacks receive the outcome of a delivery attempt. A courier calls
// exactly one of OnError or OnSuccess; OnWarning may fire any number of
// times beforehand and still counts the attempt as delivered. Nil
// callbacks are allowed.
type Callbacks struct {
	OnError   func(error)
	OnSuccess func()
	OnWarning func(string)
}

func (cb Callbacks) err(e error) {
	if cb.OnError != nil {
		cb.OnError(e)
	}
}

func (cb Callbacks) success() {
	if cb.OnSuccess != nil {
		cb.OnSuccess()
	}
}

func (cb Callbacks) warn(msg string) {
	if cb.OnWarning != nil {
		cb.OnWarning(msg)
	}
}

// Courier carries query results to one kind of destination. Implementations
// must be safe for concurrent Deliver calls.
type Courier interface {
	// Type is the tag matched against a destination's courier type.
	Type() string
	// DisplayName is the human-readable courier name for logs and UIs.
	DisplayName() string
	// RequiredFields lists the destination parameters this courier needs.
	RequiredFields() map[string]FieldKind
	// Deliver carries the batch and reports through cb.
	Deliver(ctx context.Context, d Delivery, cb Callbacks)
}

// Registry holds the installed couriers.
type Registry struct {
	mu       sync.RWMutex
	couriers []Courier
}

func NewRegistry(cs ...Courier) *Registry {
	r := &Registry{}
	r.Register(cs...)
	return r
}

func (r *Registry) Register(cs ...Courier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.couriers = append(r.couriers, cs...)
}

// Matching returns every courier whose type tag equals typeTag.
func (r *Registry) Matching(typeTag string) []Courier {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Courier
	for _, c := range r.couriers {
		if c.Type() == typeTag {
			out = append(out, c)
		}
	}
	return out
}

// Dispatcher routes deliveries to exactly one matching courier and smooths
// bursts with a per-destination rate limit. Zero or multiple matches are a
// routing failure reported through cb.OnError without attempting delivery.
type Dispatcher struct {
	reg *Registry
	log logx.Logger

	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewDispatcher builds a dispatcher allowing perMinute deliveries per
// destination. perMinute <= 0 disables limiting.
func NewDispatcher(reg *Registry, perMinute int, log logx.Logger) *Dispatcher {
	d := &Dispatcher{
		reg:      reg,
		log:      log,
		limit:    rate.Inf,
		burst:    1,
		limiters: make(map[string]*rate.Limiter),
	}
	if perMinute > 0 {
		d.limit = rate.Limit(float64(perMinute) / 60.0)
		d.burst = perMinute
	}
	return d
}

func (d *Dispatcher) limiter(destID string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	lim, ok := d.limiters[destID]
	if !ok {
		lim = rate.NewLimiter(d.limit, d.burst)
		d.limiters[destID] = lim
	}
	return lim
}

// Dispatch finds the single courier for typeTag and hands it the delivery.
func (d *Dispatcher) Dispatch(ctx context.Context, typeTag string, del Delivery, cb Callbacks) {
	matches := d.reg.Matching(typeTag)
	switch len(matches) {
	case 1:
	case 0:
		cb.err(fmt.Errorf("courier: no courier registered for type %q", typeTag))
		return
	default:
		cb.err(fmt.Errorf("courier: %d couriers registered for type %q, need exactly one", len(matches), typeTag))
		return
	}
	if err := d.limiter(del.DestinationID).Wait(ctx); err != nil {
		cb.err(fmt.Errorf("courier: rate wait for destination %q: %w", del.DestinationID, err))
		return
	}
	d.log.Debug("dispatching delivery",
		logx.String("type", typeTag),
		logx.String("destination", del.DestinationID),
		logx.String("search", del.SearchID),
		logx.Int("results", len(del.Results)))
	matches[0].Deliver(ctx, del, cb)
}
