package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Event is one verified webhook delivery.
type Event struct {
	Name       string
	Action     string
	DeliveryID string
	Payload    []byte
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v interface{}) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Name, err)
	}
	return nil
}

type HandlerFunc func(ctx context.Context, event Event) error

type route struct {
	event  string
	action string
}

// Router maps (event, action) pairs to handlers. It is filled once at startup
// and only read afterwards.
type Router struct {
	routes map[route]HandlerFunc
}

func NewRouter() *Router {
	return &Router{routes: make(map[route]HandlerFunc)}
}

// Register binds a handler. Registering the same pair twice panics, since it
// can only be a wiring mistake.
func (r *Router) Register(event, action string, handler HandlerFunc) {
	key := route{event: event, action: action}
	if _, exists := r.routes[key]; exists {
		panic(fmt.Sprintf("webhook route %s.%s registered twice", event, action))
	}
	r.routes[key] = handler
}

func (r *Router) Lookup(event, action string) (HandlerFunc, bool) {
	handler, ok := r.routes[route{event: event, action: action}]
	return handler, ok
}

// Routes lists the registered pairs as "event.action", sorted.
func (r *Router) Routes() []string {
	out := make([]string, 0, len(r.routes))
	for key := range r.routes {
		out = append(out, key.event+"."+key.action)
	}
	sort.Strings(out)
	return out
}
