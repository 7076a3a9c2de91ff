package event

import "sort"

// Context is the per-emission scratch space shared by all handlers of one
// Emit call. Handlers use it to pass values down the chain and to queue
// follow-up events, which EmitRecursive processes once the chain finishes.
//
// A Context lives for exactly one emission and is never shared across
// goroutines, so it carries no locking.
type Context struct {
	values map[string]any
	queue  []Event
}

// NewContext creates an empty context.
func NewContext() *Context {
	return &Context{values: make(map[string]any)}
}

// Get returns the value stored under key.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Set stores value under key, replacing any previous value.
func (c *Context) Set(key string, value any) {
	c.values[key] = value
}

// Remove deletes key and returns the value it held.
func (c *Context) Remove(key string) (any, bool) {
	v, ok := c.values[key]
	if ok {
		delete(c.values, key)
	}
	return v, ok
}

// Contains returns true if key has a value.
func (c *Context) Contains(key string) bool {
	_, ok := c.values[key]
	return ok
}

// Keys returns the stored keys in sorted order.
func (c *Context) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored values.
func (c *Context) Len() int {
	return len(c.values)
}

// Emit queues an event for processing after the current chain completes.
func (c *Context) Emit(e Event) {
	if e.ID == "" {
		fresh := New(e.Type, e.Identifier, e.Payload)
		fresh.Source = e.Source
		fresh.Cancelled = e.Cancelled
		e = fresh
	}
	c.queue = append(c.queue, e)
}

// EmitCustom queues a user-defined event named name.
func (c *Context) EmitCustom(name string, payload any) {
	c.queue = append(c.queue, NewCustom(name, payload))
}

// Pending returns a copy of the queued events in FIFO order.
func (c *Context) Pending() []Event {
	if len(c.queue) == 0 {
		return nil
	}
	out := make([]Event, len(c.queue))
	copy(out, c.queue)
	return out
}

// take removes and returns the queued events.
func (c *Context) take() []Event {
	q := c.queue
	c.queue = nil
	return q
}
