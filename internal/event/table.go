package event

import (
	"sort"

	"github.com/dshills/ember/internal/pattern"
)

// entry is a registered handler with its compiled pattern and registration
// sequence number.
type entry struct {
	handler Handler
	pattern pattern.Pattern
	seq     uint64
}

// table is an immutable snapshot of the registered handlers.
// Writers build a new table and swap it in; readers never lock.
type table struct {
	byName map[string]*entry

	// byType holds entries per event type in dispatch order:
	// ascending priority, then registration sequence.
	byType map[Type][]*entry
}

var emptyTable = &table{
	byName: map[string]*entry{},
	byType: map[Type][]*entry{},
}

// with returns a copy of t with e inserted, replacing any entry of the same name.
func (t *table) with(e *entry) *table {
	return t.replace(nil, []*entry{e})
}

// without returns a copy of t with the named entry removed.
// The copy is made even when the name is absent.
func (t *table) without(name string) *table {
	return t.replace([]string{name}, nil)
}

// replace returns a copy of t without the named entries and with add
// inserted. An added entry replaces any entry of the same name; when add
// repeats a name the last one wins.
func (t *table) replace(remove []string, add []*entry) *table {
	drop := make(map[string]bool, len(remove)+len(add))
	for _, name := range remove {
		drop[name] = true
	}
	for _, e := range add {
		drop[e.handler.Name] = true
	}

	next := &table{
		byName: make(map[string]*entry, len(t.byName)+len(add)),
		byType: make(map[Type][]*entry, len(t.byType)),
	}
	for n, e := range t.byName {
		if !drop[n] {
			next.byName[n] = e
		}
	}
	for typ, list := range t.byType {
		kept := make([]*entry, 0, len(list))
		for _, e := range list {
			if !drop[e.handler.Name] {
				kept = append(kept, e)
			}
		}
		if len(kept) > 0 {
			next.byType[typ] = kept
		}
	}

	touched := make(map[Type]bool)
	for i := len(add) - 1; i >= 0; i-- {
		e := add[i]
		if _, dup := next.byName[e.handler.Name]; dup {
			continue
		}
		next.byName[e.handler.Name] = e
		next.byType[e.handler.Type] = append(next.byType[e.handler.Type], e)
		touched[e.handler.Type] = true
	}
	for typ := range touched {
		sortEntries(next.byType[typ])
	}
	return next
}

// match returns the enabled entries for e in dispatch order.
func (t *table) match(e Event) []*entry {
	list := t.byType[e.Type]
	if len(list) == 0 {
		return nil
	}
	out := make([]*entry, 0, len(list))
	for _, en := range list {
		if en.handler.Enabled && en.pattern.Match(e.Identifier) {
			out = append(out, en)
		}
	}
	return out
}

// all returns every entry ordered by type declaration, then dispatch order.
func (t *table) all() []*entry {
	out := make([]*entry, 0, len(t.byName))
	for _, typ := range Types {
		out = append(out, t.byType[typ]...)
	}
	return out
}

func sortEntries(list []*entry) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].handler.Priority != list[j].handler.Priority {
			return list[i].handler.Priority < list[j].handler.Priority
		}
		return list[i].seq < list[j].seq
	})
}
