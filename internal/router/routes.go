package router

import (
	"fmt"
	"sort"
	"strings"
)

const (
	ProductsStream  = "kinesis.inventory.products"
	CustomersStream = "kinesis.inventory.customers"
)

type Route struct {
	DetailType string
	BusName    string
}

// Table maps a stream id to its route. It is built once at startup and is
// read-only afterwards.
type Table struct {
	routes map[string]Route
}

func NewTable(routes map[string]Route) (Table, error) {
	out := make(map[string]Route, len(routes))
	for stream, r := range routes {
		stream = strings.TrimSpace(stream)
		if stream == "" {
			return Table{}, fmt.Errorf("route with empty stream id")
		}
		if r.DetailType == "" {
			return Table{}, fmt.Errorf("route %q: detail type is empty", stream)
		}
		if r.BusName == "" {
			return Table{}, fmt.Errorf("route %q: bus name is empty", stream)
		}
		out[stream] = r
	}
	return Table{routes: out}, nil
}

// ReferenceRoutes returns the products/customers routes of the inventory deployment.
// A route whose bus name is empty is left out.
func ReferenceRoutes(productsBus, customersBus string) map[string]Route {
	out := make(map[string]Route, 2)
	if productsBus != "" {
		out[ProductsStream] = Route{DetailType: "ProductDataChangeEvent", BusName: productsBus}
	}
	if customersBus != "" {
		out[CustomersStream] = Route{DetailType: "CustomerDataChangeEvent", BusName: customersBus}
	}
	return out
}

// ParseRoutes parses "stream=DetailType:bus" pairs separated by commas.
func ParseRoutes(s string) (map[string]Route, error) {
	out := make(map[string]Route)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		stream, target, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("route %q: expected stream=DetailType:bus", part)
		}
		detailType, bus, ok := strings.Cut(target, ":")
		if !ok {
			return nil, fmt.Errorf("route %q: expected stream=DetailType:bus", part)
		}
		out[strings.TrimSpace(stream)] = Route{
			DetailType: strings.TrimSpace(detailType),
			BusName:    strings.TrimSpace(bus),
		}
	}
	return out, nil
}

func (t Table) Lookup(stream string) (Route, bool) {
	r, ok := t.routes[stream]
	return r, ok
}

func (t Table) Len() int { return len(t.routes) }

// Streams returns the configured stream ids in sorted order.
func (t Table) Streams() []string {
	out := make([]string, 0, len(t.routes))
	for s := range t.routes {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Buses returns the distinct destination bus names in sorted order.
func (t Table) Buses() []string {
	seen := make(map[string]struct{}, len(t.routes))
	out := make([]string, 0, len(t.routes))
	for _, r := range t.routes {
		if _, ok := seen[r.BusName]; ok {
			continue
		}
		seen[r.BusName] = struct{}{}
		out = append(out, r.BusName)
	}
	sort.Strings(out)
	return out
}
