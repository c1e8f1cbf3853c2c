package core

import (
	"encoding/json"

	"github.com/samber/lo"

	fhttp "github.com/searchktools/fast-dispatch/core/http"
	"github.com/searchktools/fast-dispatch/core/router"
)

// Stats is a snapshot of engine counters.
type Stats struct {
	Dispatches  uint64          `json:"dispatches"`
	RouteMisses uint64          `json:"route_misses"`
	Panics      uint64          `json:"panics"`
	Pool        fhttp.PoolStats `json:"pool"`
	Routes      []string        `json:"routes"`
}

// Stats returns a snapshot of dispatch and pool counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Dispatches:  e.dispatches.Load(),
		RouteMisses: e.misses.Load(),
		Panics:      e.panics.Load(),
		Pool:        e.pool.Stats(),
		Routes: lo.Map(e.router.Routes(), func(r *router.Route, _ int) string {
			return r.Method + " " + r.Pattern
		}),
	}
}

// StatsJSON returns the stats snapshot as indented JSON.
func (e *Engine) StatsJSON() string {
	data, _ := json.MarshalIndent(e.Stats(), "", "  ")
	return string(data)
}
