// Package metrics defines and registers the orchestrator's Prometheus
// metrics (dataorch_* gauges, counters, and histograms covering node
// state, task outcomes, tick duration, zombie sweeps, and store
// contention) and exposes them over HTTP for scraping.
//
// Most gauges are set directly by the component that changes the value
// they track (pkg/scheduler.Tick sets the node-state gauges every tick;
// pkg/tasks increments task counters inline). Collector exists only for
// the one gauge with no natural trigger to re-derive it from: the
// task-state distribution, which it polls from the store on a fixed
// interval.
package metrics
