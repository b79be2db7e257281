// Package metrics provides the Prometheus registry shared by railhub
// components.
//
// Components define their own metric structs and register them through
// Registry.Registerer. Passing a nil registerer to a component disables its
// metrics, which keeps tests free of global state.
package metrics
