// Package logx is the controller's structured logger, a thin layer over
// zerolog. Console lines are human-readable with a short caller, the file
// sink keeps JSON, and a Service swaps level and sinks on config reload.
package logx
