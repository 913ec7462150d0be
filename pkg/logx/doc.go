// Package logx is tonic's structured logging: a small Logger value over
// zerolog and a Service that owns the sinks. Console output is key=value with
// a file:line caller; the file sink writes one JSON event per line.
package logx
