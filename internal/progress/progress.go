// Package progress defines the sink that installer components report to.
//
// The sink replaces the global window state of a GUI installer: status
// text, a percentage (or an indeterminate "busy" indicator), and a log.
// Pump is the cooperative-yield hook. Long-running operations call it
// after every buffered read, every progress update and every poll tick
// so a host event loop stays responsive.
package progress

import "fmt"

// Sink receives progress reports. Implementations must not block for
// long; all calls happen on the installer's single thread of control.
type Sink interface {
	Status(text string)
	Percent(pct int)
	Indeterminate(on bool)
	Log(line string)
	Pump()
}

// Logf formats a log line and sends it to the sink.
func Logf(s Sink, format string, args ...interface{}) {
	s.Log(fmt.Sprintf(format, args...))
}

// Nop discards every report.
type Nop struct{}

func (Nop) Status(string)      {}
func (Nop) Percent(int)        {}
func (Nop) Indeterminate(bool) {}
func (Nop) Log(string)         {}
func (Nop) Pump()              {}

type multi []Sink

// Multi fans every call out to all sinks in order.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

func (m multi) Status(text string) {
	for _, s := range m {
		s.Status(text)
	}
}

func (m multi) Percent(pct int) {
	for _, s := range m {
		s.Percent(pct)
	}
}

func (m multi) Indeterminate(on bool) {
	for _, s := range m {
		s.Indeterminate(on)
	}
}

func (m multi) Log(line string) {
	for _, s := range m {
		s.Log(line)
	}
}

func (m multi) Pump() {
	for _, s := range m {
		s.Pump()
	}
}

type pumped struct {
	Sink
	pump func()
}

// WithPump returns a sink whose Pump calls fn after the wrapped sink's Pump.
func WithPump(s Sink, fn func()) Sink {
	return pumped{Sink: s, pump: fn}
}

func (p pumped) Pump() {
	p.Sink.Pump()
	if p.pump != nil {
		p.pump()
	}
}

// Clamp limits a percentage to 0..100.
func Clamp(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
