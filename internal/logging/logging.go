// Package logging defines the minimal logger shape every internal package
// accepts, mirroring the teacher's dcache.Logger so callers can plug in
// any logger (including the standard library's log.Logger) without a
// hard dependency on a particular logging framework.
package logging

type Logger interface {
	Printf(f string, args ...interface{})
}
