package gojajscontext

import (
	"github.com/joeycumines/logiface"
)

// logPrinter is the default console printer, writing console output to
// the adapter's logger.
type logPrinter struct {
	logger *logiface.Logger[logiface.Event]
}

func (p *logPrinter) Log(s string) {
	p.logger.Info().Str("source", "console").Log(s)
}

func (p *logPrinter) Warn(s string) {
	p.logger.Warning().Str("source", "console").Log(s)
}

func (p *logPrinter) Error(s string) {
	p.logger.Err().Str("source", "console").Log(s)
}
