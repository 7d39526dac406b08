package mqtt

import (
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	paholog "github.com/eclipse/paho.golang/paho/log"
)

// logrLogger adapts a logr.Logger to paho's Println/Printf logger.
type logrLogger struct {
	l logr.Logger
}

var _ paholog.Logger = (*logrLogger)(nil)

// NewLogrLogger returns a paho logger that forwards to l at verbosity 0.
func NewLogrLogger(l logr.Logger) paholog.Logger {
	return &logrLogger{l: l}
}

func (p *logrLogger) Println(v ...interface{}) {
	p.l.Info(strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

func (p *logrLogger) Printf(format string, v ...interface{}) {
	p.l.Info(strings.TrimSuffix(fmt.Sprintf(format, v...), "\n"))
}
