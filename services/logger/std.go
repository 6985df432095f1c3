// Package logsvc implements core.Logger.
package logsvc

import (
	"io"
	"log"

	"github.com/trezcool/lessonsync/core"
)

// Person identifies the API user an error happened for.
type Person struct {
	ID       string
	Username string
	Email    string
}

// StdLogger only writes to a *log.Logger (CLI, tests).
type StdLogger struct {
	std *log.Logger
}

var _ core.Logger = (*StdLogger)(nil)

func NewStdLogger(std *log.Logger) *StdLogger {
	return &StdLogger{std: std}
}

// NewNopLogger discards everything.
func NewNopLogger() *StdLogger {
	return &StdLogger{std: log.New(io.Discard, "", 0)}
}

func printStd(std *log.Logger, msg string, args []interface{}) {
	std.Println(msg)
	for _, arg := range args {
		if _, ok := arg.(Person); ok {
			continue
		}
		std.Printf("%+v\n", arg)
	}
}

func (l StdLogger) Debug(msg string, args ...interface{}) { printStd(l.std, msg, args) }
func (l StdLogger) Info(msg string, args ...interface{})  { printStd(l.std, msg, args) }
func (l StdLogger) Warn(msg string, args ...interface{})  { printStd(l.std, msg, args) }
func (l StdLogger) Error(msg string, args ...interface{}) { printStd(l.std, msg, args) }

func (l StdLogger) Fatal(msg string, args ...interface{}) {
	printStd(l.std, msg, args)
	l.std.Fatal(msg)
}
