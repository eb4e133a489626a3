package main

import (
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// newLogger returns the process logger: zerolog on the console, exposed through
// the whatsmeow logger interface so the library and the bridge share one sink.
func newLogger(level string) waLog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime}).
		With().Timestamp().Logger()
	return waLog.Zerolog(zl)
}

// safeGo runs fn in its own goroutine and logs a panic instead of letting it
// take the process (and the HTTP server) down.
func safeGo(log waLog.Logger, name string, fn func()) {
	go func() {
		defer recoverTo(log, name)
		fn()
	}()
}

func recoverTo(log waLog.Logger, name string) {
	if r := recover(); r != nil {
		log.Errorf("💥 Panic in %s: %v\n%s", name, r, debug.Stack())
	}
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("%v", r)
}
