// Package logger writes prefixed log lines through a background worker so that
// socket callbacks and HTTP handlers never block on stderr.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

const asyncBufferSize = 8192

// slowCall is the duration above which LogDuration reports at info level.
const slowCall = 100 * time.Millisecond

type level int

const (
	levelDebug level = iota
	levelInfo
	levelWarn
	levelError
)

var (
	mu       sync.RWMutex
	prefix   string
	logLevel = levelInfo
	levelSet bool

	ch   chan string
	once sync.Once
)

func parseLevel(s string) level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return levelDebug
	case "warn", "warning":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func initWorker() {
	mu.Lock()
	if !levelSet {
		logLevel = parseLevel(os.Getenv("LOG_LEVEL"))
	}
	mu.Unlock()
	ch = make(chan string, asyncBufferSize)
	go func() {
		for msg := range ch {
			log.Print(msg)
		}
	}()
}

func enqueue(lvl level, msg string) {
	once.Do(initWorker)
	mu.RLock()
	skip := lvl < logLevel
	mu.RUnlock()
	if skip {
		return
	}
	select {
	case ch <- msg:
	default:
		// buffer full, drop the line
	}
}

// SetPrefix sets the service tag printed in front of every line ("api", "push", "cli").
func SetPrefix(p string) {
	mu.Lock()
	prefix = p
	mu.Unlock()
}

// SetLevel overrides LOG_LEVEL (debug, info, warn, error).
func SetLevel(s string) {
	mu.Lock()
	logLevel = parseLevel(s)
	levelSet = true
	mu.Unlock()
}

func tag() string {
	mu.RLock()
	p := prefix
	mu.RUnlock()
	if p == "" {
		return ""
	}
	return "[" + p + "] "
}

func Info(v ...any) {
	enqueue(levelInfo, tag()+fmt.Sprint(v...))
}

func Infof(format string, v ...any) {
	enqueue(levelInfo, tag()+fmt.Sprintf(format, v...))
}

func Debugf(format string, v ...any) {
	enqueue(levelDebug, tag()+"DEBUG: "+fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	enqueue(levelWarn, tag()+"WARN: "+fmt.Sprintf(format, v...))
}

func Error(v ...any) {
	enqueue(levelError, tag()+"ERROR: "+fmt.Sprint(v...))
}

func Errorf(format string, v ...any) {
	enqueue(levelError, tag()+"ERROR: "+fmt.Sprintf(format, v...))
}

// LogDuration reports fn and its elapsed milliseconds. At info level only calls
// slower than 100ms are written; at debug level every call is.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	lvl := levelDebug
	if elapsed >= slowCall {
		lvl = levelInfo
	}
	enqueue(lvl, fmt.Sprintf("%sfn=%s duration_ms=%d", tag(), fn, elapsed.Milliseconds()))
}

// DeferLogDuration is meant for defer: defer logger.DeferLogDuration("Op", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
