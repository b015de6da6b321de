// Package logging is a small leveled, colorized wrapper over the standard
// log package, adapted from the teacher's pkg/logger. The ASCII banner and
// Success/Section helpers are dropped — they belong to an application demo,
// not a transport core — but the level/color/timestamp machinery is kept
// and used by protocol, server, and client to report handshake failures,
// drops, and timeouts, never by returning an error the caller must print
// (spec.md §7's propagation policy).
package logging

import (
	"fmt"
	"log"
	"os"
	"time"
)

const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorWhite  = "\033[37m"
	ColorGray   = "\033[90m"
)

const (
	LevelDebug = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Logger is a minimal leveled logger. New returns one that logs at LevelInfo
// with timestamps shown; the zero value logs every level (LevelDebug) without
// timestamps.
type Logger struct {
	level      int
	timeFormat string
	showTime   bool
	prefix     string
}

// New builds a Logger that prefixes every line with name (e.g. a connection
// or endpoint label).
func New(name string) *Logger {
	return &Logger{level: LevelInfo, timeFormat: "15:04:05", showTime: true, prefix: name}
}

func (l *Logger) SetLevel(level int)         { l.level = level }
func (l *Logger) SetTimeFormat(format string) { l.timeFormat = format }
func (l *Logger) ShowTime(show bool)         { l.showTime = show }

func (l *Logger) formatMessage(color, levelName, message string) string {
	timestamp := ""
	if l.showTime {
		timestamp = fmt.Sprintf("%s[%s]%s ", ColorGray, time.Now().Format(l.timeFormat), ColorReset)
	}
	prefix := ""
	if l.prefix != "" {
		prefix = fmt.Sprintf("%s ", l.prefix)
	}
	return fmt.Sprintf("%s%s%s[%s]%s %s", timestamp, prefix, color, levelName, ColorReset, message)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	if l.level <= LevelDebug {
		log.Println(l.formatMessage(ColorGray, "DEBUG", fmt.Sprintf(format, args...)))
	}
}

func (l *Logger) Infof(format string, args ...interface{}) {
	if l.level <= LevelInfo {
		log.Println(l.formatMessage(ColorWhite, "INFO", fmt.Sprintf(format, args...)))
	}
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	if l.level <= LevelWarn {
		log.Println(l.formatMessage(ColorYellow, "WARN", fmt.Sprintf(format, args...)))
	}
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	if l.level <= LevelError {
		log.Println(l.formatMessage(ColorRed, "ERROR", fmt.Sprintf(format, args...)))
	}
}

func (l *Logger) Fatalf(format string, args ...interface{}) {
	log.Println(l.formatMessage(ColorRed, "FATAL", fmt.Sprintf(format, args...)))
	os.Exit(1)
}

var std = New("")

func Debugf(format string, args ...interface{}) { std.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { std.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { std.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { std.Errorf(format, args...) }
func SetLevel(level int)                        { std.SetLevel(level) }
