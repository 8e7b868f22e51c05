// Copyright 2026 The VMCore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log provides a leveled logging facade for the virtual memory
// subsystem, backed by logrus.
package log

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Level is a logging severity.
type Level uint32

// The set of levels, most to least severe.
const (
	// Warning indicates a problem that the caller may be able to recover
	// from, but that a human should know about.
	Warning Level = iota

	// Info is general operational notes.
	Info

	// Debug is verbose tracing, off by default.
	Debug
)

// Logger is the interface accepted throughout the subsystem. It deliberately
// has no error or fatal entry points: errors are returned, and invariant
// violations panic.
type Logger interface {
	// Debugf logs a debug-level message.
	Debugf(format string, v ...any)

	// Infof logs an info-level message.
	Infof(format string, v ...any)

	// Warningf logs a warning-level message.
	Warningf(format string, v ...any)

	// IsLogging returns true iff messages at the given level are emitted.
	IsLogging(level Level) bool
}

// logrusLogger adapts a logrus.FieldLogger to Logger.
type logrusLogger struct {
	entry *logrus.Entry
}

func (l *logrusLogger) Debugf(format string, v ...any) {
	l.entry.Debugf(format, v...)
}

func (l *logrusLogger) Infof(format string, v ...any) {
	l.entry.Infof(format, v...)
}

func (l *logrusLogger) Warningf(format string, v ...any) {
	l.entry.Warningf(format, v...)
}

func (l *logrusLogger) IsLogging(level Level) bool {
	switch level {
	case Warning:
		return l.entry.Logger.IsLevelEnabled(logrus.WarnLevel)
	case Info:
		return l.entry.Logger.IsLevelEnabled(logrus.InfoLevel)
	default:
		return l.entry.Logger.IsLevelEnabled(logrus.DebugLevel)
	}
}

// FromLogrus returns a Logger emitting through entry.
func FromLogrus(entry *logrus.Entry) Logger {
	return &logrusLogger{entry: entry}
}

// log is the global logger.
var log atomic.Pointer[Logger]

func init() {
	l := FromLogrus(logrus.NewEntry(logrus.StandardLogger()))
	log.Store(&l)
}

// Log returns the global logger.
func Log() Logger {
	return *log.Load()
}

// SetTarget replaces the global logger.
func SetTarget(l Logger) {
	log.Store(&l)
}

// Debugf logs a debug-level message to the global logger.
func Debugf(format string, v ...any) {
	Log().Debugf(format, v...)
}

// Infof logs an info-level message to the global logger.
func Infof(format string, v ...any) {
	Log().Infof(format, v...)
}

// Warningf logs a warning-level message to the global logger.
func Warningf(format string, v ...any) {
	Log().Warningf(format, v...)
}

// IsLogging returns true iff the global logger emits messages at the given
// level.
func IsLogging(level Level) bool {
	return Log().IsLogging(level)
}
