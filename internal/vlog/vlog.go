// Package vlog wraps logrus into the verifier's log-buffer/log-level
// model (spec.md §6 "a log buffer and log level"), mirroring the kernel
// verifier's BPF_LOG_LEVEL semantics: 0 is silent except for the final
// rejection line, 1 adds one line per analyzed instruction, 2 adds the
// full per-instruction register-state dump.
package vlog

import (
	"bytes"

	"github.com/sirupsen/logrus"
)

// Level mirrors the kernel's BPF_LOG_LEVEL1/2 bits.
type Level int

const (
	LevelSilent Level = iota
	LevelInsn
	LevelState
)

// Log is the per-verification logger: a logrus.Logger writing into an
// in-memory buffer (spec.md §6's "log buffer"), gated by Level.
type Log struct {
	level Level
	buf   *bytes.Buffer
	entry *logrus.Entry
}

// New returns a Log at the given level, formatting like the teacher's
// text-only disassembly output (no timestamps, no color) since the
// consumer is a verifier log, not an operator console.
func New(level Level) *Log {
	buf := &bytes.Buffer{}
	l := logrus.New()
	l.SetOutput(buf)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})
	switch {
	case level >= LevelState:
		l.SetLevel(logrus.TraceLevel)
	case level >= LevelInsn:
		l.SetLevel(logrus.DebugLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}
	return &Log{level: level, buf: buf, entry: logrus.NewEntry(l)}
}

// Level reports the log's configured verbosity.
func (lg *Log) Level() Level { return lg.level }

// Insn logs one line of per-instruction trace, gated at LevelInsn.
func (lg *Log) Insn(idx int, line string) {
	if lg.level < LevelInsn {
		return
	}
	lg.entry.WithField("insn", idx).Debug(line)
}

// State logs one line of per-instruction register/stack dump, gated at
// LevelState.
func (lg *Log) State(idx int, dump string) {
	if lg.level < LevelState {
		return
	}
	lg.entry.WithField("insn", idx).Trace(dump)
}

// Reject logs the final rejection line and offending instruction; always
// emitted regardless of level, matching the kernel's behavior of always
// printing the verifier's last message on failure.
func (lg *Log) Reject(idx int, msg string) {
	lg.entry.WithField("insn", idx).Info(msg)
}

// String returns the accumulated log buffer contents.
func (lg *Log) String() string { return lg.buf.String() }
