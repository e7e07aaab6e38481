// Copyright 2022 The gVisor Authors.
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

package log

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

type rateLimitedLogger struct {
	logger Logger
	limit  *rate.Limiter

	// dropped counts messages over the limit since the last one let through.
	dropped atomic.Int64
}

// allow reports whether a message may go out now. The message returned
// mentions how many were dropped before it.
func (rl *rateLimitedLogger) allow(format string, v []any) (string, []any, bool) {
	if !rl.limit.Allow() {
		rl.dropped.Add(1)
		return "", nil, false
	}
	if n := rl.dropped.Swap(0); n > 0 {
		return format + " (%d messages dropped)", append(v[:len(v):len(v)], n), true
	}
	return format, v, true
}

func (rl *rateLimitedLogger) Debugf(format string, v ...any) {
	if format, v, ok := rl.allow(format, v); ok {
		rl.logger.Debugf(format, v...)
	}
}

func (rl *rateLimitedLogger) Infof(format string, v ...any) {
	if format, v, ok := rl.allow(format, v); ok {
		rl.logger.Infof(format, v...)
	}
}

func (rl *rateLimitedLogger) Warningf(format string, v ...any) {
	if format, v, ok := rl.allow(format, v); ok {
		rl.logger.Warningf(format, v...)
	}
}

func (rl *rateLimitedLogger) IsLogging(level Level) bool {
	return rl.logger.IsLogging(level)
}

// BasicRateLimitedLogger returns a Logger that logs to the global logger no
// more than once per the provided duration.
func BasicRateLimitedLogger(every time.Duration) Logger {
	return RateLimitedLogger(Log(), every)
}

// RateLimitedLogger returns a Logger that logs to the provided logger no more
// than once per the provided duration. Messages over the limit are counted,
// and the next message logged reports the count.
func RateLimitedLogger(logger Logger, every time.Duration) Logger {
	return &rateLimitedLogger{
		logger: logger,
		limit:  rate.NewLimiter(rate.Every(every), 1),
	}
}
