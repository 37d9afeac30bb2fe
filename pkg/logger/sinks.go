/*
Copyright © 2022 - 2024 SUSE LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package logger

import (
	"bytes"
	"os"
	"sync"

	"github.com/suse-edge/takeover/pkg/types"
)

// DeviceSink opens the external Stage-2 log partition (spec.md §4.9 step
// 1, "external log_dev if configured") and writes every log line to it.
// It never reads the device; Stage-1 already validated its filesystem
// type and that it does not overlap flash_dev.
type DeviceSink struct {
	f *os.File
}

func OpenDeviceSink(path string) (*DeviceSink, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}
	return &DeviceSink{f: f}, nil
}

func (d *DeviceSink) Write(p []byte) (int, error) { return d.f.Write(p) }
func (d *DeviceSink) Close() error                { return d.f.Close() }

// RAMSink buffers log output in memory. Used when no log_dev is
// configured; §9's --fallback-log flushes it to the new data partition
// after the flash completes, the only point a write target exists.
type RAMSink struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func NewRAMSink(maxBytes int) *RAMSink {
	return &RAMSink{max: maxBytes}
}

func (r *RAMSink) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf.Write(p)
	if r.max > 0 && r.buf.Len() > r.max {
		// Keep the most recent bytes; a wedged Stage-2 worker's last
		// moments matter more than its first.
		overflow := r.buf.Len() - r.max
		trimmed := r.buf.Bytes()[overflow:]
		r.buf.Reset()
		r.buf.Write(trimmed)
	}
	return len(p), nil
}

// Flush writes the buffered log to path on fs, typically the well-known
// location the new OS scans on first boot.
func (r *RAMSink) Flush(fs types.FS, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fs.WriteFile(path, r.buf.Bytes(), 0o644)
}
