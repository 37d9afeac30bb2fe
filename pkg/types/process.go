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

package types

import "fmt"

// ProcessEntry is one row of the process table built by pkg/procinv, as
// described in spec.md §3/§4.3. OpenFiles only lists descriptors that
// resolve onto the filesystem of interest (the doomed root); building
// the full fd list for every process is unnecessary and wasteful.
type ProcessEntry struct {
	PID        int
	Command    string
	Exe        string // resolved /proc/<pid>/exe target, "" if unresolvable
	State      string // informational only, from /proc/<pid>/stat field 3
	OpenFiles  []string
	ExeOnDoomedFS bool
}

// String renders one line of the formatted process table required by
// spec.md §4.3 to be logged before the kill loop runs.
func (p ProcessEntry) String() string {
	return fmt.Sprintf("%6d %-4s %-32s exe=%s fds=%d", p.PID, p.State, p.Command, p.Exe, len(p.OpenFiles))
}
