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

// Package runner is the production types.Runner: a thin wrapper over
// os/exec that hands back combined stdout+stderr, the shape every
// caller in this module (lookPath, swapoff, sync, telinit) already
// expects.
package runner

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/suse-edge/takeover/pkg/types"
)

// Real shells out via os/exec.
type Real struct{}

var _ types.Runner = Real{}

func (Real) Run(command string, args ...string) ([]byte, error) {
	return Real{}.RunContext(context.Background(), command, args...)
}

func (Real) RunContext(ctx context.Context, command string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// Fake records every invocation and replays canned responses, keyed by
// command name, for tests that don't want a real subprocess.
type Fake struct {
	Responses map[string][]byte
	Errors    map[string]error
	Calls     [][]string
}

var _ types.Runner = (*Fake)(nil)

func NewFake() *Fake {
	return &Fake{Responses: map[string][]byte{}, Errors: map[string]error{}}
}

func (f *Fake) Run(command string, args ...string) ([]byte, error) {
	f.Calls = append(f.Calls, append([]string{command}, args...))
	return f.Responses[command], f.Errors[command]
}

func (f *Fake) RunContext(ctx context.Context, command string, args ...string) ([]byte, error) {
	return f.Run(command, args...)
}
