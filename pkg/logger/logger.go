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

// Package logger provides the logrus-backed implementation of
// types.Logger used by both stages, plus the Stage-2 sinks of §4.9 step
// 1 and §9's open question about the two logging backends.
package logger

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/suse-edge/takeover/pkg/types"
)

// Logrus adapts a *logrus.Logger to types.Logger.
type Logrus struct {
	*logrus.Logger
}

var _ types.Logger = (*Logrus)(nil)

// New builds a Logrus logger at the given spec.md §6 level
// (error|warn|info|debug|trace), writing to w.
func New(level types.LogLevel, w io.Writer) (*Logrus, error) {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lg := &Logrus{Logger: l}
	if err := lg.SetLevel(string(level)); err != nil {
		return nil, err
	}
	return lg, nil
}

func (l *Logrus) SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	l.Logger.SetLevel(lvl)
	return nil
}

func (l *Logrus) SetOutput(w io.Writer) {
	l.Logger.SetOutput(w)
}
