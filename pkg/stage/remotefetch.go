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

package stage

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bramvdbogaerde/go-scp"
	"github.com/bramvdbogaerde/go-scp/auth"
	"golang.org/x/crypto/ssh"

	"github.com/suse-edge/takeover/pkg/migerr"
)

// RemoteHelperSource names a vendor flashing helper binary staged on a
// lab host rather than shipped on the source OS's own filesystem, per
// spec.md §4.4's closure-copying step: some device types only carry
// their vendor flashing tool on a staging host, not on the brownfield
// machine being migrated.
type RemoteHelperSource struct {
	Host           string
	User           string
	PrivateKeyPath string
	RemotePath     string
}

// FetchRemoteHelper copies src.RemotePath from src.Host over SCP to
// localDest on the real filesystem, so it can be fed through
// CopyBinaryWithClosure like any other staged binary.
func FetchRemoteHelper(ctx context.Context, src RemoteHelperSource, localDest string) error {
	clientConfig, err := auth.PrivateKey(src.User, src.PrivateKeyPath, ssh.InsecureIgnoreHostKey())
	if err != nil {
		return migerr.Wrap(migerr.IO, err, "loading SSH private key for remote helper fetch")
	}

	client := scp.NewClient(src.Host, &clientConfig)
	if err := client.Connect(); err != nil {
		return migerr.Wrap(migerr.Upstream, err, fmt.Sprintf("connecting to %s for remote helper fetch", src.Host))
	}
	defer client.Close()

	f, err := os.Create(localDest)
	if err != nil {
		return migerr.Wrap(migerr.IO, err, fmt.Sprintf("creating %s", localDest))
	}
	defer f.Close()

	fetchCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	if err := client.CopyFromRemote(fetchCtx, f, src.RemotePath); err != nil {
		return migerr.Wrap(migerr.Upstream, err, fmt.Sprintf("copying %s from %s", src.RemotePath, src.Host))
	}
	return nil
}
