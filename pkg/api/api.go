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

// Package api implements the external collaborators of spec.md §6: the
// cloud API client (version lookup, raw image download, reachability
// checks, device-type patch) and the VPN reachability probe. Out of
// scope per spec.md §1 ("standard glue"); this package exists so the
// Stage-1 controller's early checks and image acquisition have a real,
// wired implementation rather than a stub.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cavaliergopher/grab/v3"
	"github.com/cenkalti/backoff/v4"

	"github.com/suse-edge/takeover/pkg/migerr"
	"github.com/suse-edge/takeover/pkg/types"
)

// Client talks to the device-type/version/image API named in spec.md
// §6. Downloads go through cavaliergopher/grab with a cenkalti/backoff
// retry policy, the same pairing the retrieval pack's download-heavy
// examples use for flaky networks.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     types.Logger
}

func New(baseURL string, logger types.Logger) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Logger:     logger,
	}
}

// FetchLatestVersion asks the API for the newest published version of
// deviceType's image.
func (c *Client) FetchLatestVersion(ctx context.Context, deviceType string) (string, error) {
	url := fmt.Sprintf("%s/device-types/%s/latest", c.BaseURL, deviceType)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", migerr.Wrap(migerr.Invalid, err, "building latest-version request")
	}

	var version string
	op := func() error {
		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d fetching latest version", resp.StatusCode)
		}
		buf := make([]byte, 256)
		n, _ := resp.Body.Read(buf)
		version = string(buf[:n])
		return nil
	}

	if err := backoff.Retry(op, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)); err != nil {
		return "", migerr.Wrap(migerr.Upstream, err, "fetching latest version")
	}
	return version, nil
}

// DownloadRawImage downloads the raw disk image for deviceType/version
// to dest, per spec.md §4.5 ("the downloader is expected to fetch raw
// images per device type").
func (c *Client) DownloadRawImage(ctx context.Context, deviceType, version, dest string) error {
	url := fmt.Sprintf("%s/device-types/%s/versions/%s/image.raw.gz", c.BaseURL, deviceType, version)

	req, err := grab.NewRequest(dest, url)
	if err != nil {
		return migerr.Wrap(migerr.Invalid, err, "building download request")
	}
	req = req.WithContext(ctx)

	client := grab.NewClient()
	client.HTTPClient = c.HTTPClient

	resp := client.Do(req)
	if err := resp.Err(); err != nil {
		return migerr.Wrap(migerr.Upstream, err, fmt.Sprintf("downloading image for %s/%s", deviceType, version))
	}

	c.Logger.Infof("downloaded %s (%d bytes) to %s", url, resp.Size(), dest)
	return nil
}

// PingAPI reports whether the API base URL is reachable within timeout,
// one of the Stage-1 early checks of spec.md §4.7 step 1.
func (c *Client) PingAPI(ctx context.Context, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.BaseURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

// PingVPN reports whether host:port accepts a TCP connection within
// timeout, used as the VPN reachability check of spec.md §4.7 step 1.
func PingVPN(host string, port int, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// PatchDeviceType PATCHes the device's type slug, used by spec.md §4.9
// step 8 after --change-dt-to is honored.
func (c *Client) PatchDeviceType(ctx context.Context, uuid, newSlug, bearerToken string) error {
	url := fmt.Sprintf("%s/devices/%s", c.BaseURL, uuid)
	body := fmt.Sprintf(`{"device_type":%q}`, newSlug)

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, strings.NewReader(body))
	if err != nil {
		return migerr.Wrap(migerr.Invalid, err, "building device-type patch request")
	}
	req.Header.Set("Content-Type", "application/json")
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return migerr.Wrap(migerr.Upstream, err, "patching device type")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return migerr.New(migerr.Upstream, "device-type patch returned status %d", resp.StatusCode)
	}
	c.Logger.Infof("patched device %s to type %s", uuid, newSlug)
	return nil
}
