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

package stage1

import (
	"context"
	"encoding/json"

	"github.com/hashicorp/go-multierror"
	"github.com/jaypipes/ghw"

	"github.com/suse-edge/takeover/pkg/api"
	"github.com/suse-edge/takeover/pkg/block"
	"github.com/suse-edge/takeover/pkg/migerr"
	"github.com/suse-edge/takeover/pkg/netconfig"
	"github.com/suse-edge/takeover/pkg/types"
)

// EarlyChecks runs every independent Stage-1 validation of spec.md §4.7
// step 1 and accumulates all failures with go-multierror, so an operator
// sees every problem in one run instead of fixing them one at a time.
// Any failure here aborts Stage 1 before anything destructive happens.
func (c *Controller) EarlyChecks(ctx context.Context, opts types.StageOptions, disks []*types.BlockDevice) error {
	var result *multierror.Error

	if err := c.checkConfigBlob(opts.ConfigBlobPath); err != nil {
		result = multierror.Append(result, err)
	}

	flashDisk, err := c.checkFlashDevice(opts.FlashDevice, disks)
	if err != nil {
		result = multierror.Append(result, err)
	}

	if opts.LogToDevice != "" {
		if err := c.checkLogDevice(opts.LogToDevice, flashDisk, disks); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if !opts.Skips.APICheck {
		if !c.API.PingAPI(ctx, opts.CheckTimeout) {
			result = multierror.Append(result, migerr.New(migerr.Upstream, "API at %s unreachable within %s", c.API.BaseURL, opts.CheckTimeout))
		}
	}

	if !opts.Skips.VPNCheck && c.VPNHost != "" {
		if !api.PingVPN(c.VPNHost, c.VPNPort, opts.CheckTimeout) {
			result = multierror.Append(result, migerr.New(migerr.Upstream, "VPN endpoint %s:%d unreachable within %s", c.VPNHost, c.VPNPort, opts.CheckTimeout))
		}
	}

	if !opts.Skips.OSCheck {
		if err := c.checkRunningOSRecognized(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if !opts.Skips.DTCheck {
		if err := c.checkHardwareCompatible(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if !opts.Skips.NwmgrCheck {
		files, err := netconfig.EmitNwmgrFiles(opts.Wifis, opts.NwmgrConfigs)
		if err != nil {
			result = multierror.Append(result, err)
		} else if !netconfig.AtLeastOneConfigured(files) {
			result = multierror.Append(result, migerr.New(migerr.Invalid, "no network configuration would exist on the new OS"))
		}
	}

	return result.ErrorOrNil()
}

func (c *Controller) checkConfigBlob(path string) error {
	data, err := c.Fs.ReadFile(path)
	if err != nil {
		return migerr.Wrap(migerr.NotFound, err, "reading config blob")
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return migerr.Wrap(migerr.Invalid, err, "config blob does not parse as JSON")
	}
	return nil
}

func (c *Controller) checkFlashDevice(dev string, disks []*types.BlockDevice) (*types.BlockDevice, error) {
	for _, d := range disks {
		if d.Device == dev {
			return d, nil
		}
	}
	return nil, migerr.New(migerr.NotFound, "flash device %s is not a known whole disk", dev)
}

func (c *Controller) checkLogDevice(logDev string, flashDisk *types.BlockDevice, disks []*types.BlockDevice) error {
	var part *types.Partition
	var parentDisk string
	for _, d := range disks {
		for _, p := range d.Partitions {
			if p.Device == logDev {
				part = p
				parentDisk = d.Device
			}
		}
	}
	if err := block.ValidateLogDevice(part); err != nil {
		return migerr.Wrap(migerr.Invalid, err, "validating log device")
	}
	if flashDisk != nil && block.SameParentDisk(parentDisk, flashDisk.Device) {
		return migerr.New(migerr.Invalid, "log device %s shares parent disk %s with flash device", logDev, parentDisk)
	}
	return nil
}

func (c *Controller) checkRunningOSRecognized() error {
	if _, err := c.Fs.ReadFile("/etc/os-release"); err != nil {
		return migerr.Wrap(migerr.NotFound, err, "running OS not recognized: no /etc/os-release")
	}
	return nil
}

// checkHardwareCompatible probes CPU and memory via jaypipes/ghw, the
// hardware inventory library the pack ships for exactly this kind of
// compatibility gate, and rejects machines with fewer resources than
// the migration itself requires to run safely.
func (c *Controller) checkHardwareCompatible() error {
	cpuInfo, err := ghw.CPU()
	if err != nil {
		return migerr.Wrap(migerr.Upstream, err, "probing CPU info")
	}
	if cpuInfo.TotalCores < 1 {
		return migerr.New(migerr.Invalid, "no usable CPU cores reported")
	}

	memInfo, err := ghw.Memory()
	if err != nil {
		return migerr.Wrap(migerr.Upstream, err, "probing memory info")
	}
	if memInfo.TotalPhysicalBytes <= 0 {
		return migerr.New(migerr.Invalid, "no usable physical memory reported")
	}
	return nil
}
