//go:build cuda

package device

import (
	"gorgonia.org/cu"
)

// accelerators enumerates CUDA devices through the driver API. Probe failures
// mean "no accelerator", never a hard error.
func accelerators() []Device {
	n, err := cu.NumDevices()
	if err != nil || n == 0 {
		return nil
	}

	devices := make([]Device, 0, n)
	for i := 0; i < n; i++ {
		dev := cu.Device(i)
		name, err := dev.Name()
		if err != nil {
			continue
		}
		d := Device{Kind: CUDA, Index: i, Name: name}
		if total, err := dev.TotalMem(); err == nil {
			d.Memory = uint64(total)
		}
		devices = append(devices, d)
	}
	return devices
}
