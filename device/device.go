// Package device picks the compute device a training run uses.
//
// Selection happens once at process start; the resulting Device is threaded
// through the trainer explicitly rather than kept in a package variable.
package device

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
	"github.com/shirou/gopsutil/v3/mem"
)

// Kind identifies the class of compute device
type Kind int

const (
	CPU Kind = iota
	CUDA
)

func (k Kind) String() string {
	switch k {
	case CPU:
		return "cpu"
	case CUDA:
		return "cuda"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Device describes the selected compute device
type Device struct {
	Kind     Kind
	Index    int
	Name     string
	Memory   uint64 // bytes
	Features []string
}

func (d Device) String() string {
	if d.Kind == CPU {
		return fmt.Sprintf("cpu (%s)", d.Name)
	}
	return fmt.Sprintf("%s:%d (%s)", d.Kind, d.Index, d.Name)
}

// IsAccelerator reports whether d is something other than the host CPU
func (d Device) IsAccelerator() bool {
	return d.Kind != CPU
}

// Select returns the first accelerator if one is available, else the CPU.
func Select() Device {
	if accels := accelerators(); len(accels) > 0 {
		return accels[0]
	}
	return HostCPU()
}

// HostCPU describes the processor the process runs on
func HostCPU() Device {
	name := strings.TrimSpace(cpuid.CPU.BrandName)
	if name == "" {
		name = runtime.GOARCH
	}

	d := Device{
		Kind:     CPU,
		Name:     name,
		Features: simdFeatures(),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		d.Memory = vm.Total
	}
	return d
}

// simdFeatures lists the vector extensions relevant to tensor kernels
func simdFeatures() []string {
	var out []string
	for _, f := range []cpuid.FeatureID{cpuid.SSE4, cpuid.AVX, cpuid.AVX2, cpuid.FMA3, cpuid.AVX512F, cpuid.ASIMD} {
		if cpuid.CPU.Supports(f) {
			out = append(out, f.String())
		}
	}
	return out
}
