//go:build !cuda

package device

// accelerators returns nothing when the binary is built without CUDA support.
func accelerators() []Device {
	return nil
}
