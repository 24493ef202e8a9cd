// Package kernel gates Linux-specific socket options that only exist on
// kernels newer than the module's floor, the way the wider example pack
// checks for tcp_info fields added in later kernels.
package kernel

import (
	"fmt"

	dockerkernel "github.com/docker/docker/pkg/parsers/kernel"
)

var current *dockerkernel.VersionInfo

func init() {
	v, err := dockerkernel.GetKernelVersion()
	if err != nil {
		// kernel version detection unsupported on this platform (e.g. a
		// container build host); treat every gated feature as absent.
		current = &dockerkernel.VersionInfo{}
		return
	}
	current = v
}

// AtLeast reports whether the running kernel is >= k.major.minor.
func AtLeast(k, major, minor int) bool {
	return dockerkernel.CompareKernelVersion(*current, dockerkernel.VersionInfo{Kernel: k, Major: major, Minor: minor}) >= 0
}

// String returns the detected kernel version, for diagnostic logging.
func String() string {
	return fmt.Sprintf("%d.%d.%d", current.Kernel, current.Major, current.Minor)
}
