package vcrypto

import (
	"runtime"
	"sync"

	"golang.org/x/sys/cpu"
)

// Capabilities reports which hardware acceleration the runtime's crypto
// primitives will use. This is read-only, initialize-once, read-many
// process-wide state (§9 "Global state"), grounded on the teacher's C++
// original_source hardware_features.cpp/hardware_crypto.cpp — Go's
// golang.org/x/crypto already selects the fast path internally, so this
// type only surfaces the choice for diagnostics/logging, it does not
// re-implement SIMD dispatch.
type Capabilities struct {
	AESNI       bool
	ARMCrypto   bool
	Arch        string
}

var (
	capsOnce sync.Once
	caps     Capabilities
)

// DetectCapabilities returns the process-wide capability snapshot,
// computing it once.
func DetectCapabilities() Capabilities {
	capsOnce.Do(func() {
		caps = Capabilities{
			Arch: runtime.GOARCH,
		}
		switch runtime.GOARCH {
		case "amd64":
			caps.AESNI = cpu.X86.HasAES && cpu.X86.HasSSE41
		case "arm64":
			caps.ARMCrypto = cpu.ARM64.HasAES
		}
	})
	return caps
}
