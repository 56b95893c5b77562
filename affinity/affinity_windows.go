//go:build windows

// File: affinity/affinity_windows.go
// Author: momentics <momentics@gmail.com>
//
// Windows-specific implementation for setting thread CPU affinity.

package affinity

import (
	"fmt"

	"golang.org/x/sys/windows"
)

func setAffinityPlatform(cpuID int) error {
	kernel32 := windows.NewLazySystemDLL("kernel32.dll")
	setMask := kernel32.NewProc("SetThreadAffinityMask")
	ret, _, err := setMask.Call(uintptr(windows.CurrentThread()), uintptr(1)<<cpuID)
	if ret == 0 {
		return fmt.Errorf("affinity: SetThreadAffinityMask cpu %d: %w", cpuID, err)
	}
	return nil
}
