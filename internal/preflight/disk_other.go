//go:build !unix

package preflight

// MinDiskSpaceBytes is the minimum required free disk space (100MB).
const MinDiskSpaceBytes = 100 * 1024 * 1024

// CheckDiskSpace is not implemented on this platform and always warns.
func (c *Checker) CheckDiskSpace(_ string) CheckResult {
	return CheckResult{
		Name:    "disk_space",
		Status:  StatusWarn,
		Message: "free space check not supported on this platform",
	}
}
