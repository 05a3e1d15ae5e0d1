//go:build linux

package hardware

import "golang.org/x/sys/unix"

func memory() (totalMB, freeMB int, err error) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return 0, 0, err
	}
	unit := uint64(si.Unit)
	if unit == 0 {
		unit = 1
	}
	total := uint64(si.Totalram) * unit
	free := (uint64(si.Freeram) + uint64(si.Bufferram)) * unit
	return int(total >> 20), int(free >> 20), nil
}
