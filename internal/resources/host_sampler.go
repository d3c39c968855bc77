package resources

import (
	"fmt"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	"github.com/pranaysuyash/photo-search-sub010/pkg/decisionapi"
)

// hostSampler reads Linux /proc plus statfs. Fields it cannot determine stay
// zero rather than failing the whole sample.
type hostSampler struct {
	storagePath string
}

func (h *hostSampler) Sample() (decisionapi.ResourceSnapshot, error) {
	snap := decisionapi.ResourceSnapshot{
		CPUCount: runtime.NumCPU(),
	}

	totalMB, availMB, err := readMeminfo()
	if err != nil {
		return decisionapi.ResourceSnapshot{}, err
	}
	snap.TotalMemoryMB = totalMB
	snap.AvailableMemoryMB = availMB
	snap.CPUUtilization = cpuUtilizationPercent()

	if totalStorage, availStorage, err := storageMB(h.storagePath); err == nil {
		snap.TotalStorageMB = totalStorage
		snap.AvailableStorageMB = availStorage
	}
	snap.Network = networkQuality()
	return snap, nil
}

func readMeminfo() (totalMB, availMB int64, err error) {
	b, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0, 0, fmt.Errorf("read meminfo: %w", err)
	}
	var totalKB, availKB float64
	for _, line := range strings.Split(string(b), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			totalKB, _ = strconv.ParseFloat(fields[1], 64)
		case "MemAvailable:":
			availKB, _ = strconv.ParseFloat(fields[1], 64)
		}
	}
	if totalKB <= 0 {
		return 0, 0, fmt.Errorf("meminfo missing MemTotal")
	}
	return int64(totalKB / 1024), int64(availKB / 1024), nil
}

// Linux loadavg-based estimate normalized by CPU cores.
func cpuUtilizationPercent() float64 {
	b, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}
	parts := strings.Fields(string(b))
	if len(parts) == 0 {
		return 0
	}
	v, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0
	}
	cpus := float64(runtime.NumCPU())
	if cpus <= 0 {
		cpus = 1
	}
	pct := (v / cpus) * 100.0
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct
}

func storageMB(path string) (totalMB, availMB int64, err error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	bsize := int64(st.Bsize)
	total := int64(st.Blocks) * bsize / (1024 * 1024)
	avail := int64(st.Bavail) * bsize / (1024 * 1024)
	return total, avail, nil
}

// networkQuality is a cheap local read: a non-loopback address means online.
// Bandwidth and latency are not probed here; they stay at conservative
// defaults so scoring treats remote backends cautiously when offline.
func networkQuality() decisionapi.NetworkQuality {
	q := decisionapi.NetworkQuality{Reliability: 1.0}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return q
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ipNet.IP.To4() != nil || ipNet.IP.To16() != nil {
			q.Online = true
			break
		}
	}
	return q
}
