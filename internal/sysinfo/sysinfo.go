// Package sysinfo collects host metadata and resource usage for host beacons.
package sysinfo

import (
	"fmt"
	"math"
	"net"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"eumbeacon/internal/beacon"
)

// SystemInfo holds all collected system information.
type SystemInfo struct {
	MACAddress    string
	IPAddress     string
	Hostname      string
	OSName        string
	Kernel        string
	Arch          string
	CPUModel      string
	CPUCores      int
	CPUPercent    float64
	MemoryGB      float64
	MemoryPercent float64
	Load1         float64
	DiskPercent   float64
}

// Collect gathers local system information. When networkRange is a CIDR,
// the address reported is the first interface address inside it.
func Collect(networkRange string) (*SystemInfo, error) {
	var subnet *net.IPNet
	if networkRange != "" {
		_, n, err := net.ParseCIDR(networkRange)
		if err != nil {
			return nil, fmt.Errorf("parsing network range %s: %w", networkRange, err)
		}
		subnet = n
	}

	macAddr, ipAddr, err := getPrimaryNetworkInfo(subnet)
	if err != nil {
		return nil, fmt.Errorf("reading interfaces: %w", err)
	}
	if subnet != nil && ipAddr == "" {
		return nil, fmt.Errorf("no interface address in %s", networkRange)
	}

	hostname, _ := os.Hostname()
	osName, kernel := getOSInfo()

	info := &SystemInfo{
		MACAddress: macAddr,
		IPAddress:  ipAddr,
		Hostname:   hostname,
		OSName:     osName,
		Kernel:     kernel,
		Arch:       runtime.GOARCH,
		CPUCores:   runtime.NumCPU(),
	}

	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
	}
	// Zero interval compares against the previous call, so the first sample is 0.
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		info.CPUPercent = round2(pct[0])
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		info.MemoryGB = round2(float64(memInfo.Total) / (1024 * 1024 * 1024))
		info.MemoryPercent = round2(memInfo.UsedPercent)
	}

	if avg, err := load.Avg(); err == nil {
		info.Load1 = round2(avg.Load1)
	}

	if usage, err := disk.Usage(rootPath()); err == nil {
		info.DiskPercent = round2(usage.UsedPercent)
	}

	return info, nil
}

// Record converts the snapshot into a host metrics record stamped with now.
func (s *SystemInfo) Record(now time.Time) *beacon.HostMetrics {
	return &beacon.HostMetrics{
		Timestamp:     now.UnixMilli(),
		Hostname:      s.Hostname,
		IPAddress:     s.IPAddress,
		MACAddress:    s.MACAddress,
		OS:            s.OSName,
		Kernel:        s.Kernel,
		Arch:          s.Arch,
		CPUModel:      s.CPUModel,
		CPUCores:      s.CPUCores,
		CPUPercent:    s.CPUPercent,
		MemoryGB:      s.MemoryGB,
		MemoryPercent: s.MemoryPercent,
		Load1:         s.Load1,
		DiskPercent:   s.DiskPercent,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func rootPath() string {
	if runtime.GOOS == "windows" {
		return `C:\`
	}
	return "/"
}

// getPrimaryNetworkInfo returns the MAC and IP address of the first usable
// non-loopback interface, restricted to subnet when it is non-nil.
func getPrimaryNetworkInfo(subnet *net.IPNet) (string, string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", "", err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		if ip := pickAddress(addrs, subnet); ip != "" {
			return iface.HardwareAddr.String(), ip, nil
		}
	}

	return "", "", nil
}

// pickAddress prefers IPv4, then non link-local IPv6.
func pickAddress(addrs []net.Addr, subnet *net.IPNet) string {
	var fallback string
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if subnet != nil && !subnet.Contains(ipNet.IP) {
			continue
		}
		if ipNet.IP.To4() != nil {
			return ipNet.IP.String()
		}
		if fallback == "" && !ipNet.IP.IsLinkLocalUnicast() {
			fallback = ipNet.IP.String()
		}
	}
	return fallback
}

// getOSInfo retrieves OS name and kernel version.
func getOSInfo() (string, string) {
	var osName, kernel string

	hostInfo, err := host.Info()
	if err == nil {
		osName = hostInfo.Platform
		if hostInfo.PlatformVersion != "" {
			osName += " " + hostInfo.PlatformVersion
		}
		kernel = hostInfo.KernelVersion
	} else {
		osName = runtime.GOOS
	}

	if runtime.GOOS == "linux" {
		if prettyName := readOSReleasePrettyName("/etc/os-release"); prettyName != "" {
			osName = prettyName
		}
	}

	return osName, kernel
}

// readOSReleasePrettyName parses an os-release file for the PRETTY_NAME field.
func readOSReleasePrettyName(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		if val, ok := strings.CutPrefix(line, "PRETTY_NAME="); ok {
			return strings.Trim(val, "\"")
		}
	}
	return ""
}
