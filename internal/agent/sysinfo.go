package agent

import (
	"context"
	"net/netip"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"edgefleet.c2/internal/core/domain"
	"edgefleet.c2/internal/core/logger"
)

// collectDeviceInfo describes the host the agent runs on. Probes that fail
// leave their field empty; the architecture always comes from the runtime.
func collectDeviceInfo(ctx context.Context, deviceID string) domain.DeviceInfo {
	system := &domain.SystemInfo{MachineArch: runtime.GOARCH}
	network := &domain.NetworkInfo{DeviceID: deviceID}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		system.PhysicalMem = int64(vm.Total)
	} else {
		logger.Debug("Memory probe failed", "error", err)
	}

	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		system.VCores = int32(n)
	} else {
		system.VCores = int32(runtime.NumCPU())
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		network.Hostname = info.Hostname
	} else {
		logger.Debug("Host probe failed", "error", err)
	}

	if ifaces, err := gnet.InterfacesWithContext(ctx); err == nil {
		network.IPAddress = firstUnicastIP(ifaces)
	}

	return domain.DeviceInfo{
		Identifier:  deviceID,
		Name:        network.Hostname,
		SystemInfo:  system,
		NetworkInfo: network,
	}
}

// firstUnicastIP picks the first global unicast address, IPv4 preferred.
func firstUnicastIP(ifaces gnet.InterfaceStatList) string {
	var v6 string
	for _, iface := range ifaces {
		for _, a := range iface.Addrs {
			prefix, err := netip.ParsePrefix(a.Addr)
			if err != nil {
				continue
			}
			ip := prefix.Addr()
			if !ip.IsGlobalUnicast() {
				continue
			}
			if ip.Is4() {
				return ip.String()
			}
			if v6 == "" {
				v6 = ip.String()
			}
		}
	}
	return v6
}
