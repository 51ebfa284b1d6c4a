package device

import (
	"errors"
	"fmt"
	"hash/crc32"
	"net"
	"os"
	"strings"
	"sync"
)

var (
	identityOnce sync.Once
	identityVal  string
)

// Identity returns "<prefix>-<8 hex>" derived from the hardware address of
// iface, falling back to /etc/machine-id. The first call wins for the process.
func Identity(prefix, iface string) string {
	identityOnce.Do(func() {
		hw, err := hardwareID(iface)
		if err != nil {
			hw = []byte("unknown-hardware")
		}
		identityVal = FormatIdentity(prefix, hw)
	})
	return identityVal
}

func FormatIdentity(prefix string, hw []byte) string {
	return fmt.Sprintf("%s-%08X", prefix, crc32.ChecksumIEEE(hw))
}

func hardwareID(iface string) ([]byte, error) {
	if iface != "" {
		if ifc, err := net.InterfaceByName(iface); err == nil && len(ifc.HardwareAddr) > 0 {
			return ifc.HardwareAddr, nil
		}
	}
	ifaces, err := net.Interfaces()
	if err == nil {
		for _, ifc := range ifaces {
			if ifc.Flags&net.FlagLoopback != 0 || len(ifc.HardwareAddr) == 0 {
				continue
			}
			return ifc.HardwareAddr, nil
		}
	}
	raw, err := os.ReadFile("/etc/machine-id")
	if err != nil {
		return nil, fmt.Errorf("read machine-id: %w", err)
	}
	id := strings.TrimSpace(string(raw))
	if id == "" {
		return nil, errors.New("empty machine-id")
	}
	return []byte(id), nil
}
