package utils

import (
	"bufio"
	"bytes"
	"errors"
	"net"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	routeTable  = "/proc/net/route"
	dmiUUIDPath = "/sys/class/dmi/id/product_uuid"
	cpuInfoPath = "/proc/cpuinfo"

	fallbackOnce sync.Once
	fallbackID   string
)

// HardwareID identifies this device to the gateway. Preference order: MAC of
// the default-route interface, platform hardware UUID, then a random UUID
// that stays stable for the life of the process.
func HardwareID() string {
	if mac, err := defaultRouteMAC(); err == nil {
		return mac
	}
	if ids, err := GetDeviceFingerprints(); err == nil && len(ids) > 0 {
		return ids[0]
	}
	fallbackOnce.Do(func() { fallbackID = uuid.NewString() })
	return fallbackID
}

func defaultRouteMAC() (string, error) {
	ifname, err := defaultInterface()
	if err != nil {
		return "", err
	}
	iface, err := net.InterfaceByName(ifname)
	if err != nil {
		return "", err
	}
	if len(iface.HardwareAddr) == 0 {
		return "", errors.New("interface " + ifname + " has no hardware address")
	}
	return iface.HardwareAddr.String(), nil
}

// defaultInterface returns the interface of the 0.0.0.0 destination route.
func defaultInterface() (string, error) {
	f, err := os.Open(routeTable)
	if err != nil {
		return "", err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		dest, err := strconv.ParseUint(fields[1], 16, 32)
		if err != nil {
			continue
		}
		if dest == 0 {
			return fields[0], nil
		}
	}
	return "", errors.New("no default route")
}

// GetDeviceFingerprints returns hardware UUIDs for the current device.
func GetDeviceFingerprints() ([]string, error) {
	switch runtime.GOOS {
	case "darwin":
		return getMacOSUUID()
	case "linux":
		return getLinuxUUID()
	case "windows":
		return getWindowsUUID()
	default:
		return nil, errors.New("unsupported platform: " + runtime.GOOS)
	}
}

func getMacOSUUID() ([]string, error) {
	out, err := exec.Command("ioreg", "-rd1", "-c", "IOPlatformExpertDevice").Output()
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, line := range strings.Split(string(out), "\n") {
		if strings.Contains(line, "IOPlatformUUID") {
			parts := strings.Split(line, "\"")
			if len(parts) >= 4 {
				ids = append(ids, parts[3])
			}
		}
	}
	if len(ids) == 0 {
		return nil, errors.New("no IOPlatformUUID found")
	}
	return ids, nil
}

func getLinuxUUID() ([]string, error) {
	if b, err := os.ReadFile(dmiUUIDPath); err == nil {
		if id := strings.TrimSpace(string(b)); id != "" {
			return []string{id}, nil
		}
	}
	// Boards without DMI (Raspberry Pi and friends) expose a CPU serial.
	if b, err := os.ReadFile(cpuInfoPath); err == nil {
		for _, line := range strings.Split(string(b), "\n") {
			if !strings.HasPrefix(line, "Serial") {
				continue
			}
			if _, v, ok := strings.Cut(line, ":"); ok {
				if id := strings.TrimSpace(v); id != "" {
					return []string{id}, nil
				}
			}
		}
	}
	return nil, errors.New("no hardware UUID found on Linux")
}

func getWindowsUUID() ([]string, error) {
	for _, args := range [][]string{{"csproduct", "get", "UUID"}, {"cpu", "get", "ProcessorId"}} {
		out, err := exec.Command("wmic", args...).Output()
		if err != nil {
			continue
		}
		for _, line := range bytes.Split(out, []byte("\n")) {
			s := strings.TrimSpace(string(line))
			if s != "" && !strings.EqualFold(s, args[2]) {
				return []string{s}, nil
			}
		}
	}
	return nil, errors.New("no hardware UUID found on Windows")
}
