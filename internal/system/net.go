package system

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	ProcNetDev      = "/proc/net/dev"
	ProcNetWireless = "/proc/net/wireless"
)

type NetCounters struct {
	RxBytes  uint64 `json:"rx_bytes"`
	TxBytes  uint64 `json:"tx_bytes"`
	RxErrors uint64 `json:"rx_errors"`
	TxErrors uint64 `json:"tx_errors"`
}

// ReadNetCounters returns the byte and error counters of one interface from
// a /proc/net/dev formatted file.
func ReadNetCounters(path, iface string) (NetCounters, error) {
	f, err := os.Open(path)
	if err != nil {
		return NetCounters{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	lineNo := 0
	for s.Scan() {
		lineNo++
		if lineNo <= 2 {
			continue
		}
		name, rest, ok := strings.Cut(strings.TrimSpace(s.Text()), ":")
		if !ok || strings.TrimSpace(name) != iface {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) < 16 {
			return NetCounters{}, fmt.Errorf("short %s line for %s", path, iface)
		}
		vals, err := parseUints(fields[0], fields[2], fields[8], fields[10])
		if err != nil {
			return NetCounters{}, fmt.Errorf("parse %s counters: %w", iface, err)
		}
		return NetCounters{RxBytes: vals[0], RxErrors: vals[1], TxBytes: vals[2], TxErrors: vals[3]}, nil
	}
	if err := s.Err(); err != nil {
		return NetCounters{}, fmt.Errorf("scan %s: %w", path, err)
	}
	return NetCounters{}, fmt.Errorf("interface %s not found in %s", iface, path)
}

// ReadSignalLevel returns the signal level in dBm reported for iface by a
// /proc/net/wireless formatted file.
func ReadSignalLevel(path, iface string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	lineNo := 0
	for s.Scan() {
		lineNo++
		if lineNo <= 2 {
			continue
		}
		name, rest, ok := strings.Cut(strings.TrimSpace(s.Text()), ":")
		if !ok || strings.TrimSpace(name) != iface {
			continue
		}
		// status link level noise ...
		fields := strings.Fields(rest)
		if len(fields) < 3 {
			return 0, fmt.Errorf("short %s line for %s", path, iface)
		}
		level, err := strconv.ParseFloat(strings.TrimSuffix(fields[2], "."), 64)
		if err != nil {
			return 0, fmt.Errorf("parse %s signal level: %w", iface, err)
		}
		return int(level), nil
	}
	if err := s.Err(); err != nil {
		return 0, fmt.Errorf("scan %s: %w", path, err)
	}
	return 0, fmt.Errorf("interface %s not found in %s", iface, path)
}

func parseUints(raw ...string) ([]uint64, error) {
	out := make([]uint64, 0, len(raw))
	for _, r := range raw {
		v, err := strconv.ParseUint(r, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
