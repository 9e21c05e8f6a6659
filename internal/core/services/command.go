// Command parsing for the control plane encoded in a query name, per
// SPEC_FULL.md §4.F/§6. No teacher analogue exists for this grammar (the
// teacher's DNSRepository is a real zone store with a separate management
// API); the "classify by splitting the name, branch on keyword" shape is
// grounded on skyleaworlder-DNS-Relay.go's and
// onoffswitchrespiratorycenter178-beacon's classify-then-dispatch pattern
// (see DESIGN.md).
package services

import (
	"net"
	"strconv"
	"strings"

	"github.com/netrelay/dnsrelay/internal/core/domain"
)

// Sentinel addresses the command channel answers with, per SPEC_FULL.md §6.
var (
	sentinelOK       = net.IPv4(1, 1, 1, 1)
	sentinelFail     = net.IPv4(0, 0, 0, 0)
	sentinelShutdown = net.IPv4(88, 88, 88, 88)
)

// scalarSentinel encodes a small non-negative integer as 0.0.0.N, the
// readback form SPEC_FULL.md §4.F specifies for "debug level N" and similar
// scalar settings.
func scalarSentinel(n int) net.IP {
	if n < 0 {
		n = 0
	}
	if n > 255 {
		n = 255
	}
	return net.IPv4(0, 0, 0, byte(n))
}

// mustFromLocal is the set of settings honoured only when the request
// source is loopback (SPEC_FULL.md §4.F/§6).
var mustFromLocal = map[string]bool{"local": true, "debug": true, "ns": true}

// settingKeywords is the recognised set of non-domain command-channel
// leading keywords (SPEC_FULL.md §6); anything else is parsed as a domain.
var settingKeywords = map[string]bool{
	"command": true, "upperdns": true, "warning": true, "stop": true,
	"trace": true, "local": true, "debug": true, "ns": true,
}

// isCommandName reports whether name should be routed through the command
// channel instead of ordinary resolution: SPEC_FULL.md §4.F triggers on any
// name containing '='.
func isCommandName(name string) bool {
	return strings.Contains(name, "=")
}

// splitCommand breaks a command-channel name into its key and up to two
// '='-separated arguments (the "ns=<name>=<ip>" two-argument form).
func splitCommand(name string) (key string, args []string) {
	parts := strings.SplitN(name, "=", 3)
	return parts[0], parts[1:]
}

// runCommand executes the control-plane grammar of SPEC_FULL.md §4.F
// against a lower-cased, dot-trimmed query name and returns the answer to
// send. It never blocks: writes to durable storage are handed off to the
// caller to perform asynchronously.
func (s *Server) runCommand(name string, src *net.UDPAddr) (ip net.IP, stop bool, writeRecord *domain.Record, deleteRecord string, writeFilter *domain.Filter) {
	key, args := splitCommand(name)
	arg := ""
	if len(args) > 0 {
		arg = args[0]
	}

	if mustFromLocal[key] && (src == nil || !src.IP.IsLoopback()) {
		return sentinelFail, false, nil, "", nil
	}

	if settingKeywords[key] {
		switch key {
		case "command":
			if arg == "stop" {
				if !s.isLocalOnly() {
					return sentinelFail, false, nil, "", nil
				}
				return sentinelShutdown, true, nil, "", nil
			}
			return sentinelFail, false, nil, "", nil
		case "upperdns":
			if arg == "?" {
				return s.upstreamIPForReadback(), false, nil, "", nil
			}
			if err := s.setUpstream(arg); err != nil {
				return sentinelFail, false, nil, "", nil
			}
			return sentinelOK, false, nil, "", nil
		case "warning":
			if arg == "?" {
				if host := s.filters.WarningHost(); host != nil {
					return host, false, nil, "", nil
				}
				return sentinelFail, false, nil, "", nil
			}
			ipArg := net.ParseIP(arg)
			if ipArg == nil {
				return sentinelFail, false, nil, "", nil
			}
			s.filters.SetWarningHost(ipArg)
			return sentinelOK, false, nil, "", nil
		case "stop":
			if arg == "?" {
				if host := s.filters.StopHost(); host != nil {
					return host, false, nil, "", nil
				}
				return sentinelFail, false, nil, "", nil
			}
			ipArg := net.ParseIP(arg)
			if ipArg == nil {
				return sentinelFail, false, nil, "", nil
			}
			s.filters.SetStopHost(ipArg)
			return sentinelOK, false, nil, "", nil
		case "trace":
			if arg == "?" {
				return net.ParseIP(s.filters.TraceHost()), false, nil, "", nil
			}
			s.filters.SetTraceHost(arg)
			return sentinelOK, false, nil, "", nil
		case "local":
			if arg == "?" {
				if s.isLocalOnly() {
					return scalarSentinel(1), false, nil, "", nil
				}
				return scalarSentinel(0), false, nil, "", nil
			}
			s.setLocalOnly(arg == "true" || arg == "1")
			return sentinelOK, false, nil, "", nil
		case "debug":
			if arg == "?" {
				return scalarSentinel(int(s.debugLevel.Load())), false, nil, "", nil
			}
			n, err := strconv.Atoi(arg)
			if err != nil {
				return sentinelFail, false, nil, "", nil
			}
			s.debugLevel.Store(int32(n))
			return sentinelOK, false, nil, "", nil
		case "ns":
			if arg == "?" {
				return s.nsIPSnapshot(), false, nil, "", nil
			}
			if len(args) < 2 {
				return sentinelFail, false, nil, "", nil
			}
			ipArg := net.ParseIP(args[1])
			if ipArg == nil {
				return sentinelFail, false, nil, "", nil
			}
			s.setNS(arg, ipArg)
			return sentinelOK, false, nil, "", nil
		}
	}

	// Domain-style command: <domain>=<ipv4> | <domain>=? | <domain>=<filter>.
	if arg == "" {
		return nil, false, nil, "", nil
	}
	if arg == "?" {
		mode, _ := s.filters.Get(key)
		return scalarSentinel(int(mode)), false, nil, "", nil
	}
	if ipArg := net.ParseIP(arg); ipArg != nil && ipArg.To4() != nil {
		rec := domain.Record{Domain: key, IPv4: ipArg.To4(), TTL: DefaultTTL}
		s.records.Put(rec)
		return ipArg, false, &rec, "", nil
	}
	if mode, ok := domain.ParseFilterMode(arg); ok {
		s.filters.Put(key, mode)
		f := domain.Filter{Domain: key, Mode: mode}
		return sentinelOK, false, nil, "", &f
	}
	return nil, false, nil, "", nil
}
