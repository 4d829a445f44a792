package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"

	"github.com/rch-lane/xcode-worker/internal/protocol"
)

// probeCapabilities best-effort shells out to xcodebuild/xcrun to report
// installed toolchains and simulator runtimes. On a non-macOS host, or one
// without Xcode installed, it degrades to empty lists rather than failing
// the probe op: a worker reporting zero capabilities is a valid (if
// useless) answer, not a protocol error.
func probeCapabilities(ctx context.Context, log *slog.Logger, maxConcurrentJobs, activeJobs int) protocol.Capabilities {
	caps := protocol.Capabilities{
		Arch: runtime.GOARCH,
		Capacity: protocol.Capacity{
			MaxConcurrentJobs: maxConcurrentJobs,
			ActiveJobs:        activeJobs,
		},
	}

	if runtime.GOOS != "darwin" {
		log.Warn("not running on darwin, reporting no xcode toolchains or simulators")
		return caps
	}

	if ver, build := swVers(ctx); ver != "" {
		caps.MacOSVersion = ver
		caps.MacOSBuild = build
	}

	if xc, err := probeXcode(ctx); err != nil {
		log.Warn("xcodebuild probe failed, reporting no toolchains", "error", err)
	} else {
		caps.Xcodes = xc
	}

	if sims, err := probeSimulators(ctx); err != nil {
		log.Warn("simctl probe failed, reporting no simulator runtimes", "error", err)
	} else {
		caps.Simulators = sims
	}

	return caps
}

func swVers(ctx context.Context) (version, build string) {
	out, err := exec.CommandContext(ctx, "sw_vers", "-productVersion").Output()
	if err != nil {
		return "", ""
	}
	version = trimNewline(out)
	if out, err := exec.CommandContext(ctx, "sw_vers", "-buildVersion").Output(); err == nil {
		build = trimNewline(out)
	}
	return version, build
}

// probeXcode runs xcodebuild -version and xcode-select -p to describe the
// currently selected toolchain. rch-xcode workers are assumed to have one
// active Xcode selection per host; multi-Xcode hosts report only the
// selected one (matching what xcodebuild would actually use).
func probeXcode(ctx context.Context) ([]protocol.XcodeInfo, error) {
	out, err := exec.CommandContext(ctx, "xcodebuild", "-version").Output()
	if err != nil {
		return nil, fmt.Errorf("xcodebuild -version: %w", err)
	}
	info := parseXcodebuildVersion(out)

	if path, err := exec.CommandContext(ctx, "xcode-select", "-p").Output(); err == nil {
		info.Path = trimNewline(path)
	}
	if swiftOut, err := exec.CommandContext(ctx, "xcrun", "swift", "-version").Output(); err == nil {
		info.SwiftVersion = parseSwiftVersion(swiftOut)
	}

	return []protocol.XcodeInfo{info}, nil
}

// parseXcodebuildVersion parses:
//
//	Xcode 15.4
//	Build version 15F31d
func parseXcodebuildVersion(out []byte) protocol.XcodeInfo {
	var info protocol.XcodeInfo
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Xcode "):
			info.Version = strings.TrimPrefix(line, "Xcode ")
		case strings.HasPrefix(line, "Build version "):
			info.Build = strings.TrimPrefix(line, "Build version ")
		}
	}
	return info
}

// parseSwiftVersion pulls the version token out of `swift-driver version:
// ... Swift version 5.10 ...`.
func parseSwiftVersion(out []byte) string {
	for _, line := range strings.Split(string(out), "\n") {
		idx := strings.Index(line, "Swift version ")
		if idx < 0 {
			continue
		}
		rest := line[idx+len("Swift version "):]
		return strings.TrimSpace(strings.SplitN(rest, " ", 2)[0])
	}
	return ""
}

// simctlRuntimeList mirrors the subset of `xcrun simctl list runtimes -j`'s
// JSON shape this worker cares about.
type simctlRuntimeList struct {
	Runtimes []struct {
		Identifier string `json:"identifier"`
		Version    string `json:"version"`
		Name       string `json:"name"`
		Platform   string `json:"platform"`
	} `json:"runtimes"`
}

func probeSimulators(ctx context.Context) ([]protocol.SimulatorRuntime, error) {
	out, err := exec.CommandContext(ctx, "xcrun", "simctl", "list", "runtimes", "-j").Output()
	if err != nil {
		return nil, fmt.Errorf("simctl list runtimes: %w", err)
	}
	var parsed simctlRuntimeList
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("decode simctl output: %w", err)
	}
	runtimes := make([]protocol.SimulatorRuntime, 0, len(parsed.Runtimes))
	for _, r := range parsed.Runtimes {
		platform := r.Platform
		if platform == "" {
			platform = r.Name
		}
		runtimes = append(runtimes, protocol.SimulatorRuntime{
			Identifier: r.Identifier,
			Version:    r.Version,
			Platform:   platform,
		})
	}
	return runtimes, nil
}

func trimNewline(b []byte) string {
	return strings.TrimRight(string(b), "\n")
}
