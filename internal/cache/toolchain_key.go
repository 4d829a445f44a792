// Package cache implements the toolchain-keyed derived-data and
// package-resolution caches: directory layout, advisory locking, and LRU
// eviction. There is exactly one cache module in this repo; the upstream
// split between a worker-level cache package and a standalone cache crate
// is collapsed here into one tree (see DESIGN.md open question 1).
package cache

import (
	"strings"
)

// ToolchainKey identifies the build environment a cache entry belongs to.
// Every cache directory this package creates is namespaced by a
// ToolchainKey's DirName so no two toolchains can ever share cached state
// (spec property P7).
type ToolchainKey struct {
	XcodeBuild string
	MacOSMajor string
	Arch       string
}

// NewToolchainKey derives a ToolchainKey from a full macOS version string,
// keeping only the major component (e.g. "15.3.1" -> "15").
func NewToolchainKey(xcodeBuild, macosVersion, arch string) ToolchainKey {
	major := macosVersion
	if i := strings.IndexByte(macosVersion, '.'); i >= 0 {
		major = macosVersion[:i]
	}
	return ToolchainKey{XcodeBuild: xcodeBuild, MacOSMajor: major, Arch: arch}
}

// DirName renders the key as a filesystem-safe directory name:
// xcode_<build>__macos_<major>__<arch>, lowercase, with every character
// outside [a-z0-9-] replaced by '_'.
func (k ToolchainKey) DirName() string {
	return "xcode_" + sanitize(k.XcodeBuild) + "__macos_" + sanitize(k.MacOSMajor) + "__" + sanitize(k.Arch)
}

func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r - 'A' + 'a')
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
