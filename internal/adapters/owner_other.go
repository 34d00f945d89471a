//go:build !linux

package adapters

import "net/netip"

// ProcOwnerResolver is unsupported outside Linux; UIDFor always
// reports the owner as unresolved.
type ProcOwnerResolver struct{}

// NewProcOwnerResolver builds a no-op ports.OwnerResolver on non-Linux
// platforms, where /proc/net/{tcp,udp} does not exist.
func NewProcOwnerResolver() *ProcOwnerResolver {
	return &ProcOwnerResolver{}
}

// UIDFor implements ports.OwnerResolver.
func (r *ProcOwnerResolver) UIDFor(proto uint8, local, remote netip.AddrPort) int32 {
	return -1
}

// PackageNameResolver is unsupported outside Linux; PackageName always
// reports no match.
type PackageNameResolver struct{}

// NewPackageNameResolver builds a no-op ports.AppNameResolver on
// non-Linux platforms.
func NewPackageNameResolver() *PackageNameResolver {
	return &PackageNameResolver{}
}

// PackageName implements ports.AppNameResolver.
func (r *PackageNameResolver) PackageName(uid int32) (string, bool) {
	return "", false
}
