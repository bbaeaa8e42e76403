//go:build linux

package hostsfile

import "golang.org/x/sys/unix"

// securityLabeled reports whether path carries a security.* xattr, such as
// an SELinux context.
func securityLabeled(path string) bool {
	sz, err := unix.Listxattr(path, nil)
	if err != nil || sz <= 0 {
		return false
	}
	buf := make([]byte, sz)
	sz, err = unix.Listxattr(path, buf)
	if err != nil {
		return false
	}
	return hasSecurityAttr(buf[:sz])
}
