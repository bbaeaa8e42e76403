package hostsfile

import (
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pkg/errors"

	"example.com/ip-opt/internal/model"
)

const DefaultMarker = "# ip-opt managed hosts"

// DefaultHostnames are pinned to the winning address on every run.
var DefaultHostnames = []string{
	"github.com",
	"github.global.ssl.fastly.net",
	"assets-cdn.github.com",
}

// IoError reports a hosts file that could not be read or written.
type IoError struct {
	Op   string
	Path string
	Err  error
}

func (e *IoError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	if errors.Is(e.Err, fs.ErrPermission) && os.Geteuid() != 0 {
		msg += " (re-run with administrator or root privileges)"
	}
	return msg
}

func (e *IoError) Unwrap() error { return e.Err }

func DefaultHostsPath() string {
	return hostsPathFor(runtime.GOOS, os.Getenv)
}

func hostsPathFor(goos string, getenv func(string) string) string {
	if goos != "windows" {
		return "/etc/hosts"
	}
	root := getenv("SystemRoot")
	if root == "" {
		root = getenv("WINDIR")
	}
	if root == "" {
		root = `C:\Windows`
	}
	return strings.TrimRight(root, `\`) + `\System32\drivers\etc\hosts`
}

func Read(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", &IoError{Op: "read", Path: path, Err: err}
	}
	return string(b), nil
}

// Writer owns the managed block: the marker line followed by one entry
// per hostname, always placed at the end of the file.
type Writer struct {
	Hostnames []string
	Marker    string
}

func NewWriter(hostnames []string) *Writer {
	if len(hostnames) == 0 {
		hostnames = DefaultHostnames
	}
	return &Writer{
		Hostnames: append([]string(nil), hostnames...),
		Marker:    DefaultMarker,
	}
}

func (w *Writer) Mappings(ip string) []model.Mapping {
	ms := make([]model.Mapping, 0, len(w.Hostnames))
	for _, h := range w.Hostnames {
		ms = append(ms, model.Mapping{IP: ip, Domain: h})
	}
	return ms
}

func BuildManagedBlock(marker string, mappings []model.Mapping) string {
	var b strings.Builder
	b.WriteString(marker)
	b.WriteString("\n")
	for _, m := range mappings {
		ip := strings.TrimSpace(m.IP)
		d := strings.TrimSpace(m.Domain)
		if ip == "" || d == "" {
			continue
		}
		b.WriteString(ip)
		b.WriteString(" ")
		b.WriteString(d)
		b.WriteString("\n")
	}
	return b.String()
}

// Render drops blank lines, the marker and every line mentioning a managed
// hostname, then appends a fresh managed block. Other lines keep their order
// and text.
func (w *Writer) Render(existing, ip string) string {
	var kept []string
	for _, line := range splitLines(existing) {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || trimmed == w.Marker || w.mentionsManaged(trimmed) {
			continue
		}
		kept = append(kept, line)
	}

	var b strings.Builder
	if len(kept) > 0 {
		b.WriteString(strings.Join(kept, "\n"))
		b.WriteString("\n\n")
	}
	b.WriteString(BuildManagedBlock(w.Marker, w.Mappings(ip)))
	return b.String()
}

func (w *Writer) mentionsManaged(line string) bool {
	for _, h := range w.Hostnames {
		if h != "" && strings.Contains(line, h) {
			return true
		}
	}
	return false
}

// Preview returns what Apply would write without touching the file.
func (w *Writer) Preview(path, ip string) (string, error) {
	orig, err := Read(path)
	if err != nil {
		return "", err
	}
	return w.Render(orig, ip), nil
}

// Apply pins every managed hostname in the file at path to ip.
func (w *Writer) Apply(path, ip string) error {
	_, err := w.apply(path, ip, false)
	return err
}

// ApplyWithBackup saves the original content next to path before applying.
func (w *Writer) ApplyWithBackup(path, ip string) (backupPath string, err error) {
	return w.apply(path, ip, true)
}

func (w *Writer) apply(path, ip string, backup bool) (string, error) {
	if _, err := netip.ParseAddr(ip); err != nil {
		return "", errors.Wrapf(err, "invalid address %q", ip)
	}

	unlock, err := lockHosts(path)
	if err != nil {
		return "", &IoError{Op: "lock", Path: path, Err: err}
	}
	defer unlock()

	orig, err := Read(path)
	if err != nil {
		return "", err
	}
	next := w.Render(orig, ip)

	var backupPath string
	if backup {
		backupPath, err = backupFile(path, orig)
		if err != nil {
			return "", &IoError{Op: "backup", Path: path, Err: err}
		}
	}

	if err := replaceFile(path, []byte(next)); err != nil {
		return "", &IoError{Op: "write", Path: path, Err: err}
	}
	return backupPath, nil
}

func RestoreBackup(backupPath, hostsPath string) error {
	if strings.TrimSpace(backupPath) == "" {
		return errors.New("empty backup path")
	}
	b, err := os.ReadFile(backupPath)
	if err != nil {
		return &IoError{Op: "read", Path: backupPath, Err: err}
	}

	unlock, err := lockHosts(hostsPath)
	if err != nil {
		return &IoError{Op: "lock", Path: hostsPath, Err: err}
	}
	defer unlock()

	if err := replaceFile(hostsPath, b); err != nil {
		return &IoError{Op: "write", Path: hostsPath, Err: err}
	}
	return nil
}

// Lookup returns the addresses content maps hostname to, in file order.
func Lookup(content, hostname string) []string {
	var out []string
	for _, line := range splitLines(content) {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		for _, name := range fields[1:] {
			if strings.EqualFold(name, hostname) {
				out = append(out, fields[0])
				break
			}
		}
	}
	return out
}

// replaceFile swaps in the complete new content via a temp file and rename.
// Where that is impossible, such as a bind-mounted /etc/hosts, the content
// goes out in a single write.
func replaceFile(path string, content []byte) error {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		path = real
	}
	mode := os.FileMode(0644)
	if st, statErr := os.Stat(path); statErr == nil {
		mode = st.Mode().Perm()
	}

	// A rename would drop the SELinux label carried by the old inode.
	if !keepInode(path) {
		if err := renameInto(path, content, mode); err == nil {
			return nil
		}
	}
	return os.WriteFile(path, content, mode)
}

var keepInode = securityLabeled

// hasSecurityAttr reports whether a NUL-separated xattr name list holds a
// security.* attribute.
func hasSecurityAttr(names []byte) bool {
	for _, name := range strings.Split(string(names), "\x00") {
		if strings.HasPrefix(name, "security.") {
			return true
		}
	}
	return false
}

// lockHosts serializes writers on <path>.lock. If the directory cannot take
// that file, as with a read-only or bind-mounted /etc, the hosts file itself
// is locked.
func lockHosts(path string) (func(), error) {
	unlock, err := lockFile(path+".lock", true)
	if err == nil {
		return unlock, nil
	}
	if !cannotCreate(err) {
		return nil, err
	}
	return lockFile(path, false)
}

func renameInto(path string, content []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// backupFile stores content next to path under a name no earlier backup
// has taken, with the mode of the file it backs up.
func backupFile(path string, content string) (string, error) {
	mode := os.FileMode(0644)
	if st, err := os.Stat(path); err == nil {
		mode = st.Mode().Perm()
	}
	stem := fmt.Sprintf("%s.bak.%s", path, time.Now().Format("20060102_150405"))
	for i := 0; i < maxBackupsPerSecond; i++ {
		name := stem
		if i > 0 {
			name = fmt.Sprintf("%s.%d", stem, i)
		}
		f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		_, err = f.WriteString(content)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(name)
			return "", err
		}
		return name, nil
	}
	return "", errors.Errorf("no free backup name for %s", stem)
}

const maxBackupsPerSecond = 100

var newlines = strings.NewReplacer("\r\n", "\n", "\r", "\n")

func splitLines(s string) []string {
	return strings.Split(newlines.Replace(s), "\n")
}
