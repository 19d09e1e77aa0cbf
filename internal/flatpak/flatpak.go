// Package flatpak detects clients running inside a flatpak sandbox.
package flatpak

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

const fuseSuperMagic = 0x65735546

// Info is read from the .flatpak-info file of a sandboxed process.
type Info struct {
	AppID      string
	InstanceID string
	// Devices lists the device permissions, e.g. "all" or "dri".
	Devices []string
}

// HasDevice reports whether the sandbox grants access to device d.
func (i *Info) HasDevice(d string) bool {
	for _, x := range i.Devices {
		if x == d {
			return true
		}
	}
	return false
}

// Check inspects the root directory of process pid. It returns nil without
// error for processes on the host. A root that cannot be opened is an error,
// except when it lives on a FUSE file system, which a flatpak root never
// does.
func Check(pid int) (*Info, error) {
	return check(fmt.Sprintf("/proc/%d/root", pid))
}

func check(root string) (*Info, error) {
	rootFD, err := unix.Open(root, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_DIRECTORY|unix.O_CLOEXEC|unix.O_NOCTTY, 0)
	if err != nil {
		if errors.Is(err, unix.EACCES) {
			var st unix.Statfs_t
			if unix.Statfs(root, &st) == nil && uint32(st.Type) == fuseSuperMagic {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("opening %s: %w", root, err)
	}
	infoFD, err := unix.Openat(rootFD, ".flatpak-info", unix.O_RDONLY|unix.O_CLOEXEC|unix.O_NOCTTY, 0)
	unix.Close(rootFD)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening .flatpak-info: %w", err)
	}
	f := os.NewFile(uintptr(infoFD), ".flatpak-info")
	defer f.Close()

	info := &Info{}
	st, err := f.Stat()
	if err != nil || !st.Mode().IsRegular() {
		// an unreadable manifest still means sandboxed
		return info, nil
	}
	b := make([]byte, st.Size())
	if _, err := f.ReadAt(b, 0); err != nil && st.Size() > 0 {
		return info, nil
	}
	parse(b, info)
	return info, nil
}

// parse reads the keyfile sections the server is interested in.
func parse(b []byte, info *Info) {
	section := ""
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		if line[0] == '[' && line[len(line)-1] == ']' {
			section = line[1 : len(line)-1]
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		switch {
		case section == "Application" && key == "name":
			info.AppID = value
		case section == "Instance" && key == "instance-id":
			info.InstanceID = value
		case section == "Context" && key == "devices":
			for _, d := range strings.Split(value, ";") {
				if d != "" {
					info.Devices = append(info.Devices, d)
				}
			}
		}
	}
}
