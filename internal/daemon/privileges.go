package daemon

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"syscall"
)

// DropPrivileges switches the process to the given user and group, each a
// name or a numeric id. Empty values leave the corresponding id unchanged.
// Verification only needs read access to install roots, so watch mode
// should not keep root.
func DropPrivileges(userName, groupName string) error {
	if userName == "" && groupName == "" {
		return nil
	}

	uid, err := resolveUserID(userName)
	if err != nil {
		return err
	}
	gid, err := resolveGroupID(groupName)
	if err != nil {
		return err
	}

	if gid >= 0 {
		if err := syscall.Setgid(gid); err != nil {
			return fmt.Errorf("setgid %d: %w", gid, err)
		}
	}
	if uid >= 0 {
		if err := syscall.Setuid(uid); err != nil {
			return fmt.Errorf("setuid %d: %w", uid, err)
		}
	}
	return nil
}

// RunningAsRoot reports whether the effective user is root.
func RunningAsRoot() bool {
	return os.Geteuid() == 0
}

var (
	lookupUser  = user.Lookup
	lookupGroup = user.LookupGroup
)

func resolveUserID(value string) (int, error) {
	if value == "" {
		return -1, nil
	}
	if id, err := strconv.Atoi(value); err == nil && id >= 0 {
		return id, nil
	}
	u, err := lookupUser(value)
	if err != nil {
		return -1, fmt.Errorf("unknown user %q: %w", value, err)
	}
	return strconv.Atoi(u.Uid)
}

func resolveGroupID(value string) (int, error) {
	if value == "" {
		return -1, nil
	}
	if id, err := strconv.Atoi(value); err == nil && id >= 0 {
		return id, nil
	}
	g, err := lookupGroup(value)
	if err != nil {
		return -1, fmt.Errorf("unknown group %q: %w", value, err)
	}
	return strconv.Atoi(g.Gid)
}
