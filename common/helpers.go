// Package common holds small helpers shared by the daemon and tools.
package common

import (
	"os/user"
	"time"

	humanize "github.com/dustin/go-humanize"
)

// IsRunningAsRoot reports whether the process runs as root, which /dev/i2c-* usually requires.
func IsRunningAsRoot() bool {
	usr, err := user.Current()
	return err == nil && usr.Username == "root"
}

// HumanizeAge describes t relative to now, e.g. "3 seconds ago". The zero time is "never".
func HumanizeAge(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}
