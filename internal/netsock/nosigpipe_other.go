//go:build unix && !darwin && !freebsd

package netsock

// setNoSigpipe is a no-op because this system lacks SO_NOSIGPIPE and
// the Go runtime ignores SIGPIPE for descriptors other than stdout and stderr.
func setNoSigpipe(fd int) error {
	return nil
}
