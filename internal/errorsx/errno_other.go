//go:build !unix

package errorsx

// classifySyscallError returns the empty string because we only
// know how to classify errno values on unix systems.
func classifySyscallError(err error) string {
	return ""
}
