package coordinator

import "os"

// setReadOnlyAttr toggles the owner-write bit on a local file. This is a
// soft deterrent only; conflict prevention lives in the remote lock table.
func setReadOnlyAttr(path string, readonly bool) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	mode := info.Mode()
	if readonly {
		mode &^= 0222
	} else {
		mode |= 0200
	}
	return os.Chmod(path, mode)
}
