//go:build !linux

package threads

func applyPriority(priority Priority) error {
	return nil
}
