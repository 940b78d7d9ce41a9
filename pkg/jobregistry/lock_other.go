//go:build !unix

package jobregistry

import "os"

func tryLock(*os.File) (bool, error) {
	return false, ErrUnsupportedPlatform
}

func unlock(*os.File) error {
	return nil
}
