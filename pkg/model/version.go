package model

import (
	"fmt"
	"strconv"
	"strings"
)

// StoreVersion is the version of the on-disk store format written by this
// library. A namespace created by a newer major version is refused.
const StoreVersion = "1.0.0"

// CheckStoreVersion verifies that a store format version read from a
// manifest can be handled by the running library.
func CheckStoreVersion(version string) error {
	theirs, err := majorVersion(version)
	if err != nil {
		return err
	}
	ours, err := majorVersion(StoreVersion)
	if err != nil {
		return err
	}
	if theirs > ours {
		return fmt.Errorf("store version %s not supported, please update (supported: <= %s)",
			version, StoreVersion)
	}
	return nil
}

func majorVersion(version string) (int, error) {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) != 3 {
		return 0, fmt.Errorf("malformed store version %q", version)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("malformed store version %q: %v", version, err)
	}
	return major, nil
}
