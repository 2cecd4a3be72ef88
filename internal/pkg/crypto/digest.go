package crypto

import "strconv"

// LegacyDigest folds character codes into a fixed-width value, reproducing
// the checksum the original system used as a password "hash". It is not a
// security boundary and exists only so imported user records remain
// loadable. Do not produce it for new accounts.
func LegacyDigest(password string) string {
	var hash int32
	for _, r := range password {
		hash = hash<<5 - hash + r
	}
	return strconv.FormatUint(uint64(uint32(hash)), 16)
}
