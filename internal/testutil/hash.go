package testutil

import (
	"crypto/md5"
	"encoding/hex"

	"csync/internal/csync"
)

// MD5Hex returns the MD5 digest of data in the format the default
// fingerprinter produces.
func MD5Hex(data []byte) csync.Fingerprint {
	h := md5.Sum(data)
	return csync.Fingerprint(hex.EncodeToString(h[:]))
}
