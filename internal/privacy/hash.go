package privacy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// HMACSHA256 hashes value with salt the way window ids and resource ids are
// hashed before storage, grounded on original_source's utils/hashing.py.
func HMACSHA256(value, salt string) string {
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}
