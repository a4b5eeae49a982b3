package security

import "golang.org/x/crypto/bcrypt"

// HashAPIKey produces the bcrypt hash stored in config for a static
// automation key.
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// MatchAPIKey reports whether key matches any of the configured hashes.
func MatchAPIKey(key string, hashes []string) bool {
	if key == "" {
		return false
	}
	for _, h := range hashes {
		if bcrypt.CompareHashAndPassword([]byte(h), []byte(key)) == nil {
			return true
		}
	}
	return false
}
