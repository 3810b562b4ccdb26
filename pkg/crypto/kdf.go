package crypto

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argon2Prefix = "$argon2id$"
	// argon2MaxMemory caps the cost read back from stored hashes at 1 GiB.
	argon2MaxMemory = 1024 * 1024
)

var errMalformedArgon2 = errors.New("argon2: malformed encoded hash")

// Argon2Parameters holds the Argon2id cost factors. Memory is in kibibytes.
type Argon2Parameters struct {
	Time      uint32
	Memory    uint32
	Threads   uint8
	KeyLength uint32
}

// DefaultArgon2Params returns the costs used for new password hashes.
func DefaultArgon2Params() Argon2Parameters {
	return Argon2Parameters{
		Time:      3,
		Memory:    64 * 1024,
		Threads:   2,
		KeyLength: 32,
	}
}

// Validate rejects parameters argon2 cannot run with, and memory costs above
// argon2MaxMemory.
func (p Argon2Parameters) Validate() error {
	switch {
	case p.Time == 0:
		return errors.New("argon2: time cost must be greater than zero")
	case p.Threads == 0:
		return errors.New("argon2: parallelism must be greater than zero")
	case p.Memory < 8*uint32(p.Threads):
		return errors.New("argon2: memory cost must be at least 8 * threads")
	case p.Memory > argon2MaxMemory:
		return fmt.Errorf("argon2: memory cost %d KiB exceeds %d KiB", p.Memory, argon2MaxMemory)
	case p.KeyLength < 16:
		return fmt.Errorf("argon2: key length must be at least 16 bytes (got %d)", p.KeyLength)
	}
	return nil
}

func deriveArgon2id(secret, salt []byte, params Argon2Parameters) []byte {
	return argon2.IDKey(secret, salt, params.Time, params.Memory, params.Threads, params.KeyLength)
}

// encodeArgon2id renders the PHC string form:
// $argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<key>
func encodeArgon2id(params Argon2Parameters, salt, key []byte) string {
	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Prefix,
		argon2.Version,
		params.Memory, params.Time, params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
}

// decodeArgon2id parses a PHC string produced by encodeArgon2id. The key
// length is taken from the stored key.
func decodeArgon2id(encoded string) (Argon2Parameters, []byte, []byte, error) {
	var params Argon2Parameters

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return params, nil, nil, errMalformedArgon2
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return params, nil, nil, errMalformedArgon2
	}
	if version != argon2.Version {
		return params, nil, nil, fmt.Errorf("argon2: unsupported version %d", version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Time, &params.Threads); err != nil {
		return params, nil, nil, errMalformedArgon2
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return params, nil, nil, errMalformedArgon2
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return params, nil, nil, errMalformedArgon2
	}

	params.KeyLength = uint32(len(key))
	if err := params.Validate(); err != nil {
		return params, nil, nil, err
	}
	return params, salt, key, nil
}
