package misc

const (
	// EnvelopeVersion is the X-Courier-Envelope header value for the current
	// envelope layout
	EnvelopeVersion = "1"

	// KeySize is the symmetric key length for every supported AEAD
	KeySize = 32
	// NonceSize is the iv length shared by ChaCha20-Poly1305 and AES-256-GCM
	NonceSize = 12
	// TagSize is the authentication tag length appended by both AEADs
	TagSize = 16

	// MinSecretSize is the shortest shared secret accepted at load time
	MinSecretSize = 16

	// MaxPayloadSize caps a single sealed body
	MaxPayloadSize = 10 * 1024 * 1024

	// ArgonTime Secret derivation parameters when kdf is argon2id
	ArgonTime    uint32 = 3
	ArgonMemory  uint32 = 64 * 1024
	ArgonThreads uint8  = 4

	// PBKDF2Iterations applies when kdf is pbkdf2-sha256
	PBKDF2Iterations = 100000

	// HKDF info labels for keys derived from the shared secret
	HKDFInfoPayload = "courier/payload-key/v1"
	HKDFInfoWrap    = "courier/wrap-key/v1"

	FilePermissions = 0600 // user read + write
)
