package algos

import (
	"crypto/aes"
	"crypto/cipher"

	"golang.org/x/crypto/chacha20poly1305"

	"code.rollmark.org/golang/internal/utils"
)

const (
	AEAD_AES256_GCM        = "AESGCM"
	AEAD_CHACHA20_POLY1305 = "ChaChaPoly"
)

const (
	// AeadKeySize is the byte length of the keys accepted by all registered AEAD.
	AeadKeySize = 32

	// AeadNonceSize is the byte length of the random nonce prepended to sealed payloads.
	AeadNonceSize = 12

	// AeadTagSize is the byte length of the authentication tag appended by all registered AEAD.
	AeadTagSize = 16
)

// AeadFactory builds a cipher.AEAD from a 32 bytes key.
type AeadFactory func(key []byte) (cipher.AEAD, error)

var aeadRegistry *utils.Registry[string, AeadFactory]

// MustRegisterAead adds factory to the AEAD registry. It panics if name is already in use.
func MustRegisterAead(name string, factory AeadFactory) {
	err := RegisterAead(name, factory)
	if nil != err {
		panic(err)
	}
}

// RegisterAead adds factory to the AEAD registry. It errors if name is already in use
// or factory is nil.
func RegisterAead(name string, factory AeadFactory) error {
	if nil == factory {
		return newError("nil AeadFactory")
	}
	return wrapError(
		utils.RegistrySet(aeadRegistry, name, factory),
		"failed registering AEAD algorithm, %s",
		name,
	)
}

// GetAead loads an AeadFactory from the registry. It errors if no factory was registered
// with name.
func GetAead(name string) (AeadFactory, error) {
	factory, found := utils.RegistryGet(aeadRegistry, name)
	if !found {
		return nil, newError("unsupported AEAD algorithm, %s", name)
	}
	return factory, nil
}

// ListAeads returns a slice containing the names of the registered AEAD algorithms.
func ListAeads() []string {
	aeadIdx := utils.RegistryEntries(aeadRegistry)
	rv := make([]string, 0, len(aeadIdx))
	for name := range aeadIdx {
		rv = append(rv, name)
	}
	return rv
}

func newAESGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != AeadKeySize {
		return nil, newError("invalid AEAD key size %d != %d", len(key), AeadKeySize)
	}
	block, err := aes.NewCipher(key)
	if nil != err {
		return nil, wrapError(err, "failed aes.NewCipher")
	}
	aead, err := cipher.NewGCM(block)
	return aead, wrapError(err, "failed cipher.NewGCM") // nil if err is nil...
}

func newChachaPoly1305(key []byte) (cipher.AEAD, error) {
	if len(key) != AeadKeySize {
		return nil, newError("invalid AEAD key size %d != %d", len(key), AeadKeySize)
	}
	aead, err := chacha20poly1305.New(key)
	return aead, wrapError(err, "failed chacha20poly1305.New") // nil if err is nil...
}

func init() {
	aeadRegistry = utils.NewRegistry[string, AeadFactory]()
	MustRegisterAead(AEAD_AES256_GCM, newAESGCM)
	MustRegisterAead(AEAD_CHACHA20_POLY1305, newChachaPoly1305)
}
