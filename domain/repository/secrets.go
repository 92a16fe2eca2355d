package repository

// ISecretSealer encrypts OAuth material before it touches storage and
// decrypts it on the way back. Seal of an empty plaintext returns an empty
// blob; Open of an empty blob returns empty plaintext. Open reports
// CRYPTO_TAMPER when the blob fails authentication.
type ISecretSealer interface {
	Seal(plaintext []byte) (string, error)
	Open(blob string) ([]byte, error)
}
