//go:build !linux

package opus

// Encoder is unavailable on this platform.
type Encoder struct{}

// NewEncoder always fails with ErrUnavailable.
func NewEncoder() (*Encoder, error) {
	return nil, ErrUnavailable
}

// Encode always fails with ErrUnavailable.
func (e *Encoder) Encode([]byte) ([]byte, error) {
	return nil, ErrUnavailable
}

// Close is a no-op.
func (e *Encoder) Close() error {
	return nil
}
