package notes

import "github.com/google/uuid"

// IDFunc adapts a plain function to IDProvider.
type IDFunc func() (string, error)

// NewID implements IDProvider.
func (f IDFunc) NewID() (string, error) {
	return f()
}

// NewUUIDProvider returns an IDProvider issuing time-ordered UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return IDFunc(func() (string, error) {
		value, err := uuid.NewV7()
		if err != nil {
			return "", err
		}
		return value.String(), nil
	})
}
