package race

import "github.com/glacials/splits.io/internal/models"

// CanSubscribe decides whether a connection may observe r with the supplied join token.
// Public races are open to everyone, anonymous viewers included.
func CanSubscribe(r *models.Race, token string) error {
	if r == nil {
		return ErrNotFound
	}
	if r.Visibility.RequiresToken() && !r.TokenMatches(token) {
		return ErrAuthorizationDenied
	}
	return nil
}
