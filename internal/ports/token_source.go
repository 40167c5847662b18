package ports

// TokenSource supplies the bearer token for backend calls. The token may
// change between calls when an external refresher rewrites it.
type TokenSource interface {
	CurrentAccessToken() string
}
