package config

// ConfigBackend is the platform store for non-secret settings. Values are
// kept in their text form and parsed by the key table.
type ConfigBackend interface {
	Get(key string) (val string, ok bool, err error)
	Set(key, val string) error
	Delete(key string) error
}
