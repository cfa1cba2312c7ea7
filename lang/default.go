// Package lang resolves user-facing strings from a YAML catalog, honoring a
// per-user and per-guild language choice.
package lang

var std = New("es", nil)

// Default returns the process-wide catalog used by the package-level helpers.
func Default() *Catalog { return std }

// Load reads the process-wide catalog from path. A missing file leaves the
// catalog empty so every lookup reports a missing key.
func Load(path string) error {
	return std.LoadFile(path)
}

// T translates key into the default language.
func T(key string, pairs ...string) string {
	return std.In(std.Default(), key, pairs...)
}

// Get translates key for loc using the process-wide catalog.
func Get(loc Locale, key string, pairs ...string) string {
	return std.Get(loc, key, pairs...)
}
