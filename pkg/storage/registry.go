package storage

import "strings"

// registry maps a URI scheme to the backend that serves it. An empty string
// key is the default, chosen for plain filesystem paths with no "://".
var registry = map[string]Storage{
	"":      FilesystemStorage{},
	"gs":    GoogleStorage{},
	"http":  NewHTTPStorage(),
	"https": NewHTTPStorage(),
}

// backendFor selects a Storage implementation by inspecting the resolved
// location's scheme. Unknown schemes fall back to NoopStorage so every
// operation on them fails loudly with Unsupported rather than silently
// hitting the wrong backend.
func backendFor(resolved string) Storage {
	scheme, hasScheme := schemeOf(resolved)
	if !hasScheme {
		return registry[""]
	}
	if backend, ok := registry[scheme]; ok {
		return backend
	}
	return NoopStorage{}
}

func schemeOf(location string) (string, bool) {
	idx := strings.Index(location, "://")
	if idx < 0 {
		return "", false
	}
	return location[:idx], true
}
