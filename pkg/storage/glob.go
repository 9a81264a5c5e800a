package storage

import "github.com/bmatcuk/doublestar/v4"

// globMatch applies doublestar's shell-style (**-capable) matching, shared
// by backends that list keys/paths rather than delegating to the OS glob.
func globMatch(pattern, name string) (bool, error) {
	return doublestar.Match(pattern, name)
}
