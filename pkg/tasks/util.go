package tasks

import "strings"

// splitGlob returns the literal prefix of a glob expression (everything
// before the first wildcard metacharacter) and the remaining pattern, with
// any leading slash on the pattern stripped. Grounded directly in the
// original otter.util.util.split_glob.
func splitGlob(s string) (prefix, pattern string) {
	for i, r := range s {
		switch r {
		case '*', '[', '{', '?':
			return s[:i], strings.TrimLeft(s[i:], "/")
		}
	}
	return s, ""
}

// rpartition splits s on the last occurrence of sep, mirroring Python's
// str.rpartition: if sep is absent, head is "" and tail is the whole
// string (Python's rpartition instead returns ("", "", s), which is what
// callers here rely on for "no match" detection).
func rpartition(s, sep string) (head, tail string) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return "", s
	}
	return s[:i], s[i+len(sep):]
}
