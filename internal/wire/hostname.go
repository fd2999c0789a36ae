package wire

import "strings"

// ValidateHostname checks a dot-separated DNS name: labels 1..63 bytes
// from [A-Za-z0-9-], not starting with '-', separated by dots, total
// length 1..255.
func ValidateHostname(name string) bool {
	if len(name) == 0 || len(name) > 255 {
		return false
	}
	labels := strings.Split(name, ".")
	for _, label := range labels {
		if !validLabel(label) {
			return false
		}
	}
	return true
}

func validLabel(label string) bool {
	if len(label) == 0 || len(label) > 63 {
		return false
	}
	if label[0] == '-' {
		return false
	}
	for i := 0; i < len(label); i++ {
		c := label[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-':
		default:
			return false
		}
	}
	return true
}
