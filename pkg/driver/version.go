package driver

import (
	"fmt"
	"strings"

	"github.com/coreos/go-semver/semver"
)

// Capabilities understood by HasCap.
const (
	CapCollation   = "collation"
	CapGroupConcat = "group_concat"
	CapSubqueries  = "subqueries"
	CapSetCharset  = "set_charset"
	CapUTF8MB4     = "utf8mb4"
	CapUTF8MB4520  = "utf8mb4_520"
)

var capMinVersion = map[string]*semver.Version{
	CapCollation:   semver.New("4.1.0"),
	CapGroupConcat: semver.New("4.1.0"),
	CapSubqueries:  semver.New("4.1.0"),
	CapSetCharset:  semver.New("5.0.7"),
	CapUTF8MB4:     semver.New("5.5.3"),
	CapUTF8MB4520:  semver.New("5.6.0"),
}

// VersionNumber cuts server info down to its leading version number:
// "5.7.44-log" gives "5.7.44".
func VersionNumber(info string) string {
	for i, r := range info {
		if (r < '0' || r > '9') && r != '.' {
			return info[:i]
		}
	}
	return info
}

// ParseVersion reads server info as a version. Missing minor and patch
// parts are zero, "16.2" reads as 16.2.0.
func ParseVersion(info string) (*semver.Version, error) {
	num := strings.Trim(VersionNumber(info), ".")
	if num == "" {
		return nil, fmt.Errorf("no version number in %q", info)
	}
	parts := strings.Split(num, ".")
	if len(parts) > 3 {
		parts = parts[:3]
	}
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	return semver.NewVersion(strings.Join(parts, "."))
}

// HasCap reports whether a server with the given info supports capability.
// Unknown capabilities and unparsable versions report false.
func HasCap(info, capability string) bool {
	minVersion, ok := capMinVersion[strings.ToLower(capability)]
	if !ok {
		return false
	}
	v, err := ParseVersion(info)
	if err != nil {
		return false
	}
	return !v.LessThan(*minVersion)
}

// EscapeString backslash-escapes quotes, backslashes and NUL bytes.
func EscapeString(s string) string {
	return escaper.Replace(s)
}

var escaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`, `"`, `\"`, "\x00", `\0`)
