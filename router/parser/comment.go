package parser

import (
	"strings"
	"unicode"

	"golang.org/x/xerrors"
)

// HintPrefix may qualify option names: "dsrouter.dataset" is "dataset".
const HintPrefix = "dsrouter."

/*
key: value[, key1: value1...]
*/
func ParseComment(comm string) (map[string]string, error) {
	opts := make(map[string]string)

	for i := 0; i < len(comm); {
		if unicode.IsSpace(rune(comm[i])) {
			// skip initial spaces
			i++
			continue
		}
		// opts are in form opt: val, reject all other format

		j := i
		for ; j < len(comm) && comm[j] != ':' && !unicode.IsSpace(rune(comm[j])); j++ {
		}
		optargEnd := j - 1

		// colon symbol not found
		if j == len(comm) {
			return nil, xerrors.New("invalid comment format")
		}
		if optargEnd-i+1 == 0 {
			return nil, xerrors.New("invalid comment format: empty option name")
		}

		// skip spaces before colon
		for ; j < len(comm) && unicode.IsSpace(rune(comm[j])); j++ {
		}

		if j == len(comm) || comm[j] != ':' {
			return nil, xerrors.New("invalid comment format: expected colon after option name")
		}
		j++

		for ; j < len(comm) && unicode.IsSpace(rune(comm[j])); j++ {
		}

		if j == len(comm) {
			return nil, xerrors.New("invalid comment format: empty option values")
		}

		optvalPos := j
		for j+1 < len(comm) && !unicode.IsSpace(rune(comm[j+1])) && comm[j+1] != ',' {
			j++
		}
		optvalEnd := j

		optName := strings.TrimPrefix(comm[i:optargEnd+1], HintPrefix)
		opts[optName] = comm[optvalPos : optvalEnd+1]

		j++
		// skip spaces after value
		for ; j < len(comm) && unicode.IsSpace(rune(comm[j])); j++ {
		}
		if j < len(comm) && comm[j] != ',' {
			return nil, xerrors.New("invalid comment format: expected comma after not-last key-value pair")
		}
		// skip comma
		j++
		i = j
	}

	return opts, nil
}

// LastComment returns the body of the last /* ... */ comment of query.
func LastComment(query string) string {
	comment := ""
	for i := 0; i+1 < len(query); i++ {
		if query[i] != '/' || query[i+1] != '*' {
			continue
		}
		j := i + 2

		for ; j+1 < len(query); j++ {
			if query[j] == '*' && query[j+1] == '/' {
				break
			}
		}

		if j+1 >= len(query) {
			break
		}

		comment = query[i+2 : j]
		i = j + 1
	}
	return comment
}

// Hints parses the last comment of query as routing options. Comments that
// are not in option form carry no hints.
func Hints(query string) map[string]string {
	comm := strings.TrimSpace(LastComment(query))
	if comm == "" {
		return nil
	}
	opts, err := ParseComment(comm)
	if err != nil {
		return nil
	}
	return opts
}
