package pto

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// token is one `<key><value>` field of a record line.
type token struct {
	key    string
	value  string
	quoted bool
}

// link reports whether the value references another image, and which.
func (t token) link() (int, bool, error) {
	if t.quoted || !strings.HasPrefix(t.value, "=") {
		return 0, false, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(t.value[1:]))
	if err != nil {
		return 0, true, fmt.Errorf("bad link %q for %s", t.value, t.key)
	}
	return n, true, nil
}

func (t token) float() (float64, error) {
	v, err := strconv.ParseFloat(t.value, 64)
	if err != nil {
		return 0, fmt.Errorf("bad number %q for %s", t.value, t.key)
	}
	return v, nil
}

func (t token) int() (int, error) {
	if v, err := strconv.Atoi(t.value); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(t.value, 64)
	if err != nil {
		return 0, fmt.Errorf("bad integer %q for %s", t.value, t.key)
	}
	return int(f), nil
}

// tokenize splits the body of a record line. A key is the longest run of
// letters; the value runs to the next blank unless it starts with a quote.
func tokenize(line string) ([]token, error) {
	var out []token
	r := []rune(line)
	i := 0
	for i < len(r) {
		for i < len(r) && unicode.IsSpace(r[i]) {
			i++
		}
		if i >= len(r) {
			break
		}
		start := i
		for i < len(r) && unicode.IsLetter(r[i]) {
			i++
		}
		key := string(r[start:i])
		if key == "" {
			return nil, fmt.Errorf("unexpected %q", string(r[start:]))
		}
		tok := token{key: key}
		if i < len(r) && r[i] == '"' {
			end := i + 1
			for end < len(r) && r[end] != '"' {
				end++
			}
			if end >= len(r) {
				return nil, fmt.Errorf("unterminated string for %s", key)
			}
			tok.value = string(r[i+1 : end])
			tok.quoted = true
			i = end + 1
		} else {
			vs := i
			for i < len(r) && !unicode.IsSpace(r[i]) {
				i++
			}
			tok.value = string(r[vs:i])
		}
		out = append(out, tok)
	}
	return out, nil
}

// tokenizeExt splits a `#-hugin` extension line into key=value pairs. Bare
// words become flags with an empty value.
func tokenizeExt(line string) map[string]string {
	out := map[string]string{}
	r := []rune(line)
	i := 0
	for i < len(r) {
		for i < len(r) && unicode.IsSpace(r[i]) {
			i++
		}
		start := i
		for i < len(r) && !unicode.IsSpace(r[i]) && r[i] != '=' {
			i++
		}
		key := string(r[start:i])
		if key == "" {
			break
		}
		if i < len(r) && r[i] == '=' {
			i++
			if i < len(r) && r[i] == '"' {
				end := i + 1
				for end < len(r) && r[end] != '"' {
					end++
				}
				out[key] = string(r[i+1 : min(end, len(r))])
				i = end + 1
				continue
			}
			vs := i
			for i < len(r) && !unicode.IsSpace(r[i]) {
				i++
			}
			out[key] = string(r[vs:i])
			continue
		}
		out[key] = ""
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// parseBox reads "l,r,t,b".
func parseBox(s string) (l, r, t, b int, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("bad rectangle %q", s)
	}
	var v [4]int
	for i, p := range parts {
		f, perr := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if perr != nil {
			return 0, 0, 0, 0, fmt.Errorf("bad rectangle %q", s)
		}
		v[i] = int(f)
	}
	return v[0], v[1], v[2], v[3], nil
}
