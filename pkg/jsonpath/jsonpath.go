// Package jsonpath resolves simple JSONPath expressions such as
// "$.order.items[0].id" or "order_id" against JSON documents.
//
// Only member and index access are supported; filters, wildcards and
// recursive descent are rejected at compile time.
package jsonpath

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Path is a compiled JSONPath expression. The zero value is invalid.
type Path struct {
	source string
	gpath  string
}

// Compile converts expr into a Path.
//
// Accepted forms:
//
//	$                    the whole document
//	$.order_id           member access ("order_id" alone is accepted too)
//	$.items[0].name      index access
//	$['content-type']    bracket member access with quotes
func Compile(expr string) (Path, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Path{}, fmt.Errorf("empty JSONPath expression")
	}
	for _, unsupported := range []string{"..", "*", "?(", "@."} {
		if strings.Contains(expr, unsupported) {
			return Path{}, fmt.Errorf("unsupported JSONPath expression %q: %q is not supported", expr, unsupported)
		}
	}

	gpath, err := toGJSON(expr)
	if err != nil {
		return Path{}, fmt.Errorf("invalid JSONPath expression %q: %w", expr, err)
	}
	return Path{source: expr, gpath: gpath}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(expr string) Path {
	p, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the expression the path was compiled from.
func (p Path) String() string {
	return p.source
}

// Lookup returns the value at p in doc as a string. Strings are returned
// unquoted, null as "null", and objects and arrays as raw JSON. ok is
// false when doc is not valid JSON or the path does not exist.
func (p Path) Lookup(doc []byte) (value string, ok bool) {
	if p.gpath == "" || !gjson.ValidBytes(doc) {
		return "", false
	}
	result := gjson.GetBytes(doc, p.gpath)
	if !result.Exists() {
		return "", false
	}
	if result.Type == gjson.Null {
		return "null", true
	}
	return result.String(), true
}

// toGJSON rewrites a JSONPath expression in gjson path syntax:
// "$.items[0]['a.b']" becomes "items.0.a\.b".
func toGJSON(expr string) (string, error) {
	rest := strings.TrimPrefix(expr, "$")
	if rest == "" {
		return "@this", nil
	}

	var parts []string
	for rest != "" {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			end := strings.IndexAny(rest, ".[")
			if end < 0 {
				end = len(rest)
			}
			if end == 0 {
				return "", fmt.Errorf("empty member name")
			}
			parts = append(parts, escape(rest[:end]))
			rest = rest[end:]
		case '[':
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return "", fmt.Errorf("unterminated bracket")
			}
			inner := rest[1:end]
			rest = rest[end+1:]
			switch {
			case len(inner) >= 2 && (inner[0] == '\'' || inner[0] == '"') && inner[len(inner)-1] == inner[0]:
				parts = append(parts, escape(inner[1:len(inner)-1]))
			case inner != "" && strings.Trim(inner, "0123456789") == "":
				parts = append(parts, inner)
			default:
				return "", fmt.Errorf("unsupported index %q", inner)
			}
		default:
			// bare leading member, as in "order_id" or "order.status"
			if len(parts) > 0 {
				return "", fmt.Errorf("unexpected %q", rest[:1])
			}
			rest = "." + rest
		}
	}
	return strings.Join(parts, "."), nil
}

// escape quotes gjson's path metacharacters in a member name.
func escape(name string) string {
	var sb strings.Builder
	for _, r := range name {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
