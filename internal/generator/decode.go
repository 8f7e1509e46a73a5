package generator

import (
	"encoding/json"
	"strings"
)

// Status is the outcome of decoding generator text.
type Status int

const (
	// Malformed means no JSON object could be recovered from the text.
	Malformed Status = iota
	// Parsed means Object holds the decoded JSON object.
	Parsed
)

// String implements fmt.Stringer.
func (s Status) String() string {
	if s == Parsed {
		return "parsed"
	}
	return "malformed"
}

// Decoded is the result of [Decode]. Object is never nil.
type Decoded struct {
	Object map[string]any
	Status Status

	// SchemaErr is set when a schema was given and the parsed object does not
	// conform to it. It is advisory; the object is still usable.
	SchemaErr error
}

// Decode recovers a JSON object from free text. It tries, in order: the
// whole text (after stripping markdown code fences), then the first
// top-level brace-delimited block. Anything else is Malformed with an empty
// object. schema may be nil.
func Decode(text string, schema *Schema) Decoded {
	obj, ok := decodeObject(stripMarkdown(text))
	if !ok {
		if block, found := firstObject(text); found {
			obj, ok = decodeObject(block)
		}
	}
	if !ok {
		return Decoded{Object: map[string]any{}, Status: Malformed}
	}

	d := Decoded{Object: obj, Status: Parsed}
	if schema != nil {
		d.SchemaErr = schema.Validate(obj)
	}
	return d
}

func decodeObject(s string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// stripMarkdown removes a surrounding ```json ... ``` fence.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```JSON", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}

// firstObject returns the first balanced {...} block in s. Braces inside
// JSON string literals are ignored.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	for start >= 0 {
		depth := 0
		inString, escaped := false, false
		for i := start; i < len(s); i++ {
			c := s[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
		// Unbalanced from this brace; try the next one.
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}
