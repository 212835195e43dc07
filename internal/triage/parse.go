package triage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const verdictSchemaTemplate = `{
  "type": "object",
  "required": ["classification", "reasoning", "next_steps"],
  "properties": {
    "classification": {"enum": %s},
    "reasoning": {"type": "array"},
    "next_steps": {
      "type": "array",
      "items": {"type": "object"}
    }
  }
}`

var verdictSchema = jsonschema.MustCompileString("verdict.json", verdictSchemaJSON())

// verdictSchemaJSON fills the classification enum from Classifications.
func verdictSchemaJSON() string {
	enum, err := json.Marshal(Classifications)
	if err != nil {
		panic(err)
	}
	return fmt.Sprintf(verdictSchemaTemplate, enum)
}

// ExtractObject returns the first balanced {...} span in s. Braces inside
// JSON string literals are ignored. When an opening brace never closes, the
// scan resumes at the next one.
func ExtractObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	for start >= 0 {
		if end := closingBrace(s, start); end >= 0 {
			return s[start : end+1], true
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func closingBrace(s string, start int) int {
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
				return i
			}
		}
	}
	return -1
}

// ParseVerdict extracts and validates a verdict from free-form model output.
// Every failure wraps ErrParse.
func ParseVerdict(text string) (*Verdict, error) {
	obj, ok := ExtractObject(text)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object found", ErrParse)
	}

	var doc map[string]any
	dec := json.NewDecoder(strings.NewReader(obj))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if c, ok := doc["classification"].(string); ok {
		doc["classification"] = string(NormalizeClassification(c))
	}
	if err := verdictSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	var v Verdict
	if err := json.Unmarshal([]byte(obj), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	v.Classification = NormalizeClassification(string(v.Classification))
	return &v, nil
}

// MarshalVerdict encodes v without HTML escaping, so placeholders such as
// user@host survive byte-for-byte for restoration.
func MarshalVerdict(v *Verdict) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// UnmarshalVerdict decodes a serialized verdict and validates it again.
func UnmarshalVerdict(data []byte) (*Verdict, error) {
	return ParseVerdict(string(data))
}
