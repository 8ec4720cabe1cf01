package postback

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Format names the wire format a postback body was decoded from.
type Format string

const (
	FormatJSON         Format = "json"
	FormatEmbeddedJSON Format = "embedded_json"
	FormatDelimited    Format = "delimited"
)

// Fields holds decoded postback fields keyed by lower-cased name.
type Fields map[string]string

// Get returns the first non-empty value among names.
func (f Fields) Get(names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(f[strings.ToLower(n)]); v != "" {
			return v
		}
	}
	return ""
}

// Has reports whether name is present, even with an empty value.
func (f Fields) Has(name string) bool {
	_, ok := f[strings.ToLower(name)]
	return ok
}

// Parser decodes one postback wire format.
type Parser interface {
	Format() Format
	Parse(body []byte) (Fields, error)
}

// Chain tries parsers in order; the first that succeeds wins.
type Chain []Parser

// DefaultChain is JSON, then a delimited body wrapping JSON, then plain delimited pairs.
func DefaultChain() Chain {
	return Chain{jsonParser{}, embeddedJSONParser{}, delimitedParser{}}
}

func (c Chain) Parse(body []byte) (Fields, Format, error) {
	var errs []error
	for _, p := range c {
		f, err := p.Parse(body)
		if err == nil {
			return f, p.Format(), nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Format(), err))
	}
	return nil, "", fmt.Errorf("%w: %w", ErrFormat, errors.Join(errs...))
}

// envelopeKeys name fields whose value may itself be a JSON object of postback fields.
var envelopeKeys = []string{"payload", "data"}

type jsonParser struct{}

func (jsonParser) Format() Format { return FormatJSON }

func (jsonParser) Parse(body []byte) (Fields, error) {
	obj, err := decodeObject(body)
	if err != nil {
		return nil, err
	}
	f := Fields{}
	flatten(f, obj)
	if len(f) == 0 {
		return nil, errors.New("empty object")
	}
	return f, nil
}

type embeddedJSONParser struct{}

func (embeddedJSONParser) Format() Format { return FormatEmbeddedJSON }

func (embeddedJSONParser) Parse(body []byte) (Fields, error) {
	s := string(body)
	for _, k := range envelopeKeys {
		start, end, obj, ok, err := findEmbedded(s, k)
		if err != nil {
			return nil, fmt.Errorf("%s field: %w", k, err)
		}
		if !ok {
			continue
		}
		outer, err := parsePairs([]byte(s[:start] + s[end:]))
		if err != nil {
			return nil, err
		}
		f := Fields{}
		flatten(f, obj)
		merge(f, outer)
		if len(f) == 0 {
			return nil, errors.New("empty embedded object")
		}
		return f, nil
	}
	return nil, errors.New("no embedded JSON field")
}

// findEmbedded locates key=<json object> in a delimited body. The object may be raw JSON
// (commas and all) or percent-encoded. start and end delimit the whole key=value segment.
func findEmbedded(s, key string) (start, end int, obj map[string]any, ok bool, err error) {
	lower := strings.ToLower(s)
	needle := key + "="
	for from := 0; from < len(lower); {
		i := strings.Index(lower[from:], needle)
		if i < 0 {
			return 0, 0, nil, false, nil
		}
		i += from
		from = i + len(needle)
		if i > 0 && !isDelimiter(rune(s[i-1])) && s[i-1] != ' ' {
			continue
		}
		valStart := i + len(needle)
		rest := s[valStart:]
		if strings.HasPrefix(strings.TrimLeft(rest, " "), "{") {
			dec := json.NewDecoder(strings.NewReader(rest))
			dec.UseNumber()
			if err := dec.Decode(&obj); err != nil {
				return 0, 0, nil, false, err
			}
			return i, valStart + int(dec.InputOffset()), obj, true, nil
		}
		valEnd := len(s)
		if j := strings.IndexFunc(rest, isDelimiter); j >= 0 {
			valEnd = valStart + j
		}
		decoded, err := url.PathUnescape(strings.TrimSpace(s[valStart:valEnd]))
		if err != nil {
			return 0, 0, nil, false, err
		}
		obj, err = decodeObject([]byte(decoded))
		if err != nil {
			return 0, 0, nil, false, err
		}
		return i, valEnd, obj, true, nil
	}
	return 0, 0, nil, false, nil
}

type delimitedParser struct{}

func (delimitedParser) Format() Format { return FormatDelimited }

func (delimitedParser) Parse(body []byte) (Fields, error) {
	f, err := parsePairs(body)
	if err != nil {
		return nil, err
	}
	if len(f) == 0 {
		return nil, errors.New("no key=value pairs")
	}
	return f, nil
}

func isDelimiter(r rune) bool {
	switch r {
	case ',', ';', '&', '\n', '\r':
		return true
	}
	return false
}

// pairSeparator picks the byte that separates pairs in body: the first delimiter after the
// first '=', else the first delimiter anywhere. Zero means the body is a single pair.
func pairSeparator(s string) byte {
	if eq := strings.IndexByte(s, '='); eq >= 0 {
		if i := strings.IndexFunc(s[eq:], isDelimiter); i >= 0 {
			return s[eq+i]
		}
	}
	if i := strings.IndexFunc(s, isDelimiter); i >= 0 {
		return s[i]
	}
	return 0
}

// parsePairs splits key=value pairs on the body's separator (',', ';', '&' or newline) and
// percent-decodes values; '+' is kept literally. A segment without '=' continues the previous
// value, so "RespText=Do Not Honor; Call Issuer" keeps its separator.
func parsePairs(body []byte) (Fields, error) {
	s := string(body)
	sep := pairSeparator(s)
	if sep == '\r' {
		sep = '\n'
	}
	segments := []string{s}
	if sep != 0 {
		segments = strings.Split(s, string(sep))
	}

	f := Fields{}
	last := ""
	for n, seg := range segments {
		if strings.TrimSpace(seg) == "" {
			continue
		}
		k, v, ok := strings.Cut(seg, "=")
		if !ok {
			if last == "" {
				return nil, fmt.Errorf("segment %d is not a key=value pair", n+1)
			}
			cont, err := url.PathUnescape(strings.TrimRight(seg, " \r\n"))
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", last, err)
			}
			f[last] += string(sep) + cont
			continue
		}
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" {
			return nil, fmt.Errorf("segment %d has an empty key", n+1)
		}
		val, err := url.PathUnescape(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}
		f[key] = val
		last = key
	}
	return f, nil
}

func decodeObject(body []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errors.New("not a JSON object")
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON object")
	}
	return obj, nil
}

// flatten copies scalar members into f. Objects under an envelope key (or JSON strings
// holding one) are merged in without overriding top-level values; other nested values are ignored.
func flatten(f Fields, obj map[string]any) {
	var nested []map[string]any
	for k, v := range obj {
		key := strings.ToLower(strings.TrimSpace(k))
		switch val := v.(type) {
		case string:
			if isEnvelope(key) {
				if inner, err := decodeObject([]byte(val)); err == nil {
					nested = append(nested, inner)
					continue
				}
			}
			f[key] = val
		case json.Number:
			f[key] = val.String()
		case bool:
			if val {
				f[key] = "true"
			} else {
				f[key] = "false"
			}
		case map[string]any:
			if isEnvelope(key) {
				nested = append(nested, val)
			}
		}
	}
	for _, inner := range nested {
		sub := Fields{}
		flatten(sub, inner)
		merge(f, sub)
	}
}

// merge copies src into dst where dst has no non-empty value.
func merge(dst, src Fields) {
	for k, v := range src {
		if strings.TrimSpace(dst[k]) == "" {
			dst[k] = v
		}
	}
}

func isEnvelope(key string) bool {
	for _, k := range envelopeKeys {
		if key == k {
			return true
		}
	}
	return false
}
