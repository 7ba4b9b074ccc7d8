package app

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/hylla/blockenv/internal/domain"
)

// SchemaValidationError reports the issues that rejected a strict block.
type SchemaValidationError struct {
	TypeKey string
	Issues  []SchemaIssue
}

// Error renders the first issue and the issue count.
func (e SchemaValidationError) Error() string {
	if len(e.Issues) == 0 {
		return fmt.Sprintf("%s: %s", ErrSchemaValidation, e.TypeKey)
	}
	first := e.Issues[0]
	return fmt.Sprintf("%s: %s %s: %s (%d issues)", ErrSchemaValidation, e.TypeKey, first.Path, first.Message, len(e.Issues))
}

// Unwrap exposes ErrSchemaValidation to errors.Is.
func (e SchemaValidationError) Unwrap() error {
	return ErrSchemaValidation
}

// JSONSchemaValidator checks block data against a subset of JSON Schema.
// Compiled schemas are cached by content hash.
type JSONSchemaValidator struct {
	mu    sync.RWMutex
	cache map[string]*jsonSchemaNode
}

// NewJSONSchemaValidator constructs an empty validator cache.
func NewJSONSchemaValidator() *JSONSchemaValidator {
	return &JSONSchemaValidator{cache: map[string]*jsonSchemaNode{}}
}

// Validate returns every schema issue found in data. Strictness none skips
// validation; a blank schema accepts anything. Malformed schemas are errors.
func (v *JSONSchemaValidator) Validate(schemaJSON string, data map[string]any, strictness domain.Strictness) ([]SchemaIssue, error) {
	if strictness == domain.StrictnessNone {
		return nil, nil
	}
	root, err := v.compiled(schemaJSON)
	if err != nil || root == nil {
		return nil, err
	}
	var value any = map[string]any{}
	if data != nil {
		// Round-trip through JSON so numbers and nested values match decoded form.
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("%w: encode data: %v", ErrInvalidRequest, err)
		}
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, fmt.Errorf("%w: decode data: %v", ErrInvalidRequest, err)
		}
	}
	issues := make([]SchemaIssue, 0)
	validateJSONSchemaNode(root, value, "$", &issues)
	return issues, nil
}

// compiled returns the cached schema tree for schemaJSON.
func (v *JSONSchemaValidator) compiled(schemaJSON string) (*jsonSchemaNode, error) {
	schemaJSON = strings.TrimSpace(schemaJSON)
	if schemaJSON == "" {
		return nil, nil
	}
	hash := hashSchema(schemaJSON)
	v.mu.RLock()
	node, ok := v.cache[hash]
	v.mu.RUnlock()
	if ok {
		return node, nil
	}
	node, err := compileJSONSchema(schemaJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: compile schema: %v", ErrInvalidRequest, err)
	}
	v.mu.Lock()
	v.cache[hash] = node
	v.mu.Unlock()
	return node, nil
}

// hashSchema returns a deterministic digest for schema cache keys.
func hashSchema(schema string) string {
	sum := sha256.Sum256([]byte(schema))
	return hex.EncodeToString(sum[:])
}

// jsonSchemaNode represents one compiled schema node.
type jsonSchemaNode struct {
	typ             string
	required        []string
	properties      map[string]*jsonSchemaNode
	allowAdditional bool
	enum            []any
	items           *jsonSchemaNode
	minLength       *int
	maxLength       *int
	minItems        *int
	maxItems        *int
	minimum         *float64
	maximum         *float64
}

// schemaCompileError reports a malformed schema location.
type schemaCompileError struct {
	path    string
	message string
}

func (e schemaCompileError) Error() string {
	return fmt.Sprintf("%s: %s", e.path, e.message)
}

// compileJSONSchema compiles a schema string into a reusable tree.
func compileJSONSchema(raw string) (*jsonSchemaNode, error) {
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, err
	}
	return compileJSONSchemaNode(decoded, "$")
}

// compileJSONSchemaNode compiles one schema node recursively.
func compileJSONSchemaNode(raw any, path string) (*jsonSchemaNode, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, schemaCompileError{path: path, message: "schema must be an object"}
	}
	node := &jsonSchemaNode{
		properties:      map[string]*jsonSchemaNode{},
		allowAdditional: true,
	}

	if rawType, ok := obj["type"]; ok {
		typeText, ok := rawType.(string)
		if !ok {
			return nil, schemaCompileError{path: path + ".type", message: "must be a string"}
		}
		node.typ = strings.TrimSpace(strings.ToLower(typeText))
		switch node.typ {
		case "object", "array", "string", "number", "integer", "boolean", "null":
		default:
			return nil, schemaCompileError{path: path + ".type", message: fmt.Sprintf("unsupported type %q", node.typ)}
		}
	}

	if rawRequired, ok := obj["required"]; ok {
		requiredList, ok := rawRequired.([]any)
		if !ok {
			return nil, schemaCompileError{path: path + ".required", message: "must be an array"}
		}
		seen := map[string]struct{}{}
		for idx, item := range requiredList {
			field, ok := item.(string)
			field = strings.TrimSpace(field)
			if !ok || field == "" {
				return nil, schemaCompileError{path: fmt.Sprintf("%s.required[%d]", path, idx), message: "must be a non-empty string"}
			}
			if _, exists := seen[field]; exists {
				continue
			}
			seen[field] = struct{}{}
			node.required = append(node.required, field)
		}
		sort.Strings(node.required)
	}

	if rawProps, ok := obj["properties"]; ok {
		props, ok := rawProps.(map[string]any)
		if !ok {
			return nil, schemaCompileError{path: path + ".properties", message: "must be an object"}
		}
		for key, prop := range props {
			compiled, err := compileJSONSchemaNode(prop, path+".properties."+key)
			if err != nil {
				return nil, err
			}
			node.properties[key] = compiled
		}
	}

	if rawAdditional, ok := obj["additionalProperties"]; ok {
		allow, ok := rawAdditional.(bool)
		if !ok {
			return nil, schemaCompileError{path: path + ".additionalProperties", message: "must be a boolean"}
		}
		node.allowAdditional = allow
	}

	if rawEnum, ok := obj["enum"]; ok {
		enumList, ok := rawEnum.([]any)
		if !ok {
			return nil, schemaCompileError{path: path + ".enum", message: "must be an array"}
		}
		node.enum = append([]any(nil), enumList...)
	}

	if rawItems, ok := obj["items"]; ok {
		compiled, err := compileJSONSchemaNode(rawItems, path+".items")
		if err != nil {
			return nil, err
		}
		node.items = compiled
	}

	bounds := []struct {
		key    string
		target **int
	}{
		{"minLength", &node.minLength},
		{"maxLength", &node.maxLength},
		{"minItems", &node.minItems},
		{"maxItems", &node.maxItems},
	}
	for _, bound := range bounds {
		rawBound, ok := obj[bound.key]
		if !ok {
			continue
		}
		value, err := parseSchemaInt(rawBound)
		if err != nil {
			return nil, schemaCompileError{path: path + "." + bound.key, message: err.Error()}
		}
		*bound.target = &value
	}
	for key, target := range map[string]**float64{"minimum": &node.minimum, "maximum": &node.maximum} {
		rawBound, ok := obj[key]
		if !ok {
			continue
		}
		value, ok := rawBound.(float64)
		if !ok {
			return nil, schemaCompileError{path: path + "." + key, message: "must be a number"}
		}
		*target = &value
	}
	return node, nil
}

// parseSchemaInt converts JSON number values into ints for schema bounds.
func parseSchemaInt(raw any) (int, error) {
	value, ok := raw.(float64)
	if !ok {
		return 0, fmt.Errorf("must be a number")
	}
	if value < 0 {
		return 0, fmt.Errorf("must be >= 0")
	}
	if value != float64(int(value)) {
		return 0, fmt.Errorf("must be an integer")
	}
	return int(value), nil
}

// validateJSONSchemaNode appends every issue for value under node.
func validateJSONSchemaNode(node *jsonSchemaNode, value any, path string, issues *[]SchemaIssue) {
	if node == nil {
		return
	}
	report := func(message string) {
		*issues = append(*issues, SchemaIssue{Path: path, Message: message})
	}

	if len(node.enum) > 0 {
		matched := false
		for _, candidate := range node.enum {
			if reflect.DeepEqual(candidate, value) {
				matched = true
				break
			}
		}
		if !matched {
			report("value is not in enum set")
		}
	}

	switch node.typ {
	case "", "object":
		obj, ok := value.(map[string]any)
		if !ok {
			if node.typ != "" {
				report("expected object")
			}
			return
		}
		for _, key := range node.required {
			if _, exists := obj[key]; !exists {
				report(fmt.Sprintf("missing required field %q", key))
			}
		}
		keys := make([]string, 0, len(obj))
		for key := range obj {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			childSchema, ok := node.properties[key]
			if !ok {
				if !node.allowAdditional {
					report(fmt.Sprintf("additional property %q is not allowed", key))
				}
				continue
			}
			validateJSONSchemaNode(childSchema, obj[key], path+"."+key, issues)
		}
	case "array":
		items, ok := value.([]any)
		if !ok {
			report("expected array")
			return
		}
		if node.minItems != nil && len(items) < *node.minItems {
			report(fmt.Sprintf("array length must be >= %d", *node.minItems))
		}
		if node.maxItems != nil && len(items) > *node.maxItems {
			report(fmt.Sprintf("array length must be <= %d", *node.maxItems))
		}
		for idx, item := range items {
			validateJSONSchemaNode(node.items, item, fmt.Sprintf("%s[%d]", path, idx), issues)
		}
	case "string":
		text, ok := value.(string)
		if !ok {
			report("expected string")
			return
		}
		if node.minLength != nil && len(text) < *node.minLength {
			report(fmt.Sprintf("string length must be >= %d", *node.minLength))
		}
		if node.maxLength != nil && len(text) > *node.maxLength {
			report(fmt.Sprintf("string length must be <= %d", *node.maxLength))
		}
	case "number", "integer":
		number, ok := value.(float64)
		if !ok || (node.typ == "integer" && number != float64(int64(number))) {
			report("expected " + node.typ)
			return
		}
		if node.minimum != nil && number < *node.minimum {
			report(fmt.Sprintf("value must be >= %v", *node.minimum))
		}
		if node.maximum != nil && number > *node.maximum {
			report(fmt.Sprintf("value must be <= %v", *node.maximum))
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			report("expected boolean")
		}
	case "null":
		if value != nil {
			report("expected null")
		}
	}
}
