package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dshills/pathweaver/roadmap"
)

// wrapperKeys are top-level keys under which LLMs commonly nest the
// requested document.
var wrapperKeys = []string{"output", "roadmap", "framework", "data", "result"}

// fencedBlock matches a fenced code block with any (or no) tag.
var fencedBlock = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*\\s*\\n?(.*?)```")

// ErrUnparseable is wrapped into the error returned when every parse
// strategy fails.
var ErrUnparseable = errors.New("no parse strategy recovered a document")

// ParseDocument recovers a JSON document from an LLM response body.
//
// Strategies, applied in order until one succeeds:
//  1. the body is raw JSON
//  2. the body wraps JSON in a fenced block of any tag
//  3. the document sits under a wrapper key (output, roadmap, framework,
//     data, result)
//
// Strategies compose: a fenced body whose JSON nests under "output"
// parses. Each strategy is pure; missing-field repair is a decode-time
// concern (see ParseFramework).
func ParseDocument(body string) (map[string]interface{}, error) {
	candidate := strings.TrimSpace(body)

	doc, rawErr := parseRaw(candidate)
	if rawErr != nil {
		var fenceErr error
		doc, fenceErr = parseFenced(candidate)
		if fenceErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnparseable, rawErr)
		}
	}

	return unwrap(doc), nil
}

// parseRaw attempts strict JSON object parsing.
func parseRaw(body string) (map[string]interface{}, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// parseFenced extracts the first fenced block that parses as a JSON
// object.
func parseFenced(body string) (map[string]interface{}, error) {
	matches := fencedBlock.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return nil, errors.New("no fenced block found")
	}

	var lastErr error
	for _, match := range matches {
		doc, err := parseRaw(strings.TrimSpace(match[1]))
		if err == nil {
			return doc, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// unwrap descends through a single wrapper key when the document's only
// meaningful content sits beneath it.
func unwrap(doc map[string]interface{}) map[string]interface{} {
	for _, key := range wrapperKeys {
		inner, ok := doc[key].(map[string]interface{})
		if !ok {
			continue
		}
		// Only unwrap when the wrapper carries nothing else of note.
		if len(doc) == 1 {
			return unwrap(inner)
		}
	}
	return doc
}

// Decode maps a parsed document onto a typed output shape via JSON
// round-trip, so the document tags on the target type apply.
func Decode(doc map[string]interface{}, v interface{}) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// ParseFramework runs the full recovery pipeline for a curriculum
// response: document recovery, typed decode, then field-fill of stage
// order, total hours and recommended weeks (strategy (d) of the parse
// contract).
func ParseFramework(body string, targetHoursPerWeek float64) (*roadmap.Framework, error) {
	doc, err := ParseDocument(body)
	if err != nil {
		return nil, err
	}

	var fw roadmap.Framework
	if err := Decode(doc, &fw); err != nil {
		return nil, fmt.Errorf("%w: framework decode: %v", ErrUnparseable, err)
	}
	if len(fw.Stages) == 0 {
		return nil, fmt.Errorf("%w: framework has no stages", ErrUnparseable)
	}

	fw.Normalize(targetHoursPerWeek)
	return &fw, nil
}
