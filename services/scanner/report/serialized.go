// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/runtimescan/services/scanner/findings"
)

// FormatSerialized renders a result as an indented JSON Document.
func FormatSerialized(r *findings.Result) (string, error) {
	doc, err := NewDocument(r)
	if err != nil {
		return "", fmt.Errorf("format serialized: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("format serialized: %w", err)
	}
	return string(data), nil
}

// ParseSerialized reads a JSON Document produced by FormatSerialized.
func ParseSerialized(s string) (*findings.Result, error) {
	var doc Document
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		return nil, fmt.Errorf("parse serialized: %w: %v", findings.ErrInvalidInput, err)
	}
	return checkedResult(&doc)
}

// FormatYAML renders a result as a YAML Document.
func FormatYAML(r *findings.Result) (string, error) {
	doc, err := NewDocument(r)
	if err != nil {
		return "", fmt.Errorf("format yaml: %w", err)
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("format yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("format yaml: %w", err)
	}
	return buf.String(), nil
}

// ParseYAML reads a YAML Document produced by FormatYAML.
func ParseYAML(s string) (*findings.Result, error) {
	var doc Document
	if err := yaml.Unmarshal([]byte(s), &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w: %v", findings.ErrInvalidInput, err)
	}
	return checkedResult(&doc)
}

// EncodeMsgpack encodes a result as a MessagePack Document. Field names
// match the JSON form.
func EncodeMsgpack(r *findings.Result) ([]byte, error) {
	doc, err := NewDocument(r)
	if err != nil {
		return nil, fmt.Errorf("encode msgpack: %w", err)
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode msgpack: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeMsgpack decodes a Document produced by EncodeMsgpack.
func DecodeMsgpack(data []byte) (*findings.Result, error) {
	var doc Document
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode msgpack: %w: %v", findings.ErrInvalidInput, err)
	}
	return checkedResult(&doc)
}

func checkedResult(doc *Document) (*findings.Result, error) {
	if doc.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("%w: unsupported schema version %d", findings.ErrInvalidInput, doc.SchemaVersion)
	}
	return doc.Result()
}
