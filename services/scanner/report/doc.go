// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report renders analysis results.
//
// # Description
//
// Results are rendered as a short human summary, a structured text
// document with labeled sections, or a serialized Document in JSON, YAML
// or MessagePack. The serialized forms carry every field of the result and
// can be read back with ParseSerialized, ParseYAML and DecodeMsgpack.
//
// Every formatter returns findings.ErrInvalidInput for a nil result and
// succeeds for any other result, including an empty one.
package report
