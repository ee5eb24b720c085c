// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package findings

import (
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverity_Ordering(t *testing.T) {
	assert.Less(t, SeverityLow, SeverityMedium)
	assert.Less(t, SeverityMedium, SeverityHigh)
	assert.Less(t, SeverityHigh, SeverityCritical)
	assert.Less(t, LikelihoodLow, LikelihoodMedium)
	assert.Less(t, LikelihoodMedium, LikelihoodHigh)
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		input   string
		want    Severity
		wantErr bool
	}{
		{"low", SeverityLow, false},
		{"Medium", SeverityMedium, false},
		{" HIGH ", SeverityHigh, false},
		{"crit", SeverityCritical, false},
		{"urgent", SeverityLow, true},
		{"", SeverityLow, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSeverity(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSeverity_TextRoundTrip(t *testing.T) {
	for _, s := range Severities {
		b, err := s.MarshalText()
		require.NoError(t, err)

		var got Severity
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, s, got)
	}
	assert.Equal(t, "Unknown", Severity(42).String())
}

func TestLikelihoodFor(t *testing.T) {
	assert.Equal(t, LikelihoodHigh, LikelihoodFor(SeverityCritical))
	assert.Equal(t, LikelihoodHigh, LikelihoodFor(SeverityHigh))
	assert.Equal(t, LikelihoodMedium, LikelihoodFor(SeverityMedium))
	assert.Equal(t, LikelihoodLow, LikelihoodFor(SeverityLow))
}

func TestFinding_KindAndWithID(t *testing.T) {
	issue := Issue(RuntimeIssue{Rule: "empty-catch", Severity: SeverityHigh})
	risk := Risk(EnvironmentRisk{Rule: "hardcoded-endpoint", Mitigation: Mitigation{RequiredChanges: []string{"a"}}})
	edge := EdgeCase(EdgeCaseFailure{Rule: "unguarded-division"})

	assert.Equal(t, KindRuntimeIssue, issue.Kind())
	assert.Equal(t, KindEnvironmentRisk, risk.Kind())
	assert.Equal(t, KindEdgeCaseFailure, edge.Kind())
	assert.Equal(t, KindUnknown, Finding{}.Kind())
	assert.Equal(t, "hardcoded-endpoint", risk.Rule())

	withID := risk.WithID(7)
	assert.Equal(t, int64(7), withID.Risk.ID)
	assert.Equal(t, int64(0), risk.Risk.ID, "original finding must not be modified")

	withID.Risk.Mitigation.RequiredChanges[0] = "b"
	assert.Equal(t, "a", risk.Risk.Mitigation.RequiredChanges[0])
}

func TestResult_DerivedFacts(t *testing.T) {
	t.Run("empty result", func(t *testing.T) {
		r := NewBuilder().Build(Metadata{})
		assert.Equal(t, 0, r.TotalIssueCount())
		assert.False(t, r.HasCriticalIssues())
		assert.NotNil(t, r.Issues)
		assert.NotNil(t, r.Metadata.AnalyzedFiles)
	})

	t.Run("critical issue", func(t *testing.T) {
		b := NewBuilder()
		b.Add(Issue(RuntimeIssue{ID: 1, Severity: SeverityCritical}))
		b.Add(EdgeCase(EdgeCaseFailure{ID: 2, Severity: SeverityHigh}))
		r := b.Build(Metadata{})
		assert.Equal(t, 2, r.TotalIssueCount())
		assert.True(t, r.HasCriticalIssues())
		assert.Equal(t, 1, r.IssuesBySeverity()[SeverityCritical])
		assert.Equal(t, 1, r.EdgeCasesBySeverity()[SeverityHigh])
	})

	t.Run("high likelihood risk is critical", func(t *testing.T) {
		b := NewBuilder()
		b.Add(Risk(EnvironmentRisk{ID: 1, Likelihood: LikelihoodHigh}))
		r := b.Build(Metadata{})
		assert.True(t, r.HasCriticalIssues())
		assert.Equal(t, 1, r.RisksByLikelihood()[LikelihoodHigh])
	})

	t.Run("high severity issue alone is not critical", func(t *testing.T) {
		b := NewBuilder()
		b.Add(Issue(RuntimeIssue{ID: 1, Severity: SeverityHigh}))
		assert.False(t, b.Build(Metadata{}).HasCriticalIssues())
	})
}

func TestMerge_PreservesOrder(t *testing.T) {
	b1 := NewBuilder()
	b1.Add(Issue(RuntimeIssue{ID: 1}))
	r1 := b1.Build(Metadata{AnalyzedFiles: []string{"a.cs"}})

	b2 := NewBuilder()
	b2.Add(Issue(RuntimeIssue{ID: 2}))
	b2.Add(Risk(EnvironmentRisk{ID: 3}))
	r2 := b2.Build(Metadata{AnalyzedFiles: []string{"b.cs"}, SkippedFiles: []SkippedFile{{Path: "c.cs", Reason: "missing"}}})

	merged := Merge(r1, nil, r2)
	require.Len(t, merged.Issues, 2)
	assert.Equal(t, int64(1), merged.Issues[0].ID)
	assert.Equal(t, int64(2), merged.Issues[1].ID)
	assert.Equal(t, []string{"a.cs", "b.cs"}, merged.Metadata.AnalyzedFiles)
	assert.Len(t, merged.Metadata.SkippedFiles, 1)
	assert.Equal(t, 3, merged.TotalIssueCount())
}

func TestResult_JSONUsesSeverityNames(t *testing.T) {
	b := NewBuilder()
	b.Add(Issue(RuntimeIssue{ID: 1, Rule: "empty-catch", Severity: SeverityHigh}))
	data, err := json.Marshal(b.Build(Metadata{}))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"severity":"High"`)
}

func TestFileError_Unwrap(t *testing.T) {
	err := &FileError{Path: "x.cs", Op: "read", Err: os.ErrNotExist}
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Equal(t, "read x.cs: file does not exist", err.Error())
}

func TestLocation(t *testing.T) {
	assert.Equal(t, "a.cs:3", (&RuntimeIssue{File: "a.cs", Line: 3}).Location())
	assert.Equal(t, "<source>", (&EdgeCaseFailure{}).Location())
	assert.Equal(t, "b.cs", (&EnvironmentRisk{File: "b.cs"}).Location())
}
