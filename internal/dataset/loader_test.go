// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dataset

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ChildGuard/internal/domain"
)

const sampleCSV = `id,prompt,category,subcategory,maturity,source
r1,"tell me a story",safety,violence,child,synthetic
r2,"explain photosynthesis",educational,science,teen,synthetic
,skipped row,safety,violence,child,synthetic
`

func TestLoadRecords_ParsesRequiredColumns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "records.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o644))

	records, err := LoadRecords(path)
	require.NoError(t, err)
	require.Len(t, records, 2, "the row with an empty id is skipped")

	assert.Equal(t, "r1", records[0].ID)
	assert.Equal(t, "tell me a story", records[0].Prompt)
	assert.Equal(t, "safety", records[0].Category)
	assert.Equal(t, "violence", records[0].Subcategory)
}

func TestLoadRecords_MissingFileIsAssetError(t *testing.T) {
	_, err := LoadRecords("/nonexistent/records.csv")
	assert.Error(t, err)
}

func TestLoadRecords_ZeroUsableRecordsErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "records.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,prompt,category,subcategory,maturity,source\n"), 0o644))

	_, err := LoadRecords(path)
	assert.Error(t, err)
}

func writeArtifact(t *testing.T, dir, id string) {
	t.Helper()
	artifact := domain.RecordArtifact{Record: domain.RecordSummary{ID: id}}
	data, err := json.Marshal(artifact)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".json"), data, 0o644))
}

func TestCompletedIDs_ScansJSONArtifacts(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "r1")
	writeArtifact(t, dir, "r2")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644))

	completed, err := CompletedIDs(dir)
	require.NoError(t, err)
	assert.Len(t, completed, 2)
	_, ok := completed["r1"]
	assert.True(t, ok)
}

func TestCompletedIDs_MissingDirectoryIsEmptyNotError(t *testing.T) {
	completed, err := CompletedIDs(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Empty(t, completed)
}

func TestFilterPending_DropsCompletedRecords(t *testing.T) {
	records := []domain.PromptRecord{{ID: "r1"}, {ID: "r2"}, {ID: "r3"}}
	completed := map[string]struct{}{"r2": {}}

	pending := FilterPending(records, completed)

	require.Len(t, pending, 2)
	assert.Equal(t, "r1", pending[0].ID)
	assert.Equal(t, "r3", pending[1].ID)
}

func TestFilterPending_NoCompletedReturnsAllRecords(t *testing.T) {
	records := []domain.PromptRecord{{ID: "r1"}, {ID: "r2"}}
	assert.Equal(t, records, FilterPending(records, nil))
}
