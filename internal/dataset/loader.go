// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package dataset loads the run's input records and, on resume, reads
// back which ones already have output artifacts so a run can skip
// completed work (spec.md 6, "smart resume").
package dataset

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/ChildGuard/internal/domain"
	"github.com/AleutianAI/ChildGuard/internal/engineerr"
)

// requiredColumns are the CSV headers every input file must carry
// (spec.md 6, input record schema).
var requiredColumns = []string{"id", "prompt", "category", "subcategory", "maturity", "source"}

// LoadRecords reads a CSV file of prompt records. The optional
// "criteria_selection" and "mode" columns default to empty and
// domain.ModeDefensive respectively when absent.
func LoadRecords(path string) ([]domain.PromptRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindAssetError, "open dataset "+path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindAssetError, "read dataset header "+path, err)
	}
	col := indexHeader(header)

	for _, required := range requiredColumns {
		if _, ok := col[required]; !ok {
			return nil, engineerr.New(engineerr.KindAssetError, fmt.Sprintf("dataset %s missing required column %q", path, required))
		}
	}

	hasSelection := has(col, "criteria_selection")
	hasMode := has(col, "mode")

	var records []domain.PromptRecord
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, engineerr.Wrap(engineerr.KindAssetError, "read dataset row "+path, err)
		}

		r := domain.PromptRecord{
			ID:          field(row, col, "id"),
			Prompt:      field(row, col, "prompt"),
			Category:    field(row, col, "category"),
			Subcategory: field(row, col, "subcategory"),
			Maturity:    domain.AgeBand(field(row, col, "maturity")),
			Source:      field(row, col, "source"),
			Mode:        domain.ModeDefensive,
		}
		r.FullPrompt = r.Prompt

		if hasSelection {
			r.CriteriaSelection = field(row, col, "criteria_selection")
		}
		if hasMode {
			if m := field(row, col, "mode"); m != "" {
				r.Mode = domain.Mode(m)
			}
		}

		if r.ID == "" || r.Prompt == "" {
			continue
		}
		records = append(records, r)
	}

	if len(records) == 0 {
		return nil, engineerr.New(engineerr.KindAssetError, "dataset "+path+" contains no usable records")
	}

	return records, nil
}

func indexHeader(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return idx
}

func has(col map[string]int, name string) bool {
	_, ok := col[name]
	return ok
}

func field(row []string, col map[string]int, name string) string {
	i, ok := col[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// CompletedIDs scans outputDir for "<id>.json" record artifacts and
// returns the set of record ids already evaluated, for smart resume.
func CompletedIDs(outputDir string) (map[string]struct{}, error) {
	done := map[string]struct{}{}

	entries, err := os.ReadDir(outputDir)
	if os.IsNotExist(err) {
		return done, nil
	}
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindAssetError, "scan output directory "+outputDir, err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(outputDir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var artifact domain.RecordArtifact
		if err := json.Unmarshal(data, &artifact); err != nil {
			continue
		}
		if artifact.Record.ID != "" {
			done[artifact.Record.ID] = struct{}{}
		}
	}

	return done, nil
}

// FilterPending drops any record whose id is already in completed.
func FilterPending(records []domain.PromptRecord, completed map[string]struct{}) []domain.PromptRecord {
	if len(completed) == 0 {
		return records
	}
	out := make([]domain.PromptRecord, 0, len(records))
	for _, r := range records {
		if _, done := completed[r.ID]; done {
			continue
		}
		out = append(out, r)
	}
	return out
}

// RegenerateCSV rewrites a CSV of record summaries from a directory of
// JSON output artifacts (spec.md's supplemented "CSV regeneration from
// JSON" feature), one row per record with its final score and verdict.
func RegenerateCSV(outputDir, csvPath string) error {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return engineerr.Wrap(engineerr.KindAssetError, "scan output directory "+outputDir, err)
	}

	out, err := os.Create(csvPath)
	if err != nil {
		return engineerr.Wrap(engineerr.KindAssetError, "create csv "+csvPath, err)
	}
	defer out.Close()

	w := csv.NewWriter(out)
	defer w.Flush()

	if err := w.Write([]string{"id", "category", "subcategory", "maturity", "final_score", "verdict"}); err != nil {
		return err
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(outputDir, e.Name()))
		if err != nil {
			continue
		}
		var artifact domain.RecordArtifact
		if err := json.Unmarshal(data, &artifact); err != nil {
			continue
		}
		row := []string{
			artifact.Record.ID,
			artifact.Record.Category,
			artifact.Record.Subcategory,
			artifact.Record.Maturity,
			fmt.Sprintf("%.4f", artifact.Aggregate.FinalScore),
			artifact.Aggregate.Verdict,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	return nil
}
