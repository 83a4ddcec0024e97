// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package report serializes a finished session to its canonical CSV file.
package report

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sprigga/webpdtool/errors"
	"github.com/sprigga/webpdtool/internal/logging"
	"github.com/sprigga/webpdtool/internal/repo"
)

// header is the fixed CSV schema. Readers downstream key on these names.
var header = []string{
	"Item No", "Item Name", "Result", "Measured Value", "Min Limit",
	"Max Limit", "Error Message", "Execution Time (ms)", "Test Time",
}

// timeLayout is ISO-8601 UTC with microsecond precision.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Writer emits one CSV per session under a root directory.
type Writer struct {
	root string
}

// NewWriter returns a Writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{root: dir}
}

// sanitize replaces filesystem-hostile characters with underscores.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, s)
}

// Write serializes the session and its results. Rows come out in item_no
// order regardless of input order. If the report root is not writable the
// writer falls back to a directory under the user's home and logs the
// fallback. Existing reports are never rewritten; a colliding name gets a
// numeric suffix.
func (w *Writer) Write(ctx context.Context, s *repo.Session, results []*repo.Result) (string, error) {
	rows := append([]*repo.Result(nil), results...)
	sort.Slice(rows, func(i, j int) bool { return rows[i].ItemNo < rows[j].ItemNo })

	stamp := s.StartedAt.UTC()
	dir := filepath.Join(w.root, sanitize(s.ProjectID), sanitize(s.StationID), stamp.Format("20060102"))
	name := sanitize(s.SerialNumber) + "_" + stamp.Format("20060102_150405") + ".csv"

	path, err := w.create(dir, name)
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return "", errors.Wrapf(err, "report directory %s unusable and no home directory", dir)
		}
		fallback := filepath.Join(home, "webpdtool-reports", sanitize(s.ProjectID), sanitize(s.StationID), stamp.Format("20060102"))
		logging.Infof(ctx, "Report directory %s not writable (%v); falling back to %s", dir, err, fallback)
		if path, err = w.create(fallback, name); err != nil {
			return "", errors.Wrap(err, "failed to create report in fallback directory")
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", errors.Wrapf(err, "failed to create report %s", path)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(header); err != nil {
		return "", errors.Wrap(err, "failed to write report header")
	}
	for _, r := range rows {
		rec := []string{
			strconv.Itoa(r.ItemNo),
			r.ItemName,
			string(r.Outcome),
			r.MeasuredValue,
			formatLimit(r.LowerLimit),
			formatLimit(r.UpperLimit),
			r.ErrorMessage,
			strconv.FormatInt(r.DurationMS, 10),
			r.StartedAt.UTC().Format(timeLayout),
		}
		if err := cw.Write(rec); err != nil {
			return "", errors.Wrapf(err, "failed to write report row %d", r.ItemNo)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return "", errors.Wrap(err, "failed to flush report")
	}
	return path, nil
}

// create ensures dir exists and picks a non-colliding path for name.
func (w *Writer) create(dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrapf(err, "failed to create %s", dir)
	}
	path := filepath.Join(dir, name)
	for i := 1; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path, nil
		}
		ext := filepath.Ext(name)
		path = filepath.Join(dir, strings.TrimSuffix(name, ext)+"_"+strconv.Itoa(i)+ext)
	}
}

func formatLimit(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}
