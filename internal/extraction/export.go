package extraction

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zip"

	"github.com/JonMunkholm/extraction/internal/sqldb"
)

// flush the CSV writer every N rows
const flushInterval = 1000

// DumpTableToFile writes table, projected and filtered by filter, as CSV to
// path. Returns the number of data rows written.
func (t *Tables) DumpTableToFile(ctx context.Context, ectx *Context, table string, filter *Filter, path string) (int64, error) {
	v, err := t.view(ctx, ectx, table, filter)
	if err != nil {
		return 0, err
	}
	query, args, err := t.selectQuery(v, filter)
	if err != nil {
		return 0, err
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, errors.Wrapf(err, "create %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = t.cfg.Separator()

	header := make([]string, len(v.columns))
	for i, c := range v.columns {
		header[i] = HumanColumnName(c.Name)
	}
	if err := w.Write(header); err != nil {
		return 0, errors.Wrap(err, "write header")
	}

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, technical(err, "read rows")
	}
	defer rows.Close()

	var count int64
	record := make([]string, len(v.columns))
	for rows.Next() {
		values, err := sqldb.ScanValues(rows, len(v.columns))
		if err != nil {
			return count, technical(err, "scan row")
		}
		for i, val := range values {
			record[i] = formatCell(val)
		}
		if err := w.Write(record); err != nil {
			return count, errors.Wrap(err, "write row")
		}
		count++
		if count%flushInterval == 0 {
			w.Flush()
		}
	}
	if err := rows.Err(); err != nil {
		return count, technical(err, "read rows")
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return count, errors.Wrap(err, "flush csv")
	}
	return count, f.Close()
}

// DumpToFile exports the tables of ectx selected by filter (all sheets
// unless the filter names one). A single table becomes
// {format}-{sheet}-{timestamp}.csv; several become {format}-{timestamp}.zip
// holding one {sheet}.csv per table.
func (t *Tables) DumpToFile(ctx context.Context, ectx *Context, filter *Filter) (string, error) {
	if filter == nil {
		filter = &Filter{}
	}

	tables := ectx.TableNames()
	if filter.SheetName != "" {
		table, ok := ectx.TableBySheet(filter.SheetName)
		if !ok {
			return "", noDataf("no table for sheet %s", filter.SheetName)
		}
		tables = []string{table}
	}
	if len(tables) == 0 {
		return "", noDataf("nothing to dump for %s", ectx.Format)
	}

	if err := os.MkdirAll(t.cfg.OutputDir, 0755); err != nil {
		return "", errors.Wrap(err, "create output directory")
	}

	format := strings.ToLower(ectx.Format)
	workDir, err := createUniqueDir(filepath.Join(t.tempDir(), fmt.Sprintf("%s_%d", format, ectx.ID)))
	if err != nil {
		return "", err
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			slog.Warn("failed to remove dump directory", "dir", workDir, "error", err)
		}
	}()

	ts := time.Now().Format("20060102_150405")

	if len(tables) == 1 {
		sheet := ectx.SheetOf(tables[0])
		tmp := filepath.Join(workDir, sheet+".csv")
		if _, err := t.DumpTableToFile(ctx, ectx, tables[0], filter, tmp); err != nil {
			return "", err
		}
		out := uniquePath(filepath.Join(t.cfg.OutputDir, fmt.Sprintf("%s-%s-%s.csv", format, strings.ToLower(sheet), ts)))
		if err := moveFile(tmp, out); err != nil {
			return "", err
		}
		return out, nil
	}

	for _, table := range tables {
		sheet := ectx.SheetOf(table)
		if _, err := t.DumpTableToFile(ctx, ectx, table, filter, filepath.Join(workDir, sheet+".csv")); err != nil {
			return "", errors.Wrapf(err, "dump sheet %s", sheet)
		}
	}

	out := uniquePath(filepath.Join(t.cfg.OutputDir, fmt.Sprintf("%s-%s.zip", format, ts)))
	if err := zipDir(workDir, out); err != nil {
		return "", err
	}
	return out, nil
}

func (t *Tables) tempDir() string {
	if t.cfg.TempDir != "" {
		return t.cfg.TempDir
	}
	return os.TempDir()
}

// createUniqueDir creates base, or base_1, base_2... when it already exists.
func createUniqueDir(base string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(base), 0755); err != nil {
		return "", errors.Wrap(err, "create temp directory")
	}
	dir := base
	for i := 1; ; i++ {
		err := os.Mkdir(dir, 0755)
		if err == nil {
			return dir, nil
		}
		if !os.IsExist(err) {
			return "", errors.Wrapf(err, "create %s", dir)
		}
		dir = fmt.Sprintf("%s_%d", base, i)
	}
}

// uniquePath returns path, or path with _1, _2... before the extension
// when a file already exists there.
func uniquePath(path string) string {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	candidate := path
	for i := 1; ; i++ {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
		candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
	}
}

func moveFile(from, to string) error {
	if err := os.Rename(from, to); err == nil {
		return nil
	}
	// rename fails across devices
	src, err := os.Open(from)
	if err != nil {
		return errors.Wrapf(err, "open %s", from)
	}
	defer src.Close()

	dst, err := os.Create(to)
	if err != nil {
		return errors.Wrapf(err, "create %s", to)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return errors.Wrapf(err, "copy to %s", to)
	}
	return dst.Close()
}

// zipDir archives the regular files of dir, by name, into out.
func zipDir(dir, out string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrapf(err, "list %s", dir)
	}

	f, err := os.Create(out)
	if err != nil {
		return errors.Wrapf(err, "create %s", out)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err := addToZip(zw, filepath.Join(dir, e.Name()), e.Name()); err != nil {
			zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return errors.Wrap(err, "finish archive")
	}
	return f.Close()
}

func addToZip(zw *zip.Writer, path, name string) error {
	src, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer src.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: time.Now()})
	if err != nil {
		return errors.Wrapf(err, "add %s to archive", name)
	}
	_, err = io.Copy(w, src)
	return errors.Wrapf(err, "add %s to archive", name)
}

// HumanColumnName turns a snake_case column into a header label:
// statistical_rectangle -> Statistical rectangle.
func HumanColumnName(name string) string {
	words := strings.Fields(strings.ReplaceAll(name, "_", " "))
	if len(words) == 0 {
		return name
	}
	s := strings.ToLower(strings.Join(words, " "))
	return strings.ToUpper(s[:1]) + s[1:]
}

// formatCell formats a cell value for CSV export.
func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case time.Time:
		if val.IsZero() {
			return ""
		}
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 && val.Nanosecond() == 0 {
			return val.Format("2006-01-02")
		}
		return val.Format(time.RFC3339)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}
