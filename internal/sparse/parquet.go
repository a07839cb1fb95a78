package sparse

import (
	"io"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
)

// entryFileName is the per-cube sparse entry file inside the cube directory.
const entryFileName = "entries.parquet"

// entryRow is the Parquet representation of one sparse entry.
type entryRow struct {
	Coord []int64 `parquet:"coord,list"`
	Value float64 `parquet:"value"`
}

func (e *Engine) entryPath() string {
	return filepath.Join(e.cubeDir, entryFileName)
}

// Flush persists the entry set if it has changed since the last flush.
// Writes and appends stay in memory until the next Flush, so a crash
// loses everything since then. The file is written to a temp path and
// renamed into place.
func (e *Engine) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.dirty {
		return nil
	}

	tmp := e.entryPath() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := parquet.NewGenericWriter[entryRow](f, parquet.Compression(&parquet.Zstd))

	rows := make([]entryRow, len(e.entries))
	for i, ent := range e.entries {
		coord := make([]int64, len(ent.coord))
		for d, c := range ent.coord {
			coord[d] = int64(c)
		}
		rows[i] = entryRow{Coord: coord, Value: ent.val}
	}
	if len(rows) > 0 {
		if _, err := w.Write(rows); err != nil {
			w.Close()
			f.Close()
			os.Remove(tmp)
			return err
		}
	}
	if err := w.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, e.entryPath()); err != nil {
		return err
	}
	e.dirty = false
	e.log.Debug("flushed sparse entries", "count", len(e.entries))
	return nil
}

// load reads the entry file into memory. A missing file means an empty
// entry set.
func (e *Engine) load() error {
	f, err := os.Open(e.entryPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	r := parquet.NewGenericReader[entryRow](f)
	defer r.Close()

	numRows := int(r.NumRows())
	if numRows == 0 {
		return nil
	}
	rows := make([]entryRow, numRows)
	n, err := r.Read(rows)
	if err != nil && err != io.EOF {
		return err
	}

	e.entries = make([]entry, 0, n)
	for i := 0; i < n; i++ {
		coord := make([]int, len(rows[i].Coord))
		for d, c := range rows[i].Coord {
			coord[d] = int(c)
		}
		e.entries = append(e.entries, entry{coord: coord, val: rows[i].Value})
	}
	return nil
}

// Destroy removes the entry file and clears the in-memory set.
func (e *Engine) Destroy() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = nil
	e.dirty = false
	if err := os.Remove(e.entryPath()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// EntryBytes estimates the in-memory footprint of the entry set.
func (e *Engine) EntryBytes() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ndim := len(e.meta.Shape)
	per := int64(ndim)*8 + 8
	return int64(len(e.entries)) * per
}
