// Package catalog manages the set of cubes resident in one server: create,
// delete, lookup, and hydration from the data directory at startup.
package catalog

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/TobiasJacob/cube-store/internal/chunkstore"
	"github.com/TobiasJacob/cube-store/internal/cube"
	"github.com/TobiasJacob/cube-store/internal/dense"
	"github.com/TobiasJacob/cube-store/internal/dims"
	"github.com/TobiasJacob/cube-store/internal/errors"
	"github.com/TobiasJacob/cube-store/internal/logging"
	"github.com/TobiasJacob/cube-store/internal/sparse"
	"github.com/TobiasJacob/cube-store/internal/validation"
)

// Cube is the uniform face of a stored array, dense or sparse.
type Cube interface {
	Meta() *cube.Meta
	Shape() []int
	DType() cube.DType
	FillValue() float64
	Dims() *dims.Index
	Read(sel cube.Selection) (*cube.Buffer, error)
	Write(sel cube.Selection, buf *cube.Buffer) error
	Append(axis int, buf *cube.Buffer) error
	Resize(newShape []int) error
	Destroy() error
}

// Entry is one registered cube. Exactly one of Dense or Sparse is set.
type Entry struct {
	Name   string
	Dense  *dense.Engine
	Sparse *sparse.Engine
}

// Cube returns the engine behind its uniform interface.
func (e *Entry) Cube() Cube {
	if e.Sparse != nil {
		return e.Sparse
	}
	return e.Dense
}

// IsSparse reports the storage representation.
func (e *Entry) IsSparse() bool { return e.Sparse != nil }

// Options configures catalog-wide storage behavior.
type Options struct {
	// ChunkTargetBytes sizes auto-derived chunk shapes for dense cubes.
	ChunkTargetBytes int
	// ChunkCacheBytes bounds the shared chunk cache. Zero disables it.
	ChunkCacheBytes int64
	// ChunkLockStripes sizes the shared chunk lock table.
	ChunkLockStripes int
}

// Catalog is the server-wide cube registry. All access goes through it.
type Catalog struct {
	mu      sync.RWMutex
	dataDir string
	opts    Options
	cubes   map[string]*Entry
	cache   *chunkstore.Cache
	locks   *chunkstore.LockTable
	log     *slog.Logger
}

// Open creates the data directory if needed and hydrates every cube that
// has a metadata record in it.
func Open(dataDir string, opts Options) (*Catalog, error) {
	if opts.ChunkTargetBytes <= 0 {
		opts.ChunkTargetBytes = 4 << 20
	}
	if opts.ChunkLockStripes <= 0 {
		opts.ChunkLockStripes = 128
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "create data dir %s: %v", dataDir, err)
	}
	c := &Catalog{
		dataDir: dataDir,
		opts:    opts,
		cubes:   make(map[string]*Entry),
		cache:   chunkstore.NewCache(opts.ChunkCacheBytes),
		locks:   chunkstore.NewLockTable(opts.ChunkLockStripes),
		log:     logging.Component("catalog"),
	}
	if err := c.hydrate(); err != nil {
		return nil, err
	}
	return c, nil
}

// hydrate scans the data directory for cube metadata records and opens
// each cube. Directories without a record are skipped with a warning.
func (c *Catalog) hydrate() error {
	dirents, err := os.ReadDir(c.dataDir)
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "scan data dir: %v", err)
	}
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		cubeDir := filepath.Join(c.dataDir, d.Name())
		meta, err := cube.LoadMeta(cubeDir)
		if err != nil {
			if os.IsNotExist(err) {
				c.log.Warn("skipping directory without metadata", "dir", d.Name())
				continue
			}
			return errors.Wrapf(errors.ErrStorage, "load %s: %v", d.Name(), err)
		}
		entry, err := c.open(cubeDir, meta)
		if err != nil {
			return err
		}
		c.cubes[meta.Name] = entry
		c.log.Info("hydrated cube", "name", meta.Name, "shape", meta.Shape,
			"dtype", meta.DType, "sparse", meta.Sparse)
	}
	c.log.Info("catalog ready", "cubes", len(c.cubes))
	return nil
}

func (c *Catalog) open(cubeDir string, meta *cube.Meta) (*Entry, error) {
	if meta.Sparse {
		eng, err := sparse.Open(cubeDir, meta)
		if err != nil {
			return nil, err
		}
		return &Entry{Name: meta.Name, Sparse: eng}, nil
	}
	eng, err := dense.Open(cubeDir, meta, c.cache, c.locks)
	if err != nil {
		return nil, err
	}
	return &Entry{Name: meta.Name, Dense: eng}, nil
}

// =============================================================================
// Registry operations
// =============================================================================

// Create registers a new cube and initializes its directory. The metadata
// record is validated first; the name must be unique.
func (c *Catalog) Create(meta *cube.Meta) (*Entry, error) {
	if err := validation.CubeName(meta.Name); err != nil {
		return nil, err
	}
	if err := validation.Shape(meta.Shape); err != nil {
		return nil, err
	}
	if meta.DimNames != nil {
		if err := validation.DimNames(meta.DimNames, len(meta.Shape)); err != nil {
			return nil, err
		}
	}
	if meta.CoordLabels != nil {
		if err := validation.CoordLabels(meta.CoordLabels, meta.Shape); err != nil {
			return nil, err
		}
	}
	if !meta.Sparse {
		if meta.ChunkShape == nil {
			meta.ChunkShape = cube.DefaultChunkShape(meta.Shape, meta.DType, c.opts.ChunkTargetBytes)
		} else if err := validation.ChunkShape(meta.ChunkShape, meta.Shape); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.cubes[meta.Name]; ok {
		return nil, errors.NewNameConflict(meta.Name)
	}

	cubeDir := filepath.Join(c.dataDir, meta.Name)
	if err := os.MkdirAll(cubeDir, 0o755); err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "create cube dir: %v", err)
	}

	var entry *Entry
	if meta.Sparse {
		eng, err := sparse.Create(cubeDir, meta)
		if err != nil {
			os.RemoveAll(cubeDir)
			return nil, err
		}
		entry = &Entry{Name: meta.Name, Sparse: eng}
	} else {
		eng, err := dense.Create(cubeDir, meta, c.cache, c.locks)
		if err != nil {
			os.RemoveAll(cubeDir)
			return nil, err
		}
		entry = &Entry{Name: meta.Name, Dense: eng}
	}
	c.cubes[meta.Name] = entry
	c.log.Info("created cube", "name", meta.Name, "shape", meta.Shape,
		"dtype", meta.DType, "sparse", meta.Sparse)
	return entry, nil
}

// Delete unregisters a cube and removes its directory.
func (c *Catalog) Delete(name string) error {
	c.mu.Lock()
	entry, ok := c.cubes[name]
	if ok {
		delete(c.cubes, name)
	}
	c.mu.Unlock()
	if !ok {
		return errors.NewCubeNotFound(name)
	}
	if err := entry.Cube().Destroy(); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(c.dataDir, name)); err != nil {
		return errors.Wrapf(errors.ErrStorage, "remove cube dir: %v", err)
	}
	c.log.Info("deleted cube", "name", name)
	return nil
}

// Get looks up a cube by name.
func (c *Catalog) Get(name string) (*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cubes[name]
	if !ok {
		return nil, errors.NewCubeNotFound(name)
	}
	return entry, nil
}

// List returns the registered cube names in sorted order.
func (c *Catalog) List() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.cubes))
	for name := range c.cubes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len reports the number of registered cubes.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cubes)
}

// CacheStats exposes the shared chunk cache counters.
func (c *Catalog) CacheStats() (used, capacity, hits, misses int64) {
	return c.cache.Stats()
}

// Flush persists any buffered sparse entry sets. Dense cubes write their
// chunks through to disk on every Write, but sparse cubes hold dirty
// entries in memory until this is called (or the catalog closes), so a
// crash loses sparse writes made since the last flush.
func (c *Catalog) Flush() error {
	c.mu.RLock()
	entries := make([]*Entry, 0, len(c.cubes))
	for _, e := range c.cubes {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	var firstErr error
	for _, e := range entries {
		if e.Sparse == nil {
			continue
		}
		if err := e.Sparse.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close flushes all cubes. The catalog must not be used afterwards.
func (c *Catalog) Close() error {
	err := c.Flush()
	c.log.Info("catalog closed", "cubes", c.Len())
	return err
}
