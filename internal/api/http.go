// Package api provides the optional read-side HTTP gateway.
//
// The gateway exposes cube listings, metadata, materialized data, and
// server statistics as JSON over HTTP, for dashboards and curl. It is
// read-only; writes go through the wire protocol. Requests authenticate
// with the same API key, carried in the X-API-Key header.
package api

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/TobiasJacob/cube-store/internal/catalog"
	"github.com/TobiasJacob/cube-store/internal/cube"
	"github.com/TobiasJacob/cube-store/internal/errors"
	"github.com/TobiasJacob/cube-store/internal/logging"
	"github.com/TobiasJacob/cube-store/internal/metastore"
	"github.com/TobiasJacob/cube-store/internal/wire"
)

var log = logging.Component("api")

// maxInlineElements bounds a materialized /data response. Bigger cubes
// must be consumed through the wire protocol's chunked ITER.
const maxInlineElements = 1 << 20

// Gateway serves the read-side HTTP API.
type Gateway struct {
	cat    *catalog.Catalog
	meta   *metastore.Store
	apiKey string
	e      *echo.Echo
}

// New creates a gateway. meta may be nil.
func New(cat *catalog.Catalog, meta *metastore.Store, apiKey string) *Gateway {
	g := &Gateway{cat: cat, meta: meta, apiKey: apiKey}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(g.auth)

	api := e.Group("/api")
	api.GET("/cubes", g.ListCubes)
	api.GET("/cubes/:name", g.GetCube)
	api.GET("/cubes/:name/data", g.GetCubeData)
	api.GET("/stats", g.GetStats)

	g.e = e
	return g
}

// Start runs the HTTP listener. Blocks until Shutdown.
func (g *Gateway) Start(addr string) error {
	log.Info("http gateway listening", "address", addr)
	err := g.e.Start(addr)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the HTTP listener gracefully.
func (g *Gateway) Shutdown(ctx context.Context) error {
	return g.e.Shutdown(ctx)
}

// auth checks the X-API-Key header on every request.
func (g *Gateway) auth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := c.Request().Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(g.apiKey)) != 1 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid API key"})
		}
		return next(c)
	}
}

// httpStatus maps engine errors to HTTP status codes.
func httpStatus(err error) int {
	switch {
	case errors.IsNotFound(err):
		return http.StatusNotFound
	case errors.IsValidation(err), errors.Is(err, errors.ErrInvalidRequest), errors.Is(err, errors.ErrIndex):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func jsonError(c echo.Context, err error) error {
	return c.JSON(httpStatus(err), map[string]string{"error": err.Error()})
}

// --- HANDLERS ---

// ListCubes returns the metadata of every cube.
func (g *Gateway) ListCubes(c echo.Context) error {
	names := g.cat.List()
	infos := make([]*wire.CubeInfo, 0, len(names))
	for _, name := range names {
		entry, err := g.cat.Get(name)
		if err != nil {
			continue
		}
		infos = append(infos, wire.InfoFromMeta(entry.Cube().Meta()))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"cubes": infos,
		"total": len(infos),
	})
}

// GetCube returns one cube's metadata.
func (g *Gateway) GetCube(c echo.Context) error {
	entry, err := g.cat.Get(c.Param("name"))
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, wire.InfoFromMeta(entry.Cube().Meta()))
}

// GetCubeData returns a cube's full content as a flat row-major value
// array plus its shape. Refused for cubes larger than maxInlineElements.
func (g *Gateway) GetCubeData(c echo.Context) error {
	entry, err := g.cat.Get(c.Param("name"))
	if err != nil {
		return jsonError(c, err)
	}
	cub := entry.Cube()
	shape := cub.Shape()
	if cube.ElemCount(shape) > maxInlineElements {
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
			"error": "cube too large to materialize inline, use the wire protocol",
		})
	}
	buf, err := cub.Read(cube.FullSelection(shape))
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"shape": shape,
		"dtype": cub.DType().String(),
		"data":  buf.Floats(),
	})
}

// GetStats returns server statistics.
func (g *Gateway) GetStats(c echo.Context) error {
	used, capacity, hits, misses := g.cat.CacheStats()
	stats := map[string]interface{}{
		"cubes":          g.cat.Len(),
		"cache_used":     used,
		"cache_capacity": capacity,
		"cache_hits":     hits,
		"cache_misses":   misses,
	}
	if g.meta != nil {
		if counts, err := g.meta.CommandCounts(c.Request().Context()); err == nil {
			stats["ops"] = counts
		}
		if n, err := g.meta.ErrorCount(c.Request().Context()); err == nil {
			stats["op_errors"] = n
		}
	}
	return c.JSON(http.StatusOK, stats)
}
