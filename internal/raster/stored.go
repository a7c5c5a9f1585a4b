package raster

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image/png"
	"os"
	"time"

	"golang.org/x/image/draw"

	"github.com/spherical/pagetiles/internal/domain"
	"github.com/spherical/pagetiles/internal/observability"
	"github.com/spherical/pagetiles/internal/store"
)

// StoredRasterizer wraps another rasterizer with a shared encoded-tile store.
// Hits are decoded into pooled bitmaps; misses are rendered by the inner
// rasterizer and written back as PNG.
type StoredRasterizer struct {
	inner  domain.Rasterizer
	store  store.Client
	pool   *Pool
	ttl    time.Duration
	logger *observability.Logger

	digest string
}

// NewStoredFactory decorates every rasterizer made by inner.
func NewStoredFactory(inner domain.RasterizerFactory, client store.Client, pool *Pool, ttl time.Duration, logger *observability.Logger) domain.RasterizerFactory {
	return func() domain.Rasterizer {
		return NewStoredRasterizer(inner(), client, pool, ttl, logger)
	}
}

// NewStoredRasterizer creates the decorator.
func NewStoredRasterizer(inner domain.Rasterizer, client store.Client, pool *Pool, ttl time.Duration, logger *observability.Logger) *StoredRasterizer {
	if logger == nil {
		logger = observability.Nop()
	}
	return &StoredRasterizer{
		inner:  inner,
		store:  client,
		pool:   pool,
		ttl:    ttl,
		logger: logger.WithComponent("tile-store"),
	}
}

// Open opens the document in the inner rasterizer and derives its store digest.
func (r *StoredRasterizer) Open(ctx context.Context, src domain.Source) (domain.Dimensions, error) {
	dims, err := r.inner.Open(ctx, src)
	if err != nil {
		r.digest = ""
		return dims, err
	}
	r.digest = SourceDigest(src)
	return dims, nil
}

// RenderTile serves the tile from the store when possible.
func (r *StoredRasterizer) RenderTile(ctx context.Context, job domain.RenderJob) (*domain.Bitmap, error) {
	if r.digest == "" {
		return r.inner.RenderTile(ctx, job)
	}
	key := store.DocumentKey(r.digest, string(job.TileID), fmt.Sprintf("%dx%d", job.OutputSize.X, job.OutputSize.Y))

	data, err := r.store.Get(ctx, key)
	switch {
	case err == nil:
		bm, decodeErr := r.decode(data, job)
		if decodeErr == nil {
			return bm, nil
		}
		r.logger.Warn().Err(decodeErr).Str("key", key).Msg("Discarding undecodable stored tile")
	case !errors.Is(err, store.ErrCacheMiss):
		r.logger.Debug().Err(err).Str("key", key).Msg("Store get error")
	}

	bm, err := r.inner.RenderTile(ctx, job)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, bm.Image); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("Failed to encode tile")
		return bm, nil
	}
	if err := r.store.Set(ctx, key, buf.Bytes(), r.ttl); err != nil {
		r.logger.Debug().Err(err).Str("key", key).Msg("Store set error")
	}
	return bm, nil
}

func (r *StoredRasterizer) decode(data []byte, job domain.RenderJob) (*domain.Bitmap, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if img.Bounds().Size() != job.OutputSize {
		return nil, fmt.Errorf("stored tile is %v, want %v", img.Bounds().Size(), job.OutputSize)
	}
	bm := r.pool.Get(job.OutputSize.X, job.OutputSize.Y)
	draw.Draw(bm.Image, bm.Image.Bounds(), img, img.Bounds().Min, draw.Src)
	return bm, nil
}

// Close closes the inner rasterizer. The store is shared and stays open.
func (r *StoredRasterizer) Close() error {
	r.digest = ""
	return r.inner.Close()
}

// SourceDigest identifies a document for store keys: the content hash for
// in-memory sources, the path plus modification time otherwise.
func SourceDigest(src domain.Source) string {
	h := sha256.New()
	if len(src.Data) > 0 {
		h.Write(src.Data)
	} else {
		h.Write([]byte(src.Path))
		if info, err := os.Stat(src.Path); err == nil {
			fmt.Fprintf(h, "|%d|%d", info.Size(), info.ModTime().UnixNano())
		}
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}
