package raster

import (
	"image"
	"sync"

	"github.com/spherical/pagetiles/internal/domain"
)

// Pool hands out tile bitmaps and takes their buffers back on release.
// Outstanding counts bitmaps that were handed out and not yet released,
// which is how leaks are detected.
type Pool struct {
	mu          sync.Mutex
	free        map[image.Point][]*image.RGBA
	maxFree     int
	outstanding int
	allocated   int
}

// NewPool creates a pool keeping at most maxFree spare buffers per size.
func NewPool(maxFree int) *Pool {
	if maxFree < 0 {
		maxFree = 0
	}
	return &Pool{
		free:    make(map[image.Point][]*image.RGBA),
		maxFree: maxFree,
	}
}

// Get returns a cleared bitmap of the given size.
func (p *Pool) Get(width, height int) *domain.Bitmap {
	size := image.Pt(width, height)

	p.mu.Lock()
	var img *image.RGBA
	if spare := p.free[size]; len(spare) > 0 {
		img = spare[len(spare)-1]
		p.free[size] = spare[:len(spare)-1]
	}
	p.outstanding++
	p.mu.Unlock()

	if img == nil {
		img = image.NewRGBA(image.Rect(0, 0, width, height))
		p.mu.Lock()
		p.allocated++
		p.mu.Unlock()
	} else {
		clear(img.Pix)
	}
	return domain.NewBitmap(img, p.put)
}

func (p *Pool) put(img *image.RGBA) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.outstanding--
	if img == nil {
		return
	}
	size := img.Rect.Size()
	if len(p.free[size]) < p.maxFree {
		p.free[size] = append(p.free[size], img)
	}
}

// Outstanding returns the number of bitmaps not yet released.
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outstanding
}

// Allocated returns how many buffers were ever allocated (not reused).
func (p *Pool) Allocated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated
}
