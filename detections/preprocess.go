package detections

import (
	"image"
	"runtime"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/sys/cpu"
)

// Buffer is a CHW float32 input tensor leased from a Preprocessor. It must be
// handed back with Release once inference on it has finished.
type Buffer struct {
	Data []float32
	_    cpu.CacheLinePad
}

// Preprocessor resizes frames to the model input and converts them to planar
// RGB scaled to [0,1].
type Preprocessor struct {
	width, height int
	numWorkers    int
	bufferPool    *sync.Pool
}

func NewPreprocessor(width, height int) *Preprocessor {
	size := width * height * 3
	return &Preprocessor{
		width:      width,
		height:     height,
		numWorkers: runtime.GOMAXPROCS(0),
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return &Buffer{Data: make([]float32, size)}
			},
		},
	}
}

func (p *Preprocessor) Size() (int, int) {
	return p.width, p.height
}

func (p *Preprocessor) Acquire() *Buffer {
	return p.bufferPool.Get().(*Buffer)
}

func (p *Preprocessor) Release(b *Buffer) {
	if b != nil {
		p.bufferPool.Put(b)
	}
}

// Process resizes img when needed and fills buf.
func (p *Preprocessor) Process(img image.Image, buf *Buffer) {
	bounds := img.Bounds()
	if bounds.Dx() != p.width || bounds.Dy() != p.height {
		img = imaging.Resize(img, p.width, p.height, imaging.Linear)
	}

	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Rect.Min == (image.Point{}) {
		p.processParallel(buf.Data, func(y int, r, g, b []float32) {
			p.rowNRGBA(nrgba, y, r, g, b)
		})
		return
	}
	p.processParallel(buf.Data, func(y int, r, g, b []float32) {
		p.rowGeneric(img, y, r, g, b)
	})
}

func (p *Preprocessor) processParallel(buffer []float32, fill func(y int, r, g, b []float32)) {
	channelSize := p.width * p.height
	workers := p.numWorkers
	if workers > p.height {
		workers = p.height
	}
	rowsPerWorker := p.height / workers

	var wg sync.WaitGroup
	wg.Add(workers)

	for w := 0; w < workers; w++ {
		startRow := w * rowsPerWorker
		endRow := (w + 1) * rowsPerWorker
		if w == workers-1 {
			endRow = p.height
		}

		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				offset := y * p.width
				r := buffer[offset : offset+p.width]
				g := buffer[channelSize+offset : channelSize+offset+p.width]
				b := buffer[2*channelSize+offset : 2*channelSize+offset+p.width]
				fill(y, r, g, b)
			}
		}(startRow, endRow)
	}

	wg.Wait()
}

func (p *Preprocessor) rowNRGBA(img *image.NRGBA, y int, r, g, b []float32) {
	src := img.Pix[y*img.Stride : y*img.Stride+p.width*4]
	for x := 0; x < p.width; x++ {
		r[x] = float32(src[4*x]) / 255.0
		g[x] = float32(src[4*x+1]) / 255.0
		b[x] = float32(src[4*x+2]) / 255.0
	}
}

func (p *Preprocessor) rowGeneric(img image.Image, y int, r, g, b []float32) {
	min := img.Bounds().Min
	for x := 0; x < p.width; x++ {
		cr, cg, cb, _ := img.At(min.X+x, min.Y+y).RGBA()
		r[x] = float32(cr>>8) / 255.0
		g[x] = float32(cg>>8) / 255.0
		b[x] = float32(cb>>8) / 255.0
	}
}

// CPUFeatures lists the vector extensions the inference runtime may use.
func CPUFeatures() []string {
	var features []string
	switch runtime.GOARCH {
	case "amd64", "386":
		if cpu.X86.HasAVX512F {
			features = append(features, "avx512f")
		}
		if cpu.X86.HasAVX2 {
			features = append(features, "avx2")
		}
		if cpu.X86.HasSSE41 {
			features = append(features, "sse4.1")
		}
	case "arm64":
		if cpu.ARM64.HasASIMD {
			features = append(features, "asimd")
		}
		if cpu.ARM64.HasFPHP {
			features = append(features, "fp16")
		}
	}
	return features
}
