package detections

import (
	"image"
	"runtime"
	"sync"
)

// Preprocessor converts RGB frames into planar CHW float tensors scaled to [0,1].
type Preprocessor struct {
	numWorkers int
}

func NewPreprocessor() *Preprocessor {
	return &Preprocessor{numWorkers: runtime.GOMAXPROCS(0)}
}

// Process fills dst, which must hold 3*w*h values, from img. Rows are split across workers.
func (p *Preprocessor) Process(img *image.RGBA, dst []float32) {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	channelSize := width * height

	workers := min(p.numWorkers, height)
	if workers < 1 {
		workers = 1
	}
	rowsPerWorker := height / workers

	var wg sync.WaitGroup
	wg.Add(workers)

	for w := 0; w < workers; w++ {
		startRow := w * rowsPerWorker
		endRow := (w + 1) * rowsPerWorker
		if w == workers-1 {
			endRow = height
		}

		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				src := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
				offset := y * width
				for x := 0; x < width; x++ {
					i := offset + x
					px := src[x*4 : x*4+3]
					dst[i] = float32(px[0]) / 255.0
					dst[channelSize+i] = float32(px[1]) / 255.0
					dst[channelSize*2+i] = float32(px[2]) / 255.0
				}
			}
		}(startRow, endRow)
	}

	wg.Wait()
}
