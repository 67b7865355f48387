// Package progress reports how far a streamed download has got.
package progress

import "io"

// Reader wraps an io.Reader and calls OnProgress every interval bytes, and
// once more when the read crosses 5% of the expected total.
type Reader struct {
	Reader     io.Reader
	Total      int64
	OnProgress func(read, total int64)

	read     int64
	pending  int64
	interval int64
}

// NewReader returns a Reader. total may be 0 when the size is unknown.
func NewReader(r io.Reader, total, interval int64, cb func(read, total int64)) *Reader {
	return &Reader{
		Reader:     r,
		Total:      total,
		OnProgress: cb,
		interval:   interval,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n <= 0 {
		return n, err
	}

	before := pr.read
	pr.read += int64(n)
	pr.pending += int64(n)

	crossedFirstStep := pr.Total > 0 && pr.read*100/pr.Total >= 5 && before*100/pr.Total < 5

	if pr.pending >= pr.interval || crossedFirstStep {
		pr.OnProgress(pr.read, pr.Total)
		pr.pending = 0
	}

	return n, err
}

// BytesRead returns the number of bytes read so far.
func (pr *Reader) BytesRead() int64 {
	return pr.read
}
