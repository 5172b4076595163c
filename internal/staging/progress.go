package staging

import "io"

// progressReader wraps an io.Reader and reports cumulative bytes read every interval bytes.
type progressReader struct {
	reader     io.Reader
	onProgress func(read int64)
	interval   int64
	totalRead  int64
	lastReport int64
}

func newProgressReader(r io.Reader, interval int64, cb func(read int64)) *progressReader {
	return &progressReader{reader: r, interval: interval, onProgress: cb}
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.totalRead += int64(n)
		pr.lastReport += int64(n)

		if pr.interval > 0 && pr.lastReport >= pr.interval {
			pr.onProgress(pr.totalRead)
			pr.lastReport = 0
		}
	}

	return n, err
}
