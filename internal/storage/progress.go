package storage

import (
	"io"
	"sync"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Progress renders transfer bars. A nil *Progress disables them.
type Progress struct {
	p *mpb.Progress

	mu   sync.Mutex
	bars []*mpb.Bar
}

func NewProgress(w io.Writer) *Progress {
	return &Progress{p: mpb.New(mpb.WithWidth(64), mpb.WithOutput(w))}
}

// Wait blocks until every bar has completed and been rendered.
func (pg *Progress) Wait() {
	if pg == nil {
		return
	}
	pg.p.Wait()
}

// Close aborts bars whose transfer failed midway, then waits for rendering to finish.
func (pg *Progress) Close() {
	if pg == nil {
		return
	}
	pg.mu.Lock()
	for _, b := range pg.bars {
		if !b.Completed() {
			b.Abort(false)
		}
	}
	pg.mu.Unlock()
	pg.p.Wait()
}

// Reader wraps r with a bar named after the object being transferred.
// A total of zero or less renders an indeterminate byte counter.
func (pg *Progress) Reader(r io.Reader, name string, total int64) io.Reader {
	if pg == nil {
		return r
	}
	return NewProgressReader(r, pg.addBar(name, total))
}

// Writer is the download counterpart of Reader.
func (pg *Progress) Writer(w io.Writer, name string, total int64) io.Writer {
	if pg == nil {
		return w
	}
	return NewProgressWriter(w, pg.addBar(name, total))
}

func (pg *Progress) addBar(name string, total int64) *mpb.Bar {
	b := pg.newBar(name, total)
	pg.mu.Lock()
	pg.bars = append(pg.bars, b)
	pg.mu.Unlock()
	return b
}

func (pg *Progress) newBar(name string, total int64) *mpb.Bar {
	if total <= 0 {
		return pg.p.AddBar(0,
			mpb.PrependDecorators(
				decor.Name(name, decor.WC{W: len(name) + 1}),
				decor.CountersKibiByte("% .2f"),
			),
			mpb.AppendDecorators(
				decor.OnComplete(decor.Name(" transferring"), " done"),
			),
		)
	}
	return pg.p.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1}),
			decor.Percentage(),
		),
		mpb.AppendDecorators(
			decor.OnComplete(
				decor.CountersKibiByte("% .2f / % .2f"),
				"done",
			),
		),
	)
}

// ProgressWriter tracks bytes written and updates an mpb.Bar.
type ProgressWriter struct {
	w   io.Writer
	bar *mpb.Bar
}

func NewProgressWriter(w io.Writer, bar *mpb.Bar) *ProgressWriter {
	return &ProgressWriter{w: w, bar: bar}
}

func (pw *ProgressWriter) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	if n > 0 && pw.bar != nil {
		pw.bar.IncrBy(n)
	}
	return n, err
}

// Finish marks an indeterminate bar complete.
func (pw *ProgressWriter) Finish() {
	if pw.bar != nil {
		pw.bar.SetTotal(-1, true)
	}
}

// ProgressReader tracks bytes read and updates an mpb.Bar.
type ProgressReader struct {
	r   io.Reader
	bar *mpb.Bar
}

func NewProgressReader(r io.Reader, bar *mpb.Bar) *ProgressReader {
	return &ProgressReader{r: r, bar: bar}
}

func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 && pr.bar != nil {
		pr.bar.IncrBy(n)
	}
	if err == io.EOF && pr.bar != nil {
		pr.bar.SetTotal(-1, true)
	}
	return n, err
}

func finishWriter(w io.Writer) {
	if pw, ok := w.(*ProgressWriter); ok {
		pw.Finish()
	}
}
