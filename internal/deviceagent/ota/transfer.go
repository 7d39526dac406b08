package ota

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/dustin/go-humanize"
	"github.com/minio/minio-go/v7"

	"github.com/autopeer-io/fwagent/internal/deviceagent/core"
	"github.com/autopeer-io/fwagent/internal/pkg/metrics"
	"github.com/autopeer-io/fwagent/pkg/log"
)

const defaultChunkSize = 4096

// Status is the outcome of one transfer step.
type Status int

const (
	StatusInProgress Status = iota
	StatusOK
)

func (s Status) String() string {
	if s == StatusOK {
		return "Ok"
	}
	return "InProgress"
}

// Engine streams images into a bank. Retry policy belongs to the caller.
type Engine struct {
	writer    core.BankWriter
	chunkSize int
	http      *http.Client
	s3        *minio.Client
}

// NewEngine returns an engine writing through w. s3 may be nil, in which
// case s3:// locators are rejected.
func NewEngine(w core.BankWriter, chunkSize int, httpClient *http.Client, s3 *minio.Client) *Engine {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Engine{writer: w, chunkSize: chunkSize, http: httpClient, s3: s3}
}

func (e *Engine) source(locator string) (Source, error) {
	u, err := url.Parse(locator)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedSource, err)
	}

	switch u.Scheme {
	case "http", "https":
		return &httpSource{client: e.http, url: locator}, nil
	case "s3":
		if e.s3 == nil {
			return nil, fmt.Errorf("%w: s3 is not configured", ErrUnsupportedSource)
		}
		return newS3Source(e.s3, u), nil
	default:
		return nil, fmt.Errorf("%w: scheme %q", ErrUnsupportedSource, u.Scheme)
	}
}

// Begin prepares a transfer of locator into bank. The bank is erased so
// bytes past the end of the image read as erased flash.
func (e *Engine) Begin(ctx context.Context, locator string, bank core.StorageBank) (*Transfer, error) {
	src, err := e.source(locator)
	if err != nil {
		return nil, err
	}
	return e.BeginFrom(ctx, src, bank)
}

// BeginFrom is Begin for an already resolved source.
func (e *Engine) BeginFrom(ctx context.Context, src Source, bank core.StorageBank) (*Transfer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.writer.EraseBank(bank); err != nil {
		return nil, fmt.Errorf("erase %s: %w", bank, err)
	}

	return &Transfer{
		writer: e.writer,
		src:    src,
		bank:   bank,
		buf:    make([]byte, e.chunkSize),
		total:  -1,
	}, nil
}

// Transfer is one image stream into one bank. Writes are strictly
// sequential; after an error the next Perform reopens the source at the
// current offset.
type Transfer struct {
	writer core.BankWriter
	src    Source
	bank   core.StorageBank
	buf    []byte

	body   io.ReadCloser
	offset uint64
	total  int64
	done   bool
}

// Perform moves at most one chunk from the source into the bank.
func (t *Transfer) Perform(ctx context.Context) (Status, error) {
	if t.done {
		return StatusOK, nil
	}
	if err := ctx.Err(); err != nil {
		return StatusInProgress, err
	}

	if t.body == nil {
		if err := t.open(ctx); err != nil {
			return StatusInProgress, err
		}
	}

	n, readErr := readChunk(t.body, t.buf)
	if n > 0 {
		if t.offset+uint64(n) > t.bank.Size {
			t.reset()
			return StatusInProgress, fmt.Errorf("%w: more than %s", ErrImageTooLarge, humanize.IBytes(t.bank.Size))
		}
		if err := t.writer.WriteBank(t.bank, t.offset, t.buf[:n]); err != nil {
			// The chunk is lost with the stream; reopen at the same offset.
			t.reset()
			return StatusInProgress, fmt.Errorf("write %s at %d: %w", t.bank, t.offset, err)
		}
		t.offset += uint64(n)
		metrics.BytesTransferred.Add(float64(n))
	}

	switch {
	case readErr == io.EOF:
		t.reset()
		if t.total >= 0 && int64(t.offset) < t.total {
			return StatusInProgress, fmt.Errorf("stream ended at %d of %d bytes", t.offset, t.total)
		}
		t.done = true
		log.Debug("Image transfer complete", "bank", t.bank.String(), "size", humanize.IBytes(t.offset))
		return StatusOK, nil
	case readErr != nil:
		t.reset()
		return StatusInProgress, fmt.Errorf("read image at %d: %w", t.offset, readErr)
	}

	if t.total >= 0 && int64(t.offset) == t.total {
		t.reset()
		t.done = true
		return StatusOK, nil
	}
	return StatusInProgress, nil
}

// readChunk fills buf from r. Unlike io.ReadFull it passes the source's
// error through untouched, so only a clean io.EOF marks the end of the
// stream; a body cut short reports io.ErrUnexpectedEOF or a transport error.
func readChunk(r io.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func (t *Transfer) open(ctx context.Context) error {
	body, size, err := t.src.Open(ctx, int64(t.offset))
	if err != nil {
		return fmt.Errorf("open image at %d: %w", t.offset, err)
	}
	if size >= 0 && uint64(size) > t.bank.Size {
		body.Close()
		return fmt.Errorf("%w: %s into %s", ErrImageTooLarge, humanize.IBytes(uint64(size)), humanize.IBytes(t.bank.Size))
	}
	if t.offset > 0 {
		log.Info("Resuming image transfer", "offset", t.offset, "bank", t.bank.Label)
	}
	t.body = body
	t.total = size
	return nil
}

func (t *Transfer) reset() {
	if t.body != nil {
		t.body.Close()
		t.body = nil
	}
}

// BytesTransferred is the number of image bytes written so far.
func (t *Transfer) BytesTransferred() uint64 {
	return t.offset
}

// CompleteDataReceived reports whether the whole image is in the bank.
func (t *Transfer) CompleteDataReceived() bool {
	return t.done && (t.total < 0 || int64(t.offset) == t.total)
}

func (t *Transfer) Close() error {
	t.reset()
	return nil
}
