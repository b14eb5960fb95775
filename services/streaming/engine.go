// Package streaming serves episode audio with HTTP byte-range support. The
// response headers ask clients to play inline and never cache, while still
// advertising range support so media players can seek.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"

	"github.com/amyflash/audio-drama-system/models"
	"github.com/amyflash/audio-drama-system/services/tokens"
)

var (
	ErrUnauthenticated     = errors.New("authentication required")
	ErrNotFound            = models.ErrEpisodeNotFound
	ErrFileMissing         = errors.New("audio file is missing")
	ErrRangeNotSatisfiable = errors.New("requested range not satisfiable")
)

const fallbackContentType = "audio/mpeg"

// RangeError is returned for unusable Range headers. It matches
// ErrRangeNotSatisfiable and carries the file size for the 416 response.
type RangeError struct {
	Header string
	Size   int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s: %q for %d bytes", ErrRangeNotSatisfiable, e.Header, e.Size)
}

func (e *RangeError) Unwrap() error { return ErrRangeNotSatisfiable }

// Catalog resolves episode metadata. Unknown episodes return ErrNotFound.
type Catalog interface {
	FindEpisode(ctx context.Context, id int64) (*models.MediaAsset, error)
}

type Engine struct {
	fs      afero.Fs
	catalog Catalog
	codec   *tokens.Codec
	logger  *slog.Logger
}

func NewEngine(fsys afero.Fs, catalog Catalog, codec *tokens.Codec, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{fs: fsys, catalog: catalog, codec: codec, logger: logger}
}

// Authenticate accepts either an access token from the Authorization header
// or, failing that, a stream token from the query string that was issued
// for this episode.
func (e *Engine) Authenticate(headerToken, queryToken string, episodeID int64) (string, error) {
	if headerToken != "" {
		claims, err := e.codec.VerifyAccess(headerToken)
		if err != nil {
			return "", ErrUnauthenticated
		}
		return claims.UserID, nil
	}
	if queryToken != "" {
		claims, err := e.codec.Verify(queryToken)
		if err != nil || !tokens.VerifyStreamScope(claims, claims.UserID, episodeID) {
			return "", ErrUnauthenticated
		}
		return claims.UserID, nil
	}
	return "", ErrUnauthenticated
}

// IssueStreamToken mints a token for one episode. Callers must already have
// authenticated userID with an access token.
func (e *Engine) IssueStreamToken(userID string, episodeID int64) (string, error) {
	return e.codec.IssueStreamToken(userID, episodeID)
}

func (e *Engine) StreamTokenTTLSeconds() int {
	return int(e.codec.StreamTTL().Seconds())
}

// Response is a ready-to-send stream. Body must be closed; Write does it.
type Response struct {
	Status        int
	Header        http.Header
	ContentLength int64
	Body          io.ReadCloser
}

// Write copies the response to w and always closes the body. Copying stops
// as soon as the request context is done or the client stops reading.
func (r *Response) Write(w http.ResponseWriter) (int64, error) {
	defer r.Body.Close()
	for k, v := range r.Header {
		w.Header()[k] = v
	}
	w.WriteHeader(r.Status)
	return io.Copy(w, r.Body)
}

// Serve opens the episode's file and prepares a full (200) or partial (206)
// response depending on rangeHeader.
func (e *Engine) Serve(ctx context.Context, episodeID int64, rangeHeader string) (*Response, error) {
	asset, err := e.catalog.FindEpisode(ctx, episodeID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("streaming: resolve episode %d: %w", episodeID, err)
	}
	if asset.FilePath == "" {
		return nil, ErrFileMissing
	}

	f, err := e.fs.Open(asset.FilePath)
	if errors.Is(err, fs.ErrNotExist) {
		e.logger.Warn("episode file missing", "episode_id", episodeID, "path", asset.FilePath)
		return nil, ErrFileMissing
	}
	if err != nil {
		return nil, fmt.Errorf("streaming: open episode %d: %w", episodeID, err)
	}
	handedOff := false
	defer func() {
		if !handedOff {
			f.Close()
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("streaming: stat episode %d: %w", episodeID, err)
	}
	if info.IsDir() {
		return nil, ErrFileMissing
	}
	size := info.Size()

	header := http.Header{}
	header.Set("Content-Type", detectContentType(f, size))
	header.Set("Accept-Ranges", "bytes")
	header.Set("Content-Disposition", "inline")
	header.Set("X-Content-Type-Options", "nosniff")
	header.Set("Cache-Control", "no-cache, no-store, must-revalidate")

	status := http.StatusOK
	start, length := int64(0), size
	if rangeHeader != "" {
		var end int64
		start, end, err = ParseRange(rangeHeader, size)
		if err != nil {
			return nil, err
		}
		length = end - start + 1
		status = http.StatusPartialContent
		header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	}
	header.Set("Content-Length", strconv.FormatInt(length, 10))

	handedOff = true
	return &Response{
		Status:        status,
		Header:        header,
		ContentLength: length,
		Body: &fileBody{
			Reader: contextReader{ctx: ctx, r: io.NewSectionReader(f, start, length)},
			file:   f,
		},
	}, nil
}

// ParseRange parses a single "bytes=<start>-[<end>]" range against a file of
// size bytes. Suffix ranges, multiple ranges and out-of-bounds values are
// rejected.
func ParseRange(header string, size int64) (start, end int64, err error) {
	fail := &RangeError{Header: header, Size: size}

	const unit = "bytes="
	h := strings.TrimSpace(header)
	if len(h) < len(unit) || !strings.EqualFold(h[:len(unit)], unit) {
		return 0, 0, fail
	}
	rng := h[len(unit):]
	if strings.Contains(rng, ",") {
		return 0, 0, fail
	}
	startStr, endStr, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, fail
	}
	startStr, endStr = strings.TrimSpace(startStr), strings.TrimSpace(endStr)

	start, ok = parseOffset(startStr)
	if !ok || start >= size {
		return 0, 0, fail
	}
	if endStr == "" {
		return start, size - 1, nil
	}
	end, ok = parseOffset(endStr)
	if !ok || end < start || end >= size {
		return 0, 0, fail
	}
	return start, end, nil
}

func parseOffset(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// detectContentType sniffs the file header. Anything that is not recognised
// as audio or video is served as audio/mpeg.
func detectContentType(f io.ReaderAt, size int64) string {
	mtype, err := mimetype.DetectReader(io.NewSectionReader(f, 0, size))
	if err != nil {
		return fallbackContentType
	}
	ct := mtype.String()
	if strings.HasPrefix(ct, "audio/") || strings.HasPrefix(ct, "video/") {
		return ct
	}
	return fallbackContentType
}

type fileBody struct {
	io.Reader
	file io.Closer
}

func (b *fileBody) Close() error { return b.file.Close() }

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
