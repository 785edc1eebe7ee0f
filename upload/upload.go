// Package upload accepts a single multipart file, checks its type and size,
// and streams it into a Store.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"taskflow/logger"
	"taskflow/response"
)

const (
	DefaultField     = "file"
	DefaultKeyPrefix = "powerbi"
	DefaultMaxSize   = 50 << 20

	// sniffLen is how much of the content mimetype looks at.
	sniffLen = 3072
	// formOverhead covers multipart boundaries and part headers.
	formOverhead = 1 << 20
)

var (
	ErrFileTooLarge       = errors.New("file too large")
	ErrTooManyFiles       = errors.New("too many files")
	ErrUnexpectedField    = errors.New("unexpected file field")
	ErrFileTypeNotAllowed = errors.New("file type not allowed")
	ErrNoFile             = errors.New("no file uploaded")
	ErrNotMultipart       = errors.New("request is not multipart/form-data")
)

// File describes an upload that has been written to the store.
type File struct {
	Key          string
	OriginalName string
	MimeType     string
	Size         int64
}

type Options struct {
	MaxSize   int64
	KeyPrefix string
	Field     string
	Log       *logger.Logger
	Now       func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxSize <= 0 {
		o.MaxSize = DefaultMaxSize
	}
	if o.KeyPrefix == "" {
		o.KeyPrefix = DefaultKeyPrefix
	}
	if o.Field == "" {
		o.Field = DefaultField
	}
	if o.Log == nil {
		o.Log = logger.Nop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type contextKey struct{}

// FromContext returns the file stored by Middleware.
func FromContext(ctx context.Context) (*File, bool) {
	f, ok := ctx.Value(contextKey{}).(*File)
	return f, ok
}

func WithFile(ctx context.Context, f *File) context.Context {
	return context.WithValue(ctx, contextKey{}, f)
}

// Middleware stores the request's file before the next handler runs. Any
// classified failure becomes a 400; store failures become a 500.
func Middleware(store Store, opts Options) func(http.Handler) http.Handler {
	opts = opts.withDefaults()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := opts.Log.WithContext(r.Context())

			r.Body = http.MaxBytesReader(w, r.Body, opts.MaxSize+formOverhead)
			f, err := Receive(r, store, opts)
			if err != nil {
				if errors.Is(err, errStore) {
					log.Error("Failed to store upload", "error", err)
					response.Error(w, "Failed to store file")
					return
				}
				log.Warn("Upload rejected", "error", err)
				response.BadRequest(w, Message(err, opts.MaxSize))
				return
			}

			log.Info("File uploaded", "key", f.Key, "size", f.Size, "mime_type", f.MimeType)
			next.ServeHTTP(w, r.WithContext(WithFile(r.Context(), f)))
		})
	}
}

var errStore = errors.New("store")

// Receive reads the multipart body part by part. The file is streamed to the
// store as it arrives; if anything after it is rejected the stored copy is
// removed again.
func Receive(r *http.Request, store Store, opts Options) (*File, error) {
	opts = opts.withDefaults()

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, ErrNotMultipart
	}

	var stored *File
	fail := func(err error) (*File, error) {
		if stored != nil {
			if derr := store.Delete(r.Context(), stored.Key); derr != nil {
				opts.Log.Warn("Failed to remove rejected upload", "key", stored.Key, "error", derr)
			}
		}
		return nil, err
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fail(classify(err))
		}

		if part.FileName() == "" {
			// plain form values are ignored
			_, err := io.Copy(io.Discard, part)
			part.Close()
			if err != nil {
				return fail(classify(err))
			}
			continue
		}

		if part.FormName() != opts.Field {
			part.Close()
			return fail(ErrUnexpectedField)
		}
		if stored != nil {
			part.Close()
			return fail(ErrTooManyFiles)
		}

		stored, err = storePart(r.Context(), part, store, opts)
		part.Close()
		if err != nil {
			return fail(err)
		}
	}

	if stored == nil {
		return nil, ErrNoFile
	}
	return stored, nil
}

func storePart(ctx context.Context, part *multipart.Part, store Store, opts Options) (*File, error) {
	name := baseName(part.FileName())
	if !AllowedExtension(Extension(name)) {
		return nil, ErrFileTypeNotAllowed
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(part, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, classify(err)
	}
	head = head[:n]

	mimeType, err := ResolveType(name, part.Header.Get("Content-Type"), head)
	if err != nil {
		return nil, err
	}

	key := GenerateKey(opts.KeyPrefix, name, opts.Now())
	body := &limitedReader{r: io.MultiReader(bytes.NewReader(head), part), remaining: opts.MaxSize}

	size, err := store.Put(ctx, key, body)
	if err != nil {
		// the store may have kept a partial file
		_ = store.Delete(ctx, key)
		if body.exceeded || errors.Is(err, ErrFileTooLarge) {
			return nil, ErrFileTooLarge
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, ErrFileTooLarge
		}
		if body.readErr != nil {
			return nil, classify(body.readErr)
		}
		return nil, fmt.Errorf("%w: %v", errStore, err)
	}

	return &File{Key: key, OriginalName: name, MimeType: mimeType, Size: size}, nil
}

// limitedReader fails once more than remaining bytes have been read, unlike
// io.LimitReader which silently truncates.
type limitedReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
	readErr   error
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		l.exceeded = true
		return n, ErrFileTooLarge
	}
	if err != nil && err != io.EOF {
		l.readErr = err
	}
	return n, err
}

func classify(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return ErrFileTooLarge
	}
	return fmt.Errorf("invalid multipart body: %w", err)
}

// Message turns an upload error into the text returned to the client.
func Message(err error, maxSize int64) string {
	switch {
	case errors.Is(err, ErrFileTooLarge):
		return fmt.Sprintf("File too large. Maximum size is %dMB", maxSize>>20)
	case errors.Is(err, ErrTooManyFiles):
		return "Only one file can be uploaded at a time"
	case errors.Is(err, ErrUnexpectedField):
		return "Unexpected field. Use the 'file' field for uploads"
	case errors.Is(err, ErrFileTypeNotAllowed):
		return "File type not allowed"
	case errors.Is(err, ErrNoFile):
		return "No file uploaded"
	case errors.Is(err, ErrNotMultipart):
		return "Request must be multipart/form-data"
	}
	return "Upload failed: " + err.Error()
}
