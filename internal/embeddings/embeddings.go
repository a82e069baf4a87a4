// Package embeddings loads pretrained word vectors in GloVe / word2vec text
// format from local files or S3-compatible object storage. Files ending in
// .gz or .zst are decompressed on the fly.
package embeddings

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrUnreadable wraps every failure to open or parse a pretrained file.
var ErrUnreadable = errors.New("embeddings: unreadable pretrained file")

// Environment variables read for s3:// paths.
const (
	EnvS3Endpoint = "TAGGER_S3_ENDPOINT"
	EnvS3Insecure = "TAGGER_S3_INSECURE"
	EnvS3Region   = "TAGGER_S3_REGION"
)

// Load reads vectors of the given dimension from path. Paths of the form
// s3://bucket/key are fetched with credentials from the environment.
func Load(ctx context.Context, path string, dim int) (map[string][]float32, error) {
	rc, err := open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreadable, path, err)
	}
	defer func() { _ = rc.Close() }()

	vectors, err := Read(rc, dim)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreadable, path, err)
	}
	slog.Info("Pretrained embeddings loaded", "path", path, "tokens", len(vectors), "dimension", dim)
	return vectors, nil
}

// Read parses "token v1 v2 ... vdim" lines. A leading word2vec header
// ("count dim") is skipped; lines of another dimension are an error.
func Read(r io.Reader, dim int) (map[string][]float32, error) {
	vectors := make(map[string][]float32)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if line == 1 && len(fields) == 2 && isInt(fields[0]) && isInt(fields[1]) {
			continue
		}
		if len(fields) != dim+1 {
			return nil, fmt.Errorf("line %d: got %d values, want %d", line, len(fields)-1, dim)
		}
		vec := make([]float32, dim)
		for i, f := range fields[1:] {
			v, err := strconv.ParseFloat(f, 32)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			vec[i] = float32(v)
		}
		vectors[fields[0]] = vec
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return vectors, nil
}

func isInt(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}

func open(ctx context.Context, path string) (io.ReadCloser, error) {
	var raw io.ReadCloser
	var err error
	if bucket, key, ok := parseS3(path); ok {
		raw, err = openS3(ctx, bucket, key)
	} else {
		raw, err = os.Open(path)
	}
	if err != nil {
		return nil, err
	}

	switch {
	case strings.HasSuffix(path, ".gz"):
		zr, err := gzip.NewReader(raw)
		if err != nil {
			_ = raw.Close()
			return nil, err
		}
		return &stackedCloser{Reader: zr, closers: []io.Closer{zr, raw}}, nil
	case strings.HasSuffix(path, ".zst"), strings.HasSuffix(path, ".zstd"):
		zr, err := zstd.NewReader(raw)
		if err != nil {
			_ = raw.Close()
			return nil, err
		}
		rc := zr.IOReadCloser()
		return &stackedCloser{Reader: rc, closers: []io.Closer{rc, raw}}, nil
	}
	return raw, nil
}

type stackedCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedCloser) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func parseS3(path string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(path, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

func openS3(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	endpoint := os.Getenv(EnvS3Endpoint)
	if endpoint == "" {
		endpoint = "s3.amazonaws.com"
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds: credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
		}),
		Secure: os.Getenv(EnvS3Insecure) == "",
		Region: os.Getenv(EnvS3Region),
	})
	if err != nil {
		return nil, err
	}
	if _, err := client.StatObject(ctx, bucket, key, minio.StatObjectOptions{}); err != nil {
		return nil, err
	}
	slog.Debug("Fetching pretrained embeddings", "endpoint", endpoint, "bucket", bucket, "key", key)
	obj, err := client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	return obj, nil
}
