package ioa

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"

	"github.com/saworbit/orbit-sub002/fingerprint"
)

// GCS is the Driver backing Google Cloud Storage. Paths are
// "<bucket>/<object>" strings, same convention as the S3 and Azure
// drivers.
type GCS struct {
	client *storage.Client
}

var _ Driver = (*GCS)(nil)

func NewGCS(ctx context.Context) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "ioa/gcs: new client")
	}
	return &GCS{client: client}, nil
}

func splitBucketObject(path string) (string, string, error) {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("ioa/gcs: path %q must be <bucket>/<object>", path)
	}
	return parts[0], parts[1], nil
}

func (d *GCS) object(path string) (*storage.ObjectHandle, error) {
	bucket, obj, err := splitBucketObject(path)
	if err != nil {
		return nil, err
	}
	return d.client.Bucket(bucket).Object(obj), nil
}

func (d *GCS) Exists(ctx context.Context, path string) (bool, error) {
	obj, err := d.object(path)
	if err != nil {
		return false, err
	}
	_, err = obj.Attrs(ctx)
	if err == storage.ErrObjectNotExist {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "ioa/gcs: attrs")
	}
	return true, nil
}

func (d *GCS) Metadata(ctx context.Context, path string) (Metadata, error) {
	obj, err := d.object(path)
	if err != nil {
		return Metadata{}, err
	}
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return Metadata{}, errors.Wrap(err, "ioa/gcs: attrs")
	}
	return Metadata{Size: attrs.Size, ModTime: attrs.Updated}, nil
}

func (d *GCS) ReadDir(ctx context.Context, path string) ([]DirEntry, error) {
	path = strings.TrimPrefix(path, "/")
	bucket := path
	prefix := ""
	if i := strings.IndexByte(path, '/'); i >= 0 {
		bucket, prefix = path[:i], path[i+1:]
		if prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
	}
	it := d.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix, Delimiter: "/"})
	var entries []DirEntry
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "ioa/gcs: list objects")
		}
		if attrs.Prefix != "" {
			entries = append(entries, DirEntry{Name: strings.TrimSuffix(strings.TrimPrefix(attrs.Prefix, prefix), "/"), IsDir: true})
			continue
		}
		entries = append(entries, DirEntry{Name: strings.TrimPrefix(attrs.Name, prefix), IsDir: false})
	}
	return entries, nil
}

func (d *GCS) ReadHeader(ctx context.Context, path string, n int) ([]byte, error) {
	obj, err := d.object(path)
	if err != nil {
		return nil, err
	}
	r, err := obj.NewRangeReader(ctx, 0, int64(n))
	if err != nil {
		return nil, errors.Wrap(err, "ioa/gcs: range reader")
	}
	defer r.Close()
	buf := make([]byte, n)
	read, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, errors.Wrap(err, "ioa/gcs: read header body")
	}
	return buf[:read], nil
}

func (d *GCS) CalculateHash(ctx context.Context, path string, offset uint64, length uint32) (fingerprint.Fingerprint, error) {
	r, err := d.NewReader(ctx, path, offset, length)
	if err != nil {
		return fingerprint.Zero, err
	}
	defer r.Close()
	h := fingerprint.NewHasher()
	if _, err := io.Copy(h, r); err != nil {
		return fingerprint.Zero, errors.Wrap(err, "ioa/gcs: hash object range")
	}
	return h.Sum(), nil
}

func (d *GCS) NewReader(ctx context.Context, path string, offset uint64, length uint32) (io.ReadCloser, error) {
	obj, err := d.object(path)
	if err != nil {
		return nil, err
	}
	l := int64(-1)
	if length > 0 {
		l = int64(length)
	}
	r, err := obj.NewRangeReader(ctx, int64(offset), l)
	if err != nil {
		return nil, errors.Wrap(err, "ioa/gcs: range reader")
	}
	return r, nil
}

// NewWriter returns GCS's own streaming object writer. isZero is
// ignored: GCS objects have no sparse-hole concept.
func (d *GCS) NewWriter(ctx context.Context, path string, offset uint64, _ bool) (io.WriteCloser, error) {
	if offset != 0 {
		return nil, &ErrNotSupported{Backend: "gcs", Op: "offset writes"}
	}
	obj, err := d.object(path)
	if err != nil {
		return nil, err
	}
	return obj.NewWriter(ctx), nil
}
