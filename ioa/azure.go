package ioa

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/pkg/errors"

	"github.com/saworbit/orbit-sub002/fingerprint"
)

// Azure is the Driver backing Azure Blob Storage. Paths are
// "<container>/<blob-name>" strings, mirroring the S3 driver's
// "<bucket>/<key>" convention so callers can treat every remote backend
// uniformly.
type Azure struct {
	client *azblob.Client
}

var _ Driver = (*Azure)(nil)

// NewAzure builds an Azure driver from a storage account URL and a
// shared-key or bearer credential already configured on cred.
func NewAzure(serviceURL string, cred azblob.SharedKeyCredential) (*Azure, error) {
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, &cred, nil)
	if err != nil {
		return nil, errors.Wrap(err, "ioa/azure: new client")
	}
	return &Azure{client: client}, nil
}

func splitContainerBlob(path string) (string, string, error) {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("ioa/azure: path %q must be <container>/<blob>", path)
	}
	return parts[0], parts[1], nil
}

func (d *Azure) Exists(ctx context.Context, path string) (bool, error) {
	cont, blobName, err := splitContainerBlob(path)
	if err != nil {
		return false, err
	}
	_, err = d.client.ServiceClient().NewContainerClient(cont).NewBlobClient(blobName).GetProperties(ctx, nil)
	if err != nil {
		if isAzureNotFound(err) {
			return false, nil
		}
		return false, errors.Wrap(err, "ioa/azure: get properties")
	}
	return true, nil
}

func isAzureNotFound(err error) bool {
	return strings.Contains(err.Error(), "BlobNotFound") || strings.Contains(err.Error(), "404")
}

func (d *Azure) Metadata(ctx context.Context, path string) (Metadata, error) {
	cont, blobName, err := splitContainerBlob(path)
	if err != nil {
		return Metadata{}, err
	}
	props, err := d.client.ServiceClient().NewContainerClient(cont).NewBlobClient(blobName).GetProperties(ctx, nil)
	if err != nil {
		return Metadata{}, errors.Wrap(err, "ioa/azure: get properties")
	}
	md := Metadata{}
	if props.ContentLength != nil {
		md.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		md.ModTime = *props.LastModified
	}
	return md, nil
}

func (d *Azure) ReadDir(ctx context.Context, path string) ([]DirEntry, error) {
	path = strings.TrimPrefix(path, "/")
	cont := path
	prefix := ""
	if i := strings.IndexByte(path, '/'); i >= 0 {
		cont, prefix = path[:i], path[i+1:]
		if prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
	}
	var entries []DirEntry
	pager := d.client.ServiceClient().NewContainerClient(cont).NewListBlobsHierarchyPager("/", &container.ListBlobsHierarchyOptions{
		Prefix: &prefix,
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "ioa/azure: list blobs")
		}
		for _, p := range page.Segment.BlobPrefixes {
			if p.Name != nil {
				entries = append(entries, DirEntry{Name: strings.TrimSuffix(strings.TrimPrefix(*p.Name, prefix), "/"), IsDir: true})
			}
		}
		for _, b := range page.Segment.BlobItems {
			if b.Name != nil {
				entries = append(entries, DirEntry{Name: strings.TrimPrefix(*b.Name, prefix), IsDir: false})
			}
		}
	}
	return entries, nil
}

func (d *Azure) blobClient(path string) (*blob.Client, error) {
	cont, blobName, err := splitContainerBlob(path)
	if err != nil {
		return nil, err
	}
	return d.client.ServiceClient().NewContainerClient(cont).NewBlobClient(blobName), nil
}

func httpRange(offset uint64, length uint32) blob.HTTPRange {
	r := blob.HTTPRange{Offset: int64(offset)}
	if length > 0 {
		r.Count = int64(length)
	}
	return r
}

func (d *Azure) ReadHeader(ctx context.Context, path string, n int) ([]byte, error) {
	bc, err := d.blobClient(path)
	if err != nil {
		return nil, err
	}
	resp, err := bc.DownloadStream(ctx, &blob.DownloadStreamOptions{Range: httpRange(0, uint32(n))})
	if err != nil {
		return nil, errors.Wrap(err, "ioa/azure: download stream")
	}
	defer resp.Body.Close()
	buf := make([]byte, n)
	read, err := io.ReadFull(resp.Body, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, errors.Wrap(err, "ioa/azure: read header body")
	}
	return buf[:read], nil
}

func (d *Azure) CalculateHash(ctx context.Context, path string, offset uint64, length uint32) (fingerprint.Fingerprint, error) {
	r, err := d.NewReader(ctx, path, offset, length)
	if err != nil {
		return fingerprint.Zero, err
	}
	defer r.Close()
	h := fingerprint.NewHasher()
	if _, err := io.Copy(h, r); err != nil {
		return fingerprint.Zero, errors.Wrap(err, "ioa/azure: hash blob range")
	}
	return h.Sum(), nil
}

func (d *Azure) NewReader(ctx context.Context, path string, offset uint64, length uint32) (io.ReadCloser, error) {
	bc, err := d.blobClient(path)
	if err != nil {
		return nil, err
	}
	resp, err := bc.DownloadStream(ctx, &blob.DownloadStreamOptions{Range: httpRange(offset, length)})
	if err != nil {
		return nil, errors.Wrap(err, "ioa/azure: download stream")
	}
	return resp.Body, nil
}

// NewWriter streams writes through a pipe into a single UploadStream
// call started here; Close waits for it to finish. isZero is ignored:
// blob storage has no sparse-hole concept.
func (d *Azure) NewWriter(ctx context.Context, path string, offset uint64, _ bool) (io.WriteCloser, error) {
	if offset != 0 {
		return nil, &ErrNotSupported{Backend: "azure", Op: "offset writes"}
	}
	bc, err := d.blobClient(path)
	if err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		_, err := bc.UploadStream(ctx, pr, nil)
		_ = pr.CloseWithError(err)
		done <- err
	}()
	return &azureWriter{pw: pw, done: done}, nil
}

type azureWriter struct {
	pw   *io.PipeWriter
	done chan error
}

func (w *azureWriter) Write(p []byte) (int, error) { return w.pw.Write(p) }

func (w *azureWriter) Close() error {
	if err := w.pw.Close(); err != nil {
		return err
	}
	return <-w.done
}
