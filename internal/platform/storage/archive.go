package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"gopkg.in/yaml.v3"

	"github.com/wagnerwagner/merx/internal/domain"
	"github.com/wagnerwagner/merx/internal/services"
)

const snapshotContentType = "application/yaml"

// ErrObjectExists is returned by an objectStore when a create-only write finds the object present.
var ErrObjectExists = errors.New("storage: object already exists")

type objectStore interface {
	Create(ctx context.Context, object string, data []byte, contentType string) error
	Name() string
}

// OrderArchive writes an immutable YAML snapshot of each finalized order to a bucket.
type OrderArchive struct {
	store   objectStore
	prefix  string
	marshal func(any) ([]byte, error)
}

var _ services.OrderArchiver = (*OrderArchive)(nil)

// NewOrderArchive constructs an archive backed by the named Cloud Storage bucket. Objects
// are written below prefix when it is set.
func NewOrderArchive(client *gcs.Client, bucket, prefix string) (*OrderArchive, error) {
	if client == nil {
		return nil, errors.New("order archive: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	return newOrderArchive(&bucketStore{bucket: client.Bucket(bucket), name: bucket}, prefix), nil
}

func newOrderArchive(store objectStore, prefix string) *OrderArchive {
	return &OrderArchive{store: store, prefix: strings.Trim(prefix, "/"), marshal: yaml.Marshal}
}

var errInvalidBucket = errors.New("storage: bucket name is required")

// ArchiveOrder stores the snapshot and returns its gs:// location. Objects are never
// overwritten, so archiving the same order twice keeps the first snapshot.
func (a *OrderArchive) ArchiveOrder(ctx context.Context, order domain.Order) (string, error) {
	if a == nil || a.store == nil {
		return "", errors.New("order archive: not initialised")
	}
	object, err := BuildObjectPath(PurposeOrderSnapshot, PathParams{
		OrderID:     order.ID,
		OrderNumber: order.Number,
		CreatedAt:   order.CreatedAt,
	})
	if err != nil {
		return "", err
	}
	if a.prefix != "" {
		object = path.Join(a.prefix, object)
	}
	data, err := a.marshal(order)
	if err != nil {
		return "", fmt.Errorf("marshal order snapshot: %w", err)
	}
	location := fmt.Sprintf("gs://%s/%s", a.store.Name(), object)
	if err := a.store.Create(ctx, object, data, snapshotContentType); err != nil {
		if errors.Is(err, ErrObjectExists) {
			return location, nil
		}
		return "", fmt.Errorf("write order snapshot %s: %w", object, err)
	}
	return location, nil
}

type bucketStore struct {
	bucket *gcs.BucketHandle
	name   string
}

func (b *bucketStore) Name() string { return b.name }

func (b *bucketStore) Create(ctx context.Context, object string, data []byte, contentType string) error {
	w := b.bucket.Object(object).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			return ErrObjectExists
		}
		return err
	}
	return nil
}
