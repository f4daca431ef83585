package publisher

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"

	"github.com/amillerrr/movie-catalog/internal/config"
)

const rawResourceType = "raw"

// cloudinaryAPI is the subset of the Cloudinary SDK the publisher calls.
type cloudinaryAPI interface {
	Upload(ctx context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error)
	Destroy(ctx context.Context, params uploader.DestroyParams) (*uploader.DestroyResult, error)
	Ping(ctx context.Context) error
}

type cloudinaryClient struct {
	cld *cloudinary.Cloudinary
}

func (c cloudinaryClient) Upload(ctx context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error) {
	return c.cld.Upload.Upload(ctx, file, params)
}

func (c cloudinaryClient) Destroy(ctx context.Context, params uploader.DestroyParams) (*uploader.DestroyResult, error) {
	return c.cld.Upload.Destroy(ctx, params)
}

func (c cloudinaryClient) Ping(ctx context.Context) error {
	res, err := c.cld.Admin.Ping(ctx)
	if err != nil {
		return err
	}
	if res.Error.Message != "" {
		return errors.New(res.Error.Message)
	}
	return nil
}

// CloudinaryPublisher uploads raw resources to a Cloudinary account.
type CloudinaryPublisher struct {
	client    cloudinaryAPI
	storeRoot string
	opts      Options
}

// NewCloudinary creates a publisher for the configured account.
func NewCloudinary(cfg config.MediaStoreConfig, opts Options) (*CloudinaryPublisher, error) {
	cld, err := cloudinary.NewFromParams(cfg.Account, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("create cloudinary client: %w", err)
	}
	cld.Config.URL.Secure = true

	return newCloudinary(cloudinaryClient{cld: cld}, cfg.StoreRoot(), opts), nil
}

func newCloudinary(client cloudinaryAPI, storeRoot string, opts Options) *CloudinaryPublisher {
	return &CloudinaryPublisher{
		client:    client,
		storeRoot: storeRoot,
		opts:      opts.withDefaults(),
	}
}

// PublishRaw uploads files as raw resources.
func (p *CloudinaryPublisher) PublishRaw(ctx context.Context, files []Artifact, folder string) ([]Artifact, error) {
	return publishAll(ctx, p.opts.Logger, files, folder, p.opts.Concurrency, p.put)
}

// put uploads one file. The full key is the public id so the delivery path
// is the same whether the account uses fixed or dynamic folders.
func (p *CloudinaryPublisher) put(ctx context.Context, a Artifact, key string) error {
	res, err := p.client.Upload(ctx, a.LocalPath, uploader.UploadParams{
		PublicID:     key,
		ResourceType: rawResourceType,
		Overwrite:    api.Bool(true),
		Invalidate:   api.Bool(true),
	})
	if err != nil {
		return err
	}
	if res.Error.Message != "" {
		return errors.New(res.Error.Message)
	}
	return nil
}

// Delete destroys raw resources.
func (p *CloudinaryPublisher) Delete(ctx context.Context, folder string, names []string) error {
	var errs []error
	for _, name := range names {
		key := ObjectKey(folder, name)
		res, err := p.client.Destroy(ctx, uploader.DestroyParams{
			PublicID:     key,
			ResourceType: rawResourceType,
			Invalidate:   api.Bool(true),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("destroy %s: %w", key, err))
			continue
		}
		// a missing resource comes back as result "not found" without an error
		if res.Error.Message != "" {
			errs = append(errs, fmt.Errorf("destroy %s: %s", key, res.Error.Message))
		}
	}
	return errors.Join(errs...)
}

// StoreRoot returns the delivery host and cloud name.
func (p *CloudinaryPublisher) StoreRoot() string {
	return p.storeRoot
}

// Ping calls the admin ping endpoint.
func (p *CloudinaryPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}
