package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"path"
	"strings"

	"github.com/bwise1/pothole_watch/config"
	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

const defaultFolder = "potholes"

type Cloudinary struct {
	CLD    *cloudinary.Cloudinary
	Folder string
}

func NewCloudinary(cfg *config.Config) (*Cloudinary, error) {
	cld, err := cloudinary.NewFromParams(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Cloudinary: %w", err)
	}
	folder := cfg.CloudinaryFolder
	if folder == "" {
		folder = defaultFolder
	}
	return &Cloudinary{CLD: cld, Folder: folder}, nil
}

func (c *Cloudinary) Save(ctx context.Context, filename string, r io.Reader) (string, error) {
	name := uniqueName(filename)
	resp, err := c.CLD.Upload.Upload(ctx, r, uploader.UploadParams{
		Folder:   c.Folder,
		PublicID: strings.TrimSuffix(name, path.Ext(name)),
	})
	if err != nil {
		return "", err
	}
	if resp.Error.Message != "" {
		return "", fmt.Errorf("cloudinary upload: %s", resp.Error.Message)
	}
	return resp.SecureURL, nil
}

// Delete destroys the asset behind a delivery URL; "not found" is tolerated.
func (c *Cloudinary) Delete(ctx context.Context, ref string) error {
	publicID, err := PublicIDFromURL(ref)
	if err != nil {
		return err
	}
	resp, err := c.CLD.Upload.Destroy(ctx, uploader.DestroyParams{PublicID: publicID})
	if err != nil {
		return err
	}
	if resp.Result != "ok" && resp.Result != "not found" {
		log.Printf("[Cloudinary]: destroy %s returned %q", publicID, resp.Result)
	}
	return nil
}

// PublicIDFromURL extracts the public id from a delivery URL such as
// https://res.cloudinary.com/demo/image/upload/v1712/potholes/abc.jpg.
func PublicIDFromURL(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	_, rest, found := strings.Cut(u.Path, "/upload/")
	if !found || rest == "" {
		return "", fmt.Errorf("not a cloudinary delivery url: %q", ref)
	}
	segments := strings.Split(rest, "/")
	if len(segments) > 1 && isVersion(segments[0]) {
		segments = segments[1:]
	}
	id := strings.Join(segments, "/")
	return strings.TrimSuffix(id, path.Ext(id)), nil
}

func isVersion(s string) bool {
	if len(s) < 2 || s[0] != 'v' {
		return false
	}
	for _, r := range s[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
