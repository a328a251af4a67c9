package media

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tgreddit/pkg/logx"
)

func imageServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "missing.jpg") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, "imagebytes:", r.URL.Path)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAcquireImage(t *testing.T) {
	t.Parallel()
	srv := imageServer(t)
	a := New(Config{}, logx.Nop())

	asset, err := a.AcquireImage(context.Background(), srv.URL+"/pics/cat.jpg?width=640")
	if err != nil {
		t.Fatalf("AcquireImage: %v", err)
	}
	defer asset.Release()

	if asset.Kind != AssetPhoto || len(asset.Files) != 1 {
		t.Fatalf("asset = %+v", asset)
	}
	if got := filepath.Base(asset.Files[0].Path); got != "00_cat.jpg" {
		t.Fatalf("file name = %s", got)
	}
	data, err := os.ReadFile(asset.Files[0].Path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "imagebytes:/pics/cat.jpg" {
		t.Fatalf("content = %q", data)
	}
}

func TestAcquireImageBadScheme(t *testing.T) {
	t.Parallel()
	a := New(Config{}, logx.Nop())

	_, err := a.AcquireImage(context.Background(), "ftp://example.com/a.jpg")
	var ae *AcquireError
	if !errors.As(err, &ae) || ae.Kind != KindUnsupportedURL {
		t.Fatalf("err = %v, want unsupported url", err)
	}
}

func TestAcquireGallery(t *testing.T) {
	t.Parallel()
	srv := imageServer(t)
	a := New(Config{}, logx.Nop())

	asset, err := a.AcquireGallery(context.Background(), []string{
		srv.URL + "/g/one.jpg",
		srv.URL + "/g/two.jpg",
		srv.URL + "/g/three.jpg",
	})
	if err != nil {
		t.Fatalf("AcquireGallery: %v", err)
	}
	defer asset.Release()

	if asset.Kind != AssetAlbum || len(asset.Files) != 3 {
		t.Fatalf("asset = %+v", asset)
	}
	// Frame order is display order; names carry the index.
	for i, want := range []string{"00_one.jpg", "01_two.jpg", "02_three.jpg"} {
		if got := filepath.Base(asset.Files[i].Path); got != want {
			t.Fatalf("file[%d] = %s, want %s", i, got, want)
		}
	}
}

func TestAcquireGalleryAllOrNothing(t *testing.T) {
	t.Parallel()
	srv := imageServer(t)
	a := New(Config{}, logx.Nop())

	_, err := a.AcquireGallery(context.Background(), []string{
		srv.URL + "/g/one.jpg",
		srv.URL + "/g/missing.jpg",
	})
	if err == nil {
		t.Fatal("expected error for failed frame")
	}
}

func TestAcquireGalleryEmpty(t *testing.T) {
	t.Parallel()
	a := New(Config{}, logx.Nop())

	_, err := a.AcquireGallery(context.Background(), nil)
	var ae *AcquireError
	if !errors.As(err, &ae) || ae.Kind != KindUnsupportedURL {
		t.Fatalf("err = %v, want unsupported url", err)
	}
}

func TestAssetRelease(t *testing.T) {
	t.Parallel()
	srv := imageServer(t)
	a := New(Config{}, logx.Nop())

	asset, err := a.AcquireImage(context.Background(), srv.URL+"/pics/cat.jpg")
	if err != nil {
		t.Fatalf("AcquireImage: %v", err)
	}
	dir := filepath.Dir(asset.Files[0].Path)

	asset.Release()
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("temp dir survived Release: %v", err)
	}
	// Second Release is a no-op.
	asset.Release()
}

func TestReleaseNilAsset(t *testing.T) {
	t.Parallel()
	var asset *Asset
	asset.Release()
}
