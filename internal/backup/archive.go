package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog/log"

	"github.com/kittclouds/moshaver/internal/model"
	"github.com/kittclouds/moshaver/internal/repository"
	"github.com/kittclouds/moshaver/pkg/photo"
)

const (
	dataFile  = "data.json"
	photosDir = "photos/"

	// maxEntrySize bounds a single decompressed archive entry.
	maxEntrySize = 64 << 20
)

// Codec exports and restores the repository.
type Codec struct {
	repo *repository.Repository
}

func New(repo *repository.Repository) *Codec {
	return &Codec{repo: repo}
}

// ExportStats summarizes a written archive.
type ExportStats struct {
	Students int
	Photos   int
}

// RestoreOptions tunes Restore.
type RestoreOptions struct {
	// PreserveCloudCredentials keeps this device's cloud URL and key instead
	// of the ones found in the restored settings.
	PreserveCloudCredentials bool
}

// Export writes every academic year to w as a zip archive.
func (c *Codec) Export(ctx context.Context, w io.Writer) (ExportStats, error) {
	ds, err := c.repo.ExportAll(ctx)
	if err != nil {
		return ExportStats{}, err
	}
	photos := SplitPhotos(&ds)
	doc := NewDocument(ds, c.repo.Now())
	if err := WriteArchive(w, doc, photos); err != nil {
		return ExportStats{}, err
	}
	log.Info().Int("students", len(ds.Students)).Int("photos", len(photos)).Msg("backup exported")
	return ExportStats{Students: len(ds.Students), Photos: len(photos)}, nil
}

// Restore replaces everything with the contents of archive. The archive is
// decoded completely before anything is wiped.
func (c *Codec) Restore(ctx context.Context, archive []byte, opts RestoreOptions) error {
	ds, err := ReadArchive(archive, c.repo.Now())
	if err != nil {
		return err
	}
	return Apply(ctx, c.repo, ds, opts)
}

// Apply replaces the repository contents with ds.
func Apply(ctx context.Context, repo *repository.Repository, ds model.Dataset, opts RestoreOptions) error {
	if opts.PreserveCloudCredentials {
		cur := repo.Settings()
		ds.Settings.CloudURL = cur.CloudURL
		ds.Settings.CloudKey = cur.CloudKey
	}
	if err := repo.ReplaceAll(ctx, ds); err != nil {
		return err
	}
	log.Info().
		Int("students", len(ds.Students)).
		Str("academicYear", ds.Settings.AcademicYear).
		Msg("dataset restored")
	return nil
}

// WriteArchive writes doc and photos as a zip. Photo entries are stored
// uncompressed.
func WriteArchive(w io.Writer, doc Document, photos map[string]Photo) error {
	zw := zip.NewWriter(w)

	f, err := zw.Create(dataFile)
	if err != nil {
		return fmt.Errorf("backup: create %s: %w", dataFile, err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("backup: encode document: %w", err)
	}

	ids := make([]string, 0, len(photos))
	for id := range photos {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := photos[id]
		pw, err := zw.CreateHeader(&zip.FileHeader{
			Name:   photosDir + p.Filename(id),
			Method: zip.Store,
		})
		if err != nil {
			return fmt.Errorf("backup: create photo %s: %w", id, err)
		}
		if _, err := pw.Write(p.Data); err != nil {
			return fmt.Errorf("backup: write photo %s: %w", id, err)
		}
	}
	return zw.Close()
}

// ReadArchive decodes a zip archive into a dataset with photos re-attached.
// A bare JSON document, as written by older versions, is accepted too.
func ReadArchive(data []byte, now time.Time) (model.Dataset, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return Decode(trimmed, now)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return model.Dataset{}, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	var doc []byte
	photos := make(map[string]Photo)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := strings.TrimPrefix(path.Clean(f.Name), "/")
		switch {
		case path.Base(name) == dataFile && (doc == nil || name == dataFile):
			if doc, err = readEntry(f); err != nil {
				return model.Dataset{}, err
			}
		case strings.Contains(name, photosDir):
			base := path.Base(name)
			nid := strings.TrimSuffix(base, path.Ext(base))
			mime := photo.MIMEForExt(base)
			if nid == "" || mime == "" {
				log.Debug().Str("entry", f.Name).Msg("skipping unknown archive entry")
				continue
			}
			b, err := readEntry(f)
			if err != nil {
				return model.Dataset{}, err
			}
			photos[nid] = Photo{MIME: mime, Data: b}
		}
	}
	if doc == nil {
		return model.Dataset{}, fmt.Errorf("%w: %s not found", ErrInvalidArchive, dataFile)
	}

	ds, err := Decode(doc, now)
	if err != nil {
		return ds, err
	}
	AttachPhotos(&ds, photos)
	return ds, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > maxEntrySize {
		return nil, fmt.Errorf("%w: %s is too large", ErrInvalidArchive, f.Name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrInvalidArchive, f.Name, err)
	}
	defer rc.Close()
	b, err := io.ReadAll(io.LimitReader(rc, maxEntrySize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidArchive, f.Name, err)
	}
	if len(b) > maxEntrySize {
		return nil, fmt.Errorf("%w: %s is too large", ErrInvalidArchive, f.Name)
	}
	return b, nil
}
