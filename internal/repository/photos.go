package repository

import (
	"context"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/kittclouds/moshaver/internal/model"
	"github.com/kittclouds/moshaver/internal/store"
	"github.com/kittclouds/moshaver/pkg/photo"
)

type PhotoImportResult struct {
	Matched   []string `json:"matched"`
	Unmatched []string `json:"unmatched"`
	Failed    []string `json:"failed"`
}

// ImportPhotos attaches image files named <nationalId>.<ext> to the
// active-year students with that national id. Files that match no student
// or fail to decode are reported and skipped.
func (r *Repository) ImportPhotos(ctx context.Context, files map[string][]byte) (PhotoImportResult, error) {
	var res PhotoImportResult
	err := r.mutate(ctx, func(ctx context.Context) error {
		students := r.docs.Snapshot().Students
		byNID := make(map[string][]int)
		for i, s := range students {
			if nid := NormalizeDigits(s.NationalID); nid != "" {
				byNID[nid] = append(byNID[nid], i)
			}
		}

		names := make([]string, 0, len(files))
		for name := range files {
			names = append(names, name)
		}
		slices.Sort(names)

		var dirty []model.Student
		for _, name := range names {
			base := path.Base(strings.ReplaceAll(name, `\`, "/"))
			stem := strings.TrimSuffix(base, path.Ext(base))
			idxs := byNID[padNationalID(NormalizeDigits(stem))]
			if len(idxs) == 0 {
				res.Unmatched = append(res.Unmatched, name)
				continue
			}
			data, err := photo.Normalize(files[name])
			if err != nil {
				log.Warn().Err(err).Str("file", name).Msg("skipping unreadable photo")
				res.Failed = append(res.Failed, name)
				continue
			}
			uri := photo.EncodeDataURI(photo.MIMEJPEG, data)
			for _, i := range idxs {
				students[i].PhotoURL = uri
				dirty = append(dirty, students[i])
			}
			res.Matched = append(res.Matched, name)
		}
		if len(dirty) == 0 {
			return nil
		}
		if err := r.store.Update(ctx, func(w store.Writer) error {
			return putAll(w, store.Students, dirty, studentKey)
		}); err != nil {
			return fmt.Errorf("import photos: %w", err)
		}
		return r.reload(ctx)
	})
	return res, err
}
