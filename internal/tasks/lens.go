package tasks

import (
	"errors"
	"fmt"
	"log/slog"

	"panokit/internal/pano"
	"panokit/internal/storage"
)

// LensApplyResult counts what ApplyLensCalibration touched.
type LensApplyResult struct {
	Updated []int
	Missing []string
}

// ApplyLensCalibration looks up the lens of every image and writes the
// calibrated coefficients. When lens is non-empty only images of that lens
// are updated. Linked partners follow through the variable links.
func ApplyLensCalibration(p *pano.Panorama, db pano.LensDatabase, lens string, log *slog.Logger) (LensApplyResult, error) {
	if log == nil {
		log = slog.Default()
	}
	var res LensApplyResult
	missing := map[string]bool{}
	for i := 0; i < p.NumImages(); i++ {
		img, err := p.Image(i)
		if err != nil {
			return res, err
		}
		if img.LensModel == "" || (lens != "" && img.LensModel != lens) {
			continue
		}
		cal, err := db.Lookup(img.LensModel, img.FocalLength)
		if errors.Is(err, storage.ErrLensNotFound) {
			if !missing[img.LensModel] {
				missing[img.LensModel] = true
				res.Missing = append(res.Missing, img.LensModel)
				log.Warn("lens not in database", "lens", img.LensModel)
			}
			continue
		}
		if err != nil {
			return res, fmt.Errorf("lookup %q: %w", img.LensModel, err)
		}
		cal.Apply(&img)
		if err := p.SetImage(i, img); err != nil {
			return res, err
		}
		res.Updated = append(res.Updated, i)
	}
	p.ChangeFinished()
	return res, nil
}
