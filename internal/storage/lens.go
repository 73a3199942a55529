package storage

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v2"

	"panokit/internal/pano"
)

// ErrLensNotFound is returned when no calibration exists for a lens.
var ErrLensNotFound = errors.New("lens not found")

var _ pano.LensDatabase = (*Store)(nil)

// lensFile is the YAML import format:
//
//	lenses:
//	  - lens: "Samyang 8mm"
//	    focal: 8
//	    crop: 1.5
//	    projection: 3
//	    distortion: [0, -0.01, 0]
//	    vignetting: [1, -0.2, 0.05, 0]
//	    tca_red: [0, 0, 0, 1.0002]
//	    tca_blue: [0, 0, 0, 0.9998]
type lensFile struct {
	Lenses []lensEntry `yaml:"lenses"`
}

type lensEntry struct {
	Lens       string    `yaml:"lens"`
	Focal      float64   `yaml:"focal"`
	Crop       float64   `yaml:"crop"`
	Projection int       `yaml:"projection"`
	HFOV       float64   `yaml:"hfov"`
	Distortion []float64 `yaml:"distortion"`
	Vignetting []float64 `yaml:"vignetting"`
	TCARed     []float64 `yaml:"tca_red"`
	TCABlue    []float64 `yaml:"tca_blue"`
}

func (e lensEntry) calibration() (pano.LensCalibration, error) {
	c := pano.LensCalibration{
		Lens:        e.Lens,
		FocalLength: e.Focal,
		CropFactor:  e.Crop,
		Projection:  pano.Projection(e.Projection),
		HFOV:        e.HFOV,
	}
	if e.Lens == "" || e.Focal <= 0 {
		return c, fmt.Errorf("lens entry needs a name and a positive focal length")
	}
	if c.CropFactor == 0 {
		c.CropFactor = 1
	}
	if n := len(e.Distortion); n != 0 && n != 3 {
		return c, fmt.Errorf("lens %q: distortion needs 3 coefficients, got %d", e.Lens, n)
	}
	if len(e.Distortion) == 3 {
		c.DistA, c.DistB, c.DistC = e.Distortion[0], e.Distortion[1], e.Distortion[2]
	}
	if len(e.Vignetting) > 0 {
		if len(e.Vignetting) != 4 {
			return c, fmt.Errorf("lens %q: vignetting needs 4 coefficients", e.Lens)
		}
		c.HasVignetting = true
		c.VigA, c.VigB, c.VigC, c.VigD = e.Vignetting[0], e.Vignetting[1], e.Vignetting[2], e.Vignetting[3]
	}
	if len(e.TCARed) > 0 || len(e.TCABlue) > 0 {
		if len(e.TCARed) != 4 || len(e.TCABlue) != 4 {
			return c, fmt.Errorf("lens %q: tca needs 4 coefficients per channel", e.Lens)
		}
		c.HasTCA = true
		c.RedA, c.RedB, c.RedC, c.RedD = e.TCARed[0], e.TCARed[1], e.TCARed[2], e.TCARed[3]
		c.BlueA, c.BlueB, c.BlueC, c.BlueD = e.TCABlue[0], e.TCABlue[1], e.TCABlue[2], e.TCABlue[3]
	}
	return c, nil
}

// ImportLenses reads a YAML calibration list and stores every entry,
// replacing existing calibrations of the same lens and focal length.
func (s *Store) ImportLenses(r io.Reader) (int, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	var f lensFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return 0, fmt.Errorf("parse lens file: %w", err)
	}
	for i, e := range f.Lenses {
		c, err := e.calibration()
		if err != nil {
			return i, fmt.Errorf("entry %d: %w", i, err)
		}
		if err := s.SaveLens(c); err != nil {
			return i, err
		}
	}
	return len(f.Lenses), nil
}

// SaveLens stores one calibration.
func (s *Store) SaveLens(c pano.LensCalibration) error {
	if s == nil {
		return errors.New("store not initialized")
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO lens_calibrations (lens, focal_length, crop_factor, projection, hfov,
            dist_a, dist_b, dist_c, has_vignetting, vig_a, vig_b, vig_c, vig_d,
            has_tca, red_a, red_b, red_c, red_d, blue_a, blue_b, blue_c, blue_d)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		c.Lens, c.FocalLength, c.CropFactor, int(c.Projection), c.HFOV,
		c.DistA, c.DistB, c.DistC, c.HasVignetting, c.VigA, c.VigB, c.VigC, c.VigD,
		c.HasTCA, c.RedA, c.RedB, c.RedC, c.RedD, c.BlueA, c.BlueB, c.BlueC, c.BlueD)
	return err
}

// Lenses returns every calibration of lens ordered by focal length.
func (s *Store) Lenses(lens string) ([]pano.LensCalibration, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT lens, focal_length, crop_factor, projection, hfov,
            dist_a, dist_b, dist_c, has_vignetting, vig_a, vig_b, vig_c, vig_d,
            has_tca, red_a, red_b, red_c, red_d, blue_a, blue_b, blue_c, blue_d
        FROM lens_calibrations WHERE lens=? ORDER BY focal_length;`, lens)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []pano.LensCalibration
	for rows.Next() {
		var c pano.LensCalibration
		var proj int
		if err := rows.Scan(&c.Lens, &c.FocalLength, &c.CropFactor, &proj, &c.HFOV,
			&c.DistA, &c.DistB, &c.DistC, &c.HasVignetting, &c.VigA, &c.VigB, &c.VigC, &c.VigD,
			&c.HasTCA, &c.RedA, &c.RedB, &c.RedC, &c.RedD, &c.BlueA, &c.BlueB, &c.BlueC, &c.BlueD); err != nil {
			return nil, err
		}
		c.Projection = pano.Projection(proj)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Lookup returns the calibration of lens at focal. Between two calibrated
// focal lengths the coefficients are interpolated linearly; outside the
// calibrated range the nearest entry is used.
func (s *Store) Lookup(lens string, focal float64) (pano.LensCalibration, error) {
	cals, err := s.Lenses(lens)
	if err != nil {
		return pano.LensCalibration{}, err
	}
	if len(cals) == 0 {
		return pano.LensCalibration{}, fmt.Errorf("%w: %q", ErrLensNotFound, lens)
	}
	i := sort.Search(len(cals), func(i int) bool { return cals[i].FocalLength >= focal })
	switch {
	case i == 0:
		return cals[0], nil
	case i == len(cals):
		return cals[len(cals)-1], nil
	case cals[i].FocalLength == focal:
		return cals[i], nil
	}
	lo, hi := cals[i-1], cals[i]
	t := (focal - lo.FocalLength) / (hi.FocalLength - lo.FocalLength)
	return interpolate(lo, hi, t, focal), nil
}

func interpolate(lo, hi pano.LensCalibration, t, focal float64) pano.LensCalibration {
	mix := func(a, b float64) float64 { return a + (b-a)*t }
	c := lo
	c.FocalLength = focal
	c.CropFactor = mix(lo.CropFactor, hi.CropFactor)
	c.DistA, c.DistB, c.DistC = mix(lo.DistA, hi.DistA), mix(lo.DistB, hi.DistB), mix(lo.DistC, hi.DistC)
	c.HFOV = 0
	if lo.HFOV > 0 && hi.HFOV > 0 {
		c.HFOV = mix(lo.HFOV, hi.HFOV)
	}
	c.HasVignetting = lo.HasVignetting && hi.HasVignetting
	if c.HasVignetting {
		c.VigA, c.VigB = mix(lo.VigA, hi.VigA), mix(lo.VigB, hi.VigB)
		c.VigC, c.VigD = mix(lo.VigC, hi.VigC), mix(lo.VigD, hi.VigD)
	}
	c.HasTCA = lo.HasTCA && hi.HasTCA
	if c.HasTCA {
		c.RedA, c.RedB, c.RedC, c.RedD = mix(lo.RedA, hi.RedA), mix(lo.RedB, hi.RedB), mix(lo.RedC, hi.RedC), mix(lo.RedD, hi.RedD)
		c.BlueA, c.BlueB, c.BlueC, c.BlueD = mix(lo.BlueA, hi.BlueA), mix(lo.BlueB, hi.BlueB), mix(lo.BlueC, hi.BlueC), mix(lo.BlueD, hi.BlueD)
	}
	return c
}
