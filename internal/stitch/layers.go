package stitch

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	"panokit/internal/pano"
	"panokit/internal/progress"
	"panokit/internal/remap"
)

// LayerPath names the file of one layer: base, the zero padded image index
// and the extension.
func LayerPath(base string, index int, f pano.FileFormat) string {
	return layerBase(base, index) + "." + f.Extension()
}

func layerBase(base string, index int) string { return fmt.Sprintf("%s%04d", base, index) }

// writeLayers writes every image unblended, either as one file each or as
// pages of a multi-layer TIFF.
func (s *Stitcher) writeLayers(rep progress.Reporter, req Request, images []int) ([]Artifact, error) {
	layers, err := s.remapAll(rep, images)
	if err != nil {
		return nil, err
	}
	if len(layers) == 0 {
		return nil, ErrNoImages
	}
	canvas := s.opts.Canvas()
	place := func(l *remap.Layer) *remap.Layer {
		if s.opts.CropLayers {
			return l
		}
		return l.Reframe(canvas)
	}

	if req.Format == pano.FormatTIFFMultilayer {
		path := req.Base + ".tif"
		pw, err := s.cfg.Pages(path, s.opts)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		enc := s.encoder()
		for _, l := range layers {
			if err := pw.AddPage(place(l).Encode(enc), canvas); err != nil {
				pw.Close()
				return nil, fmt.Errorf("layer %d: %w", l.Index, err)
			}
		}
		if err := pw.Close(); err != nil {
			return nil, fmt.Errorf("write %s: %w", path, err)
		}
		a := Artifact{Path: path, Rect: s.opts.EffectiveROI(), Canvas: canvas, Images: layerIndices(layers)}
		if fi, err := os.Stat(path); err == nil {
			a.Bytes = fi.Size()
		}
		s.log.Info("wrote layer stack", "path", path, "pages", len(layers), "size", humanize.Bytes(uint64(a.Bytes)))
		return []Artifact{a}, nil
	}

	format := req.Format
	if format == pano.FormatTIFFm {
		format = pano.FormatTIFF
	}
	var out []Artifact
	for k, l := range layers {
		if err := progress.Check(rep, "write layers", k, len(layers)); err != nil {
			return out, err
		}
		a, err := s.writeImage(layerBase(req.Base, l.Index), format, place(l), true)
		if err != nil {
			return out, err
		}
		a.Canvas = canvas
		a.Images = []int{l.Index}
		out = append(out, a)
	}
	return out, nil
}
