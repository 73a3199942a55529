package pto

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"panokit/internal/pano"
)

// ptoVersion is written as #hugin_ptoversion.
const ptoVersion = 2

// WriteFile writes p to path, replacing any existing file.
func WriteFile(path string, p *pano.Panorama) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, p); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// Write serialises p. Numbers always use '.' as decimal separator.
func Write(w io.Writer, p *pano.Panorama) error {
	bw := bufio.NewWriter(w)
	o := p.Options()
	n := p.NumImages()

	fmt.Fprintln(bw, "# hugin project file")
	fmt.Fprintf(bw, "#hugin_ptoversion %d\n", ptoVersion)
	bw.WriteString(panoLine(o))
	fmt.Fprintf(bw, "m g%s i%d f%d m%s p%s\n",
		formatFloat(o.Gamma), int(o.Interpolator), o.Acceleration,
		formatFloat(o.HuberSigma), formatFloat(o.PhotoHuberSigma))

	fmt.Fprintln(bw)
	fmt.Fprintln(bw, "# image lines")
	first := firstMembers(p)
	for i := 0; i < n; i++ {
		img, err := p.Image(i)
		if err != nil {
			return err
		}
		bw.WriteString(extLine(img))
		bw.WriteString(imageLine(img, i, first))
	}

	fmt.Fprintln(bw)
	fmt.Fprintln(bw, "# specify variables that should be optimized")
	for i, set := range p.OptimizeVector() {
		kinds := set.Kinds()
		if len(kinds) == 0 {
			continue
		}
		var sb strings.Builder
		sb.WriteString("v")
		for _, k := range kinds {
			fmt.Fprintf(&sb, " %s%d", k.Letter(), i)
		}
		fmt.Fprintln(bw, sb.String())
	}
	fmt.Fprintln(bw, "v")

	fmt.Fprintln(bw)
	fmt.Fprintln(bw, "# control points")
	for _, cp := range p.CtrlPoints() {
		fmt.Fprintf(bw, "c n%d N%d x%s y%s X%s Y%s t%d\n",
			cp.Image1, cp.Image2,
			formatFloat(cp.X1), formatFloat(cp.Y1),
			formatFloat(cp.X2), formatFloat(cp.Y2), int(cp.Mode))
	}

	fmt.Fprintln(bw)
	fmt.Fprintln(bw, "# masks")
	for i := 0; i < n; i++ {
		img, _ := p.Image(i)
		for _, m := range img.Masks {
			var pts []string
			for _, pt := range m.Points {
				pts = append(pts, formatFloat(pt.X), formatFloat(pt.Y))
			}
			fmt.Fprintf(bw, "k i%d t%d p\"%s\"\n", i, int(m.Type), strings.Join(pts, " "))
		}
	}

	fmt.Fprintln(bw)
	geo, photo := p.OptimizerSwitches()
	fmt.Fprintf(bw, "#hugin_optimizeReferenceImage %d\n", o.OptimizeReference)
	fmt.Fprintf(bw, "#hugin_blender %s\n", o.Blender)
	fmt.Fprintf(bw, "#hugin_blendMode %s\n", o.Blend)
	fmt.Fprintf(bw, "#hugin_remapper %s\n", o.Remapper)
	toggles := []struct {
		key string
		v   bool
	}{
		{"outputLDRBlended", o.Outputs.LDRBlended},
		{"outputLDRLayers", o.Outputs.LDRLayers},
		{"outputLDRExposureLayers", o.Outputs.LDRExposureLayers},
		{"outputLDRExposureLayersFused", o.Outputs.LDRExposureLayersFused},
		{"outputLDRStacks", o.Outputs.LDRStacks},
		{"outputHDRBlended", o.Outputs.HDRBlended},
		{"outputHDRLayers", o.Outputs.HDRLayers},
		{"outputHDRStacks", o.Outputs.HDRStacks},
	}
	for _, t := range toggles {
		fmt.Fprintf(bw, "#hugin_%s %t\n", t.key, t.v)
	}
	fmt.Fprintf(bw, "#hugin_outputLayersCompression %s\n", o.LayersCompression)
	fmt.Fprintf(bw, "#hugin_outputImageType %s\n", o.ImageType)
	fmt.Fprintf(bw, "#hugin_outputImageTypeCompression %s\n", o.ImageCompression)
	fmt.Fprintf(bw, "#hugin_outputJPEGQuality %d\n", o.JPEGQuality)
	fmt.Fprintf(bw, "#hugin_optimizerMasterSwitch %d\n", geo)
	fmt.Fprintf(bw, "#hugin_optimizerPhotoMasterSwitch %d\n", photo)
	return bw.Flush()
}

func panoLine(o pano.Options) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "p f%d w%d h%d v%s k%d E%s R%d",
		int(o.Projection), o.Width, o.Height, formatFloat(o.HFOV),
		o.ColorReference, formatFloat(o.OutputExposure), int(o.OutputRange))
	if o.PixelType != "" {
		fmt.Fprintf(&sb, " T\"%s\"", o.PixelType)
	}
	if roi := o.ROI; !roi.Empty() && roi != o.Canvas() {
		fmt.Fprintf(&sb, " S%d,%d,%d,%d", roi.Min.X, roi.Max.X, roi.Min.Y, roi.Max.Y)
	}
	desc := o.FileFormat.String()
	switch o.FileFormat {
	case pano.FormatJPEG:
		desc += fmt.Sprintf(" q%d", o.JPEGQuality)
	case pano.FormatPNG, pano.FormatHDR, pano.FormatHDRm:
	default:
		if o.Compression != "" {
			desc += " c:" + o.Compression
		}
	}
	if o.CropLayers {
		desc += " r:CROP"
	}
	fmt.Fprintf(&sb, " n\"%s\"", desc)
	if len(o.ProjParams) > 0 {
		var ps []string
		for _, v := range o.ProjParams {
			ps = append(ps, formatFloat(v))
		}
		fmt.Fprintf(&sb, " P\"%s\"", strings.Join(ps, " "))
	}
	sb.WriteString("\n")
	return sb.String()
}

// firstMembers maps, per variable, every image to the lowest image of its
// link class.
func firstMembers(p *pano.Panorama) map[pano.VarKind][]int {
	out := make(map[pano.VarKind][]int)
	for _, k := range pano.AllVars() {
		first := make([]int, p.NumImages())
		for _, class := range p.LinkClasses(k) {
			for _, img := range class {
				first[img] = class[0]
			}
		}
		out[k] = first
	}
	return out
}

func extLine(img pano.SrcImage) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "#-hugin  cropFactor=%s", formatFloat(img.CropFactor))
	if !img.Active {
		sb.WriteString(" disabled")
	}
	if img.LensModel != "" {
		fmt.Fprintf(&sb, " lensModel=\"%s\"", img.LensModel)
	}
	if img.FocalLength != 0 {
		fmt.Fprintf(&sb, " focalLength=%s", formatFloat(img.FocalLength))
	}
	fmt.Fprintf(&sb, " responseType=%d\n", int(img.Response))
	return sb.String()
}

func imageLine(img pano.SrcImage, idx int, first map[pano.VarKind][]int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "i w%d h%d f%d", img.Width, img.Height, int(img.Projection))
	for _, k := range pano.AllVars() {
		if f := first[k][idx]; f != idx {
			fmt.Fprintf(&sb, " %s=%d", k.Letter(), f)
			continue
		}
		fmt.Fprintf(&sb, " %s%s", k.Letter(), formatFloat(img.Var(k)))
	}
	fmt.Fprintf(&sb, " Vm%d", int(img.VigMode))
	if img.FlatfieldFile != "" {
		fmt.Fprintf(&sb, " Vf\"%s\"", img.FlatfieldFile)
	}
	if img.Crop != pano.CropNone {
		key := "S"
		if img.Crop == pano.CropCircle {
			key = "C"
		}
		r := img.CropRect
		fmt.Fprintf(&sb, " %s%d,%d,%d,%d", key, r.Min.X, r.Max.X, r.Min.Y, r.Max.Y)
	}
	fmt.Fprintf(&sb, " n\"%s\"\n", img.Filename)
	return sb.String()
}
