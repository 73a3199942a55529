// Package pto reads and writes panorama projects in the PTO script format.
package pto

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"panokit/internal/pano"
)

var (
	// ErrLinkTarget is returned when a variable links to an image that the
	// file does not define.
	ErrLinkTarget = errors.New("link to undefined image")
	// ErrSyntax wraps malformed record lines.
	ErrSyntax = errors.New("pto syntax error")
)

// ptguiLinkOffsetVersion is the first PTGui file version whose link
// indices are written without offset.
const ptguiLinkOffsetVersion = 8

// ReadOptions tune parsing.
type ReadOptions struct {
	Logger *slog.Logger
}

type imageRecord struct {
	tokens map[string]token
	ext    map[string]string
}

type parser struct {
	log *slog.Logger

	iRecs   []imageRecord
	oRecs   []imageRecord
	legacy  []imageRecord
	pending map[string]string

	pLine  []token
	mLine  []token
	cps    []pano.ControlPoint
	masks  []maskRecord
	opt    [][2]string
	hugin  map[string]string
	ptgui  bool
	ptgVer int
	lineNo int
}

type maskRecord struct {
	img  int
	mask pano.Mask
	line int
}

// ReadFile parses the project at path.
func ReadFile(path string, ro ReadOptions) (*pano.Panorama, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	p, err := Read(f, ro)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Read parses a PTO script. Recoverable problems are logged at warn level;
// links to undefined images abort the load.
func Read(r io.Reader, ro ReadOptions) (*pano.Panorama, error) {
	log := ro.Logger
	if log == nil {
		log = slog.Default()
	}
	ps := &parser{log: log, hugin: map[string]string{}}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		ps.lineNo++
		if err := ps.line(strings.TrimRight(sc.Text(), "\r")); err != nil {
			return nil, fmt.Errorf("line %d: %w", ps.lineNo, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return ps.build()
}

func (ps *parser) line(l string) error {
	if strings.TrimSpace(l) == "" {
		return nil
	}
	switch {
	case strings.HasPrefix(l, "# ptGui project file"):
		ps.ptgui = true
		return nil
	case strings.HasPrefix(l, "#-fileversion"):
		v, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(l, "#-fileversion")))
		if err == nil {
			ps.ptgVer = v
		}
		return nil
	case strings.HasPrefix(l, "#-hugin"):
		ps.pending = tokenizeExt(strings.TrimPrefix(l, "#-hugin"))
		return nil
	case strings.HasPrefix(l, "#-imgfile"):
		return ps.imgfile(strings.TrimPrefix(l, "#-imgfile"))
	case strings.HasPrefix(l, "#hugin_"):
		body := strings.TrimPrefix(l, "#hugin_")
		key, val, _ := strings.Cut(body, " ")
		ps.hugin[strings.TrimSpace(key)] = strings.TrimSpace(val)
		return nil
	case l[0] == '#':
		return nil
	}
	if len(l) > 1 && l[1] != ' ' && l[1] != '\t' {
		// Records are a single letter followed by blanks.
		return nil
	}
	toks, err := tokenize(l[1:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	switch l[0] {
	case 'p':
		ps.pLine = toks
	case 'm':
		ps.mLine = toks
	case 'i':
		ps.iRecs = append(ps.iRecs, imageRecord{tokens: tokenMap(toks), ext: ps.pending})
		ps.pending = nil
	case 'o':
		ps.oRecs = append(ps.oRecs, imageRecord{tokens: tokenMap(toks), ext: ps.pending})
		ps.pending = nil
	case 'c':
		return ps.ctrlPoint(toks)
	case 'k':
		return ps.mask(toks)
	case 'v':
		for _, t := range toks {
			ps.opt = append(ps.opt, [2]string{t.key, t.value})
		}
	}
	return nil
}

func tokenMap(toks []token) map[string]token {
	m := make(map[string]token, len(toks))
	for _, t := range toks {
		m[t.key] = t
	}
	return m
}

// imgfile parses the legacy `#-imgfile W H "name"` comment.
func (ps *parser) imgfile(body string) error {
	fields := strings.Fields(body)
	if len(fields) < 3 {
		return fmt.Errorf("%w: short #-imgfile line", ErrSyntax)
	}
	name := strings.TrimSpace(body)
	if q := strings.IndexByte(name, '"'); q >= 0 {
		name = strings.Trim(name[q:], "\"")
	} else {
		name = fields[2]
	}
	ps.legacy = append(ps.legacy, imageRecord{tokens: map[string]token{
		"w": {key: "w", value: fields[0]},
		"h": {key: "h", value: fields[1]},
		"n": {key: "n", value: name, quoted: true},
	}})
	return nil
}

func (ps *parser) ctrlPoint(toks []token) error {
	cp := pano.ControlPoint{}
	for _, t := range toks {
		var err error
		switch t.key {
		case "n":
			cp.Image1, err = t.int()
		case "N":
			cp.Image2, err = t.int()
		case "x":
			cp.X1, err = t.float()
		case "y":
			cp.Y1, err = t.float()
		case "X":
			cp.X2, err = t.float()
		case "Y":
			cp.Y2, err = t.float()
		case "t":
			var m int
			m, err = t.int()
			cp.Mode = pano.CPMode(m)
		}
		if err != nil {
			return fmt.Errorf("%w: control point: %v", ErrSyntax, err)
		}
	}
	ps.cps = append(ps.cps, cp)
	return nil
}

func (ps *parser) mask(toks []token) error {
	rec := maskRecord{img: -1, line: ps.lineNo}
	for _, t := range toks {
		switch t.key {
		case "i":
			v, err := t.int()
			if err != nil {
				return fmt.Errorf("%w: mask: %v", ErrSyntax, err)
			}
			rec.img = v
		case "t":
			v, err := t.int()
			if err != nil {
				return fmt.Errorf("%w: mask: %v", ErrSyntax, err)
			}
			rec.mask.Type = pano.MaskType(v)
		case "p":
			fields := strings.Fields(t.value)
			if len(fields)%2 != 0 {
				return fmt.Errorf("%w: mask has odd coordinate count", ErrSyntax)
			}
			for j := 0; j < len(fields); j += 2 {
				x, errX := strconv.ParseFloat(fields[j], 64)
				y, errY := strconv.ParseFloat(fields[j+1], 64)
				if errX != nil || errY != nil {
					return fmt.Errorf("%w: bad mask point %q %q", ErrSyntax, fields[j], fields[j+1])
				}
				rec.mask.Points = append(rec.mask.Points, pano.Point{X: x, Y: y})
			}
		}
	}
	ps.masks = append(ps.masks, rec)
	return nil
}

// linkOffset is subtracted from every link index read from the file.
func (ps *parser) linkOffset() int {
	if ps.ptgui && ps.ptgVer > 0 && ps.ptgVer < ptguiLinkOffsetVersion {
		return 1
	}
	return 0
}

func (ps *parser) merged(k int) map[string]token {
	out := map[string]token{}
	for _, src := range [][]imageRecord{ps.legacy, ps.oRecs, ps.iRecs} {
		if k < len(src) {
			for key, t := range src[k].tokens {
				out[key] = t
			}
		}
	}
	return out
}

func (ps *parser) ext(k int) map[string]string {
	if k < len(ps.iRecs) && ps.iRecs[k].ext != nil {
		return ps.iRecs[k].ext
	}
	if k < len(ps.oRecs) && ps.oRecs[k].ext != nil {
		return ps.oRecs[k].ext
	}
	return nil
}

type pendingLink struct {
	kind   pano.VarKind
	img    int
	target int
}

func (ps *parser) build() (*pano.Panorama, error) {
	p := pano.New()
	p.SetLogger(ps.log)
	n := max(len(ps.iRecs), len(ps.oRecs))

	var links []pendingLink
	for k := 0; k < n; k++ {
		img, imgLinks, err := ps.image(k)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", k, err)
		}
		p.AddImage(img)
		links = append(links, imgLinks...)
	}
	for _, l := range links {
		if l.target < 0 || l.target >= n {
			return nil, fmt.Errorf("%w: image %d links %s to %d (have %d images)",
				ErrLinkTarget, l.img, l.kind.Letter(), l.target, n)
		}
		if l.target == l.img {
			continue
		}
		if err := p.LinkVariable(l.kind, l.target, l.img); err != nil {
			return nil, err
		}
	}

	opts, err := ps.options(n)
	if err != nil {
		return nil, err
	}
	p.SetOptions(opts)

	var cps []pano.ControlPoint
	for i, cp := range ps.cps {
		if cp.Image1 < 0 || cp.Image1 >= n || cp.Image2 < 0 || cp.Image2 >= n {
			ps.log.Warn("dropping control point with unknown image", "index", i, "n", cp.Image1, "N", cp.Image2)
			continue
		}
		cps = append(cps, cp)
	}
	if err := p.SetCtrlPoints(cps); err != nil {
		return nil, err
	}

	for _, m := range ps.masks {
		if m.img < 0 || m.img >= n {
			ps.log.Warn("dropping mask with unknown image", "line", m.line, "image", m.img)
			continue
		}
		if !m.mask.Valid() {
			ps.log.Warn("dropping mask with fewer than 3 points", "line", m.line)
			continue
		}
		if err := p.AddMask(m.img, m.mask); err != nil {
			return nil, err
		}
	}

	geoSwitch, _ := strconv.Atoi(ps.hugin["optimizerMasterSwitch"])
	photoSwitch, _ := strconv.Atoi(ps.hugin["optimizerPhotoMasterSwitch"])
	p.SetOptimizerSwitches(geoSwitch, photoSwitch)
	if len(ps.opt) > 0 || (geoSwitch == 0 && photoSwitch == 0) {
		vec := make(pano.OptimizeVector, n)
		for _, o := range ps.opt {
			kind, ok := pano.KindForLetter(o[0])
			if !ok {
				ps.log.Warn("ignoring unknown optimize variable", "var", o[0])
				continue
			}
			idx, err := strconv.Atoi(o[1])
			if err != nil || idx < 0 || idx >= n {
				ps.log.Warn("ignoring optimize entry for unknown image", "var", o[0], "image", o[1])
				continue
			}
			vec[idx] = vec[idx].With(kind)
		}
		if err := p.SetOptimizeVector(vec); err != nil {
			return nil, err
		}
	}

	p.ChangeFinished()
	p.ClearDirty()
	return p, nil
}

func (ps *parser) image(k int) (pano.SrcImage, []pendingLink, error) {
	toks := ps.merged(k)
	img := pano.NewSrcImage("", 0, 0)
	var links []pendingLink
	offset := ps.linkOffset()

	for key, t := range toks {
		if kind, ok := pano.KindForLetter(key); ok {
			target, isLink, err := t.link()
			if err != nil {
				return img, nil, fmt.Errorf("%w: %v", ErrSyntax, err)
			}
			if isLink {
				links = append(links, pendingLink{kind: kind, img: k, target: target - offset})
				continue
			}
			v, err := t.float()
			if err != nil {
				return img, nil, fmt.Errorf("%w: %v", ErrSyntax, err)
			}
			img.Vars[kind] = v
			continue
		}
		var err error
		switch key {
		case "w":
			img.Width, err = t.int()
		case "h":
			img.Height, err = t.int()
		case "f":
			var v int
			v, err = t.int()
			img.Projection = pano.Projection(v)
		case "n":
			img.Filename = t.value
		case "Vm":
			var v int
			v, err = t.int()
			img.VigMode = pano.VignettingMode(v) & (pano.VigRadial | pano.VigFlatfield)
		case "Vf":
			img.FlatfieldFile = t.value
		case "S", "C":
			var l, r, tp, b int
			l, r, tp, b, err = parseBox(t.value)
			img.CropRect = image.Rect(l, tp, r, b)
			img.Crop = pano.CropRect
			if key == "C" {
				img.Crop = pano.CropCircle
			}
		}
		if err != nil {
			return img, nil, fmt.Errorf("%w: %v", ErrSyntax, err)
		}
	}

	if ext := ps.ext(k); ext != nil {
		if v, ok := ext["cropFactor"]; ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
				img.CropFactor = f
			}
		}
		if _, ok := ext["disabled"]; ok {
			img.Active = false
		}
		img.LensModel = ext["lensModel"]
		if v, ok := ext["focalLength"]; ok {
			img.FocalLength, _ = strconv.ParseFloat(v, 64)
		}
		if v, ok := ext["responseType"]; ok {
			if rt, err := strconv.Atoi(v); err == nil {
				img.Response = pano.ResponseType(rt)
			}
		}
	}
	return img, links, nil
}

func (ps *parser) options(n int) (pano.Options, error) {
	o := pano.DefaultOptions()
	o.Outputs = pano.OutputToggles{}
	roiSet := false
	for _, t := range ps.pLine {
		var err error
		switch t.key {
		case "f":
			var v int
			v, err = t.int()
			o.Projection = pano.PanoProjection(v)
		case "w":
			o.Width, err = t.int()
		case "h":
			o.Height, err = t.int()
		case "v":
			o.HFOV, err = t.float()
		case "k":
			o.ColorReference, err = t.int()
		case "E":
			o.OutputExposure, err = t.float()
		case "R":
			var v int
			v, err = t.int()
			o.OutputRange = pano.OutputRange(v)
		case "T":
			o.PixelType = t.value
		case "S":
			var l, r, tp, b int
			l, r, tp, b, err = parseBox(t.value)
			o.ROI = image.Rect(l, tp, r, b)
			roiSet = true
		case "n":
			ps.fileFormat(&o, t.value)
		case "P":
			o.ProjParams = nil
			for _, f := range strings.Fields(t.value) {
				v, perr := strconv.ParseFloat(f, 64)
				if perr != nil {
					return o, fmt.Errorf("%w: projection parameter %q", ErrSyntax, f)
				}
				o.ProjParams = append(o.ProjParams, v)
			}
		}
		if err != nil {
			return o, fmt.Errorf("%w: p line: %v", ErrSyntax, err)
		}
	}
	if !roiSet {
		o.ROI = image.Rect(0, 0, o.Width, o.Height)
	}
	for _, t := range ps.mLine {
		var err error
		switch t.key {
		case "g":
			o.Gamma, err = t.float()
		case "i":
			var v int
			v, err = t.int()
			o.Interpolator = pano.Interpolator(v)
		case "f":
			o.Acceleration, err = t.int()
		case "m":
			o.HuberSigma, err = t.float()
		case "p":
			o.PhotoHuberSigma, err = t.float()
		}
		if err != nil {
			return o, fmt.Errorf("%w: m line: %v", ErrSyntax, err)
		}
	}

	h := ps.hugin
	if v, ok := h["optimizeReferenceImage"]; ok {
		ref, err := strconv.Atoi(v)
		if err != nil {
			ps.log.Warn("bad optimize reference image", "value", v)
		}
		o.OptimizeReference = ref
	}
	if v, ok := h["blender"]; ok {
		o.Blender = v
	}
	if v, ok := h["blendMode"]; ok {
		if mode, ok := pano.ParseBlendMode(v); ok {
			o.Blend = mode
		} else {
			ps.log.Warn("unknown blend mode", "value", v)
		}
	}
	if v, ok := h["remapper"]; ok {
		o.Remapper = v
	}
	toggles := []struct {
		key string
		dst *bool
	}{
		{"outputLDRBlended", &o.Outputs.LDRBlended},
		{"outputLDRLayers", &o.Outputs.LDRLayers},
		{"outputLDRExposureLayers", &o.Outputs.LDRExposureLayers},
		{"outputLDRExposureLayersFused", &o.Outputs.LDRExposureLayersFused},
		{"outputLDRStacks", &o.Outputs.LDRStacks},
		{"outputHDRBlended", &o.Outputs.HDRBlended},
		{"outputHDRLayers", &o.Outputs.HDRLayers},
		{"outputHDRStacks", &o.Outputs.HDRStacks},
	}
	anyToggle := false
	for _, tg := range toggles {
		if v, ok := h[tg.key]; ok {
			*tg.dst = v == "true" || v == "1"
			anyToggle = true
		}
	}
	if !anyToggle {
		o.Outputs.LDRBlended = true
	}
	if v, ok := h["outputLayersCompression"]; ok {
		o.LayersCompression = v
	}
	if v, ok := h["outputImageType"]; ok {
		o.ImageType = v
	}
	if v, ok := h["outputImageTypeCompression"]; ok {
		o.ImageCompression = v
	}
	if v, ok := h["outputJPEGQuality"]; ok {
		if q, err := strconv.Atoi(v); err == nil {
			o.JPEGQuality = q
		}
	}
	if n == 0 {
		o.OptimizeReference, o.ColorReference = 0, 0
	}
	return o, nil
}

// fileFormat parses the `p n` descriptor, e.g. `TIFF_m c:LZW r:CROP`.
func (ps *parser) fileFormat(o *pano.Options, desc string) {
	fields := strings.Fields(desc)
	if len(fields) == 0 {
		return
	}
	f, ok := pano.ParseFileFormat(fields[0])
	if !ok {
		ps.log.Warn("unknown output format, using TIFF", "format", fields[0])
	}
	o.FileFormat = f
	o.CropLayers = false
	for _, opt := range fields[1:] {
		switch {
		case strings.HasPrefix(opt, "c:"):
			o.Compression = opt[2:]
		case strings.HasPrefix(opt, "r:"):
			o.CropLayers = opt[2:] == "CROP"
		case strings.HasPrefix(opt, "q"):
			if q, err := strconv.Atoi(opt[1:]); err == nil {
				o.JPEGQuality = q
			}
		}
	}
}
