package pano

import (
	"fmt"
	"image"
	"strings"
)

// PanoProjection is the projection of the output canvas.
type PanoProjection int

const (
	PanoRectilinear     PanoProjection = 0
	PanoCylindrical     PanoProjection = 1
	PanoEquirectangular PanoProjection = 2
	PanoFisheye         PanoProjection = 3
	PanoStereographic   PanoProjection = 4
	PanoMercator        PanoProjection = 5
	PanoSinusoidal      PanoProjection = 7
	PanoOrthographic    PanoProjection = 14
	PanoEquisolid       PanoProjection = 15
)

func (p PanoProjection) String() string {
	switch p {
	case PanoRectilinear:
		return "rectilinear"
	case PanoCylindrical:
		return "cylindrical"
	case PanoEquirectangular:
		return "equirectangular"
	case PanoFisheye:
		return "fisheye"
	case PanoStereographic:
		return "stereographic"
	case PanoMercator:
		return "mercator"
	case PanoSinusoidal:
		return "sinusoidal"
	case PanoOrthographic:
		return "orthographic"
	case PanoEquisolid:
		return "equisolid"
	default:
		return fmt.Sprintf("projection(%d)", int(p))
	}
}

// Interpolator is the resampling kernel id stored in the `m i` field.
type Interpolator int

const (
	InterpCubic    Interpolator = 0
	InterpSpline16 Interpolator = 1
	InterpSpline36 Interpolator = 2
	InterpSinc256  Interpolator = 3
	InterpSpline64 Interpolator = 4
	InterpBilinear Interpolator = 5
	InterpNearest  Interpolator = 6
	InterpSinc1024 Interpolator = 7
)

var interpNames = map[Interpolator]string{
	InterpCubic:    "cubic",
	InterpSpline16: "spline16",
	InterpSpline36: "spline36",
	InterpSinc256:  "sinc256",
	InterpSpline64: "spline64",
	InterpBilinear: "bilinear",
	InterpNearest:  "nearest",
	InterpSinc1024: "sinc1024",
}

func (i Interpolator) String() string {
	if s, ok := interpNames[i]; ok {
		return s
	}
	return fmt.Sprintf("interpolator(%d)", int(i))
}

// ParseInterpolator accepts the names produced by String. "lanczos" is
// taken as sinc256.
func ParseInterpolator(s string) (Interpolator, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "lanczos" {
		return InterpSinc256, true
	}
	for k, v := range interpNames {
		if v == s {
			return k, true
		}
	}
	return InterpCubic, false
}

// OutputRange selects the dynamic range of the `p R` field.
type OutputRange int

const (
	RangeLDR OutputRange = 0
	RangeHDR OutputRange = 1
)

// BlendMode picks the compositing order of the blended output.
type BlendMode int

const (
	BlendWeighted BlendMode = iota
	BlendHardSeam
	BlendSeamOrder
)

var blendNames = map[BlendMode]string{
	BlendWeighted:  "weighted",
	BlendHardSeam:  "hardseam",
	BlendSeamOrder: "seamorder",
}

func (b BlendMode) String() string {
	if s, ok := blendNames[b]; ok {
		return s
	}
	return "weighted"
}

// ParseBlendMode accepts the names produced by String. Unknown names map to
// BlendWeighted with ok false.
func ParseBlendMode(s string) (BlendMode, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, v := range blendNames {
		if v == s {
			return k, true
		}
	}
	return BlendWeighted, false
}

// FileFormat is the output container named in the `p n` field.
type FileFormat int

const (
	FormatTIFF FileFormat = iota
	FormatTIFFm
	FormatTIFFMultilayer
	FormatTIFFMask
	FormatTIFFMultilayerMask
	FormatJPEG
	FormatPNG
	FormatHDR
	FormatHDRm
)

var formatNames = []string{
	FormatTIFF:               "TIFF",
	FormatTIFFm:              "TIFF_m",
	FormatTIFFMultilayer:     "TIFF_multilayer",
	FormatTIFFMask:           "TIFF_mask",
	FormatTIFFMultilayerMask: "TIFF_multilayer_mask",
	FormatJPEG:               "JPEG",
	FormatPNG:                "PNG",
	FormatHDR:                "HDR",
	FormatHDRm:               "HDR_m",
}

func (f FileFormat) String() string {
	if f >= 0 && int(f) < len(formatNames) {
		return formatNames[f]
	}
	return "TIFF"
}

// ParseFileFormat maps a `p n` format name to its value.
func ParseFileFormat(s string) (FileFormat, bool) {
	for i, n := range formatNames {
		if strings.EqualFold(n, s) {
			return FileFormat(i), true
		}
	}
	return FormatTIFF, false
}

// Extension returns the file extension written for the format.
func (f FileFormat) Extension() string {
	switch f {
	case FormatJPEG:
		return "jpg"
	case FormatPNG:
		return "png"
	case FormatHDR, FormatHDRm:
		return "hdr"
	default:
		return "tif"
	}
}

// OutputToggles are the per-output-kind switches.
type OutputToggles struct {
	LDRBlended             bool
	LDRLayers              bool
	LDRExposureLayers      bool
	LDRExposureLayersFused bool
	LDRStacks              bool
	HDRBlended             bool
	HDRLayers              bool
	HDRStacks              bool
}

// Any reports whether at least one output is requested.
func (t OutputToggles) Any() bool {
	return t.LDRBlended || t.LDRLayers || t.LDRExposureLayers || t.LDRExposureLayersFused ||
		t.LDRStacks || t.HDRBlended || t.HDRLayers || t.HDRStacks
}

// Options are the global output settings of a panorama.
type Options struct {
	Width      int
	Height     int
	ROI        image.Rectangle
	Projection PanoProjection
	ProjParams []float64
	HFOV       float64

	OutputExposure float64
	OutputRange    OutputRange
	PixelType      string
	Outputs        OutputToggles

	FileFormat        FileFormat
	Compression       string
	JPEGQuality       int
	CropLayers        bool
	ICCProfile        string
	LayersCompression string
	ImageType         string
	ImageCompression  string

	Blend    BlendMode
	Blender  string
	Remapper string

	OptimizeReference int
	ColorReference    int

	Gamma           float64
	Interpolator    Interpolator
	Acceleration    int
	HuberSigma      float64
	PhotoHuberSigma float64
}

// DefaultOptions returns the settings of a fresh project.
func DefaultOptions() Options {
	return Options{
		Width:             3000,
		Height:            1500,
		ROI:               image.Rect(0, 0, 3000, 1500),
		Projection:        PanoEquirectangular,
		HFOV:              360,
		PixelType:         "UINT8",
		Outputs:           OutputToggles{LDRBlended: true},
		FileFormat:        FormatTIFFm,
		Compression:       "LZW",
		JPEGQuality:       90,
		CropLayers:        true,
		LayersCompression: "LZW",
		ImageType:         "tif",
		ImageCompression:  "LZW",
		Blend:             BlendWeighted,
		Blender:           "internal",
		Remapper:          "nona",
		Gamma:             1,
		Interpolator:      InterpCubic,
		HuberSigma:        2,
		PhotoHuberSigma:   2.0 / 255,
	}
}

// Canvas returns the full output rectangle.
func (o Options) Canvas() image.Rectangle { return image.Rect(0, 0, o.Width, o.Height) }

// EffectiveROI returns the ROI clipped to the canvas, or the whole canvas
// when no ROI is set.
func (o Options) EffectiveROI() image.Rectangle {
	c := o.Canvas()
	if o.ROI.Empty() {
		return c
	}
	return o.ROI.Intersect(c)
}

// Clone copies o including its parameter slice.
func (o Options) Clone() Options {
	c := o
	c.ProjParams = append([]float64(nil), o.ProjParams...)
	return c
}
