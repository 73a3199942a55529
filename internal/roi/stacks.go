package roi

import (
	"math"
	"sort"

	"panokit/internal/pano"
)

// DefaultEVTolerance is the exposure difference below which two images
// count as one exposure.
const DefaultEVTolerance = 0.3

// possibleStacksRange is the exposure spread a bracketed project must show.
const possibleStacksRange = 1.2

type evImage struct {
	idx int
	ev  float64
}

func exposures(p *pano.Panorama, images []int) []evImage {
	out := make([]evImage, 0, len(images))
	for _, i := range images {
		ev, err := p.Variable(i, pano.VarExposure)
		if err != nil {
			continue
		}
		out = append(out, evImage{idx: i, ev: ev})
	}
	return out
}

// clusterEV groups images by exposure: a cluster starts at its lowest
// exposure and takes every image within tol of it. Clusters come out in
// ascending exposure; members keep ascending image order.
func clusterEV(imgs []evImage, tol float64) [][]int {
	if tol <= 0 {
		tol = DefaultEVTolerance
	}
	sorted := append([]evImage(nil), imgs...)
	sort.SliceStable(sorted, func(a, b int) bool { return sorted[a].ev < sorted[b].ev })
	var out [][]int
	start := math.Inf(-1)
	for _, im := range sorted {
		if len(out) == 0 || im.ev-start > tol {
			out = append(out, nil)
			start = im.ev
		}
		out[len(out)-1] = append(out[len(out)-1], im.idx)
	}
	for _, c := range out {
		sort.Ints(c)
	}
	return out
}

// ExposureLayers groups the active images by exposure value.
func ExposureLayers(p *pano.Panorama, tol float64) [][]int {
	return clusterEV(exposures(p, p.ActiveImages()), tol)
}

// SortedStacks groups the active images by stack link. Members are ordered
// by ascending exposure, stacks by their first image.
func SortedStacks(p *pano.Panorama) [][]int {
	active := map[int]bool{}
	for _, i := range p.ActiveImages() {
		active[i] = true
	}
	var out [][]int
	for _, class := range p.LinkClasses(pano.VarStack) {
		var members []int
		for _, i := range class {
			if active[i] {
				members = append(members, i)
			}
		}
		if len(members) == 0 {
			continue
		}
		evs := exposures(p, members)
		sort.SliceStable(evs, func(a, b int) bool { return evs[a].ev < evs[b].ev })
		stack := make([]int, len(evs))
		for k, e := range evs {
			stack[k] = e.idx
		}
		out = append(out, stack)
	}
	return out
}

// HDRStacks returns the exposure stacks to merge. Linked stacks are used
// when the project defines any; otherwise the active images are clustered
// by exposure.
func HDRStacks(p *pano.Panorama, tol float64) [][]int {
	for _, class := range p.LinkClasses(pano.VarStack) {
		if len(class) > 1 {
			return SortedStacks(p)
		}
	}
	return ExposureLayers(p, tol)
}

// HasPossibleStacks reports whether the image sequence looks like a
// bracketed panorama: a spread above 1.2 EV, at least two exposure
// clusters, and the cluster of every image repeating with a stride equal to
// the cluster count.
func HasPossibleStacks(p *pano.Panorama, tol float64) bool {
	n := p.NumImages()
	if n == 0 {
		return false
	}
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	evs := exposures(p, all)
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, e := range evs {
		lo, hi = math.Min(lo, e.ev), math.Max(hi, e.ev)
	}
	if hi-lo <= possibleStacksRange {
		return false
	}
	clusters := clusterEV(evs, tol)
	k := len(clusters)
	if k < 2 || n%k != 0 {
		return false
	}
	clusterOf := make([]int, n)
	for c, members := range clusters {
		for _, i := range members {
			clusterOf[i] = c
		}
	}
	for i := k; i < n; i++ {
		if clusterOf[i] != clusterOf[i%k] {
			return false
		}
	}
	return true
}
