package pano

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ChangeSet describes what was mutated since the previous ChangeFinished.
type ChangeSet struct {
	Images        []int
	Structure     bool
	Geometry      bool
	ControlPoints bool
	Options       bool
}

// Empty reports whether nothing changed.
func (c ChangeSet) Empty() bool {
	return len(c.Images) == 0 && !c.Structure && !c.Geometry && !c.ControlPoints && !c.Options
}

// Panorama is the aggregate root of a stitching project: ordered source
// images with their linked variables, control points, output options and
// the optimizer selection. Mutating methods are single-writer; only the
// subscriber list is safe for concurrent use.
type Panorama struct {
	images   []SrcImage
	vars     *VarTable
	points   []ControlPoint
	opts     Options
	optimize OptimizeVector

	optSwitch   int
	photoSwitch int

	dirty     bool
	changed   map[int]struct{}
	pending   ChangeSet
	projector MaskProjector
	log       *slog.Logger

	subMu     sync.Mutex
	subs      map[int]chan ChangeSet
	nextSubID int
}

// New returns an empty panorama with default options.
func New() *Panorama {
	return &Panorama{
		vars:    NewVarTable(),
		opts:    DefaultOptions(),
		changed: make(map[int]struct{}),
		log:     slog.Default(),
		subs:    make(map[int]chan ChangeSet),
	}
}

// SetLogger replaces the logger used for recoverable conditions.
func (p *Panorama) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	p.log = l
}

// Logger returns the panorama's logger.
func (p *Panorama) Logger() *slog.Logger { return p.log }

// NumImages returns the number of source images.
func (p *Panorama) NumImages() int { return len(p.images) }

// Image returns a snapshot of image i with every variable filled in.
func (p *Panorama) Image(i int) (SrcImage, error) {
	if err := p.checkImage(i); err != nil {
		return SrcImage{}, err
	}
	img := p.images[i].Clone()
	img.Vars, _ = p.vars.Values(i)
	return img, nil
}

// Images returns snapshots of every image.
func (p *Panorama) Images() []SrcImage {
	out := make([]SrcImage, len(p.images))
	for i := range p.images {
		out[i], _ = p.Image(i)
	}
	return out
}

// ActiveImages returns the indices of images taking part in the output.
func (p *Panorama) ActiveImages() []int {
	var out []int
	for i, img := range p.images {
		if img.Active {
			out = append(out, i)
		}
	}
	return out
}

// AddImage appends img, unlinked from every other image, and returns its
// index.
func (p *Panorama) AddImage(img SrcImage) int {
	stored := img.Clone()
	idx := p.vars.AddImage(img.Vars)
	stored.Vars = Vars{}
	p.images = append(p.images, stored)
	p.optimize = append(p.optimize, 0)
	p.markImage(idx)
	p.pending.Structure = true
	p.pending.Geometry = true
	p.updateOptimizeVector()
	return idx
}

// SetImage replaces the properties of image i. Variables are written
// through the link table, so images linked with i see the new values too.
func (p *Panorama) SetImage(i int, img SrcImage) error {
	if err := p.checkImage(i); err != nil {
		return err
	}
	prev := p.images[i]
	stored := img.Clone()
	stored.Vars = Vars{}
	p.images[i] = stored
	for _, k := range AllVars() {
		old, _ := p.vars.Get(k, i)
		if old == img.Vars[k] {
			continue
		}
		if err := p.vars.Set(k, i, img.Vars[k]); err != nil {
			return err
		}
		for _, j := range p.vars.Linked(k, i) {
			p.markImage(j)
		}
	}
	p.markImage(i)
	p.pending.Geometry = true
	if prev.Active != img.Active {
		p.updateOptimizeVector()
	}
	return nil
}

// RemoveImage deletes image k. Control points touching k are dropped,
// every index reference above k moves down by one and the reference image
// indices fall back to 0 when they pointed at k.
func (p *Panorama) RemoveImage(k int) error {
	if err := p.checkImage(k); err != nil {
		return err
	}
	touched := map[int]struct{}{}
	kept := p.points[:0]
	for _, cp := range p.points {
		if cp.Image1 == k || cp.Image2 == k {
			touched[cp.Image1] = struct{}{}
			touched[cp.Image2] = struct{}{}
			continue
		}
		if cp.Image1 > k {
			cp.Image1--
		}
		if cp.Image2 > k {
			cp.Image2--
		}
		kept = append(kept, cp)
	}
	p.points = kept
	if err := p.vars.RemoveImage(k); err != nil {
		return err
	}
	p.images = append(p.images[:k], p.images[k+1:]...)
	p.optimize = append(p.optimize[:k], p.optimize[k+1:]...)
	p.opts.OptimizeReference = shiftRef(p.opts.OptimizeReference, k)
	p.opts.ColorReference = shiftRef(p.opts.ColorReference, k)

	changed := make(map[int]struct{}, len(p.changed))
	for i := range p.changed {
		switch {
		case i < k:
			changed[i] = struct{}{}
		case i > k:
			changed[i-1] = struct{}{}
		}
	}
	p.changed = changed
	for i := range touched {
		if i < k {
			p.markImage(i)
		} else if i > k {
			p.markImage(i - 1)
		}
	}
	for i := k; i < len(p.images); i++ {
		p.markImage(i)
	}
	p.pending.Structure = true
	p.pending.Geometry = true
	p.pending.ControlPoints = true
	p.dirty = true
	p.UpdateLineCtrlPoints()
	p.updateOptimizeVector()
	return nil
}

func shiftRef(ref, removed int) int {
	switch {
	case ref == removed:
		return 0
	case ref > removed:
		return ref - 1
	default:
		return ref
	}
}

// Variable returns the value of kind for image i.
func (p *Panorama) Variable(i int, kind VarKind) (float64, error) {
	return p.vars.Get(kind, i)
}

// SetVariable sets kind on image i and on every image linked with it.
func (p *Panorama) SetVariable(i int, kind VarKind, value float64) error {
	if err := p.vars.Set(kind, i, value); err != nil {
		return err
	}
	for _, j := range p.vars.Linked(kind, i) {
		p.markImage(j)
	}
	p.pending.Geometry = true
	return nil
}

// LinkVariable makes dst share src's value for kind. The whole class of
// dst joins the class of src.
func (p *Panorama) LinkVariable(kind VarKind, src, dst int) error {
	if err := p.vars.Link(kind, src, dst); err != nil {
		return err
	}
	for _, j := range p.vars.Linked(kind, src) {
		p.markImage(j)
	}
	p.pending.Geometry = true
	p.updateOptimizeVector()
	return nil
}

// UnlinkVariable detaches img from its class for kind; it keeps its value.
func (p *Panorama) UnlinkVariable(kind VarKind, img int) error {
	if err := p.vars.Unlink(kind, img); err != nil {
		return err
	}
	p.markImage(img)
	p.updateOptimizeVector()
	return nil
}

// LinkedImages returns the images sharing kind with img, img included.
func (p *Panorama) LinkedImages(kind VarKind, img int) []int {
	return p.vars.Linked(kind, img)
}

// IsLinkedWith reports whether a and b share kind.
func (p *Panorama) IsLinkedWith(kind VarKind, a, b int) bool {
	return p.vars.IsLinkedWith(kind, a, b)
}

// LinkClasses returns the partition of all images for kind.
func (p *Panorama) LinkClasses(kind VarKind) [][]int {
	return p.vars.Classes(kind)
}

// SetActive toggles whether image i takes part in the output.
func (p *Panorama) SetActive(i int, active bool) error {
	if err := p.checkImage(i); err != nil {
		return err
	}
	if p.images[i].Active == active {
		return nil
	}
	p.images[i].Active = active
	p.markImage(i)
	p.pending.Geometry = true
	p.updateOptimizeVector()
	return nil
}

// SetMasks replaces the authored masks of image i.
func (p *Panorama) SetMasks(i int, masks []Mask) error {
	if err := p.checkImage(i); err != nil {
		return err
	}
	p.images[i].Masks = cloneMasks(masks)
	p.markImage(i)
	p.pending.Geometry = true
	return nil
}

// AddMask appends an authored mask to image i.
func (p *Panorama) AddMask(i int, m Mask) error {
	if err := p.checkImage(i); err != nil {
		return err
	}
	p.images[i].Masks = append(p.images[i].Masks, m.Clone())
	p.markImage(i)
	p.pending.Geometry = true
	return nil
}

// Options returns a copy of the output settings.
func (p *Panorama) Options() Options { return p.opts.Clone() }

// SetOptions replaces the output settings. A nonzero reference image index
// that does not name an image, even in an empty panorama, is reset to 0
// with a warning.
func (p *Panorama) SetOptions(o Options) {
	o = o.Clone()
	n := len(p.images)
	if o.OptimizeReference < 0 || (o.OptimizeReference > 0 && o.OptimizeReference >= n) {
		p.log.Warn("optimize reference image out of range, using 0", "index", o.OptimizeReference, "images", n)
		o.OptimizeReference = 0
	}
	if o.ColorReference < 0 || (o.ColorReference > 0 && o.ColorReference >= n) {
		p.log.Warn("color reference image out of range, using 0", "index", o.ColorReference, "images", n)
		o.ColorReference = 0
	}
	p.opts = o
	p.pending.Options = true
	p.dirty = true
	p.updateOptimizeVector()
}

// Dirty reports whether the panorama changed since ClearDirty.
func (p *Panorama) Dirty() bool { return p.dirty }

// ClearDirty marks the current state as saved.
func (p *Panorama) ClearDirty() { p.dirty = false }

// AttachProjector enables automatic mask propagation in ChangeFinished
// whenever geometry or the active set changed. Passing nil disables it.
func (p *Panorama) AttachProjector(proj MaskProjector) { p.projector = proj }

// ChangeFinished flushes the accumulated changes: masks are rebuilt if a
// projector is attached and geometry changed, then the change set is
// returned and delivered to every subscriber.
func (p *Panorama) ChangeFinished() ChangeSet {
	if p.projector != nil && (p.pending.Geometry || p.pending.Structure) {
		p.UpdateMasks(p.projector)
	}
	cs := p.pending
	cs.Images = make([]int, 0, len(p.changed))
	for i := range p.changed {
		cs.Images = append(cs.Images, i)
	}
	sort.Ints(cs.Images)
	p.changed = make(map[int]struct{})
	p.pending = ChangeSet{}
	if !cs.Empty() {
		p.broadcast(cs)
	}
	return cs
}

// Subscribe returns a channel receiving every non-empty change set and an
// unsubscribe function. Slow subscribers miss change sets rather than
// blocking the writer.
func (p *Panorama) Subscribe() (<-chan ChangeSet, func()) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	ch := make(chan ChangeSet, 8)
	p.subs[id] = ch
	unsub := func() {
		p.subMu.Lock()
		if c, ok := p.subs[id]; ok {
			close(c)
			delete(p.subs, id)
		}
		p.subMu.Unlock()
	}
	return ch, unsub
}

func (p *Panorama) broadcast(cs ChangeSet) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for id, ch := range p.subs {
		select {
		case ch <- cs:
		default:
			p.log.Warn("change channel full", "subscriber", id)
		}
	}
}

// Clone returns a deep copy without subscribers. The projector is shared.
func (p *Panorama) Clone() *Panorama {
	c := New()
	c.log = p.log
	c.projector = p.projector
	c.images = make([]SrcImage, len(p.images))
	for i, img := range p.images {
		c.images[i] = img.Clone()
	}
	c.vars = p.vars.Clone()
	c.points = append([]ControlPoint(nil), p.points...)
	c.opts = p.opts.Clone()
	c.optimize = append(OptimizeVector(nil), p.optimize...)
	c.optSwitch, c.photoSwitch = p.optSwitch, p.photoSwitch
	return c
}

// SubPanorama builds an independent panorama holding only the listed
// images, in the given order, with the links among them and the control
// points joining two of them. The options are copied unchanged.
func (p *Panorama) SubPanorama(indices []int) (*Panorama, error) {
	sub := New()
	sub.log = p.log
	pos := make(map[int]int, len(indices))
	for n, i := range indices {
		img, err := p.Image(i)
		if err != nil {
			return nil, err
		}
		pos[i] = n
		sub.AddImage(img)
	}
	for _, k := range AllVars() {
		for n, i := range indices {
			for _, j := range p.vars.Linked(k, i) {
				if m, ok := pos[j]; ok && m < n {
					if err := sub.vars.Link(k, m, n); err != nil {
						return nil, err
					}
					break
				}
			}
		}
	}
	for _, cp := range p.points {
		a, okA := pos[cp.Image1]
		b, okB := pos[cp.Image2]
		if okA && okB {
			cp.Image1, cp.Image2 = a, b
			sub.points = append(sub.points, cp)
		}
	}
	sub.opts = p.opts.Clone()
	sub.opts.OptimizeReference = 0
	sub.opts.ColorReference = 0
	sub.UpdateLineCtrlPoints()
	sub.changed = make(map[int]struct{})
	sub.pending = ChangeSet{}
	return sub, nil
}

func (p *Panorama) checkImage(i int) error {
	if i < 0 || i >= len(p.images) {
		return fmt.Errorf("%w: %d (have %d images)", ErrImageIndex, i, len(p.images))
	}
	return nil
}

func (p *Panorama) markImage(i int) {
	p.changed[i] = struct{}{}
	p.dirty = true
}
