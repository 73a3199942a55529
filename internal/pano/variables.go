package pano

import (
	"fmt"
	"sort"
)

// VarKind identifies one per-image variable.
type VarKind int

const (
	VarYaw VarKind = iota
	VarPitch
	VarRoll
	VarTrX
	VarTrY
	VarTrZ
	VarTpy
	VarTpp
	VarHFOV
	VarDistA
	VarDistB
	VarDistC
	VarShiftD
	VarShiftE
	VarShearG
	VarShearT
	VarExposure
	VarWBRed
	VarWBBlue
	VarVigA
	VarVigB
	VarVigC
	VarVigD
	VarVigX
	VarVigY
	VarEMoRA
	VarEMoRB
	VarEMoRC
	VarEMoRD
	VarEMoRE
	VarStack
	VarRedA
	VarRedB
	VarRedC
	VarRedD
	VarBlueA
	VarBlueB
	VarBlueC
	VarBlueD

	numVarKinds
)

var varLetters = [numVarKinds]string{
	VarYaw:      "y",
	VarPitch:    "p",
	VarRoll:     "r",
	VarTrX:      "TrX",
	VarTrY:      "TrY",
	VarTrZ:      "TrZ",
	VarTpy:      "Tpy",
	VarTpp:      "Tpp",
	VarHFOV:     "v",
	VarDistA:    "a",
	VarDistB:    "b",
	VarDistC:    "c",
	VarShiftD:   "d",
	VarShiftE:   "e",
	VarShearG:   "g",
	VarShearT:   "t",
	VarExposure: "Eev",
	VarWBRed:    "Er",
	VarWBBlue:   "Eb",
	VarVigA:     "Va",
	VarVigB:     "Vb",
	VarVigC:     "Vc",
	VarVigD:     "Vd",
	VarVigX:     "Vx",
	VarVigY:     "Vy",
	VarEMoRA:    "Ra",
	VarEMoRB:    "Rb",
	VarEMoRC:    "Rc",
	VarEMoRD:    "Rd",
	VarEMoRE:    "Re",
	VarStack:    "j",
	VarRedA:     "Dra",
	VarRedB:     "Drb",
	VarRedC:     "Drc",
	VarRedD:     "Drd",
	VarBlueA:    "Dba",
	VarBlueB:    "Dbb",
	VarBlueC:    "Dbc",
	VarBlueD:    "Dbd",
}

var letterKinds = func() map[string]VarKind {
	m := make(map[string]VarKind, numVarKinds)
	for k, l := range varLetters {
		m[l] = VarKind(k)
	}
	return m
}()

// AllVars lists every variable kind in declaration order.
func AllVars() []VarKind {
	out := make([]VarKind, numVarKinds)
	for i := range out {
		out[i] = VarKind(i)
	}
	return out
}

// Letter returns the PTO token of the variable.
func (k VarKind) Letter() string {
	if k < 0 || k >= numVarKinds {
		return fmt.Sprintf("var(%d)", int(k))
	}
	return varLetters[k]
}

func (k VarKind) String() string { return k.Letter() }

// Valid reports whether k names a known variable.
func (k VarKind) Valid() bool { return k >= 0 && k < numVarKinds }

// KindForLetter maps a PTO token back to its variable kind.
func KindForLetter(letter string) (VarKind, bool) {
	k, ok := letterKinds[letter]
	return k, ok
}

// Vars holds the value of every variable for one image.
type Vars [numVarKinds]float64

// DefaultVars returns the neutral value of every variable.
func DefaultVars() Vars {
	var v Vars
	v[VarHFOV] = 50
	v[VarWBRed] = 1
	v[VarWBBlue] = 1
	v[VarVigA] = 1
	v[VarRedD] = 1
	v[VarBlueD] = 1
	return v
}

// VarTable stores per-image variables as link groups: every (kind, image)
// slot points at a group id and the group id owns the value. Images linked
// on a kind share a group, so equality across a link class holds by
// construction.
type VarTable struct {
	kinds [numVarKinds]kindTable
	size  int
}

type kindTable struct {
	group  []int
	values map[int]float64
	next   int
}

// NewVarTable returns an empty table.
func NewVarTable() *VarTable {
	t := &VarTable{}
	for i := range t.kinds {
		t.kinds[i].values = make(map[int]float64)
	}
	return t
}

// Len returns the number of images in the table.
func (t *VarTable) Len() int { return t.size }

// AddImage appends an image with the given values, unlinked from everybody.
func (t *VarTable) AddImage(v Vars) int {
	for k := range t.kinds {
		kt := &t.kinds[k]
		id := kt.next
		kt.next++
		kt.values[id] = v[k]
		kt.group = append(kt.group, id)
	}
	t.size++
	return t.size - 1
}

// RemoveImage drops img from every group. Groups that become empty are
// discarded; the remaining members keep their group and value.
func (t *VarTable) RemoveImage(img int) error {
	if err := t.check(img); err != nil {
		return err
	}
	for k := range t.kinds {
		kt := &t.kinds[k]
		id := kt.group[img]
		kt.group = append(kt.group[:img], kt.group[img+1:]...)
		if !kt.inUse(id) {
			delete(kt.values, id)
		}
	}
	t.size--
	return nil
}

// Get returns the value of kind for img.
func (t *VarTable) Get(kind VarKind, img int) (float64, error) {
	if err := t.check(img); err != nil {
		return 0, err
	}
	if !kind.Valid() {
		return 0, fmt.Errorf("unknown variable %d", int(kind))
	}
	kt := &t.kinds[kind]
	return kt.values[kt.group[img]], nil
}

// Set changes the value of kind for img and, through the shared group, for
// every image linked with it.
func (t *VarTable) Set(kind VarKind, img int, value float64) error {
	if err := t.check(img); err != nil {
		return err
	}
	if !kind.Valid() {
		return fmt.Errorf("unknown variable %d", int(kind))
	}
	kt := &t.kinds[kind]
	kt.values[kt.group[img]] = value
	return nil
}

// Link merges the class of dst into the class of src. All merged members
// take src's value.
func (t *VarTable) Link(kind VarKind, src, dst int) error {
	if err := t.check(src); err != nil {
		return err
	}
	if err := t.check(dst); err != nil {
		return err
	}
	if !kind.Valid() {
		return fmt.Errorf("unknown variable %d", int(kind))
	}
	kt := &t.kinds[kind]
	from, to := kt.group[dst], kt.group[src]
	if from == to {
		return nil
	}
	for i, g := range kt.group {
		if g == from {
			kt.group[i] = to
		}
	}
	delete(kt.values, from)
	return nil
}

// Unlink detaches img from its class. img keeps its last value as an
// independent copy.
func (t *VarTable) Unlink(kind VarKind, img int) error {
	if err := t.check(img); err != nil {
		return err
	}
	if !kind.Valid() {
		return fmt.Errorf("unknown variable %d", int(kind))
	}
	kt := &t.kinds[kind]
	old := kt.group[img]
	if kt.count(old) == 1 {
		return nil
	}
	id := kt.next
	kt.next++
	kt.values[id] = kt.values[old]
	kt.group[img] = id
	return nil
}

// IsLinked reports whether img shares its kind slot with another image.
func (t *VarTable) IsLinked(kind VarKind, img int) bool {
	if t.check(img) != nil || !kind.Valid() {
		return false
	}
	kt := &t.kinds[kind]
	return kt.count(kt.group[img]) > 1
}

// IsLinkedWith reports whether a and b are in one class for kind.
func (t *VarTable) IsLinkedWith(kind VarKind, a, b int) bool {
	if t.check(a) != nil || t.check(b) != nil || !kind.Valid() {
		return false
	}
	kt := &t.kinds[kind]
	return kt.group[a] == kt.group[b]
}

// Linked returns the members of img's class in ascending order, img included.
func (t *VarTable) Linked(kind VarKind, img int) []int {
	if t.check(img) != nil || !kind.Valid() {
		return nil
	}
	kt := &t.kinds[kind]
	id := kt.group[img]
	var out []int
	for i, g := range kt.group {
		if g == id {
			out = append(out, i)
		}
	}
	return out
}

// Classes returns the partition of all images for kind. Each class is
// sorted and classes are ordered by their first member.
func (t *VarTable) Classes(kind VarKind) [][]int {
	if !kind.Valid() {
		return nil
	}
	kt := &t.kinds[kind]
	byGroup := map[int][]int{}
	var order []int
	for i, g := range kt.group {
		if _, ok := byGroup[g]; !ok {
			order = append(order, g)
		}
		byGroup[g] = append(byGroup[g], i)
	}
	out := make([][]int, 0, len(order))
	for _, g := range order {
		out = append(out, byGroup[g])
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// Values returns every variable of img.
func (t *VarTable) Values(img int) (Vars, error) {
	var v Vars
	if err := t.check(img); err != nil {
		return v, err
	}
	for k := range t.kinds {
		kt := &t.kinds[k]
		v[k] = kt.values[kt.group[img]]
	}
	return v, nil
}

// Clone returns a deep copy.
func (t *VarTable) Clone() *VarTable {
	c := &VarTable{size: t.size}
	for k := range t.kinds {
		src := &t.kinds[k]
		dst := &c.kinds[k]
		dst.group = append([]int(nil), src.group...)
		dst.values = make(map[int]float64, len(src.values))
		for id, v := range src.values {
			dst.values[id] = v
		}
		dst.next = src.next
	}
	return c
}

func (t *VarTable) check(img int) error {
	if img < 0 || img >= t.size {
		return fmt.Errorf("%w: %d (have %d images)", ErrImageIndex, img, t.size)
	}
	return nil
}

func (kt *kindTable) count(id int) int {
	n := 0
	for _, g := range kt.group {
		if g == id {
			n++
		}
	}
	return n
}

func (kt *kindTable) inUse(id int) bool {
	for _, g := range kt.group {
		if g == id {
			return true
		}
	}
	return false
}
