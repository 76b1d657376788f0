// Package tf keeps the history of coordinate-frame relationships seen in a recording and
// answers point-in-time transform queries between any two connected frames.
package tf

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/lherman-cs/bag2rawlog/geom"
)

// maxDepth bounds the walk towards the root of the frame tree.
const maxDepth = 1000

var (
	ErrNoPath                = errors.New("no transform path between frames")
	ErrNoDataAtTime          = errors.New("no transform data at the requested time")
	ErrConflictingStaticEdge = errors.New("conflicting static transform")
	ErrInvalidEdge           = errors.New("invalid transform edge")
)

// Edge is one transform observation: Transform maps Child coordinates into Parent
// coordinates.
type Edge struct {
	Parent    string
	Child     string
	Stamp     time.Time
	Transform geom.Transform
	Static    bool
}

type sample struct {
	stamp     time.Time
	transform geom.Transform
}

// link is the edge from a frame to its parent. Static links hold a single transform valid for
// all time; dynamic links hold a time-sorted history.
type link struct {
	parent  string
	static  bool
	fixed   geom.Transform
	samples []sample
}

// Directory stores the frame tree over time. The zero value is not usable; call
// NewDirectory.
type Directory struct {
	// Tolerance is how far outside the recorded history of a dynamic edge a lookup may reach,
	// answered with the nearest sample.
	Tolerance time.Duration

	links map[string]*link
}

func NewDirectory() *Directory {
	return &Directory{
		links: make(map[string]*link),
	}
}

// Update inserts an observation.
//
// Redefining a static edge is last-write-wins: the new edge is installed and, if it differs
// from the old one, an error wrapping ErrConflictingStaticEdge is returned so the caller can
// report it. Switching a frame between static and dynamic follows the same rule.
func (dir *Directory) Update(edge Edge) error {
	if edge.Parent == "" || edge.Child == "" {
		return fmt.Errorf("%w: empty frame id (%q -> %q)", ErrInvalidEdge, edge.Parent, edge.Child)
	}
	if edge.Parent == edge.Child {
		return fmt.Errorf("%w: frame %q is its own parent", ErrInvalidEdge, edge.Child)
	}
	if !geom.ValidRotation(edge.Transform.Rotation) || !finite(edge.Transform) {
		return fmt.Errorf("%w: %q -> %q has a non-finite or zero rotation", ErrInvalidEdge, edge.Parent, edge.Child)
	}
	edge.Transform.Rotation = geom.Normalize(edge.Transform.Rotation)

	current, ok := dir.links[edge.Child]
	if edge.Static {
		dir.links[edge.Child] = &link{parent: edge.Parent, static: true, fixed: edge.Transform}
		if !ok {
			return nil
		}
		if !current.static {
			return fmt.Errorf("%w: %q was dynamic, now static", ErrConflictingStaticEdge, edge.Child)
		}
		if current.parent != edge.Parent || !current.fixed.ApproxEqual(edge.Transform, 1e-9) {
			return fmt.Errorf("%w: %q redefined (parent %q -> %q)", ErrConflictingStaticEdge, edge.Child, current.parent, edge.Parent)
		}
		return nil
	}

	var conflict error
	if ok && current.static {
		conflict = fmt.Errorf("%w: %q was static, now dynamic", ErrConflictingStaticEdge, edge.Child)
	}
	if !ok || current.static || current.parent != edge.Parent {
		current = &link{parent: edge.Parent}
		dir.links[edge.Child] = current
	}

	current.insert(sample{stamp: edge.Stamp, transform: edge.Transform})
	return conflict
}

func (l *link) insert(s sample) {
	idx := sort.Search(len(l.samples), func(i int) bool {
		return !l.samples[i].stamp.Before(s.stamp)
	})

	if idx < len(l.samples) && l.samples[idx].stamp.Equal(s.stamp) {
		l.samples[idx] = s
		return
	}

	l.samples = append(l.samples, sample{})
	copy(l.samples[idx+1:], l.samples[idx:])
	l.samples[idx] = s
}

func (l *link) at(at time.Time, tolerance time.Duration) (geom.Transform, error) {
	if l.static {
		return l.fixed, nil
	}

	n := len(l.samples)
	if n == 0 {
		return geom.Transform{}, ErrNoDataAtTime
	}

	idx := sort.Search(n, func(i int) bool {
		return !l.samples[i].stamp.Before(at)
	})

	switch {
	case idx < n && l.samples[idx].stamp.Equal(at):
		return l.samples[idx].transform, nil
	case idx == 0:
		if l.samples[0].stamp.Sub(at) <= tolerance {
			return l.samples[0].transform, nil
		}
	case idx == n:
		if at.Sub(l.samples[n-1].stamp) <= tolerance {
			return l.samples[n-1].transform, nil
		}
	default:
		before, after := l.samples[idx-1], l.samples[idx]
		ratio := float64(at.Sub(before.stamp)) / float64(after.stamp.Sub(before.stamp))
		return geom.Interpolate(before.transform, after.transform, ratio), nil
	}

	return geom.Transform{}, fmt.Errorf("%w: %s outside [%s, %s]", ErrNoDataAtTime,
		at.UTC().Format(time.RFC3339Nano),
		l.samples[0].stamp.UTC().Format(time.RFC3339Nano),
		l.samples[n-1].stamp.UTC().Format(time.RFC3339Nano))
}

// chain returns frame followed by its ancestors up to the root.
func (dir *Directory) chain(frame string) ([]string, error) {
	frames := []string{frame}
	for depth := 0; ; depth++ {
		l, ok := dir.links[frame]
		if !ok {
			return frames, nil
		}
		if depth >= maxDepth {
			return nil, fmt.Errorf("%w: frame tree deeper than %d (loop at %q?)", ErrNoPath, maxDepth, frame)
		}
		frame = l.parent
		frames = append(frames, frame)
	}
}

func (dir *Directory) known(frame string) bool {
	if _, ok := dir.links[frame]; ok {
		return true
	}
	for _, l := range dir.links {
		if l.parent == frame {
			return true
		}
	}
	return false
}

// Lookup returns the transform mapping child coordinates into parent coordinates at time at.
// A zero at asks for the latest time at which every dynamic edge on the path has data.
func (dir *Directory) Lookup(parent, child string, at time.Time) (geom.Transform, error) {
	if parent == child {
		return geom.Identity(), nil
	}
	if !dir.known(parent) || !dir.known(child) {
		return geom.Transform{}, fmt.Errorf("%w: %q -> %q (unknown frame)", ErrNoPath, parent, child)
	}

	childChain, err := dir.chain(child)
	if err != nil {
		return geom.Transform{}, err
	}
	parentChain, err := dir.chain(parent)
	if err != nil {
		return geom.Transform{}, err
	}

	// lowest common ancestor
	inParentChain := make(map[string]int, len(parentChain))
	for i, frame := range parentChain {
		inParentChain[frame] = i
	}
	childDepth, parentDepth := -1, -1
	for i, frame := range childChain {
		if j, ok := inParentChain[frame]; ok {
			childDepth, parentDepth = i, j
			break
		}
	}
	if childDepth == -1 {
		return geom.Transform{}, fmt.Errorf("%w: %q -> %q", ErrNoPath, parent, child)
	}

	if at.IsZero() {
		at = dir.latestCommon(childChain[:childDepth], parentChain[:parentDepth])
	}

	ancestorFromChild, err := dir.walk(childChain[:childDepth], at)
	if err != nil {
		return geom.Transform{}, err
	}
	ancestorFromParent, err := dir.walk(parentChain[:parentDepth], at)
	if err != nil {
		return geom.Transform{}, err
	}

	return ancestorFromParent.Inverse().Compose(ancestorFromChild), nil
}

// walk composes the edges of frames, each relative to the next, into the transform from the
// first frame to the parent of the last.
func (dir *Directory) walk(frames []string, at time.Time) (geom.Transform, error) {
	result := geom.Identity()
	for _, frame := range frames {
		l := dir.links[frame]
		edge, err := l.at(at, dir.Tolerance)
		if err != nil {
			return geom.Transform{}, fmt.Errorf("%q -> %q: %w", l.parent, frame, err)
		}
		result = edge.Compose(result)
	}
	return result, nil
}

func (dir *Directory) latestCommon(chains ...[]string) time.Time {
	var latest time.Time
	first := true
	for _, frames := range chains {
		for _, frame := range frames {
			l := dir.links[frame]
			if l.static || len(l.samples) == 0 {
				continue
			}
			last := l.samples[len(l.samples)-1].stamp
			if first || last.Before(latest) {
				latest = last
				first = false
			}
		}
	}
	return latest
}

// CanTransform reports whether Lookup would succeed.
func (dir *Directory) CanTransform(parent, child string, at time.Time) bool {
	_, err := dir.Lookup(parent, child, at)
	return err == nil
}

// Frames returns every frame id known to the directory, sorted.
func (dir *Directory) Frames() []string {
	seen := make(map[string]struct{})
	for child, l := range dir.links {
		seen[child] = struct{}{}
		seen[l.parent] = struct{}{}
	}

	frames := make([]string, 0, len(seen))
	for frame := range seen {
		frames = append(frames, frame)
	}
	sort.Strings(frames)
	return frames
}

func finite(t geom.Transform) bool {
	for _, v := range []float64{t.Translation.X, t.Translation.Y, t.Translation.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
