package hbm

import "github.com/cockroachdb/errors"

// pickMemoryType chooses a memory type for a resource and decides whether
// the staged-copy data path is needed.
//
// Overlay use requires local, non-cached memory. Software use takes the
// direct-map path (mappable required, cached preferred) only when the
// resolved layout is linear and the usage policy prefers mapping; otherwise
// a staging resource is used and local memory is preferred. Candidates are
// scanned in provider order: the first one carrying the preferred flag wins
// immediately, else the first flag-compatible candidate is kept.
func pickMemoryType(candidates []MemoryType, modifier Modifier, use UseFlags) (MemoryType, bool, error) {
	var required, disallowed, preferred MemoryTypeFlags
	useStaging := false

	if useOverlay(use) {
		required |= MemoryTypeLocal
		disallowed |= MemoryTypeCached
	}

	if useSW(use) {
		if modifier == ModifierLinear && preferMap(use) {
			required |= MemoryTypeMappable
			preferred = MemoryTypeCached
		} else {
			preferred = MemoryTypeLocal
			useStaging = true
		}
	} else {
		preferred = MemoryTypeLocal
	}

	if disallowed&preferred != 0 {
		preferred = 0
	}

	best := -1
	for i, candidate := range candidates {
		if candidate.Flags&required != required || candidate.Flags&disallowed != 0 {
			continue
		}

		if candidate.Flags&preferred != 0 {
			best = i
			break
		} else if best < 0 {
			best = i
			if preferred == 0 {
				break
			}
		}
	}

	if best < 0 {
		return MemoryType{}, false, errors.Mark(
			errors.Newf("no memory type satisfies required=%s disallowed=%s", required, disallowed),
			ErrNoCompatibleType)
	}

	return candidates[best], useStaging, nil
}
