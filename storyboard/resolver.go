package storyboard

import (
	"fmt"
	"strconv"

	"github.com/storyforge/storyboard-api/models"
)

// Reference selection modes accepted by ResolveReference. Anything else is
// treated as an explicit scene ID.
const (
	ReferenceAuto = "auto"
	ReferenceNone = "none"
)

// ResolveReference decides which prior scene's image, if any, should steer
// visual consistency when generating a new image for the scene at
// targetIndex. scenes must be in ascending scene-index order.
//
// Auto mode picks the candidate with the highest scene index below the
// target among scenes that already have an image: anchoring to the most
// recent successful image keeps adjacent scenes consistent instead of
// forcing global conformity to the first scene, since style drifts
// intentionally across a narrative. An explicit selection is returned
// unchecked; the caller's UI only offers valid candidates.
func ResolveReference(scenes []models.Scene, targetIndex int, selection string) (*uint, error) {
	switch selection {
	case ReferenceNone:
		return nil, nil
	case ReferenceAuto, "":
		var best *models.Scene
		for i := range scenes {
			s := &scenes[i]
			if s.SceneIndex >= targetIndex || s.ImageID == nil {
				continue
			}
			if best == nil || s.SceneIndex > best.SceneIndex {
				best = s
			}
		}
		if best == nil {
			return nil, nil
		}
		id := best.ID
		return &id, nil
	default:
		raw, err := strconv.ParseUint(selection, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid reference selection %q", selection)
		}
		id := uint(raw)
		return &id, nil
	}
}
