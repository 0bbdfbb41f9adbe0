package voiceover

import (
	"context"

	"github.com/storyforge/storyboard-api/models"
	"github.com/storyforge/storyboard-api/storage"
)

// View is a voiceover record with its playback URL resolved. URL is nil for
// processing and failed records; it is derived fresh on every read because
// the underlying store's URLs may be time-limited.
type View struct {
	models.Voiceover
	URL *string `json:"url"`
}

// Projection is the read path exposing job and playback state to callers.
type Projection struct {
	Repo  Repo
	Blobs storage.Store
}

func NewProjection(repo Repo, blobs storage.Store) *Projection {
	return &Projection{Repo: repo, Blobs: blobs}
}

// GetSceneVoiceover returns the scene's current voiceover with a resolved
// URL, or nil when the scene has none. A missing URL is never an error.
func (p *Projection) GetSceneVoiceover(ctx context.Context, sceneID, userID uint) (*View, error) {
	vo, err := p.Repo.SceneVoiceover(ctx, sceneID, userID)
	if err != nil {
		if err == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	view := p.resolve(*vo)
	return &view, nil
}

// ListVoiceovers returns all of the script's voiceovers with resolved URLs.
func (p *Projection) ListVoiceovers(ctx context.Context, scriptID, userID uint) ([]View, error) {
	voiceovers, err := p.Repo.ListByScript(ctx, scriptID, userID)
	if err != nil {
		return nil, err
	}
	views := make([]View, 0, len(voiceovers))
	for _, vo := range voiceovers {
		views = append(views, p.resolve(vo))
	}
	return views, nil
}

func (p *Projection) resolve(vo models.Voiceover) View {
	view := View{Voiceover: vo}
	if vo.StorageID != nil {
		if url := p.Blobs.URL(*vo.StorageID); url != "" {
			view.URL = &url
		}
	}
	return view
}
