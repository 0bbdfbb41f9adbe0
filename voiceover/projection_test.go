package voiceover

import (
	"context"
	"testing"

	"github.com/storyforge/storyboard-api/models"
)

func TestGetSceneVoiceoverResolvesURL(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	proj := NewProjection(f.repo, f.blobs)

	id, _ := f.orch.RequestVoiceover(ctx, sceneParams(3))

	view, err := proj.GetSceneVoiceover(ctx, 3, 7)
	if err != nil {
		t.Fatalf("get scene voiceover: %v", err)
	}
	if view == nil || view.ID != id {
		t.Fatalf("expected view for voiceover %d, got %+v", id, view)
	}
	if view.URL != nil {
		t.Error("processing records must not expose a URL")
	}

	task := f.queue.enqueued[0]
	_ = f.orch.Synthesize(ctx, task.VoiceoverID, task.Generation)

	view, _ = proj.GetSceneVoiceover(ctx, 3, 7)
	if view.Status != models.VoiceoverCompleted {
		t.Fatalf("expected completed, got %s", view.Status)
	}
	if view.URL == nil || *view.URL == "" {
		t.Fatal("completed records must expose a playback URL")
	}
}

func TestGetSceneVoiceoverAbsent(t *testing.T) {
	f := newFixture()
	proj := NewProjection(f.repo, f.blobs)

	view, err := proj.GetSceneVoiceover(context.Background(), 42, 7)
	if err != nil {
		t.Fatalf("absent voiceover should not be an error: %v", err)
	}
	if view != nil {
		t.Fatalf("expected nil view, got %+v", view)
	}
}

func TestGetSceneVoiceoverOtherUser(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	proj := NewProjection(f.repo, f.blobs)

	f.orch.RequestVoiceover(ctx, sceneParams(3))

	view, err := proj.GetSceneVoiceover(ctx, 3, 99)
	if err != nil || view != nil {
		t.Fatalf("another user's scene voiceover should read as absent, got view=%v err=%v", view, err)
	}
}

func TestListVoiceoversPerRecordURLs(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	proj := NewProjection(f.repo, f.blobs)

	first, _ := f.orch.RequestVoiceover(ctx, sceneParams(1))
	f.orch.RequestVoiceover(ctx, sceneParams(2))

	// Complete only the first.
	task := f.queue.enqueued[0]
	_ = f.orch.Synthesize(ctx, task.VoiceoverID, task.Generation)

	views, err := proj.ListVoiceovers(ctx, 1, 7)
	if err != nil {
		t.Fatalf("list voiceovers: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 views, got %d", len(views))
	}
	for _, v := range views {
		if v.ID == first {
			if v.URL == nil {
				t.Error("completed voiceover missing URL")
			}
		} else if v.URL != nil {
			t.Error("processing voiceover must not have a URL")
		}
	}
}
