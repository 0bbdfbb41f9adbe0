package storyboard

import (
	"context"
	"testing"

	"github.com/storyforge/storyboard-api/models"
)

func TestNewAIClassifierRequiresKey(t *testing.T) {
	if _, err := NewAIClassifier(""); err == nil {
		t.Fatal("expected an error without an API key")
	}
	if c, err := NewAIClassifier("sk-test"); err != nil || c == nil {
		t.Fatalf("expected a classifier, got %v/%v", c, err)
	}
}

// Positional rules are decided locally, before any model call: a first or
// last paragraph must classify without touching the network.
func TestAIClassifierPositionalRules(t *testing.T) {
	c := &AIClassifier{}

	got, err := c.Classify(context.Background(), Paragraph{Text: "Welcome to the show today.", First: true})
	if err != nil || got != models.ContentTypeIntro {
		t.Errorf("first paragraph = %s/%v, want intro", got, err)
	}

	got, err = c.Classify(context.Background(), Paragraph{Text: "Thanks for watching, see you soon.", Last: true})
	if err != nil || got != models.ContentTypeOutro {
		t.Errorf("last paragraph = %s/%v, want outro", got, err)
	}
}

type fixedClassifier struct {
	result models.SceneContentType
	calls  int
}

func (c *fixedClassifier) Classify(_ context.Context, p Paragraph) (models.SceneContentType, error) {
	c.calls++
	return c.result, nil
}

func TestSegmenterUsesInjectedClassifier(t *testing.T) {
	fc := &fixedClassifier{result: models.ContentTypeOther}
	s := NewSegmenter(fc)

	drafts, err := s.Segment(context.Background(), "First paragraph of the script.\n\nSecond paragraph of the script.")
	if err != nil {
		t.Fatalf("segment: %v", err)
	}
	if fc.calls != 2 {
		t.Fatalf("expected the injected classifier for every paragraph, got %d calls", fc.calls)
	}
	for i, d := range drafts {
		if d.ContentType != models.ContentTypeOther {
			t.Errorf("draft %d: content type %s, want other", i, d.ContentType)
		}
	}
}
