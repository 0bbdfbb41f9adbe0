package storyboard

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"gorm.io/datatypes"

	"github.com/storyforge/storyboard-api/models"
)

// SceneDraft is the segmenter's output for one retained paragraph. Drafts
// carry no identity; persistence is a separate step done by the caller.
type SceneDraft struct {
	SceneIndex     int
	SceneName      string
	SceneContent   string
	ContentType    models.SceneContentType
	Emotion        *string
	VisualElements []string
	Duration       int
}

// Paragraph is one retained paragraph with its position in the script.
type Paragraph struct {
	Text  string
	First bool
	Last  bool
}

// Classifier assigns a content type to a paragraph. The default is keyword
// matching; the interface exists so a model-backed classifier can be swapped
// in without touching the segmenter's contract.
type Classifier interface {
	Classify(ctx context.Context, p Paragraph) (models.SceneContentType, error)
}

// Paragraphs shorter than this (after trimming) are discarded and do not
// count toward scene indexes.
const minParagraphLength = 10

// Narration throughput assumed by the duration estimate, in chars/second.
const narrationCharsPerSecond = 20

var paragraphSplit = regexp.MustCompile(`\n\s*\n`)

// Segmenter converts raw script text into an ordered list of scene drafts.
type Segmenter struct {
	classifier Classifier
}

// NewSegmenter returns a segmenter using the given classifier, or the
// keyword classifier when nil.
func NewSegmenter(c Classifier) *Segmenter {
	if c == nil {
		c = KeywordClassifier{}
	}
	return &Segmenter{classifier: c}
}

// Segment splits scriptText on blank-line paragraph boundaries and emits one
// draft per retained paragraph, in source order, with dense zero-based scene
// indexes. An empty or too-short script yields an empty list, not an error.
func (s *Segmenter) Segment(ctx context.Context, scriptText string) ([]SceneDraft, error) {
	var retained []string
	for _, raw := range paragraphSplit.Split(scriptText, -1) {
		p := strings.TrimSpace(raw)
		if len(p) < minParagraphLength {
			continue
		}
		retained = append(retained, p)
	}

	drafts := make([]SceneDraft, 0, len(retained))
	for i, p := range retained {
		contentType, err := s.classifier.Classify(ctx, Paragraph{
			Text:  p,
			First: i == 0,
			Last:  i == len(retained)-1,
		})
		if err != nil {
			return nil, fmt.Errorf("classify paragraph %d: %w", i, err)
		}

		drafts = append(drafts, SceneDraft{
			SceneIndex:     i,
			SceneName:      fmt.Sprintf("Scene %d", i+1),
			SceneContent:   p,
			ContentType:    contentType,
			Emotion:        detectEmotion(p),
			VisualElements: extractVisualElements(p),
			Duration:       int(math.Ceil(float64(len(p)) / narrationCharsPerSecond)),
		})
	}
	return drafts, nil
}

// KeywordClassifier is the default heuristic classifier. First match wins,
// in this order: intro, outro, dialogue, transition, action. A lone
// paragraph is intro, not outro.
type KeywordClassifier struct{}

func (KeywordClassifier) Classify(_ context.Context, p Paragraph) (models.SceneContentType, error) {
	switch {
	case p.First:
		return models.ContentTypeIntro, nil
	case p.Last:
		return models.ContentTypeOutro, nil
	case strings.Contains(p.Text, "says") || strings.Contains(p.Text, "said") || strings.Contains(p.Text, ":"):
		return models.ContentTypeDialogue, nil
	case strings.HasPrefix(p.Text, "Then") || strings.Contains(p.Text, "Next") || strings.Contains(p.Text, "After"):
		return models.ContentTypeTransition, nil
	default:
		return models.ContentTypeAction, nil
	}
}

// detectEmotion is keyword containment against a small fixed lexicon, not
// NLP. Callers must not expect high recall; nil means no match.
func detectEmotion(paragraph string) *string {
	lower := strings.ToLower(paragraph)
	var emotion string
	switch {
	case strings.Contains(lower, "happy") || strings.Contains(lower, "excited"):
		emotion = "happy"
	case strings.Contains(lower, "sad") || strings.Contains(lower, "upset"):
		emotion = "sad"
	case strings.Contains(lower, "serious") || strings.Contains(lower, "professional"):
		emotion = "serious"
	default:
		return nil
	}
	return &emotion
}

var visualKeywords = []string{"shows", "displays", "screen", "image", "picture", "view", "camera"}

// extractVisualElements pulls a 20-char window around the first occurrence
// of each visual keyword present in the paragraph. No matches yields nil,
// which persists as absence rather than an empty array.
func extractVisualElements(paragraph string) []string {
	lower := strings.ToLower(paragraph)
	var elements []string
	for _, keyword := range visualKeywords {
		idx := strings.Index(lower, keyword)
		if idx < 0 {
			continue
		}
		start := idx - 20
		if start < 0 {
			start = 0
		}
		end := idx + 20
		if end > len(paragraph) {
			end = len(paragraph)
		}
		elements = append(elements, paragraph[start:end])
	}
	return elements
}

// Model converts a draft into a persistable Scene owned by the script.
func (d SceneDraft) Model(script models.Script) models.Scene {
	scene := models.Scene{
		ScriptID:     script.ID,
		UserID:       script.UserID,
		VideoID:      script.VideoID,
		SceneIndex:   d.SceneIndex,
		SceneName:    d.SceneName,
		SceneContent: d.SceneContent,
		ContentType:  d.ContentType,
		Emotion:      d.Emotion,
		Duration:     &d.Duration,
	}
	if len(d.VisualElements) > 0 {
		if raw, err := json.Marshal(d.VisualElements); err == nil {
			scene.VisualElements = datatypes.JSON(raw)
		}
	}
	return scene
}
