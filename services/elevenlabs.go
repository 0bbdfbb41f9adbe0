package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
)

// SpeechSynthesizer converts text to audio for a given voice.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, voiceID, text string) ([]byte, error)
}

const defaultTTSModel = "eleven_multilingual_v2"

// Voice is one selectable ElevenLabs voice.
type Voice struct {
	VoiceID    string            `json:"voice_id"`
	Name       string            `json:"name"`
	Category   string            `json:"category"`
	Labels     map[string]string `json:"labels,omitempty"`
	PreviewURL string            `json:"preview_url,omitempty"`
}

const (
	voicesCacheKey = "elevenlabs:voices"
	voicesCacheTTL = time.Hour
)

// ElevenLabsService calls the ElevenLabs HTTP API. The voice list is cached
// in Redis to avoid hammering the voices endpoint from the picker UI.
type ElevenLabsService struct {
	apiKey  string
	baseURL string
	http    *http.Client
	rdb     *redis.Client
}

func NewElevenLabsService(apiKey, baseURL string, rdb *redis.Client) (*ElevenLabsService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("ELEVENLABS_API_KEY environment variable not set")
	}
	return &ElevenLabsService{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 120 * time.Second},
		rdb:     rdb,
	}, nil
}

func (s *ElevenLabsService) Synthesize(ctx context.Context, voiceID, text string) ([]byte, error) {
	body, err := json.Marshal(map[string]string{
		"text":          text,
		"model_id":      defaultTTSModel,
		"output_format": "mp3_44100_128",
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s", s.baseURL, voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.apiKey)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ElevenLabs request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ElevenLabs responded with status %d: %s", resp.StatusCode, string(snippet))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read ElevenLabs response: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("ElevenLabs returned empty audio payload")
	}
	return audio, nil
}

// Voices lists available voices, serving from the Redis cache when fresh.
// Errors are non-fatal to callers: an empty list renders an empty picker.
func (s *ElevenLabsService) Voices(ctx context.Context) ([]Voice, error) {
	if s.rdb != nil {
		if cached, err := s.rdb.Get(ctx, voicesCacheKey).Result(); err == nil {
			var voices []Voice
			if err := json.Unmarshal([]byte(cached), &voices); err == nil {
				return voices, nil
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/v1/voices", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", s.apiKey)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ElevenLabs request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ElevenLabs responded with status %d", resp.StatusCode)
	}

	var payload struct {
		Voices []Voice `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode voices response: %w", err)
	}

	if s.rdb != nil {
		if raw, err := json.Marshal(payload.Voices); err == nil {
			if err := s.rdb.Set(ctx, voicesCacheKey, raw, voicesCacheTTL).Err(); err != nil {
				log.Printf("Error caching voices: %v", err)
			}
		}
	}
	return payload.Voices, nil
}
