package voiceover

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"

	"github.com/storyforge/storyboard-api/models"
	"github.com/storyforge/storyboard-api/tasks"
)

// memoryRepo is an in-memory Repo for exercising the job state machine
// without a database.
type memoryRepo struct {
	voiceovers   map[uint]*models.Voiceover
	sceneRefs    map[uint]*uint
	sceneOwners  map[uint]uint
	scriptOwners map[uint]uint
	nextID       uint
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		voiceovers:   make(map[uint]*models.Voiceover),
		sceneRefs:    make(map[uint]*uint),
		sceneOwners:  make(map[uint]uint),
		scriptOwners: make(map[uint]uint),
	}
}

func (r *memoryRepo) VerifyScene(_ context.Context, sceneID, userID uint) error {
	owner, ok := r.sceneOwners[sceneID]
	if !ok {
		return ErrNotFound
	}
	if owner != userID {
		return ErrUnauthorized
	}
	return nil
}

func (r *memoryRepo) VerifyScript(_ context.Context, scriptID, userID uint) error {
	owner, ok := r.scriptOwners[scriptID]
	if !ok {
		return ErrNotFound
	}
	if owner != userID {
		return ErrUnauthorized
	}
	return nil
}

func (r *memoryRepo) Get(_ context.Context, id uint) (*models.Voiceover, error) {
	vo, ok := r.voiceovers[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *vo
	return &copied, nil
}

func (r *memoryRepo) GetOwned(ctx context.Context, id, userID uint) (*models.Voiceover, error) {
	vo, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if vo.UserID != userID {
		return nil, ErrUnauthorized
	}
	return vo, nil
}

func (r *memoryRepo) FindByScene(_ context.Context, sceneID uint) (*models.Voiceover, error) {
	for _, vo := range r.voiceovers {
		if vo.SceneID != nil && *vo.SceneID == sceneID {
			copied := *vo
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memoryRepo) FindOrReuseForScene(ctx context.Context, vo *models.Voiceover) error {
	existing, err := r.FindByScene(ctx, *vo.SceneID)
	if err == nil {
		stored := r.voiceovers[existing.ID]
		stored.Status = models.VoiceoverProcessing
		stored.Text = vo.Text
		stored.VoiceName = vo.VoiceName
		stored.VoiceProvider = vo.VoiceProvider
		stored.StorageID = nil
		stored.Duration = nil
		stored.ErrorMessage = nil
		stored.Generation++
		vo.ID = stored.ID
		vo.Generation = stored.Generation
		vo.Status = models.VoiceoverProcessing
		return nil
	}
	return r.Create(ctx, vo)
}

func (r *memoryRepo) Create(_ context.Context, vo *models.Voiceover) error {
	r.nextID++
	vo.ID = r.nextID
	vo.Status = models.VoiceoverProcessing
	if vo.Generation == 0 {
		vo.Generation = 1
	}
	copied := *vo
	r.voiceovers[vo.ID] = &copied
	return nil
}

func (r *memoryRepo) UpdateGuarded(_ context.Context, id, generation uint, fields map[string]interface{}) error {
	vo, ok := r.voiceovers[id]
	if !ok || vo.Generation != generation {
		return ErrSuperseded
	}
	for key, value := range fields {
		switch key {
		case "status":
			vo.Status = value.(models.VoiceoverStatus)
		case "storage_id":
			if value == nil {
				vo.StorageID = nil
			} else {
				s := value.(string)
				vo.StorageID = &s
			}
		case "duration":
			if value == nil {
				vo.Duration = nil
			} else {
				d := value.(int)
				vo.Duration = &d
			}
		case "error_message":
			if value == nil {
				vo.ErrorMessage = nil
			} else {
				m := value.(string)
				vo.ErrorMessage = &m
			}
		case "generation":
			vo.Generation = value.(uint)
		}
	}
	return nil
}

func (r *memoryRepo) Delete(_ context.Context, id uint) error {
	delete(r.voiceovers, id)
	return nil
}

func (r *memoryRepo) ListByScript(_ context.Context, scriptID, userID uint) ([]models.Voiceover, error) {
	var out []models.Voiceover
	for id := uint(1); id <= r.nextID; id++ {
		if vo, ok := r.voiceovers[id]; ok && vo.ScriptID == scriptID && vo.UserID == userID {
			out = append(out, *vo)
		}
	}
	return out, nil
}

func (r *memoryRepo) SceneVoiceover(ctx context.Context, sceneID, userID uint) (*models.Voiceover, error) {
	vo, err := r.FindByScene(ctx, sceneID)
	if err != nil {
		return nil, err
	}
	if vo.UserID != userID {
		return nil, ErrNotFound
	}
	return vo, nil
}

func (r *memoryRepo) SetSceneVoiceover(_ context.Context, sceneID uint, voiceoverID *uint) error {
	r.sceneRefs[sceneID] = voiceoverID
	return nil
}

type fakeQueue struct {
	enqueued []tasks.VoiceoverTaskPayload
	err      error
}

func (q *fakeQueue) Enqueue(_ context.Context, queueName string, payload interface{}) error {
	if q.err != nil {
		return q.err
	}
	if p, ok := payload.(tasks.VoiceoverTaskPayload); ok {
		q.enqueued = append(q.enqueued, p)
	}
	return nil
}

type fakeSpeech struct {
	audio []byte
	err   error
	calls int
}

func (s *fakeSpeech) Synthesize(_ context.Context, voiceID, text string) ([]byte, error) {
	s.calls++
	return s.audio, s.err
}

type fakeBlobs struct {
	blobs   map[string][]byte
	deleted []string
	nextID  int
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{blobs: make(map[string][]byte)}
}

func (b *fakeBlobs) Put(_ context.Context, data []byte, contentType string) (string, error) {
	b.nextID++
	id := fmt.Sprintf("blob-%d", b.nextID)
	b.blobs[id] = data
	return id, nil
}

func (b *fakeBlobs) URL(id string) string {
	if _, ok := b.blobs[id]; !ok {
		return ""
	}
	return "http://blobs.test/files/" + id
}

func (b *fakeBlobs) Delete(id string) error {
	delete(b.blobs, id)
	b.deleted = append(b.deleted, id)
	return nil
}

type fakeFlags struct {
	enabled bool
	events  []string
}

func (f *fakeFlags) CheckFlag(_ context.Context, userID uint, flag string) (bool, error) {
	return f.enabled, nil
}

func (f *fakeFlags) Track(_ context.Context, event string, userID uint) {
	f.events = append(f.events, event)
}

type fixture struct {
	repo   *memoryRepo
	queue  *fakeQueue
	speech *fakeSpeech
	blobs  *fakeBlobs
	flags  *fakeFlags
	orch   *Orchestrator
}

func newFixture() *fixture {
	f := &fixture{
		repo:   newMemoryRepo(),
		queue:  &fakeQueue{},
		speech: &fakeSpeech{audio: []byte("mp3-bytes")},
		blobs:  newFakeBlobs(),
		flags:  &fakeFlags{enabled: true},
	}
	f.orch = NewOrchestrator(f.repo, f.queue, f.speech, f.blobs, f.flags)

	// Script 1 and scenes 1-10 belong to user 7, the default requester.
	f.repo.scriptOwners[1] = 7
	for sceneID := uint(1); sceneID <= 10; sceneID++ {
		f.repo.sceneOwners[sceneID] = 7
	}
	return f
}

func sceneParams(sceneID uint) RequestVoiceoverParams {
	return RequestVoiceoverParams{
		ScriptID:  1,
		SceneID:   &sceneID,
		UserID:    7,
		VideoID:   "vid-1",
		Text:      "Hello world",
		VoiceName: "v1",
	}
}

// assertInvariants checks the status biconditionals that must hold after
// every transition: storage iff completed, error message iff failed.
func assertInvariants(t *testing.T, vo *models.Voiceover) {
	t.Helper()
	if (vo.StorageID != nil) != (vo.Status == models.VoiceoverCompleted) {
		t.Errorf("storage presence (%v) does not match completed status (%s)", vo.StorageID != nil, vo.Status)
	}
	if (vo.ErrorMessage != nil) != (vo.Status == models.VoiceoverFailed) {
		t.Errorf("error message presence (%v) does not match failed status (%s)", vo.ErrorMessage != nil, vo.Status)
	}
}

func TestRequestVoiceoverReusesSceneRecord(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.orch.RequestVoiceover(ctx, sceneParams(3))
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	second, err := f.orch.RequestVoiceover(ctx, sceneParams(3))
	if err != nil {
		t.Fatalf("second request: %v", err)
	}

	if first != second {
		t.Fatalf("expected the same voiceover ID, got %d and %d", first, second)
	}
	if len(f.repo.voiceovers) != 1 {
		t.Fatalf("expected one record, got %d", len(f.repo.voiceovers))
	}

	vo, _ := f.repo.Get(ctx, first)
	if vo.Status != models.VoiceoverProcessing {
		t.Errorf("expected processing after request, got %s", vo.Status)
	}
	if vo.Generation != 2 {
		t.Errorf("expected generation 2 after re-request, got %d", vo.Generation)
	}
	if ref := f.repo.sceneRefs[3]; ref == nil || *ref != first {
		t.Errorf("scene back-reference not set to %d", first)
	}
	if len(f.queue.enqueued) != 2 {
		t.Fatalf("expected two queued tasks, got %d", len(f.queue.enqueued))
	}
	if f.queue.enqueued[1].Generation != 2 {
		t.Errorf("queued task should carry generation 2, got %d", f.queue.enqueued[1].Generation)
	}
}

func TestRequestVoiceoverWithoutSceneCreatesNewRecords(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	params := sceneParams(0)
	params.SceneID = nil

	first, _ := f.orch.RequestVoiceover(ctx, params)
	second, _ := f.orch.RequestVoiceover(ctx, params)
	if first == second {
		t.Fatalf("script-level requests should create distinct records, both got %d", first)
	}
}

func TestRequestVoiceoverForeignScene(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	ownerID, err := f.orch.RequestVoiceover(ctx, sceneParams(3))
	if err != nil {
		t.Fatalf("owner request: %v", err)
	}
	before, _ := f.repo.Get(ctx, ownerID)

	foreign := sceneParams(3)
	foreign.UserID = 99
	foreign.Text = "replacement text"
	if _, err := f.orch.RequestVoiceover(ctx, foreign); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized for another user's scene, got %v", err)
	}

	after, _ := f.repo.Get(ctx, ownerID)
	if after.Text != before.Text {
		t.Errorf("owner's text was replaced: %q", after.Text)
	}
	if after.Generation != before.Generation || after.Status != before.Status {
		t.Errorf("owner's record was reset: %+v", after)
	}
	if len(f.queue.enqueued) != 1 {
		t.Errorf("no task should be queued for the rejected request, got %d", len(f.queue.enqueued))
	}
}

func TestRequestVoiceoverUnknownScene(t *testing.T) {
	f := newFixture()

	params := sceneParams(404)
	if _, err := f.orch.RequestVoiceover(context.Background(), params); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for an unknown scene, got %v", err)
	}
	if len(f.repo.voiceovers) != 0 || len(f.queue.enqueued) != 0 {
		t.Error("nothing should be created or queued for an unknown scene")
	}
}

func TestRequestVoiceoverForeignScript(t *testing.T) {
	f := newFixture()
	f.repo.scriptOwners[2] = 99

	params := sceneParams(0)
	params.SceneID = nil
	params.ScriptID = 2
	if _, err := f.orch.RequestVoiceover(context.Background(), params); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized for another user's script, got %v", err)
	}
	if len(f.repo.voiceovers) != 0 {
		t.Error("no record should be created for a foreign script")
	}
}

func TestRequestVoiceoverNotEntitled(t *testing.T) {
	f := newFixture()
	f.flags.enabled = false

	_, err := f.orch.RequestVoiceover(context.Background(), sceneParams(1))
	if err == nil {
		t.Fatal("expected an entitlement error")
	}
	if len(f.repo.voiceovers) != 0 {
		t.Errorf("no record should be created when not entitled")
	}
}

func TestSynthesizeSuccess(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	id, _ := f.orch.RequestVoiceover(ctx, sceneParams(3))
	task := f.queue.enqueued[0]

	if err := f.orch.Synthesize(ctx, task.VoiceoverID, task.Generation); err != nil {
		t.Fatalf("synthesize: %v", err)
	}

	vo, _ := f.repo.Get(ctx, id)
	if vo.Status != models.VoiceoverCompleted {
		t.Fatalf("expected completed, got %s", vo.Status)
	}
	if vo.StorageID == nil {
		t.Fatal("expected a storage ID on completion")
	}
	if _, ok := f.blobs.blobs[*vo.StorageID]; !ok {
		t.Errorf("storage ID %s does not resolve to a stored blob", *vo.StorageID)
	}
	if vo.Duration == nil || *vo.Duration != 1 {
		t.Errorf("expected 1s duration estimate for %q, got %v", vo.Text, vo.Duration)
	}
	assertInvariants(t, vo)
}

func TestSynthesizeFailureThenRetryReusesRecord(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.speech.err = errors.New("voice service unavailable")

	id, _ := f.orch.RequestVoiceover(ctx, sceneParams(5))
	task := f.queue.enqueued[0]

	if err := f.orch.Synthesize(ctx, task.VoiceoverID, task.Generation); err != nil {
		t.Fatalf("synthesize should capture the failure, not return it: %v", err)
	}

	vo, _ := f.repo.Get(ctx, id)
	if vo.Status != models.VoiceoverFailed {
		t.Fatalf("expected failed, got %s", vo.Status)
	}
	if vo.ErrorMessage == nil || *vo.ErrorMessage == "" {
		t.Fatal("expected a non-empty error message")
	}
	assertInvariants(t, vo)

	// The scene keeps pointing at the failed record so the UI can offer a
	// retry with the same job identity.
	if ref := f.repo.sceneRefs[5]; ref == nil || *ref != id {
		t.Error("scene back-reference should survive a failure")
	}

	f.speech.err = nil
	retry, err := f.orch.RequestVoiceover(ctx, sceneParams(5))
	if err != nil {
		t.Fatalf("retry request: %v", err)
	}
	if retry != id {
		t.Fatalf("retry should reuse record %d, got %d", id, retry)
	}

	vo, _ = f.repo.Get(ctx, id)
	if vo.Status != models.VoiceoverProcessing {
		t.Errorf("expected processing after retry, got %s", vo.Status)
	}
	if vo.ErrorMessage != nil {
		t.Errorf("retry should clear the error message")
	}
}

func TestSynthesizeEmptyAudioFails(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.speech.audio = nil

	id, _ := f.orch.RequestVoiceover(ctx, sceneParams(2))
	task := f.queue.enqueued[0]
	_ = f.orch.Synthesize(ctx, task.VoiceoverID, task.Generation)

	vo, _ := f.repo.Get(ctx, id)
	if vo.Status != models.VoiceoverFailed {
		t.Fatalf("empty audio should fail the job, got %s", vo.Status)
	}
	assertInvariants(t, vo)
}

func TestDeleteClearsSceneBackReference(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	id, _ := f.orch.RequestVoiceover(ctx, sceneParams(9))
	task := f.queue.enqueued[0]
	_ = f.orch.Synthesize(ctx, task.VoiceoverID, task.Generation)

	vo, _ := f.repo.Get(ctx, id)
	storageID := *vo.StorageID

	if err := f.orch.Delete(ctx, id, 7); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if ref := f.repo.sceneRefs[9]; ref != nil {
		t.Error("scene back-reference should be cleared on delete")
	}
	if _, err := f.repo.Get(ctx, id); err != ErrNotFound {
		t.Error("record should be gone after delete")
	}
	if _, ok := f.blobs.blobs[storageID]; ok {
		t.Error("audio blob should be deleted with the record")
	}
}

func TestDeleteOtherUsersVoiceover(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	id, _ := f.orch.RequestVoiceover(ctx, sceneParams(1))
	if err := f.orch.Delete(ctx, id, 99); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestDeleteDuringProcessingSupersedesJob(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	id, _ := f.orch.RequestVoiceover(ctx, sceneParams(4))
	task := f.queue.enqueued[0]

	if err := f.orch.Delete(ctx, id, 7); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// The in-flight job completes against a deleted record: it must not
	// resurrect it or leave a blob behind.
	if err := f.orch.Synthesize(ctx, task.VoiceoverID, task.Generation); err != nil {
		t.Fatalf("synthesize after delete: %v", err)
	}
	if len(f.repo.voiceovers) != 0 {
		t.Error("deleted record must not be resurrected by a late job")
	}
	if f.speech.calls != 0 {
		t.Error("synthesis should be skipped for a deleted record")
	}
}

func TestSupersededJobIsSkipped(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.orch.RequestVoiceover(ctx, sceneParams(6))
	stale := f.queue.enqueued[0]

	// A re-request bumps the generation before the first job runs.
	f.orch.RequestVoiceover(ctx, sceneParams(6))

	if err := f.orch.Synthesize(ctx, stale.VoiceoverID, stale.Generation); err != nil {
		t.Fatalf("stale synthesize: %v", err)
	}
	if f.speech.calls != 0 {
		t.Error("stale job should be skipped before calling the speech service")
	}
}

func TestCallbackCompletes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	id, _ := f.orch.RequestVoiceover(ctx, sceneParams(8))
	duration := 12
	err := f.orch.HandleCallback(ctx, CallbackParams{
		VoiceoverID: id,
		Success:     true,
		AudioBase64: base64.StdEncoding.EncodeToString([]byte("webhook-audio")),
		Duration:    &duration,
	})
	if err != nil {
		t.Fatalf("callback: %v", err)
	}

	vo, _ := f.repo.Get(ctx, id)
	if vo.Status != models.VoiceoverCompleted {
		t.Fatalf("expected completed, got %s", vo.Status)
	}
	if vo.Duration == nil || *vo.Duration != 12 {
		t.Errorf("expected callback duration 12, got %v", vo.Duration)
	}
	assertInvariants(t, vo)
}

func TestCallbackFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	id, _ := f.orch.RequestVoiceover(ctx, sceneParams(8))
	err := f.orch.HandleCallback(ctx, CallbackParams{
		VoiceoverID:  id,
		Success:      false,
		ErrorMessage: "renderer crashed",
	})
	if err != nil {
		t.Fatalf("callback: %v", err)
	}

	vo, _ := f.repo.Get(ctx, id)
	if vo.Status != models.VoiceoverFailed {
		t.Fatalf("expected failed, got %s", vo.Status)
	}
	if vo.ErrorMessage == nil || *vo.ErrorMessage != "renderer crashed" {
		t.Errorf("expected the callback's error message, got %v", vo.ErrorMessage)
	}
	assertInvariants(t, vo)
}

func TestCallbackUnknownVoiceover(t *testing.T) {
	f := newFixture()
	err := f.orch.HandleCallback(context.Background(), CallbackParams{VoiceoverID: 404, Success: true})
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEstimateDuration(t *testing.T) {
	long := ""
	for i := 0; i < 300; i++ {
		long += "word "
	}

	cases := []struct {
		text string
		want int
	}{
		{"Hello world", 1},
		{"", 1},
		{long, 120},
	}
	for _, tc := range cases {
		if got := EstimateDuration(tc.text); got != tc.want {
			t.Errorf("EstimateDuration(%d words) = %d, want %d", len(tc.text), got, tc.want)
		}
	}
}
