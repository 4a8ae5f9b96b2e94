package services

import (
	"testing"

	"github.com/Corphon/ScriptVoice/internal/errors"
	"github.com/Corphon/ScriptVoice/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func newRegistry(t *testing.T, script string) (*SpeakerRegistry, *recordingReleaser) {
	t.Helper()
	releaser := &recordingReleaser{}
	r := NewSpeakerRegistry(models.DefaultVoiceCatalog, releaser)
	r.ApplyScript(script)
	return r, releaser
}

func TestSetVoiceInvalidatesOnlyTarget(t *testing.T) {
	r, releaser := newRegistry(t, "Alice: a\nBob: b")

	for _, id := range []string{"alice", "bob"} {
		gen := r.BeginPreview(id)
		require.True(t, r.FinishPreview(id, gen, strPtr("/media/"+id+".wav"), ""))
	}
	storyGen := r.BeginStory()
	require.True(t, r.FinishStory(storyGen, strPtr("/media/story.wav"), ""))

	require.NoError(t, r.SetVoice("alice", "Leda"))

	snap := r.Snapshot()
	alice, _ := snap.Speaker("alice")
	bob, _ := snap.Speaker("bob")
	assert.Equal(t, models.VoiceID("Leda"), alice.Voice)
	assert.Nil(t, alice.AudioURL)
	require.NotNil(t, bob.AudioURL)
	assert.Equal(t, "/media/bob.wav", *bob.AudioURL)
	require.NotNil(t, snap.FullStory.AudioURL)
	assert.Equal(t, "/media/story.wav", *snap.FullStory.AudioURL)
	assert.Equal(t, []string{"/media/alice.wav"}, releaser.Released())
}

func TestSetVoiceValidation(t *testing.T) {
	r, _ := newRegistry(t, "Alice: a")

	err := r.SetVoice("alice", "NotAVoice")
	assert.True(t, errors.IsValidationError(err))

	err = r.SetVoice("nobody", "Kore")
	assert.True(t, errors.IsNotFoundError(err))

	sp, ok := r.Speaker("alice")
	require.True(t, ok)
	assert.Equal(t, models.DefaultVoiceCatalog[0], sp.Voice)
}

func TestSetVoiceKeepsError(t *testing.T) {
	r, _ := newRegistry(t, "Alice: a")
	r.SetError("boom")

	require.NoError(t, r.SetVoice("alice", "Puck"))

	snap := r.Snapshot()
	require.NotNil(t, snap.Error)
	assert.Equal(t, "boom", *snap.Error)
}

func TestSetVoiceDropsInFlightPreview(t *testing.T) {
	r, _ := newRegistry(t, "Tom: A.")
	gen := r.BeginPreview("tom")

	require.NoError(t, r.SetVoice("tom", "Puck"))
	tom, _ := r.Snapshot().Speaker("tom")
	assert.False(t, tom.IsLoading)

	// 旧语音生成的音频被丢弃，由调用方释放
	assert.False(t, r.FinishPreview("tom", gen, strPtr("/media/kore.wav"), ""))

	tom, _ = r.Snapshot().Speaker("tom")
	assert.Equal(t, models.VoiceID("Puck"), tom.Voice)
	assert.Nil(t, tom.AudioURL)
	assert.False(t, tom.IsLoading)

	gen = r.BeginPreview("tom")
	require.True(t, r.FinishPreview("tom", gen, strPtr("/media/puck.wav"), ""))
	require.NotNil(t, r.AudioURL("tom"))
	assert.Equal(t, "/media/puck.wav", *r.AudioURL("tom"))
}

func TestReparseKeepsAudioWhenVoiceUnchanged(t *testing.T) {
	r, releaser := newRegistry(t, "Tom: A.")
	gen := r.BeginPreview("tom")
	require.True(t, r.FinishPreview("tom", gen, strPtr("/media/tom.wav"), ""))

	r.ApplyScript("Tom: A. B.\nJerry: C.")

	require.NotNil(t, r.AudioURL("tom"))
	assert.Equal(t, "/media/tom.wav", *r.AudioURL("tom"))
	assert.Empty(t, releaser.Released())
}

func TestReparseInvalidatesAudioOfReassignedVoice(t *testing.T) {
	r, releaser := newRegistry(t, "Bob: hi\nTom: A.")
	gen := r.BeginPreview("tom")
	require.True(t, r.FinishPreview("tom", gen, strPtr("/media/tom.wav"), ""))
	before, _ := r.Speaker("tom")

	r.ApplyScript("Bob: hi")
	assert.Nil(t, r.AudioURL("tom"))
	assert.Equal(t, []string{"/media/tom.wav"}, releaser.Released())

	r.ApplyScript("Tom: A.\nBob: hi")
	after, _ := r.Speaker("tom")
	assert.NotEqual(t, before.Voice, after.Voice)
	assert.Nil(t, r.AudioURL("tom"))
	tom, _ := r.Snapshot().Speaker("tom")
	assert.Nil(t, tom.AudioURL)
}

func TestReparseDropsPreviewOfRemovedSpeaker(t *testing.T) {
	r, _ := newRegistry(t, "Bob: hi\nTom: A.")
	gen := r.BeginPreview("tom")

	r.ApplyScript("Bob: hi")
	assert.False(t, r.FinishPreview("tom", gen, strPtr("/media/tom.wav"), ""))
	assert.Nil(t, r.AudioURL("tom"))

	r.ApplyScript("Bob: hi\nTom: A.")
	tom, _ := r.Snapshot().Speaker("tom")
	assert.False(t, tom.IsLoading)
}

func TestSetVoiceSurvivesReparse(t *testing.T) {
	r, _ := newRegistry(t, "Tom: A.")
	require.NoError(t, r.SetVoice("tom", "Kore"))

	speakers := r.ApplyScript("Tom: A.\nJerry: B.")

	require.Len(t, speakers, 2)
	assert.Equal(t, models.VoiceID("Kore"), speakers[0].Voice)
	assert.Equal(t, models.DefaultVoiceCatalog[1], speakers[1].Voice)
}

func TestStalePreviewIsDiscarded(t *testing.T) {
	r, releaser := newRegistry(t, "Alice: a")

	oldGen := r.BeginPreview("alice")
	newGen := r.BeginPreview("alice")

	require.True(t, r.FinishPreview("alice", newGen, strPtr("/media/new.wav"), ""))
	assert.False(t, r.FinishPreview("alice", oldGen, strPtr("/media/old.wav"), ""))
	assert.False(t, r.FinishPreview("alice", oldGen, nil, PreviewFailedMessage))

	snap := r.Snapshot()
	alice, _ := snap.Speaker("alice")
	require.NotNil(t, alice.AudioURL)
	assert.Equal(t, "/media/new.wav", *alice.AudioURL)
	assert.False(t, alice.IsLoading)
	assert.Nil(t, snap.Error)
	assert.Empty(t, releaser.Released())
}

func TestStaleResponseDoesNotClearLoading(t *testing.T) {
	r, _ := newRegistry(t, "Alice: a")

	oldGen := r.BeginPreview("alice")
	r.BeginPreview("alice")
	assert.False(t, r.FinishPreview("alice", oldGen, nil, PreviewFailedMessage))

	alice, _ := r.Snapshot().Speaker("alice")
	assert.True(t, alice.IsLoading)
}

func TestFinishPreviewReplacesAndReleases(t *testing.T) {
	r, releaser := newRegistry(t, "Alice: a")

	gen := r.BeginPreview("alice")
	r.FinishPreview("alice", gen, strPtr("/media/1.wav"), "")
	gen = r.BeginPreview("alice")
	r.FinishPreview("alice", gen, strPtr("/media/2.wav"), "")

	// 失败时保留已有音频
	gen = r.BeginPreview("alice")
	r.FinishPreview("alice", gen, nil, PreviewFailedMessage)

	snap := r.Snapshot()
	alice, _ := snap.Speaker("alice")
	require.NotNil(t, alice.AudioURL)
	assert.Equal(t, "/media/2.wav", *alice.AudioURL)
	require.NotNil(t, snap.Error)
	assert.Equal(t, PreviewFailedMessage, *snap.Error)
	assert.Equal(t, []string{"/media/1.wav"}, releaser.Released())
}

func TestBeginPreviewClearsError(t *testing.T) {
	r, _ := newRegistry(t, "Alice: a")
	r.SetError("old")

	r.BeginPreview("alice")
	assert.Nil(t, r.Snapshot().Error)
}

func TestBeginStoryResetsURL(t *testing.T) {
	r, releaser := newRegistry(t, "Alice: a")

	gen := r.BeginStory()
	require.True(t, r.FinishStory(gen, strPtr("/media/s1.wav"), ""))
	r.SetError("old")

	gen = r.BeginStory()
	snap := r.Snapshot()
	assert.True(t, snap.FullStory.IsGenerating)
	assert.Nil(t, snap.FullStory.AudioURL)
	assert.Nil(t, snap.Error)
	assert.Equal(t, []string{"/media/s1.wav"}, releaser.Released())

	require.True(t, r.FinishStory(gen, nil, StoryFailedMessage))
	snap = r.Snapshot()
	assert.False(t, snap.FullStory.IsGenerating)
	assert.Nil(t, snap.FullStory.AudioURL)
	require.NotNil(t, snap.Error)
	assert.Equal(t, StoryFailedMessage, *snap.Error)
}

func TestSnapshotIsACopy(t *testing.T) {
	r, _ := newRegistry(t, "Alice: a")
	gen := r.BeginPreview("alice")
	r.FinishPreview("alice", gen, strPtr("/media/a.wav"), "")

	snap := r.Snapshot()
	snap.Speakers[0].Dialogues[0] = "mutated"
	*snap.Speakers[0].AudioURL = "mutated"

	again, _ := r.Snapshot().Speaker("alice")
	assert.Equal(t, []string{"a"}, again.Dialogues)
	assert.Equal(t, "/media/a.wav", *again.AudioURL)
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	r, _ := newRegistry(t, "Alice: a")

	ch := r.Subscribe()
	initial := <-ch
	assert.Len(t, initial.Speakers, 1)

	r.ApplyScript("Alice: a\nBob: b")
	next := <-ch
	assert.Len(t, next.Speakers, 2)
	assert.Greater(t, next.Version, initial.Version)

	r.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)

	// 重复取消订阅不会 panic
	r.Unsubscribe(ch)
}

func TestSubscriberKeepsLatestSnapshot(t *testing.T) {
	r, _ := newRegistry(t, "Alice: a")

	ch := r.Subscribe()
	defer r.Unsubscribe(ch)
	<-ch

	// 订阅者未读取期间的多次更新只保留最新的一份
	for i := 0; i < 40; i++ {
		r.SetError("e")
	}
	r.ApplyScript("Alice: a\nBob: b")

	latest := <-ch
	assert.Len(t, latest.Speakers, 2)
	assert.Equal(t, r.Snapshot().Version, latest.Version)

	select {
	case extra := <-ch:
		t.Fatalf("unexpected pending snapshot version %d", extra.Version)
	default:
	}
}
