package services

import (
	"context"
	"sync"
	"time"

	"github.com/Corphon/ScriptVoice/internal/models"
)

// fakeScheduler 手动触发的调度器
type fakeScheduler struct {
	mu    sync.Mutex
	tasks []*fakeTask
}

type fakeTask struct {
	delay     time.Duration
	action    func()
	cancelled bool
	fired     bool
}

func (f *fakeScheduler) Schedule(delay time.Duration, action func()) func() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	task := &fakeTask{delay: delay, action: action}
	f.tasks = append(f.tasks, task)
	return func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		if task.cancelled || task.fired {
			return false
		}
		task.cancelled = true
		return true
	}
}

// FireAll 执行所有未取消的任务，返回执行的数量
func (f *fakeScheduler) FireAll() int {
	f.mu.Lock()
	var due []*fakeTask
	for _, task := range f.tasks {
		if !task.cancelled && !task.fired {
			task.fired = true
			due = append(due, task)
		}
	}
	f.mu.Unlock()

	for _, task := range due {
		task.action()
	}
	return len(due)
}

func (f *fakeScheduler) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, task := range f.tasks {
		if !task.cancelled && !task.fired {
			n++
		}
	}
	return n
}

// memoryStore 内存中的剧本存储
type memoryStore struct {
	mu    sync.Mutex
	text  string
	saves []string
	err   error
}

func (m *memoryStore) Load(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text, m.err
}

func (m *memoryStore) Save(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.text = text
	m.saves = append(m.saves, text)
	return nil
}

func (m *memoryStore) Close() error { return nil }

func (m *memoryStore) Saves() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.saves...)
}

type singleCall struct {
	Text  string
	Voice models.VoiceID
}

type multiCall struct {
	Transcript string
	Voices     []models.VoiceAssignment
}

// fakeBackend 记录请求的合成后端。gate 不为 nil 时每次调用都会等待放行
type fakeBackend struct {
	mu      sync.Mutex
	singles []singleCall
	multis  []multiCall
	payload []byte
	err     error
	gate    chan struct{}
	started chan struct{}
}

func (f *fakeBackend) wait(ctx context.Context) error {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.gate == nil {
		return nil
	}
	select {
	case <-f.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeBackend) SynthesizeSingle(ctx context.Context, text string, voice models.VoiceID) ([]byte, error) {
	f.mu.Lock()
	f.singles = append(f.singles, singleCall{Text: text, Voice: voice})
	payload, err := f.payload, f.err
	f.mu.Unlock()

	if werr := f.wait(ctx); werr != nil {
		return nil, werr
	}
	return payload, err
}

func (f *fakeBackend) SynthesizeMulti(ctx context.Context, transcript string, voices []models.VoiceAssignment) ([]byte, error) {
	f.mu.Lock()
	f.multis = append(f.multis, multiCall{Transcript: transcript, Voices: voices})
	payload, err := f.payload, f.err
	f.mu.Unlock()

	if werr := f.wait(ctx); werr != nil {
		return nil, werr
	}
	return payload, err
}

func (f *fakeBackend) Calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.singles), len(f.multis)
}

// recordingReleaser 记录被释放的地址
type recordingReleaser struct {
	mu       sync.Mutex
	released []string
}

func (r *recordingReleaser) Release(url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = append(r.released, url)
	return nil
}

func (r *recordingReleaser) Released() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.released...)
}

type playCall struct {
	SpeakerID string
	URL       string
}

type recordingPlayer struct {
	mu    sync.Mutex
	plays []playCall
}

func (p *recordingPlayer) Play(speakerID, url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays = append(p.plays, playCall{SpeakerID: speakerID, URL: url})
}

func (p *recordingPlayer) Plays() []playCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]playCall(nil), p.plays...)
}
