// cmd/demo/commands.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/ScriptVoice/internal/config"
	"github.com/Corphon/ScriptVoice/internal/models"
	"github.com/Corphon/ScriptVoice/internal/services"
	"github.com/Corphon/ScriptVoice/internal/storage"
	"github.com/Corphon/ScriptVoice/internal/tts"
	"github.com/Corphon/ScriptVoice/internal/utils"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type options struct {
	provider string
	apiKey   string
	model    string
	voices   string
	outDir   string
	timeout  time.Duration
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "scriptvoice",
		Short:         "Parse dialogue scripts and render them to speech",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.provider, "provider", "", "TTS provider (genai, google, tone)")
	flags.StringVar(&opts.apiKey, "api-key", "", "Gemini API key, defaults to GEMINI_API_KEY")
	flags.StringVar(&opts.model, "model", "", "TTS model name")
	flags.StringVar(&opts.voices, "voices", "", "comma separated voice catalog")
	flags.StringVar(&opts.outDir, "out", "out", "directory for generated audio")
	flags.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "overall timeout for synthesis")

	cmd.AddCommand(
		newParseCommand(opts),
		newPreviewCommand(opts),
		newStoryCommand(opts),
	)
	return cmd
}

func newParseCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "parse <script-file|->",
		Short:   "Print the speakers detected in a script",
		Example: `scriptvoice parse dialogue.txt`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readScript(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			catalog := models.ParseVoiceCatalog(opts.voices)
			speakers := services.ParseScript(text, nil, catalog)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(speakers)
		},
	}
}

func newPreviewCommand(opts *options) *cobra.Command {
	var (
		speakerID string
		all       bool
	)

	cmd := &cobra.Command{
		Use:     "preview <script-file|->",
		Short:   "Render a voice preview for one or all speakers",
		Example: `scriptvoice preview dialogue.txt --speaker joe --provider tone`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if speakerID == "" && !all {
				return fmt.Errorf("either --speaker or --all is required")
			}

			s, err := newSession(cmd, opts, args[0])
			if err != nil {
				return err
			}
			defer s.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			if !all {
				_, err := s.narration.PreviewSpeaker(ctx, speakerID)
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(4)
			for _, sp := range s.registry.Speakers() {
				id := sp.ID
				g.Go(func() error {
					_, err := s.narration.PreviewSpeaker(gctx, id)
					return err
				})
			}
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&speakerID, "speaker", "", "speaker id to preview")
	cmd.Flags().BoolVar(&all, "all", false, "preview every speaker")
	return cmd
}

func newStoryCommand(opts *options) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:     "story <script-file|->",
		Short:   "Render the whole script as one multi-speaker recording",
		Example: `scriptvoice story dialogue.txt -o story.wav`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, opts, args[0])
			if err != nil {
				return err
			}
			defer s.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			url, err := s.narration.GenerateFullStory(ctx)
			if err != nil {
				return err
			}

			if output == "" {
				output = filepath.Join(opts.outDir, "story.wav")
			}
			if err := s.player.copyTo(url, output); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output WAV file")
	return cmd
}

// session 一次命令执行所需的服务
type session struct {
	registry  *services.SpeakerRegistry
	narration *services.NarrationService
	audio     *storage.AudioStore
	player    *filePlayer
	workDir   string
}

func newSession(cmd *cobra.Command, opts *options, path string) (*session, error) {
	text, err := readScript(cmd.InOrStdin(), path)
	if err != nil {
		return nil, err
	}

	base, err := config.Load()
	if err != nil {
		return nil, err
	}
	utils.GetLogger().SetLogLevel(utils.ParseLogLevel(base.LogLevel))

	provider := opts.provider
	if provider == "" {
		provider = base.TTSProvider
	}
	providerConfig := base.TTSConfigMap()
	if opts.apiKey != "" {
		providerConfig["api_key"] = opts.apiKey
	}
	if opts.model != "" {
		providerConfig["model"] = opts.model
	}

	ttsService := tts.NewService(base.TTSRatePerMinute)
	if err := ttsService.Configure(provider, providerConfig); err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp("", "scriptvoice-*")
	if err != nil {
		return nil, fmt.Errorf("创建临时目录失败: %w", err)
	}
	audioStore, err := storage.NewAudioStore(workDir, "/media/")
	if err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}

	catalog := models.ParseVoiceCatalog(opts.voices)
	registry := services.NewSpeakerRegistry(catalog, audioStore)
	registry.ApplyScript(text)

	player := &filePlayer{audio: audioStore, dir: opts.outDir, out: cmd.OutOrStdout()}
	narration := services.NewNarrationService(registry, ttsService, audioStore, player, nil)

	return &session{
		registry:  registry,
		narration: narration,
		audio:     audioStore,
		player:    player,
		workDir:   workDir,
	}, nil
}

func (s *session) close() {
	s.narration.Close()
	s.audio.ReleaseAll()
	os.RemoveAll(s.workDir)
}

// filePlayer 把预览写入 <dir>/<speaker>.wav
type filePlayer struct {
	audio *storage.AudioStore
	dir   string

	mu  sync.Mutex
	out io.Writer
}

// 说话人 ID 来自剧本中的名字，去掉路径分隔符后才能作为文件名
var fileNameReplacer = strings.NewReplacer("/", "_", "\\", "_")

func outputFileName(speakerID string) string {
	return fileNameReplacer.Replace(speakerID) + ".wav"
}

func (p *filePlayer) Play(speakerID, url string) {
	dst := filepath.Join(p.dir, outputFileName(speakerID))
	err := p.copyTo(url, dst)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		fmt.Fprintf(p.out, "❌ %s: %v\n", speakerID, err)
		return
	}
	fmt.Fprintf(p.out, "✅ %s\n", dst)
}

func (p *filePlayer) copyTo(url, dst string) error {
	src, err := p.audio.Resolve(url)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("读取音频失败: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("创建输出目录失败: %w", err)
	}
	return os.WriteFile(dst, data, 0644)
}

func readScript(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("读取剧本失败: %w", err)
	}
	return string(data), nil
}
