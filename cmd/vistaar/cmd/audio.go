package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/antoniostano/vistaar/internal/app"
	"github.com/antoniostano/vistaar/internal/audio"
	"github.com/antoniostano/vistaar/internal/voice"
)

func newEncodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encode <in> <out>",
		Short: "Convert an audio file to 16 kHz mono 16-bit WAV",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			buf, err := audio.Decode(data)
			if err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}
			mono := audio.Resample(buf, audio.CanonicalSampleRate)
			if err := audio.WriteWAVFile(args[1], mono.Channels[0], audio.CanonicalSampleRate); err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "wrote %s (%s, %d Hz mono)\n", args[1], mono.Duration().Round(time.Millisecond), audio.CanonicalSampleRate)
			return nil
		},
	}
}

func newTranscribeCmd(root *rootOptions) *cobra.Command {
	var sessionID string
	c := &cobra.Command{
		Use:   "transcribe <file>",
		Short: "Canonicalize an audio file and transcribe it",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cfg, logger, err := root.load(true)
			if err != nil {
				return err
			}
			core, err := app.NewCore(cfg, logger, nil)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			wav, err := audio.Canonicalize(data)
			if err != nil {
				return fmt.Errorf("canonicalize %s: %w", args[0], err)
			}
			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			return printTranscript(c, core.Transcriber, sessionID, wav)
		},
	}
	c.Flags().StringVar(&sessionID, "session", "", "session id sent to the service (default: new)")
	return c
}

func printTranscript(c *cobra.Command, t voice.Transcriber, sessionID string, wav []byte) error {
	tr, err := t.Transcribe(c.Context(), sessionID, wav)
	if err != nil {
		return err
	}
	text := strings.TrimSpace(tr.Text)
	if tr.Status != voice.TranscriptSuccess || text == "" {
		return errors.New("audio not recognized")
	}
	if tr.LanguageCode != "" {
		fmt.Fprintf(c.ErrOrStderr(), "[%s] ", tr.LanguageCode)
	}
	fmt.Fprintln(c.OutOrStdout(), text)
	return nil
}

func newSpeakCmd(root *rootOptions) *cobra.Command {
	var lang string
	c := &cobra.Command{
		Use:   "speak <text>",
		Short: "Synthesize text and play it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cfg, logger, err := root.load(true)
			if err != nil {
				return err
			}
			core, err := app.NewCore(cfg, logger, nil)
			if err != nil {
				return err
			}
			defer core.Sink.Close()

			var language func(string) string
			if lang != "" {
				language = func(string) string { return lang }
			}
			player := voice.NewPlayer(core.Synthesizer, core.Sink, voice.PlayerConfig{
				SessionID: uuid.NewString(),
				Language:  language,
				Logger:    logger,
			})
			return speak(c.Context(), player, strings.Join(args, " "))
		},
	}
	c.Flags().StringVarP(&lang, "lang", "l", "", "speech language (default: detected)")
	return c
}

const speakID = "cli"

// speak plays text and blocks until playback ends or ctx is done.
func speak(ctx context.Context, player *voice.Player, text string) error {
	done := make(chan struct{})
	started := false
	player.OnStateChange(func(ch voice.StateChange) {
		switch ch.State {
		case voice.StatePlaying:
			started = true
		case voice.StateReady, voice.StateIdle:
			if started {
				started = false
				close(done)
			}
		}
	})
	if err := player.Play(ctx, voice.StripMarkdown(text), speakID); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		player.Stop()
		return ctx.Err()
	}
}
