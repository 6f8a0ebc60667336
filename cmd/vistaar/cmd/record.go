package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/antoniostano/vistaar/internal/app"
	"github.com/antoniostano/vistaar/internal/audio"
	"github.com/antoniostano/vistaar/internal/capture"
)

const meterWidth = 40

func newRecordCmd(root *rootOptions) *cobra.Command {
	var (
		outFile string
		noSTT   bool
	)
	c := &cobra.Command{
		Use:   "record",
		Short: "Record from the microphone and transcribe",
		Long: `Record from the configured input device until Enter is pressed or the
maximum recording duration elapses, then transcribe the recording.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, logger, err := root.load(true)
			if err != nil {
				return err
			}
			core, err := app.NewCore(cfg, logger, nil)
			if err != nil {
				return err
			}
			stream, err := core.OpenMicrophone(c.Context())
			if err != nil {
				return err
			}

			stderr := c.ErrOrStderr()
			rec, err := core.Recorder.Start(c.Context(), stream, capture.Options{
				OnLevel: func(level float64) { drawMeter(stderr, level) },
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(stderr, "recording (max %s), press Enter to stop\n", cfg.MaxRecordingDuration)

			enter := make(chan struct{})
			go func() {
				_, _ = bufio.NewReader(c.InOrStdin()).ReadString('\n')
				close(enter)
			}()

			var res capture.Result
			select {
			case <-enter:
				res = rec.Stop()
			case <-rec.Done():
				res = rec.Result()
			case <-c.Context().Done():
				rec.Cancel()
				<-rec.Done()
				res = rec.Result()
			}
			fmt.Fprintf(stderr, "\r%s\r", strings.Repeat(" ", meterWidth+2))
			logger.Debug().
				Str("reason", string(res.Reason)).
				Int("chunks", res.Chunks).
				Dur("duration", res.Duration).
				Msg("recording finished")

			if mic, ok := stream.(*capture.Microphone); ok && mic.Err() != nil {
				logger.Warn().Err(mic.Err()).Msg("input device failed during recording")
			}
			if res.CleanupErr != nil {
				logger.Warn().Err(res.CleanupErr).Msg("recording cleanup failed")
			}
			if res.Reason == capture.StopCancelled {
				return errors.New("recording cancelled")
			}
			if res.Fallback {
				logger.Warn().Err(res.DecodeErr).Msg("submitting raw capture")
			}
			if outFile != "" {
				if err := writeRecording(outFile, res); err != nil {
					return err
				}
			}
			if noSTT {
				return nil
			}
			return printTranscript(c, core.Transcriber, uuid.NewString(), res.Audio)
		},
	}
	c.Flags().StringVarP(&outFile, "out", "o", "", "also write the recording to this WAV file")
	c.Flags().BoolVar(&noSTT, "no-transcribe", false, "skip transcription")
	return c
}

func writeRecording(path string, res capture.Result) error {
	if res.Fallback {
		return fmt.Errorf("recording could not be decoded: %w", res.DecodeErr)
	}
	size, _ := audio.WAVDataSize(res.Audio)
	if size == 0 {
		return errors.New("recording is empty")
	}
	return os.WriteFile(path, res.Audio, 0o644)
}

// drawMeter redraws a one-line level bar. level is in [0, 1].
func drawMeter(w io.Writer, level float64) {
	n := int(level*meterWidth + 0.5)
	if n < 0 {
		n = 0
	}
	if n > meterWidth {
		n = meterWidth
	}
	fmt.Fprintf(w, "\r[%s%s]", strings.Repeat("#", n), strings.Repeat(" ", meterWidth-n))
}
