package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/antoniostano/vistaar/internal/app"
	"github.com/antoniostano/vistaar/internal/chat"
	"github.com/antoniostano/vistaar/internal/vistaar"
)

type askOptions struct {
	lang      string
	sessionID string
	lat, lon  float64
	suggest   bool
}

func newAskCmd(root *rootOptions) *cobra.Command {
	opts := &askOptions{}
	c := &cobra.Command{
		Use:   "ask <text>",
		Short: "Ask one question and print the streamed answer",
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
			lang := opts.lang
			if lang == "" {
				lang = cfg.DefaultLanguage
			}
			sessionID := opts.sessionID
			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			var loc *vistaar.Location
			if c.Flags().Changed("lat") || c.Flags().Changed("lon") {
				loc = &vistaar.Location{Latitude: opts.lat, Longitude: opts.lon}
			}

			out := c.OutOrStdout()
			conv := chat.NewConversation()
			printer := &streamPrinter{out: out}
			conv.OnUpdate(func(m chat.Message) {
				if !m.IsUser && m.IsStreaming {
					printer.show(m.Text)
				}
			})
			var suggestions []string
			sender := chat.NewSender(conv, core.Client, chat.SenderConfig{
				SessionID:     sessionID,
				TargetLang:    func() string { return lang },
				Location:      func() *vistaar.Location { return loc },
				Suggestions:   core.Client,
				OnSuggestions: func(items []string) { suggestions = items },
				Logger:        logger,
			})

			msg, err := sender.Send(c.Context(), strings.Join(args, " "))
			printer.finish(msg.Text)
			if err != nil {
				return fmt.Errorf("%s: %w", msg.ErrorTranslationKey, err)
			}
			if opts.suggest {
				for _, s := range suggestions {
					fmt.Fprintf(out, "  - %s\n", s)
				}
			}
			return nil
		},
	}
	c.Flags().StringVarP(&opts.lang, "lang", "l", "", "answer language: en, hi or mr (default from config)")
	c.Flags().StringVar(&opts.sessionID, "session", "", "chat session id (default: new)")
	c.Flags().Float64Var(&opts.lat, "lat", 0, "latitude sent with the question")
	c.Flags().Float64Var(&opts.lon, "lon", 0, "longitude sent with the question")
	c.Flags().BoolVar(&opts.suggest, "suggest", false, "print follow-up suggestions")
	return c
}

// streamPrinter writes the growing answer incrementally. A snapshot that
// rewrites earlier text is printed again on a fresh line.
type streamPrinter struct {
	out     io.Writer
	printed string
}

func (p *streamPrinter) show(text string) {
	if strings.HasPrefix(text, p.printed) {
		fmt.Fprint(p.out, text[len(p.printed):])
	} else {
		fmt.Fprint(p.out, "\n"+text)
	}
	p.printed = text
}

func (p *streamPrinter) finish(text string) {
	if text != "" {
		p.show(text)
	}
	if p.printed != "" {
		fmt.Fprintln(p.out)
	}
}
