package main

import (
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"crm-insight-service/internal/analytics"
	"crm-insight-service/internal/service/transcription"
)

func newAskCommand(ctx *commandContext) *cobra.Command {
	var snapshotFile string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "ask QUESTION...",
		Short: "Ask a question about the analytics data",
		Long: `Ask a question about lead conversion, properties, lead sources or monthly trends.

Examples:
  crmctl ask "What is our conversion rate?"
  crmctl ask --snapshot data.json "Which property performs best?"
  crmctl --addr localhost:50051 ask "Show the monthly trend"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))

			var snap *analytics.Snapshot
			if snapshotFile != "" {
				s, err := readSnapshot(snapshotFile)
				if err != nil {
					return err
				}
				snap = &s
			}

			var answer, kind, source string
			rpc, err := ctx.remote()
			if err != nil {
				return err
			}
			if rpc != nil {
				out, err := rpc.Ask(cmd.Context(), question, snap)
				if err != nil {
					return fmt.Errorf("ask: %w", err)
				}
				f := out.GetFields()
				answer = f["answer"].GetStringValue()
				kind = f["type"].GetStringValue()
				source = f["source"].GetStringValue()
			} else {
				a, err := ctx.application(cmd.Context())
				if err != nil {
					return err
				}
				var data analytics.Snapshot
				if snap != nil {
					data = *snap
				} else if data, err = a.Analytics.Snapshot(cmd.Context()); err != nil {
					return fmt.Errorf("analytics snapshot: %w", err)
				}
				if err := a.Validator.ValidateInsight(question, data); err != nil {
					return err
				}
				ans := a.Insights.Answer(cmd.Context(), question, data)
				answer, kind, source = ans.Content, string(ans.Kind), ans.Source
			}

			if jsonOut {
				return writeJSON(cmd, map[string]string{"answer": answer, "type": kind, "source": source})
			}
			fmt.Fprintln(cmd.OutOrStdout(), answer)
			return nil
		},
	}
	cmd.Flags().StringVar(&snapshotFile, "snapshot", "", "Analytics snapshot JSON file to answer from")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the answer with its metadata as JSON")
	return cmd
}

func readSnapshot(path string) (analytics.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return analytics.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	var snap analytics.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return analytics.Snapshot{}, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	return snap, nil
}

func newTranscribeCommand(ctx *commandContext) *cobra.Command {
	var mimeType string

	cmd := &cobra.Command{
		Use:   "transcribe FILE",
		Short: "Transcribe an audio file with the configured provider",
		Long: `Transcribe an audio file in-process using the configured speech-to-text provider
(STT_PROVIDER: gemini, google or mock). The MIME type is derived from the file
extension unless --mime is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if *ctx.addr != "" {
				return fmt.Errorf("transcribe runs in-process; use POST /api/audio/transcribe against a server")
			}
			path := args[0]
			if mimeType == "" {
				mimeType = mime.TypeByExtension(filepath.Ext(path))
			}

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open audio: %w", err)
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return fmt.Errorf("stat audio: %w", err)
			}

			a, err := ctx.application(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Validator.ValidateTranscription(filepath.Base(path), mimeType, info.Size()); err != nil {
				return err
			}
			res, err := a.Transcriber.TranscribeReader(cmd.Context(), f, mimeType, filepath.Base(path))
			if err != nil {
				kind := transcription.KindOf(err)
				return fmt.Errorf("%s: %s", kind.Summary(), transcription.Redact(err.Error()))
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Text)
			return nil
		},
	}
	cmd.Flags().StringVar(&mimeType, "mime", "", "Audio MIME type (default: from extension)")
	return cmd
}

func newFormatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List supported audio formats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formats := transcription.SupportedFormats()
			rpc, err := ctx.remote()
			if err != nil {
				return err
			}
			if rpc != nil {
				if formats, err = rpc.ListFormats(cmd.Context()); err != nil {
					return fmt.Errorf("list formats: %w", err)
				}
			}
			rows := make([][]string, 0, len(formats))
			for _, f := range formats {
				rows = append(rows, []string{f.Extension, f.MIMEType, f.Description})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"EXT", "MIME TYPE", "DESCRIPTION"}, rows))
			return nil
		},
	}
}

func newSnapshotCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Print the analytics snapshot as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rpc, err := ctx.remote()
			if err != nil {
				return err
			}
			var snap analytics.Snapshot
			if rpc != nil {
				if snap, err = rpc.GetSnapshot(cmd.Context()); err != nil {
					return fmt.Errorf("get snapshot: %w", err)
				}
			} else {
				a, err := ctx.application(cmd.Context())
				if err != nil {
					return err
				}
				if snap, err = a.Analytics.Snapshot(cmd.Context()); err != nil {
					return fmt.Errorf("analytics snapshot: %w", err)
				}
			}
			return writeJSON(cmd, snap)
		},
	}
}
