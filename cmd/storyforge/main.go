// Command storyforge runs the story orchestration backend and offers a few
// offline tools for inspecting the intensity and persona tables and for
// running extraction against a file.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scrypster/storyforge/internal/backup"
	"github.com/scrypster/storyforge/internal/config"
	"github.com/scrypster/storyforge/internal/extraction"
	"github.com/scrypster/storyforge/internal/importer"
	"github.com/scrypster/storyforge/internal/intensity"
	"github.com/scrypster/storyforge/internal/llm"
	"github.com/scrypster/storyforge/internal/logging"
	"github.com/scrypster/storyforge/internal/lorebook"
	"github.com/scrypster/storyforge/internal/persona"
	"github.com/scrypster/storyforge/internal/server"
)

// Extractor runs extraction over a document.
type Extractor interface {
	Run(ctx context.Context, req extraction.Request) *extraction.PipelineResult
}

// ExtractorFactory builds the extractor for the extract command.
type ExtractorFactory func(cfg *config.Config, logger *zap.Logger) (Extractor, error)

// DefaultExtractorFactory builds the LLM pipeline from configured keys.
func DefaultExtractorFactory(cfg *config.Config, logger *zap.Logger) (Extractor, error) {
	providers, err := llm.NewProviders(cfg.LLM, nil, logger)
	if err != nil {
		return nil, err
	}
	client := providers.Primary()
	if client == nil {
		return nil, errors.New("no LLM API key set; export STORYFORGE_OPENAI_API_KEY or STORYFORGE_VENICE_API_KEY")
	}
	return extraction.NewPipeline(client, extraction.ConfigFrom(cfg.Extraction), logger), nil
}

// Options are the injectable dependencies of the command tree.
type Options struct {
	Extractors ExtractorFactory
	Stdout     io.Writer
}

func main() {
	if err := newRootCmd(Options{}).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(opts Options) *cobra.Command {
	if opts.Extractors == nil {
		opts.Extractors = DefaultExtractorFactory
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}

	root := &cobra.Command{
		Use:          "storyforge",
		Short:        "storyforge - interactive fiction orchestration backend",
		SilenceUsage: true,
	}
	root.SetOut(opts.Stdout)
	root.AddCommand(
		newServeCmd(),
		newExtractCmd(opts),
		newIntensityCmd(),
		newPersonaCmd(),
		newBackupCmd(),
		newLoreCmd(),
	)
	return root
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			app, err := server.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			addr, err := app.Start(ctx)
			if err != nil {
				return err
			}
			logger.Info("storyforge running", zap.String("url", "http://"+addr))

			<-ctx.Done()
			logger.Info("shutting down gracefully")
			<-app.Done()
			return nil
		},
	}
}

func newExtractCmd(opts Options) *cobra.Command {
	var file, sessionID string
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract characters, items, factions, lore and locations from a text file",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", file, err)
			}
			if strings.TrimSpace(string(text)) == "" {
				return fmt.Errorf("%s is empty", file)
			}
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ex, err := opts.Extractors(cfg, logger)
			if err != nil {
				return err
			}

			res := ex.Run(cmd.Context(), extraction.Request{SessionID: sessionID, Text: string(text)})
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(struct {
				Success  bool   `json:"success"`
				Duration string `json:"duration"`
				Entities any    `json:"entities"`
			}{res.Success, res.Duration.String(), res.Entities()}); err != nil {
				return err
			}
			if !res.Success {
				return errors.New("one or more extractors failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Text file to extract from")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id to bill usage against")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newIntensityCmd() *cobra.Command {
	var dimension string
	var level int
	var levels map[string]int
	cmd := &cobra.Command{
		Use:   "intensity",
		Short: "Print the writing instruction for an intensity level",
		RunE: func(cmd *cobra.Command, args []string) error {
			table := intensity.Default()
			out := cmd.OutOrStdout()
			if len(levels) > 0 {
				_, err := fmt.Fprint(out, table.BuildIntensityBlock(levels))
				return err
			}
			if dimension == "" {
				_, err := fmt.Fprintln(out, strings.Join(table.Dimensions(), "\n"))
				return err
			}
			inst, err := table.Resolve(dimension, level)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "%s (%d%%, band %d): %s\n", inst.Label, inst.Level, inst.Band, inst.Text())
			return err
		},
	}
	cmd.Flags().StringVarP(&dimension, "dimension", "d", "", "Dimension key, e.g. violence")
	cmd.Flags().IntVarP(&level, "level", "l", 50, "Level 0-100")
	cmd.Flags().StringToIntVar(&levels, "block", nil, "Render a full block, e.g. violence=80,romance=20")
	return cmd
}

func newPersonaCmd() *cobra.Command {
	var genres map[string]int
	cmd := &cobra.Command{
		Use:   "persona <directors|authors> [key]",
		Short: "List personas, show one, or pick one by genre weights",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := persona.Kind(strings.TrimSuffix(args[0], "s"))
			if kind != persona.KindDirector && kind != persona.KindAuthor {
				return fmt.Errorf("unknown persona kind %q", args[0])
			}
			table := persona.ForKind(kind)
			out := cmd.OutOrStdout()

			var p persona.Persona
			switch {
			case len(args) == 2:
				p = table.Resolve(args[1])
			case len(genres) > 0:
				weights := make(map[string]float64, len(genres))
				for g, w := range genres {
					weights[g] = float64(w)
				}
				var ok bool
				if p, ok = table.GetForGenres(weights); !ok {
					p = table.Default()
				}
			default:
				for _, k := range table.Keys() {
					marker := ""
					if k == table.Default().Key {
						marker = " (default)"
					}
					if _, err := fmt.Fprintf(out, "%s%s\n", k, marker); err != nil {
						return err
					}
				}
				return nil
			}

			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		},
	}
	cmd.Flags().StringToIntVar(&genres, "genres", nil, "Genre weights, e.g. thriller=80,romance=10")
	return cmd
}

func openBackups(dir string) (*backup.Service, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if dir == "" {
		dir = cfg.Backup.Dir
	}
	if dir == "" {
		return nil, errors.New("no backup directory; pass --dir or set STORYFORGE_BACKUP_DIR")
	}
	path := server.SQLitePath(cfg.Storage)
	if path == "" {
		return nil, fmt.Errorf("backups need sqlite storage, not %q", cfg.Storage.StorageEngine)
	}
	return backup.New(backup.Config{DBPath: path, Dir: dir, Verify: cfg.Backup.Verify}, logger)
}

func newBackupCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Back up the sqlite database now",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openBackups(dir)
			if err != nil {
				return err
			}
			res, err := svc.Backup(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s (%d bytes, verified=%t, pruned %d)\n", res.Path, res.Size, res.Verified, res.Pruned)
			return err
		},
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "Backup directory (default: STORYFORGE_BACKUP_DIR)")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openBackups(dir)
			if err != nil {
				return err
			}
			backups, err := svc.List()
			if err != nil {
				return err
			}
			for _, b := range backups {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\n", b.CreatedAt.Format(time.RFC3339), b.Size, b.Path); err != nil {
					return err
				}
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "restore <backup-file>",
		Short: "Replace the database with a backup; stop the server first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openBackups(dir)
			if err != nil {
				return err
			}
			if err := svc.Restore(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "restored from %s\n", args[0])
			return err
		},
	})
	return cmd
}

func newLoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lore",
		Short: "Manage session lorebooks",
	}
	var sessionID, dir string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import a folder of Markdown notes into a session lorebook",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := uuid.Parse(sessionID); err != nil {
				return fmt.Errorf("--session must be a UUID: %w", err)
			}
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := server.OpenStore(cfg.Storage, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			lb := lorebook.New(store, logger)
			if err := lb.Load(cmd.Context(), sessionID); err != nil {
				return err
			}
			res, err := importer.New(lb, logger).ImportDir(cmd.Context(), sessionID, dir)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	importCmd.Flags().StringVar(&sessionID, "session", "", "Session UUID")
	importCmd.Flags().StringVar(&dir, "dir", "", "Folder of .md notes")
	_ = importCmd.MarkFlagRequired("session")
	_ = importCmd.MarkFlagRequired("dir")
	cmd.AddCommand(importCmd)
	return cmd
}
