package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ez3davatars/A360-Aging-UI/internal"
	"github.com/ez3davatars/A360-Aging-UI/internal/api"
	"github.com/ez3davatars/A360-Aging-UI/internal/events"
	"github.com/ez3davatars/A360-Aging-UI/internal/ingest"
	"github.com/ez3davatars/A360-Aging-UI/internal/ledger"
	"github.com/ez3davatars/A360-Aging-UI/internal/manifest"
	"github.com/ez3davatars/A360-Aging-UI/internal/mcpserver"
	"github.com/ez3davatars/A360-Aging-UI/internal/registry"
	"github.com/ez3davatars/A360-Aging-UI/internal/subject"
	"github.com/urfave/cli/v3"
)

// cliLogger logs to stderr so stdout stays parseable by the UI and by the
// MCP stdio transport.
func cliLogger(cfg *internal.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel.Level(),
	}))
}

// printJSON writes the command result as indented JSON on stdout.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Println(string(data))
	return err
}

func registryOptions(cfg *internal.Config) registry.Options {
	return registry.Options{
		Timeline:        cfg.Timeline.Code,
		TimelineFolder:  cfg.Timeline.FolderName,
		SourceModelTool: cfg.RegistryOpts.SourceModelTool,
		Retry:           cfg.RegistryOpts.Retry.Policy(),
	}
}

// openRegistry opens the workbook, returning nil on failure. The JSON
// sidecars on disk stay authoritative and every caller degrades to them.
func openRegistry(cfg *internal.Config, log *slog.Logger) *registry.Store {
	reg, err := registry.Open(cfg.Paths.Registry, registryOptions(cfg), log)
	if err != nil {
		log.Warn("registry unavailable", slog.String("error", err.Error()))
		return nil
	}
	return reg
}

func subjectCommand() *cli.Command {
	return &cli.Command{
		Name:  "subject",
		Usage: "Create, list and annotate subjects",
		Commands: []*cli.Command{
			subjectCreateCommand(),
			subjectListCommand(),
			subjectNotesCommand(),
		},
	}
}

func subjectCreateCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Allocate the next subject folder and register it",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{Name: "sex", Usage: "Male or Female"},
			&cli.StringFlag{Name: "ethnicity", Usage: "Ethnicity group folder"},
			&cli.StringFlag{Name: "fitz", Usage: "Fitzpatrick tone (defaults to III)"},
			&cli.StringFlag{Name: "notes", Usage: "Free-form notes"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := cliLogger(cfg)
			svc := subject.NewService(cfg.Paths.AgingRoot, cfg.Paths.ProjectRoot, cfg.Timeline.FolderName, openRegistry(cfg, log), log)

			res, err := svc.Create(ctx, subject.CreateParams{
				Sex:         cmd.String("sex"),
				Ethnicity:   cmd.String("ethnicity"),
				Fitzpatrick: cmd.String("fitz"),
				Notes:       cmd.String("notes"),
			})
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}

func subjectListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List known subjects",
		Flags: []cli.Flag{
			configFlag(),
			&cli.BoolFlag{Name: "table", Usage: "Render a table instead of JSON"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := cliLogger(cfg)
			svc := subject.NewService(cfg.Paths.AgingRoot, cfg.Paths.ProjectRoot, cfg.Timeline.FolderName, openRegistry(cfg, log), log)

			subjects, err := svc.List(ctx)
			if err != nil {
				return err
			}

			if cmd.Bool("table") {
				rows := make([][]string, 0, len(subjects))
				for _, s := range subjects {
					rows = append(rows, []string{
						s.SubjectID, s.Sex, s.Ethnicity, s.Fitzpatrick, s.Status, s.BasePath,
					})
				}
				fmt.Println(renderTable(
					[]string{"Subject", "Sex", "Ethnicity", "Fitz", "Status", "Base Path"},
					rows,
				))
				return nil
			}

			return printJSON(map[string]any{
				"subjects": subjects,
				"total":    len(subjects),
			})
		},
	}
}

func subjectNotesCommand() *cli.Command {
	return &cli.Command{
		Name:  "notes",
		Usage: "Rewrite a subject's notes sidecar and registry row",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{Name: "subject", Usage: "Subject reference (S001, s1, 1)", Required: true},
			&cli.StringFlag{Name: "notes", Usage: "Replacement notes text"},
			&cli.StringFlag{Name: "meta", Usage: "JSON object of metadata hints (sex, ethnicity_group, fitzpatrick_tone)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			var meta map[string]any
			if raw := cmd.String("meta"); raw != "" {
				if err := json.Unmarshal([]byte(raw), &meta); err != nil {
					return fmt.Errorf("parse --meta: %w", err)
				}
			}

			log := cliLogger(cfg)
			svc := subject.NewService(cfg.Paths.AgingRoot, cfg.Paths.ProjectRoot, cfg.Timeline.FolderName, openRegistry(cfg, log), log)

			res, err := svc.UpdateNotes(ctx, cmd.String("subject"), cmd.String("notes"), meta)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}

func manifestCommand() *cli.Command {
	return &cli.Command{
		Name:  "manifest",
		Usage: "Write the subject manifest (and the archive when complete)",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{Name: "subject", Usage: "Subject reference", Required: true},
			&cli.StringFlag{Name: "timeline-dir", Usage: "Explicit timeline folder, overrides the registry lookup"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return assembleSubject(ctx, cmd, cmd.String("timeline-dir"))
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Assemble a subject for export; complete subjects get a zip archive",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{Name: "subject", Usage: "Subject reference", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return assembleSubject(ctx, cmd, "")
		},
	}
}

// assembleSubject backs both the manifest and export commands; they differ
// only in whether the timeline folder can be overridden.
func assembleSubject(ctx context.Context, cmd *cli.Command, timelineDir string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := cliLogger(cfg)
	reg := openRegistry(cfg, log)

	id, subjectDir, folderName, err := resolveSubjectDir(ctx, cfg, reg, cmd.String("subject"), timelineDir)
	if err != nil {
		return err
	}

	asm := manifest.NewAssembler(cfg.Timeline.Code, folderName, reg, log)
	res, err := asm.Assemble(ctx, id, subjectDir)
	if err != nil {
		return err
	}
	return printJSON(res)
}

// resolveSubjectDir finds the folder to assemble: an explicit timeline dir
// wins, then the registry Base_Path, then a folder scan under the aging
// root.
func resolveSubjectDir(ctx context.Context, cfg *internal.Config, reg *registry.Store, ref, timelineDir string) (string, string, string, error) {
	id, _, folder, err := subject.ParseID(ref)
	if err != nil {
		return "", "", "", err
	}

	if timelineDir != "" {
		abs, err := filepath.Abs(timelineDir)
		if err != nil {
			return "", "", "", err
		}
		return id, filepath.Dir(abs), filepath.Base(abs), nil
	}

	if reg != nil {
		if sub, err := reg.GetSubject(ctx, id); err == nil && sub.BasePath != "" {
			dir := filepath.Join(cfg.Paths.ProjectRoot, filepath.FromSlash(sub.BasePath))
			return id, dir, cfg.Timeline.FolderName, nil
		}
	}
	if dir, found := subject.LocateFolder(cfg.Paths.AgingRoot, folder, "", ""); found {
		return id, dir, cfg.Timeline.FolderName, nil
	}
	return "", "", "", fmt.Errorf("subject %s not found under %s", id, cfg.Paths.AgingRoot)
}

func datasetCommand() *cli.Command {
	return &cli.Command{
		Name:  "dataset",
		Usage: "Dataset-level tooling",
		Commands: []*cli.Command{
			datasetIndexCommand(),
		},
	}
}

func datasetIndexCommand() *cli.Command {
	return &cli.Command{
		Name:  "index",
		Usage: "Rebuild the ML dataset index from the ingest ledger",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{Name: "out", Usage: "Output JSONL path", DefaultText: "dataset_index.jsonl next to the ledger"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := cliLogger(cfg)

			led, err := ledger.Open(cfg.Paths.Ledger)
			if err != nil {
				return fmt.Errorf("open ledger: %w", err)
			}
			defer led.Close()

			rows, err := led.All()
			if err != nil {
				return err
			}

			// Labels come from the registry when it is readable; rows for
			// unregistered subjects get empty labels rather than failing
			// the rebuild.
			labels := map[string]ledger.Labels{}
			basePaths := map[string]string{}
			if reg := openRegistry(cfg, log); reg != nil {
				subs, err := reg.ListSubjects(ctx)
				if err != nil {
					log.Warn("registry list failed, index will carry empty labels",
						slog.String("error", err.Error()))
				}
				for _, sub := range subs {
					labels[sub.ID] = ledger.Labels{
						Sex:         sub.Sex,
						Ethnicity:   sub.Ethnicity,
						Fitzpatrick: sub.Fitzpatrick,
					}
					basePaths[sub.ID] = sub.BasePath
				}
			}

			out := cmd.String("out")
			if out == "" {
				out = cfg.DatasetIndexPath()
			}
			if err := os.Remove(out); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("truncate %s: %w", out, err)
			}

			idx := ledger.NewDatasetIndex(out)
			for _, row := range rows {
				rec := ledger.IndexRecord{
					UTC:            row.CreatedAt,
					SubjectID:      row.SubjectID,
					Timeline:       row.Timeline,
					Age:            row.Age,
					SrcPath:        row.SourcePath,
					DestPath:       row.CanonicalPath,
					DestRel:        relToProject(cfg, row.CanonicalPath),
					BasePathRel:    basePaths[row.SubjectID],
					TimelineFolder: cfg.Timeline.FolderName,
					Filename:       filepath.Base(row.CanonicalPath),
					ImageID:        row.ImageID,
					RunID:          row.RunID,
					Bytes:          row.Bytes,
					SHA256:         row.SHA256,
					Labels:         labels[row.SubjectID],
				}
				if err := idx.Append(rec); err != nil {
					return err
				}
			}

			return printJSON(map[string]any{
				"ok":      true,
				"records": len(rows),
				"path":    out,
			})
		},
	}
}

// relToProject mirrors what the ingest pipeline records for destRel.
func relToProject(cfg *internal.Config, p string) string {
	if rel, err := filepath.Rel(cfg.Paths.ProjectRoot, p); err == nil {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(p)
}

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the MCP tool surface over stdio",
		Flags: []cli.Flag{
			configFlag(),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := cliLogger(cfg)

			// MCP answers are registry-backed; unlike the operator
			// commands there is no useful degraded mode.
			reg, err := registry.Open(cfg.Paths.Registry, registryOptions(cfg), log)
			if err != nil {
				return fmt.Errorf("open registry: %w", err)
			}

			led, err := ledger.Open(cfg.Paths.Ledger)
			if err != nil {
				return fmt.Errorf("open ledger: %w", err)
			}
			defer led.Close()

			broker := events.NewBroker()
			defer broker.Close()
			emitter := events.NewEmitter(broker, nil, log)

			var idx *ledger.DatasetIndex
			if cfg.LedgerOpts.DatasetIndex {
				idx = ledger.NewDatasetIndex(cfg.DatasetIndexPath())
			}

			asm := manifest.NewAssembler(cfg.Timeline.Code, cfg.Timeline.FolderName, reg, log)
			ing := ingest.New(ingest.Config{
				ProjectRoot:    cfg.Paths.ProjectRoot,
				AgingRoot:      cfg.Paths.AgingRoot,
				Timeline:       cfg.Timeline.Code,
				TimelineFolder: cfg.Timeline.FolderName,
			}, reg, emitter, led, idx, log)
			defer ing.Close()

			subjects := subject.NewService(cfg.Paths.AgingRoot, cfg.Paths.ProjectRoot, cfg.Timeline.FolderName, reg, log)
			svc := api.NewService(api.ServiceConfig{
				ProjectRoot:    cfg.Paths.ProjectRoot,
				AgingRoot:      cfg.Paths.AgingRoot,
				TimelineFolder: cfg.Timeline.FolderName,
			}, subjects, reg, ing, led, asm)

			log.Info("MCP server listening on stdio")
			return mcpserver.New(svc, cfg.Paths.WatchDir).ServeStdio()
		},
	}
}
