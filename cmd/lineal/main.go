package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"lineal/internal/app"
	"lineal/internal/config"
	"lineal/internal/db"
	"lineal/internal/domain"
	"lineal/internal/export"
	"lineal/internal/kv"
	"lineal/internal/ledger"
	"lineal/internal/migrate"
	"lineal/internal/registry"
	"lineal/internal/repo"
	"lineal/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "lineal",
	Short: "Lineal CLI",
	Long: `Lineal tracks material platforms and their measured pieces.
- Workspace: a .lineal directory holding the local database.
- Platform: one truck load (provider or client) with a standard material width.
- Pieces: measured lengths; linear meters = length x width, captured at add time.
- Undo: only the most recent add can be reverted, nothing else.
- Signed documents: local registry of exported PDFs/images with signature.
- Sync: every change flags the platform until an external sync clears it.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("LINEAL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().Bool("verbose", false, "verbose logging")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	rootCmd.AddCommand(platformCmd())
	rootCmd.AddCommand(pieceCmd())
	rootCmd.AddCommand(docsCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(evidenceCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func platformCmd() *cobra.Command {
	p := &cobra.Command{Use: "platform", Short: "Manage platforms"}
	p.AddCommand(platformCreateCmd())
	p.AddCommand(platformListCmd())
	p.AddCommand(platformShowCmd())
	p.AddCommand(platformCompleteCmd())
	p.AddCommand(platformWidthCmd())
	p.AddCommand(platformDeleteCmd())
	return p
}

func platformCreateCmd() *cobra.Command {
	var opts ledger.PlatformCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a platform",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withLedger(cmd.Context(), func(ctx context.Context, e ledger.Engine) error {
				p, err := e.CreatePlatform(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Number, "number", "", "platform number (required)")
	cmd.Flags().StringVar(&opts.PlatformType, "type", domain.PlatformTypeProvider, "provider or client")
	cmd.Flags().StringVar(&opts.Provider, "provider", "", "provider name")
	cmd.Flags().StringVar(&opts.Client, "client", "", "client name")
	cmd.Flags().StringVar(&opts.Driver, "driver", "", "driver name")
	cmd.Flags().StringVar(&opts.ReceptionDate, "reception-date", "", "reception date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.StandardWidth, "width", "", "standard width in meters (defaults from config)")
	_ = cmd.MarkFlagRequired("number")
	return cmd
}

func platformListCmd() *cobra.Command {
	var filters repo.PlatformFilters
	var pendingOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List platforms",
		RunE: func(cmd *cobra.Command, args []string) error {
			if pendingOnly {
				t := true
				filters.NeedsSync = &t
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListPlatforms(ctx, filters)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Number", "Type", "Status", "Pieces (m lin)", "Sync"})
				for _, p := range items {
					sync := ""
					if p.NeedsSync {
						sync = "pending"
					}
					tw.AppendRow(table.Row{p.ID, p.Number, p.PlatformType, p.Status, p.TotalLinearMeters.StringFixed(2), sync})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filters.Status, "status", "", "filter by status")
	cmd.Flags().StringVar(&filters.PlatformType, "type", "", "filter by type")
	cmd.Flags().BoolVar(&pendingOnly, "pending-sync", false, "only platforms waiting for sync")
	cmd.Flags().IntVar(&filters.Limit, "limit", 0, "max results")
	return cmd
}

func platformShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <platform-id>",
		Short: "Show a platform with its pieces",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, la, err := r.GetPlatform(ctx, args[0])
				if err != nil {
					return err
				}
				pieces, err := r.ListPieces(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"platform": p, "pieces": pieces, "last_action": la})
				}
				fmt.Printf("Platform %s (%s, %s)\n", p.Number, p.PlatformType, p.Status)
				fmt.Printf("Width: %s m   Total: %s m / %s m lineales   Sync pending: %v\n",
					p.StandardWidth.StringFixed(2), p.TotalLength.StringFixed(2), p.TotalLinearMeters.StringFixed(2), p.NeedsSync)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"No.", "Material", "Longitud (m)", "Ancho (m)", "Metros Lineales"})
				for _, pc := range pieces {
					tw.AppendRow(table.Row{pc.Number, pc.Material, pc.Length.StringFixed(2), pc.StandardWidth.StringFixed(2), pc.LinearMeters.StringFixed(2)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func platformCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <platform-id>",
		Short: "Mark a platform completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, e ledger.Engine) error {
				p, err := e.CompletePlatform(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func platformWidthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "width <platform-id> <meters>",
		Short: "Change the standard width for pieces added from now on",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := parseMeasure(args[1])
			if err != nil {
				return err
			}
			return withLedger(cmd.Context(), func(ctx context.Context, e ledger.Engine) error {
				p, err := e.ChangeStandardWidth(ctx, args[0], w, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func platformDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <platform-id>",
		Short: "Delete a platform and every piece it owns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, e ledger.Engine) error {
				if err := e.DeletePlatform(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
	return cmd
}

func pieceCmd() *cobra.Command {
	p := &cobra.Command{Use: "piece", Short: "Capture and edit pieces"}
	p.AddCommand(pieceAddCmd())
	p.AddCommand(pieceBatchCmd())
	p.AddCommand(pieceListCmd())
	p.AddCommand(pieceUpdateCmd())
	p.AddCommand(pieceDeleteCmd())
	p.AddCommand(pieceUndoCmd())
	return p
}

func pieceAddCmd() *cobra.Command {
	var material string
	cmd := &cobra.Command{
		Use:   "add <platform-id> <length>",
		Short: "Add one measured piece",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			length, err := parseMeasure(args[1])
			if err != nil {
				return err
			}
			return withLedger(cmd.Context(), func(ctx context.Context, e ledger.Engine) error {
				pc, err := e.AddPiece(ctx, args[0], ledger.PieceInput{Length: length, Material: material}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(pc)
			})
		},
	}
	cmd.Flags().StringVar(&material, "material", "", "material name (required)")
	_ = cmd.MarkFlagRequired("material")
	return cmd
}

func pieceBatchCmd() *cobra.Command {
	var fromStdin bool
	cmd := &cobra.Command{
		Use:   "batch <platform-id> [\"<length> <material>\" ...]",
		Short: "Add several pieces, one \"<length> <material>\" entry per argument or stdin line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args[1:], "\n")
			if fromStdin {
				data, err := os.ReadFile("/dev/stdin")
				if err != nil {
					return err
				}
				text = string(data)
			}
			inputs, parseRejected := ledger.ParseDictation(text)
			if len(inputs) == 0 && len(parseRejected) == 0 {
				return fmt.Errorf("no entries given")
			}
			return withLedger(cmd.Context(), func(ctx context.Context, e ledger.Engine) error {
				var res ledger.BatchResult
				if len(inputs) > 0 {
					var err error
					res, err = e.AddPieces(ctx, args[0], inputs, viper.GetString("actor-id"))
					if err != nil {
						return err
					}
				}
				res.Rejected = append(parseRejected, res.Rejected...)
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "read entries from stdin")
	return cmd
}

func pieceListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <platform-id>",
		Short: "List pieces",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				pieces, err := r.ListPieces(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(pieces)
			})
		},
	}
	return cmd
}

func pieceUpdateCmd() *cobra.Command {
	var length, material, width string
	cmd := &cobra.Command{
		Use:   "update <platform-id> <piece-id>",
		Short: "Edit a piece",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var upd ledger.PieceUpdate
			if cmd.Flags().Changed("length") {
				v, err := parseMeasure(length)
				if err != nil {
					return err
				}
				upd.Length = &v
			}
			if cmd.Flags().Changed("material") {
				upd.Material = &material
			}
			if cmd.Flags().Changed("width") {
				v, err := parseMeasure(width)
				if err != nil {
					return err
				}
				upd.StandardWidth = &v
			}
			return withLedger(cmd.Context(), func(ctx context.Context, e ledger.Engine) error {
				pc, err := e.UpdatePiece(ctx, args[0], args[1], upd, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(pc)
			})
		},
	}
	cmd.Flags().StringVar(&length, "length", "", "new length in meters")
	cmd.Flags().StringVar(&material, "material", "", "new material")
	cmd.Flags().StringVar(&width, "width", "", "new width in meters")
	return cmd
}

func pieceDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <platform-id> <piece-id>",
		Short: "Delete a piece (numbers of other pieces stay put)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, e ledger.Engine) error {
				if err := e.DeletePiece(ctx, args[0], args[1], viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Println("deleted", args[1])
				return nil
			})
		},
	}
	return cmd
}

func pieceUndoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "undo <platform-id>",
		Short: "Undo the most recent add",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, e ledger.Engine) error {
				undone, err := e.UndoLastAdd(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if undone {
					fmt.Println("last add undone")
				} else {
					fmt.Println("nothing to undo")
				}
				return nil
			})
		},
	}
	return cmd
}

func docsCmd() *cobra.Command {
	d := &cobra.Command{Use: "docs", Short: "Signed document registry"}
	d.AddCommand(docsListCmd())
	d.AddCommand(docsDeleteCmd())
	d.AddCommand(docsCleanupCmd())
	return d
}

func docsListCmd() *cobra.Command {
	var platformID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List signed documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, e ledger.Engine) error {
				var docs []domain.SignedDocument
				var err error
				if platformID != "" {
					docs, err = e.Registry.ListByPlatform(ctx, platformID)
				} else {
					docs, err = e.Registry.ListAll(ctx)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(docs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Platform", "Type", "File", "Created"})
				for _, doc := range docs {
					tw.AppendRow(table.Row{doc.ID, doc.PlatformNumber, doc.DocumentType, doc.FileName, doc.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&platformID, "platform", "", "filter by platform id")
	return cmd
}

func docsDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Delete one signed document record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, e ledger.Engine) error {
				deleted, err := e.Registry.Delete(ctx, args[0])
				if err != nil {
					return err
				}
				if !deleted {
					return fmt.Errorf("document %s not found", args[0])
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
	return cmd
}

func docsCleanupCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove signed documents older than N days",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, e ledger.Engine) error {
				if !cmd.Flags().Changed("days") && e.Config != nil {
					days = e.Config.Documents.RetentionDays
				}
				removed, err := e.Registry.CleanupOlderThan(ctx, days)
				if err != nil {
					return err
				}
				fmt.Printf("removed %d document(s)\n", removed)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "age threshold in days")
	return cmd
}

func exportCmd() *cobra.Command {
	e := &cobra.Command{Use: "export", Short: "Export a platform"}
	e.AddCommand(exportCSVCmd())
	e.AddCommand(exportPrintCmd())
	e.AddCommand(exportSignCmd())
	return e
}

func exportSnapshot(ctx context.Context, r repo.Repo, platformID string) (export.Snapshot, error) {
	p, _, err := r.GetPlatform(ctx, platformID)
	if err != nil {
		return export.Snapshot{}, err
	}
	pieces, err := r.ListPieces(ctx, platformID)
	if err != nil {
		return export.Snapshot{}, err
	}
	return export.Snapshot{Platform: p, Pieces: pieces}, nil
}

func exportCSVCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "csv <platform-id>",
		Short: "Write the platform as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				s, err := exportSnapshot(ctx, r, args[0])
				if err != nil {
					return err
				}
				text, err := export.CSV(s)
				if err != nil {
					return err
				}
				if out == "" {
					out = export.FileName(s.Platform.Number, false, time.Now(), "csv")
				}
				if out == "-" {
					fmt.Print(text)
					return nil
				}
				if err := os.WriteFile(out, []byte(text), 0o644); err != nil {
					return err
				}
				fmt.Println("wrote", out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file, - for stdout")
	return cmd
}

func exportPrintCmd() *cobra.Command {
	var out, signature string
	cmd := &cobra.Command{
		Use:   "print <platform-id>",
		Short: "Write a print-ready HTML view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				s, err := exportSnapshot(ctx, r, args[0])
				if err != nil {
					return err
				}
				html, err := export.PrintHTML(s, signature)
				if err != nil {
					return err
				}
				if out == "" {
					out = export.FileName(s.Platform.Number, signature != "", time.Now(), "html")
				}
				if out == "-" {
					fmt.Print(html)
					return nil
				}
				if err := os.WriteFile(out, []byte(html), 0o644); err != nil {
					return err
				}
				fmt.Println("wrote", out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file, - for stdout")
	cmd.Flags().StringVar(&signature, "signature", "", "signature image data URL")
	return cmd
}

func exportSignCmd() *cobra.Command {
	var docType, signatureFile, fileName string
	cmd := &cobra.Command{
		Use:   "sign <platform-id>",
		Short: "Record a signed export and mark the platform exported",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(signatureFile)
			if err != nil {
				return err
			}
			return withLedger(cmd.Context(), func(ctx context.Context, e ledger.Engine) error {
				doc, err := e.RegisterSignedExport(ctx, args[0], docType, string(data), fileName, int64(len(data)), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(doc)
			})
		},
	}
	cmd.Flags().StringVar(&docType, "type", domain.DocumentTypePDF, "pdf or image")
	cmd.Flags().StringVar(&signatureFile, "signature-file", "", "file holding the signature data URL (required)")
	cmd.Flags().StringVar(&fileName, "file-name", "", "exported artifact file name")
	_ = cmd.MarkFlagRequired("signature-file")
	return cmd
}

func evidenceCmd() *cobra.Command {
	e := &cobra.Command{Use: "evidence", Short: "Evidence references"}
	attach := &cobra.Command{
		Use:   "attach <platform-id> <ref>",
		Short: "Attach an evidence reference",
		Args:  cobra.ExactArgs(2),
	}
	var kind string
	attach.Flags().StringVar(&kind, "kind", domain.EvidenceKindPhoto, "photo or document")
	attach.RunE = func(cmd *cobra.Command, args []string) error {
		return withLedger(cmd.Context(), func(ctx context.Context, eng ledger.Engine) error {
			ev, err := eng.AttachEvidence(ctx, args[0], kind, args[1], viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(ev)
		})
	}
	list := &cobra.Command{
		Use:   "list <platform-id>",
		Short: "List evidence references",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListEvidence(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	e.AddCommand(attach)
	e.AddCommand(list)
	return e
}

func syncCmd() *cobra.Command {
	s := &cobra.Command{Use: "sync", Short: "Backend sync bookkeeping"}
	pending := &cobra.Command{
		Use:   "pending",
		Short: "List platforms waiting for sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				t := true
				items, err := r.ListPlatforms(ctx, repo.PlatformFilters{NeedsSync: &t})
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	done := &cobra.Command{
		Use:   "done <platform-id>",
		Short: "Clear the needs-sync flag after a successful external sync",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, e ledger.Engine) error {
				p, err := e.MarkSynced(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	s.AddCommand(pending)
	s.AddCommand(done)
	return s
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Workspace overview",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				counts, err := r.CountPlatformsByStatus(ctx)
				if err != nil {
					return err
				}
				t := true
				pending, err := r.ListPlatforms(ctx, repo.PlatformFilters{NeedsSync: &t})
				if err != nil {
					return err
				}
				schema, err := migrate.Version(r.DB)
				if err != nil {
					return err
				}
				out := map[string]any{
					"platform_counts": counts,
					"pending_sync":    len(pending),
					"schema_version":  schema,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Println("Platforms:")
				for status, c := range counts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				fmt.Printf("Pending sync: %d\n", len(pending))
				fmt.Printf("Schema version: %d\n", schema)
				return nil
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, e ledger.Engine) error {
				return printJSON(e.Config)
			})
		},
	}
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default lineal.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault("default")), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	c.AddCommand(show)
	c.AddCommand(initCmd)
	return c
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var filters repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, filters)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&filters.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&filters.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&filters.PlatformID, "platform", "", "platform id")
	cmd.Flags().StringVar(&filters.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&filters.EntityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, e ledger.Engine) error {
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Log: e.Log})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Lineal API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func newLogger() *zap.Logger {
	if viper.GetBool("verbose") {
		log, err := zap.NewDevelopment()
		if err == nil {
			return log
		}
	}
	return zap.NewNop()
}

func withLedger(ctx context.Context, fn func(context.Context, ledger.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	cfg, err := app.ResolveWorkspaceConfig(ctx, workspace, "default", r)
	if err != nil {
		return err
	}
	log := newLogger()
	reg := registry.New(kv.SQLite{DB: conn}, log)
	e := ledger.New(conn, cfg, reg, log)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseMeasure(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", "."))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid measure %q", raw)
	}
	return d, nil
}
