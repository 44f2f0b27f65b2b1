package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sentiment-labeler/internal/evaluate"
	"sentiment-labeler/internal/ingest"
	"sentiment-labeler/internal/labeler"
	"sentiment-labeler/internal/middleware"
	"sentiment-labeler/internal/models"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

func labelCommand() *cli.Command {
	return &cli.Command{
		Name:  "label",
		Usage: "Label a CSV of rows with every configured model",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "input",
				Aliases:  []string{"i"},
				Usage:    "Input CSV with id/text columns (`FILE`, - for stdin)",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:    "models",
				Aliases: []string{"m"},
				Usage:   "Models to run, in order (defaults to the configured providers)",
			},
			&cli.BoolFlag{
				Name:  "anonymize",
				Usage: "Mask URLs, emails and handles before labeling",
			},
		},
		Action: func(c *cli.Context) error {
			a, err := setup(c, true)
			if err != nil {
				return err
			}
			defer a.Close()

			rows, err := readRows(c.String("input"))
			if err != nil {
				return err
			}
			if c.Bool("anonymize") {
				ingest.Anonymize(rows)
			}
			if err := a.rows.UpsertRows(rows); err != nil {
				return err
			}

			ctx, cancel := signalContext(c)
			defer cancel()

			results, err := a.runner.Label(ctx, rows, c.StringSlice("models"), func(p labeler.Progress) {
				a.logger.Debug("Labeling progress",
					zap.String("model", p.Model),
					zap.String("state", p.Step),
					zap.Int("chunk", p.Chunk),
					zap.Int("chunks", p.Chunks),
					zap.Int("made", p.Made))
			})
			for _, res := range results {
				fmt.Fprintf(c.App.Writer, "%s: %d records, %d calls (%d planned), %d cache hits, %d unresolved -> %s\n",
					res.Model, len(res.Records), res.Made, res.Planned, res.CacheHits, len(res.Unresolved), res.LedgerPath)
			}
			return err
		},
	}
}

func readRows(path string) ([]models.InputRow, error) {
	r, err := openInput(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return ingest.ReadRows(r)
}

func ingestCommand() *cli.Command {
	out := func() cli.Flag {
		return &cli.StringFlag{
			Name:    "out",
			Aliases: []string{"o"},
			Usage:   "Output CSV `FILE` (- for stdout)",
			Value:   "-",
		}
	}
	limit := func() cli.Flag {
		return &cli.IntFlag{
			Name:  "limit",
			Usage: "Maximum number of rows",
			Value: 100,
		}
	}

	return &cli.Command{
		Name:  "ingest",
		Usage: "Collect rows from social platforms",
		Subcommands: []*cli.Command{
			{
				Name:  "twitter",
				Usage: "Search X API v2 for posts",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Usage: "Search query", Required: true},
					limit(),
					&cli.StringFlag{Name: "scope", Usage: "recent or all", Value: "recent"},
					&cli.StringFlag{Name: "start", Usage: "Start date for full-archive search (YYYY-MM-DD)"},
					&cli.StringFlag{Name: "end", Usage: "End date for full-archive search (YYYY-MM-DD)"},
					out(),
				},
				Action: func(c *cli.Context) error {
					a, err := setup(c, false)
					if err != nil {
						return err
					}
					defer a.Close()

					client, err := ingest.NewTwitterClient(ingest.TwitterConfig{
						BearerToken:       a.cfg.Twitter.BearerToken,
						BaseURL:           a.cfg.Twitter.BaseURL,
						RequestsPerSecond: a.cfg.Twitter.RequestsPerSecond,
					}, a.logger)
					if err != nil {
						return err
					}

					ctx, cancel := signalContext(c)
					defer cancel()

					rows, err := client.Search(ctx, ingest.SearchQuery{
						Query: c.String("query"),
						Limit: c.Int("limit"),
						Scope: c.String("scope"),
						Start: c.String("start"),
						End:   c.String("end"),
					})
					if err != nil {
						return err
					}
					a.logger.Info("Collected posts", zap.Int("rows", len(rows)))
					return writeOutput(c.String("out"), func(w io.Writer) error {
						return ingest.WriteRows(w, rows)
					})
				},
			},
			{
				Name:  "youtube",
				Usage: "Scrape comments from a YouTube video",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "url", Aliases: []string{"u"}, Usage: "Video URL", Required: true},
					limit(),
					out(),
				},
				Action: func(c *cli.Context) error {
					a, err := setup(c, false)
					if err != nil {
						return err
					}
					defer a.Close()

					scraper := ingest.NewYouTubeScraper(ingest.YouTubeConfig{
						Headless:    a.cfg.YouTube.Headless,
						MaxScrolls:  a.cfg.YouTube.MaxScrolls,
						ScrollPause: a.cfg.YouTube.ScrollPause,
					}, a.logger)

					ctx, cancel := signalContext(c)
					defer cancel()

					rows, err := scraper.Comments(ctx, c.String("url"), c.Int("limit"))
					if err != nil {
						return err
					}
					a.logger.Info("Collected comments", zap.Int("rows", len(rows)))
					return writeOutput(c.String("out"), func(w io.Writer) error {
						return ingest.WriteRows(w, rows)
					})
				},
			},
		},
	}
}

func groundTruthCommand() *cli.Command {
	return &cli.Command{
		Name:    "groundtruth",
		Aliases: []string{"gt"},
		Usage:   "Manage human annotations",
		Subcommands: []*cli.Command{
			{
				Name:  "import",
				Usage: "Import annotations from a CSV",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Annotation CSV `FILE`", Required: true},
				},
				Action: func(c *cli.Context) error {
					a, err := setup(c, true)
					if err != nil {
						return err
					}
					defer a.Close()

					r, err := openInput(c.String("file"))
					if err != nil {
						return err
					}
					defer r.Close()

					truth, err := ingest.ReadGroundTruth(r)
					if err != nil {
						return err
					}
					if err := a.reports.ImportGroundTruth(truth); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "imported %d annotations\n", len(truth))
					return nil
				},
			},
			{
				Name:  "export",
				Usage: "Export stored annotations to a CSV",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output CSV `FILE` (- for stdout)", Value: "ground_truth.csv"},
				},
				Action: func(c *cli.Context) error {
					a, err := setup(c, true)
					if err != nil {
						return err
					}
					defer a.Close()

					truth, err := a.reports.GroundTruth()
					if err != nil {
						return err
					}
					return writeOutput(c.String("out"), func(w io.Writer) error {
						return ingest.WriteGroundTruth(w, truth)
					})
				},
			},
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write the wide comparison table of every model",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output CSV `FILE` (- for stdout)", Value: "llm_compare_wide.csv"},
		},
		Action: func(c *cli.Context) error {
			a, err := setup(c, true)
			if err != nil {
				return err
			}
			defer a.Close()

			table, err := a.reports.Table()
			if err != nil {
				return err
			}
			a.logger.Info("Comparison table built",
				zap.Int("rows", len(table.Rows)),
				zap.Strings("models", table.Tags))
			return writeOutput(c.String("out"), table.WriteCSV)
		},
	}
}

func evaluateCommand() *cli.Command {
	return &cli.Command{
		Name:  "evaluate",
		Usage: "Score every model against the ground truth and write a zip bundle",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output zip `FILE`", Value: "evaluation.zip"},
		},
		Action: func(c *cli.Context) error {
			a, err := setup(c, true)
			if err != nil {
				return err
			}
			defer a.Close()

			table, err := a.reports.Table()
			if err != nil {
				return err
			}
			report := evaluate.Evaluate(table)
			if err := report.WriteOverallCSV(c.App.Writer); err != nil {
				return err
			}
			return writeOutput(c.String("out"), func(w io.Writer) error {
				return evaluate.WriteBundle(w, table, report)
			})
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue an API token signed with the configured JWT secret",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "subject", Aliases: []string{"s"}, Usage: "Token subject", Required: true},
			&cli.StringFlag{Name: "role", Usage: "Role claim", Value: "analyst"},
			&cli.DurationFlag{Name: "ttl", Usage: "Token lifetime, 0 for no expiry", Value: 30 * 24 * time.Hour},
		},
		Action: func(c *cli.Context) error {
			a, err := setup(c, false)
			if err != nil {
				return err
			}
			defer a.Close()

			token, err := middleware.IssueToken([]byte(a.cfg.Server.JWTSecret),
				c.String("subject"), c.String("role"), c.Duration("ttl"), time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, token)
			return nil
		},
	}
}
