package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	cli "github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"z-novel-writer/internal/application/editor"
	"z-novel-writer/internal/application/llmrun"
	"z-novel-writer/internal/application/memory"
	"z-novel-writer/internal/application/outline"
	"z-novel-writer/internal/application/pipeline"
	"z-novel-writer/internal/application/summary"
	"z-novel-writer/internal/application/writer"
	"z-novel-writer/internal/config"
	"z-novel-writer/internal/infrastructure/embedding"
	"z-novel-writer/internal/infrastructure/llm"
	"z-novel-writer/internal/infrastructure/persistence/file"
	"z-novel-writer/internal/workflow/chain"
	apperrors "z-novel-writer/pkg/errors"
	"z-novel-writer/pkg/logger"
)

func main() {
	app := &cli.Command{
		Name:  "novel-writer",
		Usage: "长篇小说自动写作流水线",
		Commands: []*cli.Command{
			runCmd(),
			statusCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(apperrors.ExitStatus(err))
	}
}

func configFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Value: "configs/config.yaml", Usage: "配置文件路径"},
		&cli.StringFlag{Name: "state-file", Usage: "覆盖检查点文件路径"},
		&cli.StringFlag{Name: "output-file", Usage: "覆盖成稿输出路径"},
	}
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	// .env 缺失不是错误
	_ = godotenv.Load()

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	if v := cmd.String("state-file"); v != "" {
		cfg.Pipeline.StateFile = v
	}
	if v := cmd.String("output-file"); v != "" {
		cfg.Pipeline.OutputFile = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runCmd() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "开始或续写小说（存在检查点时自动续写）",
		Flags: configFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
			ctx = logger.WithContext(ctx, logger.RunIDKey, uuid.NewString())

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			p, err := buildPipeline(ctx, cfg)
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)

			var metricsSrv *http.Server
			if cfg.Observability.Metrics.Enabled {
				mux := http.NewServeMux()
				mux.Handle(cfg.Observability.Metrics.Path, promhttp.Handler())
				metricsSrv = &http.Server{
					Addr:    fmt.Sprintf(":%d", cfg.Observability.Metrics.Port),
					Handler: mux,
				}
				g.Go(func() error {
					logger.Info(gctx, "指标服务启动", "addr", metricsSrv.Addr,
						"path", cfg.Observability.Metrics.Path)
					if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
			}

			g.Go(func() error {
				defer func() {
					if metricsSrv != nil {
						shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
						defer cancel()
						_ = metricsSrv.Shutdown(shutdownCtx)
					}
				}()
				return p.Run(gctx)
			})

			err = g.Wait()
			if apperrors.IsInterrupted(err) {
				fmt.Fprintln(os.Stderr, "已中断，进度已保存。重新执行 run 可续写。")
				return nil
			}
			return err
		},
	}
}

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "查看检查点进度",
		Flags: configFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			store := file.NewStateStore(cfg.Pipeline.StateFile)
			state, err := store.Load(ctx)
			if err != nil {
				return err
			}
			if state == nil {
				fmt.Println("无检查点，尚未开始写作。")
				return nil
			}

			fmt.Printf("状态:     %s\n", state.Status)
			fmt.Printf("章节进度: %d/%d\n", state.ChapterIndex(), len(state.Plans))
			fmt.Printf("长期记忆: %d 条\n", state.LongTerm.Size())
			for _, ch := range state.Chapters {
				marker := " "
				if ch.Forced {
					marker = "!"
				}
				fmt.Printf("  %s 第%d章 %s（%d 字，评分 %.1f，修订 %d 轮）\n",
					marker, ch.Number, ch.Title, ch.WordCount, ch.Score, ch.RevisionCount)
			}
			if next := state.NextPlan(); next != nil {
				fmt.Printf("下一章:   第%d章 %s\n", next.Number, next.Title)
			}
			return nil
		},
	}
}

// buildPipeline 组装流水线依赖
func buildPipeline(ctx context.Context, cfg *config.Config) (*pipeline.Pipeline, error) {
	factory := llm.NewEinoFactory(cfg)
	runner := llmrun.NewRunner(&cfg.Writer)

	var verifier pipeline.RevisionVerifier
	if cfg.Embedding.Enabled {
		client, err := embedding.NewClient(ctx, &cfg.Embedding)
		if err != nil {
			return nil, err
		}
		verifier = embedding.NewVerifier(client, cfg.Embedding.Threshold)
	}

	llmPolicy := memory.NewLLMPolicy(chain.NewOptimizeChain(factory), runner, cfg)
	heuristic := memory.NewHeuristicPolicy(cfg)

	return pipeline.New(cfg, pipeline.Deps{
		Outline:    outline.NewGenerator(chain.NewOutlineChain(factory), runner, cfg),
		Writer:     writer.NewWriter(chain.NewChapterChain(factory), chain.NewRefineChain(factory), runner, cfg),
		Editor:     editor.NewEditor(chain.NewReviewChain(factory), runner, cfg),
		Summarizer: summary.NewSummarizer(chain.NewSummaryChain(factory), runner, cfg),
		Memory:     memory.NewStore(cfg, llmPolicy, heuristic),
		Store:      file.NewStateStore(cfg.Pipeline.StateFile),
		Output:     file.NewNovelFile(cfg.Pipeline.OutputFile),
		Verifier:   verifier,
	}), nil
}
