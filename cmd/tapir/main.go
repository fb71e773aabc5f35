package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dushixiang/tapir/internal/config"
	"github.com/dushixiang/tapir/internal/server"
	agentconfig "github.com/dushixiang/tapir/pkg/agent/config"
	agentservice "github.com/dushixiang/tapir/pkg/agent/service"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "tapir",
		Short:         "设备指标聚合服务端与探针",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(serveCommand())
	root.AddCommand(agentCommand())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "打印版本号",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// serveCommand 启动指标聚合服务端
func serveCommand() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动指标聚合服务端",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader(cfgPath)
			cfg, err := loader.Load()
			if err != nil {
				return err
			}

			logger := server.NewLogger(cfg.Log)
			defer func() { _ = logger.Sync() }()

			srv := server.New(cfg, logger)
			loader.Watch(logger, func(c *config.Config) {
				srv.UpdateAnalyzerConfig(c.Analyzer)
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "配置文件路径（可选，缺省使用默认配置）")
	return cmd
}

// agentCommand 探针相关子命令
func agentCommand() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "设备探针管理",
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "/etc/tapir/agent.yaml", "探针配置文件路径")

	withManager := func(fn func(*agentservice.Manager) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := agentconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			mgr, err := agentservice.NewManager(cfg)
			if err != nil {
				return err
			}
			return fn(mgr)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "运行探针（前台或服务模式）",
			RunE:  withManager(func(m *agentservice.Manager) error { return m.Run() }),
		},
		&cobra.Command{
			Use:   "install",
			Short: "安装为系统服务",
			RunE:  withManager(func(m *agentservice.Manager) error { return m.Install() }),
		},
		&cobra.Command{
			Use:   "uninstall",
			Short: "卸载系统服务",
			RunE:  withManager(func(m *agentservice.Manager) error { return m.Uninstall() }),
		},
		&cobra.Command{
			Use:   "start",
			Short: "启动系统服务",
			RunE:  withManager(func(m *agentservice.Manager) error { return m.Start() }),
		},
		&cobra.Command{
			Use:   "stop",
			Short: "停止系统服务",
			RunE:  withManager(func(m *agentservice.Manager) error { return m.Stop() }),
		},
		&cobra.Command{
			Use:   "status",
			Short: "查看系统服务状态",
			RunE: withManager(func(m *agentservice.Manager) error {
				status, err := m.Status()
				if err != nil {
					return err
				}
				fmt.Println(status)
				return nil
			}),
		},
	)
	return cmd
}
