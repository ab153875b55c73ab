// Package main 提供 meshnode 命令行入口
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dep2p/go-meshnet"
	"github.com/dep2p/go-meshnet/config"
	"github.com/dep2p/go-meshnet/pkg/lib/log"
)

var logger = log.Logger("meshnet/cmd")

// ═══════════════════════════════════════════════════════════════════════════
// 命令行参数
// ═══════════════════════════════════════════════════════════════════════════
//
//   命令行参数：运行时覆盖（这次运行）
//   配置文件：持久化配置（这个节点），JSON 或 YAML
//
// ═══════════════════════════════════════════════════════════════════════════
var (
	listen       = flag.String("listen", "", "监听地址 host:port（覆盖配置文件）")
	configFile   = flag.String("config", "", "配置文件路径（.json / .yaml）")
	identityFile = flag.String("identity", "", "身份密钥文件路径")
	name         = flag.String("name", "", "节点显示名称")
	bootstrap    = flag.String("bootstrap", "", "引导节点地址，逗号分隔")
	metricsAddr  = flag.String("metrics", "", "Prometheus 指标监听地址（为空不启用）")

	logFile = flag.String("log", "", "日志文件路径")
	fxLog   = flag.Bool("fx-log", false, "输出依赖注入日志")

	showVersion = flag.Bool("version", false, "显示版本信息")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	if *showVersion {
		fmt.Println(meshnet.VersionInfo())
		return nil
	}

	logFileHandle, err := setupLogging()
	if err != nil {
		fmt.Fprintf(os.Stderr, "警告: %v\n", err)
	}
	if logFileHandle != nil {
		defer func() { _ = logFileHandle.Close() }()
	}

	opts, err := buildOptions()
	if err != nil {
		return fmt.Errorf("配置错误: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("启动 meshnet 节点", "version", meshnet.Version, "commit", meshnet.GitCommit)
	node, err := meshnet.Start(ctx, opts...)
	if err != nil {
		return fmt.Errorf("启动失败: %w", err)
	}
	defer func() {
		if err := node.Stop(context.Background()); err != nil {
			logger.Warn("停止节点出错", "err", err)
		}
	}()

	node.OnPeerChange(func(peer meshnet.PeerIdentity, connected bool) {
		logger.Info("连接变化", "peer", peer.ID.ShortString(), "connected", connected)
	})

	if *metricsAddr != "" {
		srv := startMetricsServer(*metricsAddr, node.MetricsHandler())
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	printNodeInfo(node)
	fmt.Println("节点已启动，按 Ctrl+C 退出")
	waitForSignal()

	fmt.Println("\n正在关闭...")
	return nil
}

// buildOptions 由配置文件与命令行参数构建节点选项
func buildOptions() ([]meshnet.Option, error) {
	var opts []meshnet.Option

	if *configFile != "" {
		cfg, err := config.Load(*configFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, meshnet.WithConfig(cfg))
	}
	if *listen != "" {
		opts = append(opts, meshnet.WithListenAddress(*listen))
	}
	if *identityFile != "" {
		opts = append(opts, meshnet.WithIdentityFile(*identityFile))
	}
	if *name != "" {
		opts = append(opts, meshnet.WithNodeName(*name))
	}
	if isFlagSet("bootstrap") {
		opts = append(opts, meshnet.WithBootstrapPeers(splitList(*bootstrap)...))
	}
	if *fxLog {
		opts = append(opts, meshnet.WithFxLogging(true))
	}
	return opts, nil
}

// isFlagSet 检查参数是否被显式设置
func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func waitForSignal() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals
}

// setupLogging 指定 -log 时把日志写入文件
func setupLogging() (*os.File, error) {
	if *logFile == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(*logFile), 0750); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}
	file, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("打开日志文件失败: %w", err)
	}
	log.SetOutput(file)
	return file, nil
}

func startMetricsServer(addr string, h http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("指标服务退出", "addr", addr, "err", err)
		}
	}()
	logger.Info("指标服务已启动", "addr", addr)
	return srv
}

func printNodeInfo(node *meshnet.Node) {
	info := node.Info()
	fmt.Println("════════════════════════════════════════════════════════════")
	fmt.Printf("  节点 ID:   %s\n", info.ID())
	if info.DisplayName != "" {
		fmt.Printf("  名称:      %s\n", info.DisplayName)
	}
	fmt.Printf("  监听地址:  %s\n", node.ListenAddress())
	fmt.Printf("  协议版本:  %s\n", info.ProtocolVersion)
	fmt.Printf("  已连接:    %d\n", len(node.ConnectedPeers()))
	fmt.Println("════════════════════════════════════════════════════════════")
}
