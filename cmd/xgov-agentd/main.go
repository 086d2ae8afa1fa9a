package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"XGov-Mesh/internal/provider"
	"XGov-Mesh/internal/registry"
	"XGov-Mesh/pkg/logger"
)

// main 是智能体服务守护进程的入口，按次收费并在链上核验支付。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("xgov-agentd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	var (
		listenAddr = flag.String("listen", ":9090", "HTTP 监听地址")
		agentID    = flag.String("agent-id", "", "智能体 ID")
		category   = flag.String("category", "data_scraper", "服务类型")
		recipient  = flag.String("recipient", "", "收款钱包地址")
		amountWei  = flag.String("amount-wei", "5000000", "单次调用价格（wei）")
		network    = flag.String("network", "", "网络名称，回显在 402 响应中")
		rpcURL     = flag.String("rpc-url", "http://127.0.0.1:8545", "用于核验支付的 RPC 节点")
		redisAddr  = flag.String("redis-addr", "", "凭证缓存的 Redis 地址，为空时使用内存缓存")
		proofTTL   = flag.Duration("proof-ttl", 24*time.Hour, "支付凭证的防重放窗口")
		logLevel   = flag.String("log-level", "info", "日志级别")
	)
	flag.Parse()

	if err := logger.Init(logger.Config{Level: *logLevel, Format: "json", OutputPaths: []string{"stdout"}}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	if *agentID == "" {
		return errors.New("必须通过 -agent-id 指定智能体 ID")
	}
	cat := registry.Category(*category)
	if !registry.IsValidCategory(cat) {
		return fmt.Errorf("不支持的服务类型: %s", *category)
	}
	amount, ok := new(big.Int).SetString(*amountWei, 10)
	if !ok {
		return fmt.Errorf("价格解析失败: %s", *amountWei)
	}

	verifier, err := provider.NewChainVerifier(ctx, *rpcURL)
	if err != nil {
		return err
	}

	var cache provider.ProofCache
	if *redisAddr != "" {
		redisCache, err := provider.NewRedisProofCache(ctx, provider.RedisProofCacheConfig{
			Addr: *redisAddr,
			TTL:  *proofTTL,
		})
		if err != nil {
			return err
		}
		defer redisCache.Close()
		cache = redisCache
	} else {
		cache = provider.NewMemoryProofCache(*proofTTL)
	}

	middleware, err := provider.NewMiddleware(provider.PaymentRequirement{
		Recipient: *recipient,
		AmountWei: amount,
		Network:   *network,
	}, verifier, cache)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              *listenAddr,
		Handler:           provider.NewServer(*agentID, cat, middleware).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	logger.L().Info("智能体服务已启动",
		"address", *listenAddr,
		"agent_id", *agentID,
		"service_type", *category,
		"amount_wei", amount.String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
