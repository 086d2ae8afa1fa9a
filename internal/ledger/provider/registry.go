package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"XGov-Mesh/internal/ledger"
	"XGov-Mesh/internal/ledger/evm"

	xerrors "XGov-Mesh/internal/errors"
)

// Options 描述注册表需要的链接入配置。
type Options struct {
	// ChainConfig 指向 chain.yaml；为空时回退到 RPCURL 单链模式。
	ChainConfig    string
	DefaultChain   string
	RPCURL         string
	JournalAddress string
	// PayerKey 是付款账户的十六进制私钥，所有链共用同一账户。
	PayerKey string
}

// Registry manages a set of chain clients keyed by human readable names.
type Registry struct {
	defaultChain string
	clients      map[string]ledger.Client
}

// NewRegistry loads chain definitions and instantiates concrete clients.
func NewRegistry(ctx context.Context, opts Options) (*Registry, error) {
	signer, err := ledger.NewSigner(opts.PayerKey)
	if err != nil {
		return nil, err
	}

	defs, err := ledger.LoadChainDefinitions(opts.ChainConfig)
	if err != nil {
		return nil, err
	}

	clients := make(map[string]ledger.Client)
	for name, chain := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(chain.Type))
		if chainType == "" {
			chainType = "evm"
		}
		switch chainType {
		case "evm":
			client, err := evm.NewClient(ctx, evm.Config{
				Name:           name,
				RPCURL:         chain.RPCURL,
				JournalAddress: firstNonEmpty(chain.JournalAddress, opts.JournalAddress),
				ConfirmTimeout: parseDuration(chain.ConfirmTimeout),
				PollInterval:   parseDuration(chain.PollInterval),
				Notes:          chain.Description,
			}, signer)
			if err != nil {
				return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, fmt.Sprintf("初始化链 %s 失败", name))
			}
			clients[name] = client
		default:
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("链 %s 使用了不支持的类型 %s", name, chain.Type))
		}
	}

	if len(clients) == 0 && strings.TrimSpace(opts.RPCURL) != "" {
		client, err := evm.NewClient(ctx, evm.Config{
			Name:           "default",
			RPCURL:         opts.RPCURL,
			JournalAddress: opts.JournalAddress,
		}, signer)
		if err != nil {
			return nil, err
		}
		clients["default"] = client
		if opts.DefaultChain == "" {
			opts.DefaultChain = "default"
		}
	}

	if len(clients) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置任何链的 RPC 端点")
	}

	defaultChain := opts.DefaultChain
	if defaultChain == "" {
		names := make([]string, 0, len(clients))
		for name := range clients {
			names = append(names, name)
		}
		sort.Strings(names)
		defaultChain = names[0]
	}
	if _, ok := clients[defaultChain]; !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("默认链 %s 未在配置中找到", defaultChain))
	}

	return &Registry{defaultChain: defaultChain, clients: clients}, nil
}

// DefaultClient returns the client configured as default chain.
func (r *Registry) DefaultClient() (ledger.Client, error) {
	if r == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "链客户端注册表未初始化")
	}
	client, ok := r.clients[r.defaultChain]
	if !ok {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, fmt.Sprintf("默认链 %s 未在注册表中", r.defaultChain))
	}
	return client, nil
}

// Client returns the chain client identified by name.
func (r *Registry) Client(name string) (ledger.Client, bool) {
	if r == nil {
		return nil, false
	}
	client, ok := r.clients[name]
	return client, ok
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseDuration(raw string) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0
	}
	return d
}
