package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/blues/agapay/internal/config"
	"github.com/blues/agapay/internal/logger"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// 支持的链类型，均为 EVM 兼容链
var supportedTypes = []string{"ethereum", "arc", "polygon", "bsc", "arbitrum", "optimism"}

// Manager 单链管理器
type Manager struct {
	mu       sync.RWMutex
	client   *ethclient.Client  // 链客户端
	config   config.ChainConfig // 存储链配置
	registry *RegistryClient    // 注册表客户端
}

// NewManager 创建单链管理器
func NewManager(cfg config.ChainConfig) (*Manager, error) {
	manager := &Manager{
		config: cfg,
	}

	// 初始化客户端
	if err := manager.initClient(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize client: %w", err)
	}

	// 初始化注册表
	if err := manager.initRegistry(cfg); err != nil {
		manager.client.Close()
		return nil, fmt.Errorf("failed to initialize registry: %w", err)
	}

	return manager, nil
}

// initClient 初始化客户端
func (m *Manager) initClient(cfg config.ChainConfig) error {
	logger.Info("Initializing chain client (type: %s, id: %d)", cfg.ChainType, cfg.ChainId)

	client, err := m.createChainClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	m.client = client
	logger.Info("Successfully initialized client")
	return nil
}

// initRegistry 加载ABI并创建注册表客户端
func (m *Manager) initRegistry(cfg config.ChainConfig) error {
	if !common.IsHexAddress(cfg.Factory.Address) {
		return fmt.Errorf("invalid factory address %q", cfg.Factory.Address)
	}

	factoryParsed, err := LoadABI(cfg.Factory.ABIPath, factoryABI)
	if err != nil {
		return fmt.Errorf("failed to load factory ABI: %w", err)
	}
	campaignParsed, err := LoadABI(cfg.CampaignABI, campaignABI)
	if err != nil {
		return fmt.Errorf("failed to load campaign ABI: %w", err)
	}

	signer, err := newSigner(cfg)
	if err != nil {
		return err
	}
	if signer == nil {
		logger.Warn("No private key configured, registry client is read-only")
	}

	factory := NewContract("factory", common.HexToAddress(cfg.Factory.Address), factoryParsed, m.client, m.client)
	m.registry = NewRegistryClient(m.client, factory, campaignParsed, signer, cfg)
	logger.Info("Successfully initialized registry (factory: %s)", factory.GetAddress().Hex())
	return nil
}

// newSigner 根据私钥创建交易签名器，未配置私钥时返回 nil
func newSigner(cfg config.ChainConfig) (*bind.TransactOpts, error) {
	if cfg.PrivateKey == "" {
		return nil, nil
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	signer, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(cfg.ChainId))
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	return signer, nil
}

// createChainClient 创建链客户端
func (m *Manager) createChainClient(cfg config.ChainConfig) (*ethclient.Client, error) {
	rpcUrl := cfg.RpcUrl
	if rpcUrl == "" {
		return nil, fmt.Errorf("no RPC URL configured")
	}

	if !isSupportedChain(cfg.ChainType) {
		return nil, fmt.Errorf("unsupported chain type %s, supported types: %s", cfg.ChainType, strings.Join(supportedTypes, ", "))
	}

	logger.Info("Creating %s client connection (RPC: %s)", cfg.ChainType, rpcUrl)
	client, err := ethclient.Dial(rpcUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", cfg.ChainType, err)
	}

	// 测试连接
	if err := m.testClientConnection(client, cfg); err != nil {
		client.Close()
		return nil, fmt.Errorf("client connection test failed (%s): %w", cfg.ChainType, err)
	}

	logger.Info("Successfully created %s client", cfg.ChainType)
	return client, nil
}

func isSupportedChain(chainType string) bool {
	for _, supportedType := range supportedTypes {
		if chainType == supportedType {
			return true
		}
	}
	return false
}

// testClientConnection 测试客户端连接并校验链ID
func (m *Manager) testClientConnection(client *ethclient.Client, cfg config.ChainConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ReadTimeout)
	defer cancel()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to get chain id: %w", err)
	}
	if cfg.ChainId != 0 && chainID.Int64() != cfg.ChainId {
		return fmt.Errorf("chain id mismatch: configured %d, node reports %s", cfg.ChainId, chainID)
	}
	return nil
}

// GetClient 获取客户端
func (m *Manager) GetClient() *ethclient.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// Registry 获取注册表客户端
func (m *Manager) Registry() *RegistryClient {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.registry
}

// GetConfig 获取链配置
func (m *Manager) GetConfig() config.ChainConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetCurrentBlockNumber 获取当前最新区块号
func (m *Manager) GetCurrentBlockNumber(ctx context.Context) (uint64, error) {
	return m.GetClient().BlockNumber(ctx)
}

// GetHealthStatus 获取健康状态
func (m *Manager) GetHealthStatus(ctx context.Context) map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	health := map[string]interface{}{
		"chain_type":    m.config.ChainType,
		"chain_id":      m.config.ChainId,
		"client_status": "connected",
		"factory":       m.config.Factory.Address,
		"signer":        "none",
	}

	if m.client == nil {
		health["client_status"] = "not_initialized"
	} else if block, err := m.client.BlockNumber(ctx); err != nil {
		health["client_status"] = "disconnected"
	} else {
		health["block_number"] = block
	}

	if m.registry != nil && m.registry.Signer() != (common.Address{}) {
		health["signer"] = m.registry.Signer().Hex()
	}

	return health
}

// Close 关闭管理器
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		m.client.Close()
	}

	logger.Info("Chain manager closed")
	return nil
}
