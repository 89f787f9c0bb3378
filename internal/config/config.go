package config

import (
	"strings"
	"time"

	"github.com/blues/agapay/internal/logger"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Chain       ChainConfig       `mapstructure:"chain"`
	Task        TaskConfig        `mapstructure:"task"`
	Log         LogConfig         `mapstructure:"log"`
	View        ViewConfig        `mapstructure:"view"`
	Moderation  ModerationConfig  `mapstructure:"moderation"`
	ObjectStore ObjectStoreConfig `mapstructure:"object_store"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ChainConfig 链配置
type ChainConfig struct {
	ChainType      string         `mapstructure:"chain_type"`      // 链类型 (ethereum, arc, polygon, etc.)
	ChainId        int64          `mapstructure:"chain_id"`        // 链ID
	RpcUrl         string         `mapstructure:"rpc_url"`         // RPC节点URL
	PrivateKey     string         `mapstructure:"private_key"`     // 审核员签名私钥
	Factory        ContractConfig `mapstructure:"factory"`         // 众筹工厂合约（注册表）
	CampaignABI    string         `mapstructure:"campaign_abi"`    // 单个众筹合约ABI路径，空则使用内置ABI
	ReadTimeout    time.Duration  `mapstructure:"read_timeout"`    // 单次字段读取超时
	ConfirmTimeout time.Duration  `mapstructure:"confirm_timeout"` // 等待交易上链超时
	EntryCacheTTL  time.Duration  `mapstructure:"entry_cache_ttl"` // 注册表列表缓存时间
	PollInterval   time.Duration  `mapstructure:"poll_interval"`   // 轮询新建众筹事件的间隔，0 表示不轮询
}

// ContractConfig 单个合约配置
type ContractConfig struct {
	Address  string `mapstructure:"address"`   // 合约地址
	ABIPath  string `mapstructure:"abi_path"`  // ABI文件路径，空则使用内置ABI
	BlockNum int64  `mapstructure:"block_num"` // 事件监控起始区块，0 表示从当前区块开始
}

type TaskConfig struct {
	Interval int `mapstructure:"interval"` // 秒
}

// ViewConfig 列表视图配置
type ViewConfig struct {
	PageSize      int `mapstructure:"page_size"`       // 公开列表每页数量
	AdminPageSize int `mapstructure:"admin_page_size"` // 审核列表每页数量
	Workers       int `mapstructure:"workers"`         // 字段读取协程池大小
}

// ModerationConfig 审核流程配置
type ModerationConfig struct {
	Admins                []string      `mapstructure:"admins"`                  // 管理员钱包地址
	AllowUnlinkedApproval bool          `mapstructure:"allow_unlinked_approval"` // 无法匹配合约地址时仍标记为已通过
	LinkMaxElapsed        time.Duration `mapstructure:"link_max_elapsed"`        // 重新查询注册表的最长时间
	LinkMaxInterval       time.Duration `mapstructure:"link_max_interval"`       // 重新查询的最大间隔
	MaxDurationDays       int           `mapstructure:"max_duration_days"`       // 众筹最长天数
	MinAge                int           `mapstructure:"min_age"`                 // 申请人最小年龄
}

// ObjectStoreConfig 文件存储配置
type ObjectStoreConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	CloudName    string        `mapstructure:"cloud_name"`
	UploadPreset string        `mapstructure:"upload_preset"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug, info, warn, error, fatal
	Output string `mapstructure:"output"` // 输出目标: stdout, stderr, file
	File   string `mapstructure:"file"`   // 日志文件路径（当output为file时使用）
}

// GetLevel 实现 logger.LogConfig 接口
func (l LogConfig) GetLevel() string {
	return l.Level
}

// GetOutput 实现 logger.LogConfig 接口
func (l LogConfig) GetOutput() string {
	return l.Output
}

// GetFile 实现 logger.LogConfig 接口
func (l LogConfig) GetFile() string {
	return l.File
}

// IsAdmin 判断地址是否为管理员
func (m ModerationConfig) IsAdmin(address string) bool {
	for _, admin := range m.Admins {
		if strings.EqualFold(admin, address) {
			return true
		}
	}
	return false
}

// SetDefaults 设置默认值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "agapay")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("chain.chain_type", "arc")
	v.SetDefault("chain.chain_id", 5042002)
	v.SetDefault("chain.rpc_url", "https://rpc.testnet.arc.network")
	v.SetDefault("chain.read_timeout", 15*time.Second)
	v.SetDefault("chain.confirm_timeout", 2*time.Minute)
	v.SetDefault("chain.entry_cache_ttl", 30*time.Second)
	v.SetDefault("chain.poll_interval", 15*time.Second)
	v.SetDefault("task.interval", 60)
	v.SetDefault("view.page_size", 9)
	v.SetDefault("view.admin_page_size", 5)
	v.SetDefault("view.workers", 32)
	v.SetDefault("moderation.allow_unlinked_approval", false)
	v.SetDefault("moderation.link_max_elapsed", 30*time.Second)
	v.SetDefault("moderation.link_max_interval", 5*time.Second)
	v.SetDefault("moderation.max_duration_days", 365)
	v.SetDefault("moderation.min_age", 18)
	v.SetDefault("object_store.base_url", "https://api.cloudinary.com")
	v.SetDefault("object_store.timeout", 60*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file", "logs/app.log")
}

// Default 返回只包含默认值的配置
func Default() *Config {
	v := viper.New()
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		logger.Fatal("Unable to decode default config: %v", err)
	}
	return &config
}

// Load 加载配置，path 为空时按默认路径查找
func Load(path string) *Config {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/agapay")
	}

	SetDefaults(v)

	// 自动读取环境变量，例如 AGAPAY_CHAIN_PRIVATE_KEY
	v.SetEnvPrefix("agapay")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		logger.Warn("Warning: Could not read config file: %v", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		logger.Fatal("Unable to decode config into struct: %v", err)
	}

	return &config
}
