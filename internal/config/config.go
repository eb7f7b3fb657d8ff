package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 结构体包含所有应用的配置
type Config struct {
	Server  ServerConfig  `mapstructure:"server"` // `mapstructure` 标签用于Viper绑定结构体
	MySQL   MySQLConfig   `mapstructure:"mysql"`
	Redis   RedisConfig   `mapstructure:"redis"`
	MinIO   MinIOConfig   `mapstructure:"minio"`
	Aliyun  AliyunConfig  `mapstructure:"aliyun_oss"`
	JWT     JWTConfig     `mapstructure:"jwt"`
	Storage StorageConfig `mapstructure:"storage"`
	Share   ShareConfig   `mapstructure:"share"`
	Version VersionConfig `mapstructure:"version"`
	Log     LogConfig     `mapstructure:"log"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port    string `mapstructure:"port"`
	BaseURL string `mapstructure:"base_url"` // 用于拼接分享链接
}

// MySQLConfig 数据库配置
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MinIOConfig MinIO配置
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// AliyunConfig 阿里云OSS配置
type AliyunConfig struct {
	Endpoint        string `mapstructure:"endpoint"` // 例如: oss-cn-hangzhou.aliyuncs.com
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	BucketName      string `mapstructure:"bucket_name"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	SecretKey string        `mapstructure:"secret_key"`
	ExpiresIn time.Duration `mapstructure:"expires_in"`
	Issuer    string        `mapstructure:"issuer"`
}

// StorageConfig 对象存储选择
type StorageConfig struct {
	Type               string `mapstructure:"type"` // minio 或 aliyun_oss
	PresignedURLExpiry int    `mapstructure:"presigned_url_expiry"` // 预签名URL有效期（分钟）
}

// ShareConfig 分享相关配置
type ShareConfig struct {
	TokenCacheTTL   time.Duration `mapstructure:"token_cache_ttl"`  // 分享令牌读缓存TTL
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"` // 过期分享清扫周期
}

// VersionConfig 版本保留策略配置
type VersionConfig struct {
	DefaultKeepCount int `mapstructure:"default_keep_count"` // 默认保留的历史版本数
}

// zap日志配置
type LogConfig struct {
	OutputPath string `mapstructure:"output_path"`
	ErrorPath  string `mapstructure:"error_path"`
	Level      string `mapstructure:"level"`
}

// LoadConfig 加载配置
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")            // 配置文件名 (不带扩展名)
	viper.SetConfigType("yaml")              // 配置文件类型
	viper.AddConfigPath(".")                 // 在当前目录查找配置文件
	viper.AddConfigPath("./configs")         // 也可以添加其他路径，例如 ./configs/
	viper.AddConfigPath("/etc/go-filevault/") // 生产环境常见路径

	// 读取环境变量，环境变量名将自动转换为大写，并用下划线替换点
	// 例如：SERVER.PORT 对应环境变量 GO_FILEVAULT_SERVER_PORT
	viper.SetEnvPrefix("GO_FILEVAULT")
	viper.AutomaticEnv()

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	// 默认值：配置文件和环境变量都没有时兜底
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("share.token_cache_ttl", 30*time.Second)
	viper.SetDefault("share.cleanup_interval", 10*time.Minute)
	viper.SetDefault("version.default_keep_count", 10)
	viper.SetDefault("storage.presigned_url_expiry", 15)
	viper.SetDefault("log.output_path", "logs/app.log")
	viper.SetDefault("log.error_path", "logs/error.log")
	viper.SetDefault("log.level", "info")

	// 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// 配置文件未找到，但这不是致命错误，因为我们可以依赖环境变量或默认值
			log.Println("Warning: config file not found, using environment variables or default values.")
		} else {
			// 其他读取错误，例如配置文件格式错误
			return nil, err
		}
	}

	// 将读取到的配置绑定到结构体
	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
