package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// CancelPolicy 订单取消时已计提佣金的处理策略。业务尚未定论，做成配置。
type CancelPolicy string

const (
	CancelPolicyRetain CancelPolicy = "retain" // 保留佣金（默认）
	CancelPolicyVoid   CancelPolicy = "void"   // 未支付的佣金作废
)

// AppConfig 聚合运行时配置，尽量通过环境变量注入，避免硬编码。
type AppConfig struct {
	HTTPAddr    string
	Environment string
	LogLevel    string

	// DBDriver sqlite（开发/测试）或 postgres（生产）
	DBDriver string
	DBDSN    string

	RedisAddr string
	RedisDB   int

	// Kafka：预检任务下发 topic、预检结果回流 topic
	KafkaBrokers          []string
	PreflightJobTopic     string
	PreflightVerdictTopic string
	VerdictGroupID        string

	// Redis Stream outbox（完成上传时原子入流，Relay 异步转 Kafka）
	PreflightStream   string
	PreflightGroup    string
	PreflightConsumer string

	// Webhook line item 上携带 upload 引用的属性名
	UploadPropertyName string

	// 固定佣金（每单），与订单金额无关
	CommissionFee decimal.Decimal
	CancelPolicy  CancelPolicy

	// 出站通知投递
	FlowPollInterval time.Duration
	FlowBatchSize    int
	FlowBaseBackoff  time.Duration
	FlowAPIVersion   string

	// 店面上传接口限流
	IntakeRateLimit  int
	IntakeRateWindow time.Duration

	// 商家后台 JWT 密钥
	AdminJWTSecret string
	// 校验器 HTTP 回调的共享 token，为空时不校验（仅内网部署）
	PreflightCallbackToken string

	ExportDir     string
	PublicBaseURL string
}

// Load 读取并校验配置，缺失时使用默认值。
func Load() (AppConfig, error) {
	// .env 可选，不存在时忽略
	_ = godotenv.Load()

	cfg := AppConfig{
		HTTPAddr:               getEnv("HTTP_ADDR", ":8080"),
		Environment:            getEnv("ENVIRONMENT", "development"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		DBDriver:               getEnv("DB_DRIVER", "sqlite"),
		DBDSN:                  getEnv("DB_DSN", "print_upload.db"),
		RedisAddr:              getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:                0,
		KafkaBrokers:           splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
		PreflightJobTopic:      getEnv("PREFLIGHT_JOB_TOPIC", "preflight-jobs"),
		PreflightVerdictTopic:  getEnv("PREFLIGHT_VERDICT_TOPIC", "preflight-verdicts"),
		VerdictGroupID:         getEnv("PREFLIGHT_VERDICT_GROUP", "print-upload-verdicts"),
		PreflightStream:        getEnv("PREFLIGHT_STREAM", "print_upload:preflight_jobs"),
		PreflightGroup:         getEnv("PREFLIGHT_GROUP", "print-upload-relay-group"),
		PreflightConsumer:      getEnv("PREFLIGHT_CONSUMER", "print-upload-relay-1"),
		UploadPropertyName:     getEnv("UPLOAD_PROPERTY_NAME", "_upload_id"),
		CancelPolicy:           CancelPolicy(getEnv("COMMISSION_CANCEL_POLICY", string(CancelPolicyRetain))),
		FlowBatchSize:          50,
		FlowPollInterval:       5 * time.Second,
		FlowBaseBackoff:        30 * time.Second,
		FlowAPIVersion:         getEnv("FLOW_API_VERSION", "2024-10"),
		IntakeRateLimit:        60,
		IntakeRateWindow:       time.Minute,
		AdminJWTSecret:         getEnv("ADMIN_JWT_SECRET", ""),
		PreflightCallbackToken: getEnv("PREFLIGHT_CALLBACK_TOKEN", ""),
		ExportDir:              getEnv("EXPORT_DIR", "exports"),
		PublicBaseURL:          getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
	}

	redisDB, err := getEnvInt("REDIS_DB", cfg.RedisDB)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	cfg.RedisDB = redisDB

	fee, err := decimal.NewFromString(getEnv("COMMISSION_FIXED_FEE", "0.50"))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid COMMISSION_FIXED_FEE: %w", err)
	}
	if fee.IsNegative() {
		return AppConfig{}, fmt.Errorf("COMMISSION_FIXED_FEE must be >= 0")
	}
	cfg.CommissionFee = fee

	pollSec, err := getEnvInt("FLOW_POLL_INTERVAL_SEC", int(cfg.FlowPollInterval.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid FLOW_POLL_INTERVAL_SEC: %w", err)
	}
	if pollSec <= 0 {
		return AppConfig{}, fmt.Errorf("FLOW_POLL_INTERVAL_SEC must be > 0")
	}
	cfg.FlowPollInterval = time.Duration(pollSec) * time.Second

	backoffSec, err := getEnvInt("FLOW_BASE_BACKOFF_SEC", int(cfg.FlowBaseBackoff.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid FLOW_BASE_BACKOFF_SEC: %w", err)
	}
	if backoffSec < 0 {
		return AppConfig{}, fmt.Errorf("FLOW_BASE_BACKOFF_SEC must be >= 0")
	}
	cfg.FlowBaseBackoff = time.Duration(backoffSec) * time.Second

	batch, err := getEnvInt("FLOW_BATCH_SIZE", cfg.FlowBatchSize)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid FLOW_BATCH_SIZE: %w", err)
	}
	if batch <= 0 {
		return AppConfig{}, fmt.Errorf("FLOW_BATCH_SIZE must be > 0")
	}
	cfg.FlowBatchSize = batch

	rateLimit, err := getEnvInt("INTAKE_RATE_LIMIT", cfg.IntakeRateLimit)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid INTAKE_RATE_LIMIT: %w", err)
	}
	if rateLimit <= 0 {
		return AppConfig{}, fmt.Errorf("INTAKE_RATE_LIMIT must be > 0")
	}
	cfg.IntakeRateLimit = rateLimit

	rateWindowSec, err := getEnvInt("INTAKE_RATE_WINDOW_SEC", int(cfg.IntakeRateWindow.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid INTAKE_RATE_WINDOW_SEC: %w", err)
	}
	if rateWindowSec <= 0 {
		return AppConfig{}, fmt.Errorf("INTAKE_RATE_WINDOW_SEC must be > 0")
	}
	cfg.IntakeRateWindow = time.Duration(rateWindowSec) * time.Second

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate 校验不依赖解析的约束，测试里直接构造 AppConfig 时也可以复用。
func (c AppConfig) Validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("DB_DSN must not be empty")
	}
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS must not be empty")
	}
	if c.PreflightJobTopic == "" || c.PreflightVerdictTopic == "" {
		return fmt.Errorf("PREFLIGHT_JOB_TOPIC and PREFLIGHT_VERDICT_TOPIC must not be empty")
	}
	if c.VerdictGroupID == "" {
		return fmt.Errorf("PREFLIGHT_VERDICT_GROUP must not be empty")
	}
	if c.PreflightStream == "" || c.PreflightGroup == "" || c.PreflightConsumer == "" {
		return fmt.Errorf("PREFLIGHT_STREAM, PREFLIGHT_GROUP and PREFLIGHT_CONSUMER must not be empty")
	}
	if c.UploadPropertyName == "" {
		return fmt.Errorf("UPLOAD_PROPERTY_NAME must not be empty")
	}
	switch c.CancelPolicy {
	case CancelPolicyRetain, CancelPolicyVoid:
	default:
		return fmt.Errorf("COMMISSION_CANCEL_POLICY must be retain or void, got %q", c.CancelPolicy)
	}
	if c.Environment == "production" && c.AdminJWTSecret == "" {
		return fmt.Errorf("ADMIN_JWT_SECRET is required in production")
	}
	return nil
}

// getEnv 读取字符串环境变量，若为空则返回默认值。
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt 读取整数环境变量，若为空则返回默认值。
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

// splitCSV 将逗号分隔字符串解析为字符串切片。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
