package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/k-negishi/calendar-event-sync/internal/domain"
)

const (
	StrategyHeuristic = "heuristic"
	StrategyLink      = "link"

	ProviderGoogle = "google"
	ProviderCalDAV = "caldav"

	ChannelGmail = "gmail"
	ChannelLINE  = "line"
	ChannelLog   = "log"
)

// ssmParameterGetter Parameter Store からの取得（テストでモックに差し替える）
type ssmParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Config アプリケーション設定構造体
type Config struct {
	// Google設定
	GoogleCredentials string `toml:"-" validate:"required"`
	SourceCalendarID  string `toml:"source_calendar_id" validate:"required"`
	TargetCalendarID  string `toml:"target_calendar_id" validate:"required,nefield=SourceCalendarID"`

	// 同期設定
	SyncTag           string        `toml:"sync_tag" validate:"required"`
	ScanLookback      time.Duration `toml:"scan_lookback" validate:"min=0"`
	ScanYearsAhead    int           `toml:"scan_years_ahead" validate:"min=1,max=20"`
	BatchSize         int           `toml:"batch_size" validate:"min=1,max=250"`
	BatchPause        time.Duration `toml:"batch_pause" validate:"min=0"`
	MatchStrategy     string        `toml:"match_strategy" validate:"oneof=heuristic link"`
	LinkLookupPadding time.Duration `toml:"link_lookup_padding" validate:"min=0"`

	// 同期先設定
	DestinationProvider string `toml:"destination_provider" validate:"oneof=google caldav"`
	CalDAVURL           string `toml:"caldav_url" validate:"required_if=DestinationProvider caldav"`
	CalDAVUsername      string `toml:"caldav_username"`
	CalDAVPassword      string `toml:"-"`

	// 失敗通知設定
	NotifyChannel          string   `toml:"notify_channel" validate:"oneof=gmail line log"`
	EmailRecipients        []string `toml:"email_recipients" validate:"required_if=NotifyChannel gmail"`
	MailSender             string   `toml:"mail_sender" validate:"required_if=NotifyChannel gmail"`
	LineRecipients         []string `toml:"line_recipients" validate:"required_if=NotifyChannel line"`
	LineChannelAccessToken string   `toml:"-" validate:"required_if=NotifyChannel line"`

	// その他設定
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	Timezone  string `toml:"timezone"`

	// AWS関連（本番環境でのみ使用）
	ssmClient ssmParameterGetter
}

// defaults 既定値（タグ "*"、1時間前〜5年後、10件ずつ、100ms 間隔）
func defaults() *Config {
	return &Config{
		SyncTag:             "*",
		ScanLookback:        time.Hour,
		ScanYearsAhead:      5,
		BatchSize:           10,
		BatchPause:          100 * time.Millisecond,
		MatchStrategy:       StrategyHeuristic,
		LinkLookupPadding:   30 * 24 * time.Hour,
		DestinationProvider: ProviderGoogle,
		NotifyChannel:       ChannelGmail,
		LogLevel:            "INFO",
		LogFormat:           "json",
		Timezone:            "UTC",
	}
}

// Load 環境に応じて設定を読み込み
func Load(ctx context.Context) (*Config, error) {
	// AWS Lambda環境かどうか判定
	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		return loadAWSConfig(ctx)
	}
	return loadLocalConfig()
}

// loadLocalConfig ローカル開発環境用の設定読み込み
func loadLocalConfig() (*Config, error) {
	// .envファイルを読み込み（存在する場合のみ）
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf(".envファイルの読み込みに失敗しました: %w", err)
	}

	cfg, err := loadBase()
	if err != nil {
		return nil, err
	}
	cfg.GoogleCredentials = getEnvOrDefault("GOOGLE_CREDENTIALS", "")
	cfg.LineChannelAccessToken = getEnvOrDefault("LINE_CHANNEL_ACCESS_TOKEN", "")
	cfg.CalDAVPassword = getEnvOrDefault("CALDAV_PASSWORD", "")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadAWSConfig AWS Lambda環境用の設定読み込み
func loadAWSConfig(ctx context.Context) (*Config, error) {
	awsConfig, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("AWS設定の読み込みに失敗しました: %w", err)
	}

	cfg, err := loadBase()
	if err != nil {
		return nil, err
	}
	cfg.ssmClient = ssm.NewFromConfig(awsConfig)

	// Parameter Storeから機密情報を取得
	if err := cfg.loadFromParameterStore(ctx); err != nil {
		return nil, fmt.Errorf("Parameter Storeからの設定読み込みに失敗しました: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadBase 既定値 → 設定ファイル → 環境変数 の順に重ねる
func loadBase() (*Config, error) {
	cfg := defaults()

	if path := getEnvOrDefault("CONFIG_FILE", ""); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイル %s の読み込みに失敗しました: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 環境変数で上書き
func (c *Config) applyEnv() error {
	var err error

	c.SourceCalendarID = getEnvOrDefault("SOURCE_CALENDAR_ID", c.SourceCalendarID)
	c.TargetCalendarID = getEnvOrDefault("TARGET_CALENDAR_ID", c.TargetCalendarID)
	c.SyncTag = getEnvOrDefault("SYNC_TAG", c.SyncTag)
	c.MatchStrategy = strings.ToLower(getEnvOrDefault("MATCH_STRATEGY", c.MatchStrategy))
	c.DestinationProvider = strings.ToLower(getEnvOrDefault("DESTINATION_PROVIDER", c.DestinationProvider))
	c.CalDAVURL = getEnvOrDefault("CALDAV_URL", c.CalDAVURL)
	c.CalDAVUsername = getEnvOrDefault("CALDAV_USERNAME", c.CalDAVUsername)
	c.NotifyChannel = strings.ToLower(getEnvOrDefault("NOTIFY_CHANNEL", c.NotifyChannel))
	c.EmailRecipients = getListOrDefault("EMAIL_RECIPIENTS", c.EmailRecipients)
	c.MailSender = getEnvOrDefault("MAIL_SENDER", c.MailSender)
	c.LineRecipients = getListOrDefault("LINE_RECIPIENTS", c.LineRecipients)
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnvOrDefault("LOG_FORMAT", c.LogFormat)
	c.Timezone = getEnvOrDefault("TIMEZONE", c.Timezone)

	if c.ScanLookback, err = getDurationOrDefault("SCAN_LOOKBACK", c.ScanLookback); err != nil {
		return err
	}
	if c.BatchPause, err = getDurationOrDefault("BATCH_PAUSE", c.BatchPause); err != nil {
		return err
	}
	if c.LinkLookupPadding, err = getDurationOrDefault("LINK_LOOKUP_PADDING", c.LinkLookupPadding); err != nil {
		return err
	}
	if c.ScanYearsAhead, err = getIntOrDefault("SCAN_YEARS_AHEAD", c.ScanYearsAhead); err != nil {
		return err
	}
	if c.BatchSize, err = getIntOrDefault("BATCH_SIZE", c.BatchSize); err != nil {
		return err
	}
	return nil
}

// loadFromParameterStore Parameter Storeから機密情報を読み込み
func (c *Config) loadFromParameterStore(ctx context.Context) error {
	// Google認証情報を取得
	googleCredsParam := getEnvOrDefault("GOOGLE_CREDS_PARAM", "/calendar-event-sync/google-creds")
	googleCreds, err := c.getParameter(ctx, googleCredsParam, true)
	if err != nil {
		return fmt.Errorf("Google認証情報の取得に失敗しました: %w", err)
	}
	c.GoogleCredentials = googleCreds

	// LINE Channel Access Tokenを取得（LINE通知の場合のみ）
	if c.NotifyChannel == ChannelLINE {
		lineTokenParam := getEnvOrDefault("LINE_CHANNEL_ACCESS_TOKEN_PARAM", "/calendar-event-sync/line-channel-access-token")
		lineToken, err := c.getParameter(ctx, lineTokenParam, true)
		if err != nil {
			return fmt.Errorf("LINE Channel Access Tokenの取得に失敗しました: %w", err)
		}
		c.LineChannelAccessToken = lineToken
	}

	// CalDAVパスワードを取得（CalDAV同期先の場合のみ）
	if c.DestinationProvider == ProviderCalDAV {
		caldavParam := getEnvOrDefault("CALDAV_PASSWORD_PARAM", "/calendar-event-sync/caldav-password")
		password, err := c.getParameter(ctx, caldavParam, true)
		if err != nil {
			return fmt.Errorf("CalDAVパスワードの取得に失敗しました: %w", err)
		}
		c.CalDAVPassword = password
	}

	return nil
}

// getParameter Parameter Storeから指定されたパラメータを取得
func (c *Config) getParameter(ctx context.Context, paramName string, withDecryption bool) (string, error) {
	input := &ssm.GetParameterInput{
		Name:           aws.String(paramName),
		WithDecryption: aws.Bool(withDecryption),
	}

	result, err := c.ssmClient.GetParameter(ctx, input)
	if err != nil {
		return "", fmt.Errorf("パラメータ %s の取得に失敗しました: %w", paramName, err)
	}

	if result.Parameter == nil || aws.ToString(result.Parameter.Value) == "" {
		return "", fmt.Errorf("パラメータ %s が空の値です", paramName)
	}

	return *result.Parameter.Value, nil
}

// Validate 設定値の整合性を確認
func (c *Config) Validate() error {
	if err := domain.Validator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("設定 %s が不正です (%s)", verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("設定の検証に失敗しました: %w", err)
	}
	if c.CalDAVURL != "" {
		if err := domain.Validator().Var(c.CalDAVURL, "url"); err != nil {
			return fmt.Errorf("CalDAV URL %q が不正です", c.CalDAVURL)
		}
	}
	if c.NotifyChannel == ChannelGmail {
		if err := domain.Validator().Var(c.MailSender, "email"); err != nil {
			return fmt.Errorf("送信元メールアドレス %q が不正です", c.MailSender)
		}
		for _, r := range c.EmailRecipients {
			if err := domain.Validator().Var(r, "email"); err != nil {
				return fmt.Errorf("通知先メールアドレス %q が不正です", r)
			}
		}
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location タイムゾーンを取得
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("タイムゾーン %q の読み込みに失敗しました: %w", c.Timezone, err)
	}
	return loc, nil
}

// GetGoogleCredentialsJSON Google認証情報をJSONとして解析
func (c *Config) GetGoogleCredentialsJSON() (map[string]interface{}, error) {
	var credentials map[string]interface{}
	if err := json.Unmarshal([]byte(c.GoogleCredentials), &credentials); err != nil {
		return nil, fmt.Errorf("Google認証情報のJSON解析に失敗しました: %w", err)
	}
	return credentials, nil
}

// Masked 機密情報を伏せた設定のコピーを返す（設定確認の表示用）
func (c *Config) Masked() Config {
	masked := *c
	masked.GoogleCredentials = mask(c.GoogleCredentials)
	masked.LineChannelAccessToken = mask(c.LineChannelAccessToken)
	masked.CalDAVPassword = mask(c.CalDAVPassword)
	masked.ssmClient = nil
	return masked
}

func mask(secret string) string {
	if secret == "" {
		return "未設定"
	}
	return "********"
}

// getEnvOrDefault 環境変数を取得し、存在しない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getListOrDefault カンマ区切りの環境変数を取得
func getListOrDefault(key string, defaultValue []string) []string {
	value := getEnvOrDefault(key, "")
	if value == "" {
		return defaultValue
	}
	var list []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}

func getDurationOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	value := getEnvOrDefault(key, "")
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s の解析に失敗しました: %w", key, err)
	}
	return d, nil
}

func getIntOrDefault(key string, defaultValue int) (int, error) {
	value := getEnvOrDefault(key, "")
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s の解析に失敗しました: %w", key, err)
	}
	return n, nil
}
