package i18n

import (
	"reflect"
	"sync"
)

// Language type
type Language string

const (
	LangEN Language = "en"
	LangZH Language = "zh"
)

// Messages holds all translatable strings
type Messages struct {
	// System
	Starting           string
	ConfigLoaded       string
	UsingDB            string
	ServerListening    string
	GRPCListening      string
	ShuttingDown       string
	ShutdownComplete   string
	ConfigLoadFailed   string
	DBInitFailed       string
	DBMigrationsFailed string
	APIServerError     string

	// Control plane
	QueuesCreated        string
	JournalEnabled       string
	JournalFailed        string
	ActiveSignalsLoaded  string
	SignalsPersisted     string
	SignalsResynced      string
	BrokerProfilesLoaded string
	FeedStarted          string
	FeedFallback         string

	// Alerts
	NewSignalTitle    string
	NewSignalBody     string
	SignalClosedTitle string
	SignalClosedBody  string
	ExecutionTitle    string
	ExecutionBody     string
	ReconnectNotice   string
	ConnectionWelcome string
}

var (
	currentLang Language = LangEN
	mu          sync.RWMutex
	messages    *Messages
)

// English messages
var messagesEN = Messages{
	// System
	Starting:           "Starting message control plane...",
	ConfigLoaded:       "Config loaded (port=%s, grpc=%s)",
	UsingDB:            "Using %s database",
	ServerListening:    "HTTP server listening on :%s",
	GRPCListening:      "gRPC health service listening on :%s",
	ShuttingDown:       "Shutting down...",
	ShutdownComplete:   "Shutdown complete",
	ConfigLoadFailed:   "Failed to load config",
	DBInitFailed:       "Failed to open database",
	DBMigrationsFailed: "Failed to apply migrations",
	APIServerError:     "API server error",

	// Control plane
	QueuesCreated:        "Message queues created",
	JournalEnabled:       "Queue journal enabled: %s",
	JournalFailed:        "Queue journal unavailable, running in-memory only",
	ActiveSignalsLoaded:  "Active signals loaded",
	SignalsPersisted:     "Active signals persisted",
	SignalsResynced:      "Signal cache resynced from storage",
	BrokerProfilesLoaded: "Broker capability profiles loaded",
	FeedStarted:          "External signal feed started",
	FeedFallback:         "External signal feed unreachable, using last good snapshot",

	// Alerts
	NewSignalTitle:    "New signal: %s %s",
	NewSignalBody:     "Entry %s | SL %s | TP %s (%s)",
	SignalClosedTitle: "Signal closed: %s",
	SignalClosedBody:  "%s %s closed as %s at %s",
	ExecutionTitle:    "Order placed on %s",
	ExecutionBody:     "%s %s order %s accepted",
	ReconnectNotice:   "Your account connected from another session",
	ConnectionWelcome: "Connected to message control plane",
}

// Chinese messages
var messagesZH = Messages{
	// System
	Starting:           "正在啟動訊息控制平面...",
	ConfigLoaded:       "設定已載入 (port=%s, grpc=%s)",
	UsingDB:            "使用 %s 資料庫",
	ServerListening:    "HTTP 伺服器監聽於 :%s",
	GRPCListening:      "gRPC 健康檢查服務監聽於 :%s",
	ShuttingDown:       "正在關閉...",
	ShutdownComplete:   "關閉完成",
	ConfigLoadFailed:   "載入設定失敗",
	DBInitFailed:       "開啟資料庫失敗",
	DBMigrationsFailed: "資料庫遷移失敗",
	APIServerError:     "API 伺服器錯誤",

	// Control plane
	QueuesCreated:        "訊息佇列已建立",
	JournalEnabled:       "佇列日誌已啟用: %s",
	JournalFailed:        "佇列日誌無法使用，僅使用記憶體",
	ActiveSignalsLoaded:  "已載入進行中的訊號",
	SignalsPersisted:     "進行中的訊號已保存",
	SignalsResynced:      "訊號快取已與資料庫同步",
	BrokerProfilesLoaded: "券商能力設定已載入",
	FeedStarted:          "外部訊號來源已啟動",
	FeedFallback:         "外部訊號來源無法連線，使用最後一次成功的資料",

	// Alerts
	NewSignalTitle:    "新訊號: %s %s",
	NewSignalBody:     "進場 %s | 停損 %s | 停利 %s (%s)",
	SignalClosedTitle: "訊號已結束: %s",
	SignalClosedBody:  "%s %s 以 %s 結束於 %s",
	ExecutionTitle:    "已於 %s 下單",
	ExecutionBody:     "%s %s 訂單 %s 已接受",
	ReconnectNotice:   "您的帳號已在其他連線登入",
	ConnectionWelcome: "已連線至訊息控制平面",
}

func init() {
	messages = &messagesEN
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	currentLang = lang
	switch lang {
	case LangZH:
		messages = &messagesZH
	default:
		messages = &messagesEN
	}
}

// GetLanguage returns the current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// M returns the current messages
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}

// Get returns specific message by key dynamically using reflection
func Get(key string) string {
	msg := M()
	v := reflect.ValueOf(msg).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}
