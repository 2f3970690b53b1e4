package gateway

import (
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nao1215/introhub/internal/notification"
	"github.com/nao1215/introhub/internal/request"
	"github.com/nao1215/introhub/pkg/bus"
	"github.com/nao1215/introhub/pkg/middleware"
)

// Server はIntroHubのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// db はSQLiteデータベース接続。
	db *sqlx.DB
	// bus は通知配信用のイベントバス。
	bus *bus.Bus
	// jwtSecret はJWT署名用の秘密鍵。
	jwtSecret string
	// internalToken は内部API認証用の共有トークン。
	internalToken string
	// notifications は通知サービスのハンドラ群。
	notifications *notification.Server
	// requests は紹介リクエストサービスのハンドラ群。
	requests *request.Server
}

// NewServer は新しいIntroHubサーバーを生成する。
// SQLiteデータベースの初期化と各サービスの組み立てを行う。
func NewServer(port string) (*Server, error) {
	db, err := openDB(getEnvOr("DB_PATH", "/data/introhub.db"))
	if err != nil {
		return nil, err
	}
	return newServer(db, port)
}

// newServer はデータベース接続を受け取ってサーバーを組み立てる。
func newServer(db *sqlx.DB, port string) (*Server, error) {
	if err := initSchema(db); err != nil {
		return nil, err
	}

	b := bus.New()

	notifStore, err := notification.NewStore(db, b)
	if err != nil {
		return nil, err
	}
	reqStore, err := request.NewStore(db, notifStore)
	if err != nil {
		return nil, err
	}

	jwtSecret := getEnvOr("JWT_SECRET", "dev-secret-key")
	internalToken := getEnvOr("INTERNAL_API_TOKEN", "dev-internal-token")
	frontendURL := getEnvOr("FRONTEND_URL", "http://localhost:3000")

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS([]string{frontendURL}))

	s := &Server{
		router:        router,
		port:          port,
		db:            db,
		bus:           b,
		jwtSecret:     jwtSecret,
		internalToken: internalToken,
		notifications: notification.NewServer(notifStore, b),
		requests:      request.NewServer(reqStore),
	}
	s.setupRoutes()

	return s, nil
}

// openDB はSQLiteデータベースを開き、必要なPRAGMAを設定する。
func openDB(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	// modernc.org/sqliteはDSNパラメータを解釈しないため、PRAGMAで設定する
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("PRAGMAの設定に失敗: %w", err)
		}
	}
	return db, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// Close はデータベース接続とイベントバスを閉じる。
func (s *Server) Close() error {
	s.bus.Close()
	return s.db.Close()
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	// 認証エンドポイント（認証不要）
	auth := s.router.Group("/auth")
	{
		auth.POST("/sign-up", s.handleSignUp())
		auth.POST("/sign-in", s.handleSignIn())
	}

	// 認証必須のAPIエンドポイント
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.jwtSecret))
	{
		// ユーザー情報
		api.GET("/me", s.handleGetCurrentUser())

		// 通知
		s.notifications.RegisterRoutes(api)
		// 紹介リクエスト
		s.requests.RegisterRoutes(api)
	}

	// サービス間通信用の内部API。ユーザーのJWTでは呼び出せない
	internal := s.router.Group("/api/v1/internal")
	internal.Use(middleware.InternalAuth(s.internalToken))
	{
		s.notifications.RegisterInternalRoutes(internal)
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "introhub"})
	})
}

// getEnvOr は環境変数の値を返す。未設定の場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
