package gateway

import (
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/nao1215/introhub/pkg/middleware"
)

// minPasswordLength はパスワードの最低文字数。
const minPasswordLength = 8

// User は1人のユーザーを表す。パスワードハッシュはJSONに含めない。
type User struct {
	// ID はユーザーの一意識別子（UUID）。
	ID string `db:"id" json:"id"`
	// Email はメールアドレス。
	Email string `db:"email" json:"email"`
	// PasswordHash はbcryptでハッシュ化されたパスワード。
	PasswordHash string `db:"password_hash" json:"-"`
	// DisplayName は表示名。
	DisplayName string `db:"display_name" json:"display_name"`
	// CreatedAt はアカウントの作成日時。
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	// LastLoginAt は最終サインイン日時。
	LastLoginAt time.Time `db:"last_login_at" json:"last_login_at"`
}

// signUpRequest はサインアップリクエストのJSON構造。
type signUpRequest struct {
	// Email はメールアドレス。
	Email string `json:"email" binding:"required,email"`
	// Password はパスワード（平文）。
	Password string `json:"password" binding:"required"`
	// DisplayName は表示名。
	DisplayName string `json:"display_name" binding:"required"`
}

// handleSignUp は新規ユーザーを登録してJWTを発行するハンドラ。
func (s *Server) handleSignUp() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req signUpRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です"})
			return
		}
		if len(req.Password) < minPasswordLength {
			c.JSON(http.StatusBadRequest, gin.H{"error": "パスワードは8文字以上にしてください"})
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "パスワードの処理に失敗しました"})
			log.Printf("パスワードハッシュ生成エラー: %v", err)
			return
		}

		now := time.Now().UTC()
		user := User{
			ID:           uuid.New().String(),
			Email:        strings.ToLower(req.Email),
			PasswordHash: string(hash),
			DisplayName:  req.DisplayName,
			CreatedAt:    now,
			LastLoginAt:  now,
		}

		_, err = s.db.ExecContext(c.Request.Context(), `
			INSERT INTO users (id, email, password_hash, display_name, created_at, last_login_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			user.ID, user.Email, user.PasswordHash, user.DisplayName, user.CreatedAt, user.LastLoginAt)
		if err != nil {
			if isUniqueViolation(err) {
				c.JSON(http.StatusConflict, gin.H{"error": "このメールアドレスは登録済みです"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの登録に失敗しました"})
			log.Printf("ユーザー登録エラー: %v", err)
			return
		}

		token, err := middleware.GenerateJWT(s.jwtSecret, user.ID, user.Email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークンの発行に失敗しました"})
			log.Printf("JWT発行エラー: %v", err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"token": token, "user": user})
	}
}

// isUniqueViolation はUNIQUE制約違反のSQLiteエラーかどうかを判定する。
func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	return errors.As(err, &serr) && serr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

// signInRequest はサインインリクエストのJSON構造。
type signInRequest struct {
	// Email はメールアドレス。
	Email string `json:"email" binding:"required"`
	// Password はパスワード（平文）。
	Password string `json:"password" binding:"required"`
}

// handleSignIn はメールアドレスとパスワードを検証してJWTを発行するハンドラ。
// ユーザーの不在とパスワード不一致は同じエラーメッセージで応答する。
func (s *Server) handleSignIn() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req signInRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です"})
			return
		}

		var user User
		err := s.db.GetContext(c.Request.Context(), &user,
			"SELECT * FROM users WHERE email = ?", strings.ToLower(req.Email))
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "メールアドレスまたはパスワードが正しくありません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "サインインに失敗しました"})
			log.Printf("ユーザー取得エラー: %v", err)
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "メールアドレスまたはパスワードが正しくありません"})
			return
		}

		user.LastLoginAt = time.Now().UTC()
		if _, err := s.db.ExecContext(c.Request.Context(),
			"UPDATE users SET last_login_at = ? WHERE id = ?", user.LastLoginAt, user.ID); err != nil {
			log.Printf("最終サインイン日時の更新エラー: %v", err)
		}

		token, err := middleware.GenerateJWT(s.jwtSecret, user.ID, user.Email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークンの発行に失敗しました"})
			log.Printf("JWT発行エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
	}
}

// handleGetCurrentUser は認証済みユーザーの情報を返すハンドラ。
func (s *Server) handleGetCurrentUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var user User
		err := s.db.GetContext(c.Request.Context(), &user,
			"SELECT * FROM users WHERE id = ?", userID)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "ユーザーが見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザー情報の取得に失敗しました"})
			log.Printf("ユーザー取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, user)
	}
}
