// Package auth 负责从请求中解析调用者身份。
// 业务层只关心 uid：有身份的调用通过 UIDFrom 获取，定时任务和消费者不携带身份。
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

type contextKey string

const contextKeyUID contextKey = "caller_uid"

// ErrInvalidToken 表示 Bearer token 缺失、签名错误或已过期
var ErrInvalidToken = errors.New("auth: invalid token")

// WithUID 返回携带调用者 uid 的 ctx
func WithUID(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, contextKeyUID, uid)
}

// UIDFrom 取出调用者 uid，未认证时返回空字符串
func UIDFrom(ctx context.Context) string {
	uid, _ := ctx.Value(contextKeyUID).(string)
	return uid
}

// Verifier 校验 HS256 签名的 JWT，sub 即用户 uid。
type Verifier struct {
	secret []byte
	issuer string
	leeway time.Duration
}

func NewVerifier(secret, issuer string, leeway time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer, leeway: leeway}
}

// Verify 解析 token 并返回 sub
func (v *Verifier) Verify(raw string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", errors.Wrap(ErrInvalidToken, err.Error())
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.Wrap(ErrInvalidToken, "missing subject")
	}
	return claims.Subject, nil
}

// Issue 签发一个 token，供测试和运维脚本使用
func (v *Verifier) Issue(uid string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   uid,
		Issuer:    v.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Middleware 解析 Authorization 头。
// 没有携带 token 的请求照常放行（身份为空），由业务层返回 Unauthenticated；
// 携带了但校验失败的 token 直接返回 401。
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			http.Error(w, "malformed authorization header", http.StatusUnauthorized)
			return
		}
		uid, err := v.Verify(strings.TrimSpace(raw))
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUID(r.Context(), uid)))
	})
}
