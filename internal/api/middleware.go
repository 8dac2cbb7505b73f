package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/twilio/twilio-go/client"

	"wellness-service/internal/logging"
)

const (
	ctxSupporterID = "supporter_id"
	ctxService     = "service"
	ctxRequestID   = "request_id"

	serviceTokenHeader = "X-Service-Token"
	twilioSignature    = "X-Twilio-Signature"
)

func RequestLoggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(ctxRequestID, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()
		logger.Request(requestID).Infof("Request: %s %s, Status: %d, Latency: %v", method, path, status, latency)
	}
}

// Claims is the supporter bearer token. Subject carries the supporter id.
type Claims struct {
	jwt.RegisteredClaims
}

// IssueToken signs a supporter token; used by tests and tooling.
func IssueToken(secret, supporterID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   supporterID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parseToken(secret, tokenString string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

func validServiceToken(expected, got string) bool {
	return expected != "" && subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

// ServiceAuth admits internal callers presenting the shared service token.
func ServiceAuth(serviceToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !validServiceToken(serviceToken, c.GetHeader(serviceTokenHeader)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid service token"})
			return
		}
		c.Set(ctxService, true)
		c.Next()
	}
}

// SupporterAuth admits a supporter bearer token, taken from the Authorization
// header or the access_token query parameter (browsers cannot set headers on
// websocket upgrades), or the service token.
func SupporterAuth(secret, serviceToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if validServiceToken(serviceToken, c.GetHeader(serviceTokenHeader)) {
			c.Set(ctxService, true)
			c.Next()
			return
		}

		tokenString := c.Query("access_token")
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
				return
			}
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		supporterID, err := parseToken(secret, tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ctxSupporterID, supporterID)
		c.Next()
	}
}

func supporterID(c *gin.Context) string {
	return c.GetString(ctxSupporterID)
}

func isService(c *gin.Context) bool {
	return c.GetBool(ctxService)
}

// TwilioSignature rejects voice webhooks whose X-Twilio-Signature does not
// match the public URL and form parameters.
func TwilioSignature(authToken, publicURL string, logger *logging.Logger) gin.HandlerFunc {
	validator := client.NewRequestValidator(authToken)
	publicURL = strings.TrimRight(publicURL, "/")
	return func(c *gin.Context) {
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
		params := make(map[string]string, len(c.Request.PostForm))
		for k, v := range c.Request.PostForm {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		url := publicURL + c.Request.URL.RequestURI()
		if !validator.Validate(url, params, c.GetHeader(twilioSignature)) {
			logger.Warnf("Rejected voice callback %s with invalid signature", c.Request.URL.Path)
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}
