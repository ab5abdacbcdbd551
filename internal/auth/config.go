package auth

import (
	"encoding/json"
	"fmt"
)

// Auth method types as stored in auth_methods.type.
const (
	TypeBasicAuth  = "basic_auth"
	TypeBearerJWT  = "bearer_jwt"
	TypeAPIKey     = "api_key"
	TypeMiddleware = "middleware"
)

// ModeFixedSecret verifies bearer tokens against a shared HMAC secret; all
// other modes resolve keys through the JWKS manager.
const ModeFixedSecret = "fixed_secret"

// BasicAuthConfig is the config bag for basic_auth methods.
type BasicAuthConfig struct {
	Credentials []BasicCredential `json:"credentials"`
	Realm       string            `json:"realm"`
}

// BasicCredential is one accepted username/password pair.
type BasicCredential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// BearerJWTConfig is the config bag for bearer_jwt methods.
type BearerJWTConfig struct {
	JWTMode   string `json:"jwtMode"`
	JWTSecret string `json:"jwtSecret"`
	TenantID  string `json:"tenantId"`
	JWKSURL   string `json:"jwksUrl"`
	OIDCURL   string `json:"oidcUrl"`
	Audience  string `json:"audience"`
	Issuer    string `json:"issuer"`
}

// APIKeyConfig is the config bag for api_key methods.
type APIKeyConfig struct {
	APIKeys []string `json:"apiKeys"`
}

// MiddlewareConfig is the config bag for middleware methods.
type MiddlewareConfig struct {
	FunctionID string `json:"functionId"`
}

func decodeConfig(raw []byte, methodType string, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%s method has no config", methodType)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decoding %s config: %w", methodType, err)
	}
	return nil
}
