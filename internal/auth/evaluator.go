// Package auth evaluates per-route authentication policies: ordered
// compositions of named methods combined under OR/AND logic.
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/funcbase/gateway/internal/jwks"
	"github.com/funcbase/gateway/internal/logging"
	"github.com/funcbase/gateway/internal/metrics"
	"github.com/funcbase/gateway/internal/store"
)

// LogicOR and LogicAND are the two route-level composition modes.
const (
	LogicOR  = "or"
	LogicAND = "and"
)

const middlewareTimeout = 5 * time.Second

// hmacMethods is the only algorithm family accepted for fixed_secret mode.
var hmacMethods = []string{"HS256", "HS384", "HS512"}

// asymmetricMethods is the allow-list for JWKS-backed verification. HMAC is
// rejected outright so a public key can never be replayed as an HMAC secret.
var asymmetricMethods = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
}

// Result is the outcome of evaluating one method or a whole composition.
// Realm, when set, feeds the WWW-Authenticate response header.
type Result struct {
	Authenticated bool
	Realm         string
}

// Authorizer invokes a middleware auth function and reports its decision.
type Authorizer interface {
	InvokeAuthorizer(ctx context.Context, functionID, path string, query url.Values, headers http.Header, clientIP string) (bool, error)
}

// Evaluator runs auth method compositions against requests.
type Evaluator struct {
	keys       *jwks.Manager
	authorizer Authorizer
	metrics    *metrics.Collector
}

// NewEvaluator creates an evaluator. authorizer may be nil, in which case
// middleware methods always deny.
func NewEvaluator(keys *jwks.Manager, authorizer Authorizer) *Evaluator {
	return &Evaluator{keys: keys, authorizer: authorizer, metrics: metrics.Default}
}

// Authenticate evaluates the ordered method list under the given logic. An
// empty list means the route is public.
//
// OR passes on the first succeeding method and reports the first observed
// realm when everything fails. AND fails on the first failing method and
// passes only when every method does.
func (e *Evaluator) Authenticate(ctx context.Context, r *http.Request, clientIP string, methods []store.AuthMethodRecord, logic string) Result {
	if len(methods) == 0 {
		return Result{Authenticated: true}
	}

	var firstRealm string
	for _, method := range methods {
		res := e.evaluate(ctx, r, clientIP, method)
		if res.Authenticated {
			if logic != LogicAND {
				e.metrics.RecordAuth(true)
				return Result{Authenticated: true}
			}
			continue
		}
		if logic == LogicAND {
			e.metrics.RecordAuth(false)
			return res
		}
		if firstRealm == "" {
			firstRealm = res.Realm
		}
	}

	if logic == LogicAND {
		e.metrics.RecordAuth(true)
		return Result{Authenticated: true}
	}
	e.metrics.RecordAuth(false)
	return Result{Realm: firstRealm}
}

func (e *Evaluator) evaluate(ctx context.Context, r *http.Request, clientIP string, method store.AuthMethodRecord) Result {
	switch method.Type {
	case TypeBasicAuth:
		return e.evaluateBasic(r, method)
	case TypeBearerJWT:
		return e.evaluateJWT(ctx, r, method)
	case TypeAPIKey:
		return e.evaluateAPIKey(r, method)
	case TypeMiddleware:
		return e.evaluateMiddleware(ctx, r, clientIP, method)
	default:
		logging.Warn("unknown auth method type",
			zap.String("method", method.Name),
			zap.String("type", method.Type),
		)
		return Result{}
	}
}

func (e *Evaluator) evaluateBasic(r *http.Request, method store.AuthMethodRecord) Result {
	var cfg BasicAuthConfig
	if err := decodeConfig(method.Config, method.Type, &cfg); err != nil {
		logging.Warn("invalid basic_auth config", zap.String("method", method.Name), zap.Error(err))
		return Result{}
	}
	realm := cfg.Realm
	if realm == "" {
		realm = "Restricted"
	}

	username, password, ok := BasicCredentials(r)
	if !ok {
		return Result{Realm: realm}
	}

	for _, cred := range cfg.Credentials {
		userMatch := subtle.ConstantTimeCompare([]byte(cred.Username), []byte(username))
		passMatch := subtle.ConstantTimeCompare([]byte(cred.Password), []byte(password))
		if userMatch&passMatch == 1 {
			return Result{Authenticated: true}
		}
	}
	return Result{Realm: realm}
}

func (e *Evaluator) evaluateAPIKey(r *http.Request, method store.AuthMethodRecord) Result {
	var cfg APIKeyConfig
	if err := decodeConfig(method.Config, method.Type, &cfg); err != nil {
		logging.Warn("invalid api_key config", zap.String("method", method.Name), zap.Error(err))
		return Result{}
	}

	presented := APIKey(r)
	if presented == "" {
		return Result{}
	}
	for _, key := range cfg.APIKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(presented)) == 1 {
			return Result{Authenticated: true}
		}
	}
	return Result{}
}

func (e *Evaluator) evaluateJWT(ctx context.Context, r *http.Request, method store.AuthMethodRecord) Result {
	var cfg BearerJWTConfig
	if err := decodeConfig(method.Config, method.Type, &cfg); err != nil {
		logging.Warn("invalid bearer_jwt config", zap.String("method", method.Name), zap.Error(err))
		return Result{}
	}

	token := BearerToken(r)
	if token == "" {
		return Result{}
	}

	opts := []jwt.ParserOption{}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	var keyFunc jwt.Keyfunc
	if cfg.JWTMode == ModeFixedSecret {
		if cfg.JWTSecret == "" {
			logging.Warn("fixed_secret jwt method without jwtSecret", zap.String("method", method.Name))
			return Result{}
		}
		opts = append(opts, jwt.WithValidMethods(hmacMethods))
		secret := []byte(cfg.JWTSecret)
		keyFunc = func(*jwt.Token) (any, error) { return secret, nil }
	} else {
		opts = append(opts, jwt.WithValidMethods(asymmetricMethods))
		keyFunc = e.jwksKeyFunc(ctx, cfg)
	}

	parsed, err := jwt.Parse(token, keyFunc, opts...)
	if err != nil || !parsed.Valid {
		logging.Debug("jwt verification failed",
			zap.String("method", method.Name),
			zap.Error(err),
		)
		return Result{}
	}
	return Result{Authenticated: true}
}

// jwksKeyFunc resolves the verification key through the JWKS manager using
// the token's kid header. jwt.Parse has already gated the algorithm to the
// asymmetric allow-list before this runs.
func (e *Evaluator) jwksKeyFunc(ctx context.Context, cfg BearerJWTConfig) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)

		uri, err := e.keys.ResolveURI(ctx, cfg.JWTMode, cfg.TenantID, cfg.JWKSURL, cfg.OIDCURL)
		if err != nil {
			return nil, err
		}
		return e.keys.SigningKey(ctx, uri, kid)
	}
}

func (e *Evaluator) evaluateMiddleware(ctx context.Context, r *http.Request, clientIP string, method store.AuthMethodRecord) Result {
	var cfg MiddlewareConfig
	if err := decodeConfig(method.Config, method.Type, &cfg); err != nil {
		logging.Warn("invalid middleware config", zap.String("method", method.Name), zap.Error(err))
		return Result{}
	}
	if cfg.FunctionID == "" || e.authorizer == nil {
		return Result{}
	}

	callCtx, cancel := context.WithTimeout(ctx, middlewareTimeout)
	defer cancel()

	allow, err := e.authorizer.InvokeAuthorizer(callCtx, cfg.FunctionID, r.URL.Path, r.URL.Query(), r.Header, clientIP)
	if err != nil {
		// Fail closed: any transport or decode error denies the request.
		logging.Warn("middleware auth call failed",
			zap.String("method", method.Name),
			zap.String("function_id", cfg.FunctionID),
			zap.Error(err),
		)
		return Result{}
	}
	return Result{Authenticated: allow}
}
